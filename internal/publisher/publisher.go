// Package publisher sends spooled raw records onto a channel topic. Each
// record is submitted without waiting for the broker; completions are
// collected in a bounded pool and joined before the source file is removed.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"trimet-pipeline/internal/channel"
)

// Metrics is what the publisher reports; implemented by metrics.Collector.
type Metrics interface {
	PublishedInc()
	PublishErrInc()
	PublishObserve(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) PublishedInc()                {}
func (noopMetrics) PublishErrInc()               {}
func (noopMetrics) PublishObserve(time.Duration) {}

type Publisher struct {
	ch         channel.Publisher
	maxPending int
	metrics    Metrics
	log        zerolog.Logger
}

type Option func(*Publisher)

func WithMetrics(m Metrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Publisher) { p.log = l }
}

func New(ch channel.Publisher, maxPending int, opts ...Option) *Publisher {
	p := &Publisher{
		ch:         ch,
		maxPending: max(maxPending, 1),
		metrics:    noopMetrics{},
		log:        log.Logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Result counts one batch. Submitted = Published + Failed.
type Result struct {
	Submitted int
	Published int
	Failed    int
}

func (r *Result) add(o Result) {
	r.Submitted += o.Submitted
	r.Published += o.Published
	r.Failed += o.Failed
}

// PublishBatch publishes every payload and returns once all of them have
// either been acknowledged or failed. Failures are logged and dropped.
func (p *Publisher) PublishBatch(ctx context.Context, source string, payloads [][]byte) Result {
	var published, failed atomic.Int64
	pl := pool.New().WithMaxGoroutines(p.maxPending)

	for i, data := range payloads {
		start := time.Now()
		fut, err := p.ch.Publish(ctx, data)
		if err != nil {
			failed.Add(1)
			p.metrics.PublishErrInc()
			p.log.Error().Err(err).Str("source", source).Int("record", i).Msg("publish failed")
			continue
		}
		pl.Go(func() {
			id, err := fut.Result(ctx)
			p.metrics.PublishObserve(time.Since(start))
			if err != nil {
				failed.Add(1)
				p.metrics.PublishErrInc()
				p.log.Error().Err(err).Str("source", source).Int("record", i).Msg("publish not acknowledged")
				return
			}
			published.Add(1)
			p.metrics.PublishedInc()
			p.log.Debug().Str("source", source).Str("message_id", string(id)).Msg("published")
		})
	}
	pl.Wait()

	return Result{
		Submitted: len(payloads),
		Published: int(published.Load()),
		Failed:    int(failed.Load()),
	}
}

// PublishFile publishes the records of one spool file (a JSON array) and
// removes the file once every record has completed. A file that cannot be
// read or parsed, or whose join is cut short by ctx, is left in place.
func (p *Publisher) PublishFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", path, err)
	}

	payloads := make([][]byte, len(records))
	for i, r := range records {
		payloads[i] = r
	}
	res := p.PublishBatch(ctx, filepath.Base(path), payloads)
	if err := ctx.Err(); err != nil {
		// Pending acks were abandoned, so the file is kept for the next run.
		return res, fmt.Errorf("publish %s interrupted: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		return res, fmt.Errorf("remove %s: %w", path, err)
	}
	p.log.Info().
		Str("source", filepath.Base(path)).
		Int("submitted", res.Submitted).
		Int("published", res.Published).
		Int("failed", res.Failed).
		Msg("source file published")
	return res, nil
}

// PublishDir publishes every *.json file in dir in name order.
func (p *Publisher) PublishDir(ctx context.Context, dir string) (Result, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return Result{}, err
	}
	sort.Strings(files)

	var total Result
	for _, f := range files {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := p.PublishFile(ctx, f)
		total.add(res)
		if err != nil {
			p.log.Warn().Err(err).Str("file", f).Msg("skipping source file")
		}
	}
	return total, nil
}
