// Package pipeline wires the consumer, derivation, validation gate and
// loader into the consume and direct-load jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trimet-pipeline/internal/breadcrumb"
	"trimet-pipeline/internal/consumer"
	"trimet-pipeline/internal/db"
	"trimet-pipeline/internal/stopevent"
	"trimet-pipeline/internal/validate"
)

const (
	KindBreadcrumb = "breadcrumb"
	KindStopEvent  = "stopevent"
)

type Loader interface {
	Load(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Counter reports a table's row count after a load; optional.
type Counter func(ctx context.Context, table string) (int64, error)

type Metrics interface {
	DerivedAdd(derived, skipped int)
	RejectedInc(kind, rule string)
	ObserveStage(stage string, start time.Time)
}

type noopMetrics struct{}

func (noopMetrics) DerivedAdd(int, int)            {}
func (noopMetrics) RejectedInc(string, string)     {}
func (noopMetrics) ObserveStage(string, time.Time) {}

type Drainer[T any] interface {
	Drain(ctx context.Context, idle time.Duration) (consumer.Drained[T], error)
}

type Pipeline struct {
	Loader   Loader
	Tables   db.Tables
	Location *time.Location
	Counter  Counter
	Metrics  Metrics
	Log      zerolog.Logger
}

func New(loader Loader, tables db.Tables, loc *time.Location) *Pipeline {
	return &Pipeline{
		Loader:   loader,
		Tables:   tables,
		Location: loc,
		Metrics:  noopMetrics{},
		Log:      log.Logger,
	}
}

// ConsumeBreadcrumbs drains the breadcrumb topic and loads the batch.
func (p *Pipeline) ConsumeBreadcrumbs(ctx context.Context, d Drainer[breadcrumb.Raw], idle time.Duration) (Report, error) {
	start := time.Now()
	out, err := d.Drain(ctx, idle)
	p.Metrics.ObserveStage("drain", start)
	if err != nil {
		// Records in out were already acked; a cancelled drain drops them
		// unloaded. Accepted loss: cancellation means abort, not stop.
		rep := newReport(KindBreadcrumb)
		rep.Received, rep.Nacked = len(out.Records), out.Nacked
		return rep, err
	}
	rep, err := p.LoadBreadcrumbs(ctx, out.Records)
	rep.Received, rep.Nacked = len(out.Records), out.Nacked
	return rep, err
}

// LoadBreadcrumbs derives, validates and loads one batch: trips first, then
// breadcrumbs. A failed trip load skips the breadcrumb load.
func (p *Pipeline) LoadBreadcrumbs(ctx context.Context, raws []breadcrumb.Raw) (Report, error) {
	rep := newReport(KindBreadcrumb)
	rep.Received = len(raws)
	if len(raws) == 0 {
		p.Log.Info().Str("kind", KindBreadcrumb).Msg("empty batch, nothing to load")
		return rep, nil
	}

	start := time.Now()
	rows, skipped := breadcrumb.Derive(raws, p.Location, p.Log)
	p.Metrics.ObserveStage("derive", start)
	p.Metrics.DerivedAdd(len(rows), skipped)
	rep.Derived, rep.Underived = len(rows), skipped

	gate := breadcrumb.NewGate(
		validate.WithLogger(p.Log),
		validate.WithRejectHook(func(r validate.Rejection) { p.Metrics.RejectedInc(KindBreadcrumb, r.Rule) }),
	)
	valid, rejected := gate.Filter(rows)
	rep.Validated, rep.Rejected = len(valid), len(rejected)

	trips := breadcrumb.DeriveTrips(valid)
	rep.Trips = len(trips)
	p.Log.Info().
		Int("derived", rep.Derived).
		Int("validated", rep.Validated).
		Int("rejected", rep.Rejected).
		Int("trips", rep.Trips).
		Msg("breadcrumb batch prepared")
	if len(valid) == 0 {
		return rep, nil
	}

	start = time.Now()
	defer p.Metrics.ObserveStage("load", start)

	n, err := p.Loader.Load(ctx, p.Tables.Trip, breadcrumb.TripColumns, db.Rows(trips))
	if err != nil {
		return rep, err
	}
	rep.Loaded[p.Tables.Trip] = n

	n, err = p.Loader.Load(ctx, p.Tables.Breadcrumb, breadcrumb.Columns, db.Rows(valid))
	if err != nil {
		return rep, err
	}
	rep.Loaded[p.Tables.Breadcrumb] = n

	p.totals(ctx, &rep, p.Tables.Trip, p.Tables.Breadcrumb)
	return rep, nil
}

// ConsumeStopEvents drains the stop-event topic and loads the batch.
func (p *Pipeline) ConsumeStopEvents(ctx context.Context, d Drainer[stopevent.Raw], idle time.Duration) (Report, error) {
	start := time.Now()
	out, err := d.Drain(ctx, idle)
	p.Metrics.ObserveStage("drain", start)
	if err != nil {
		// Same accepted loss as ConsumeBreadcrumbs.
		rep := newReport(KindStopEvent)
		rep.Received, rep.Nacked = len(out.Records), out.Nacked
		return rep, err
	}
	rep, err := p.LoadStopEvents(ctx, out.Records)
	rep.Nacked = out.Nacked
	return rep, err
}

func (p *Pipeline) LoadStopEvents(ctx context.Context, raws []stopevent.Raw) (Report, error) {
	rep := newReport(KindStopEvent)
	rep.Received = len(raws)
	if len(raws) == 0 {
		p.Log.Info().Str("kind", KindStopEvent).Msg("empty batch, nothing to load")
		return rep, nil
	}

	gate := stopevent.NewGate(
		validate.WithLogger(p.Log),
		validate.WithRejectHook(func(r validate.Rejection) { p.Metrics.RejectedInc(KindStopEvent, r.Rule) }),
	)
	valid, rejected := gate.Filter(raws)
	rep.Validated, rep.Rejected = len(valid), len(rejected)
	p.Log.Info().Int("validated", rep.Validated).Int("rejected", rep.Rejected).Msg("stop event batch prepared")
	if len(valid) == 0 {
		return rep, nil
	}

	start := time.Now()
	n, err := p.Loader.Load(ctx, p.Tables.StopEvent, stopevent.Columns, db.Rows(valid))
	p.Metrics.ObserveStage("load", start)
	if err != nil {
		return rep, err
	}
	rep.Loaded[p.Tables.StopEvent] = n

	p.totals(ctx, &rep, p.Tables.StopEvent)
	return rep, nil
}

// DecodeBreadcrumbs turns raw feed records into breadcrumbs, logging and
// dropping the ones that do not decode.
func DecodeBreadcrumbs(records []json.RawMessage, logger zerolog.Logger) []breadcrumb.Raw {
	out := make([]breadcrumb.Raw, 0, len(records))
	for i, rec := range records {
		r, err := breadcrumb.Decode(rec)
		if err != nil {
			logger.Warn().Err(err).Int("record", i).Msg("undecodable breadcrumb")
			continue
		}
		out = append(out, r)
	}
	return out
}

func (p *Pipeline) totals(ctx context.Context, rep *Report, tables ...string) {
	if p.Counter == nil {
		return
	}
	for _, t := range tables {
		n, err := p.Counter(ctx, t)
		if err != nil {
			p.Log.Warn().Err(err).Str("table", t).Msg("table count failed")
			continue
		}
		rep.TableTotal[t] = n
	}
}
