// Package fetcher pulls raw breadcrumb and stop-event records from the
// TriMet feeds and spools them to disk, one file per vehicle.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"trimet-pipeline/internal/stopevent"
)

type Metrics interface {
	GatheredAdd(n int)
}

type noopMetrics struct{}

func (noopMetrics) GatheredAdd(int) {}

type Gatherer struct {
	Client        *Client
	BreadcrumbURL string
	StopEventURL  string
	Workers       int
	Metrics       Metrics
	Log           zerolog.Logger
	Now           func() time.Time
}

func NewGatherer(client *Client, breadcrumbURL, stopEventURL string) *Gatherer {
	return &Gatherer{
		Client:        client,
		BreadcrumbURL: breadcrumbURL,
		StopEventURL:  stopEventURL,
		Workers:       4,
		Metrics:       noopMetrics{},
		Log:           log.Logger,
		Now:           time.Now,
	}
}

type Result struct {
	Vehicles int
	Files    int
	Records  int
}

// fetchFunc returns the records for one vehicle and how many there are.
type fetchFunc func(ctx context.Context, vid string) (any, int, error)

func (g *Gatherer) Breadcrumbs(ctx context.Context, ids []string, spool Spool) Result {
	return g.gather(ctx, ids, spool, "bus", func(ctx context.Context, vid string) (any, int, error) {
		recs, err := g.Client.Breadcrumbs(ctx, g.BreadcrumbURL, vid)
		return []json.RawMessage(recs), len(recs), err
	})
}

func (g *Gatherer) StopEvents(ctx context.Context, ids []string, spool Spool) Result {
	return g.gather(ctx, ids, spool, "stop", func(ctx context.Context, vid string) (any, int, error) {
		recs, err := g.Client.StopEvents(ctx, g.StopEventURL, vid)
		return []stopevent.Raw(recs), len(recs), err
	})
}

func (g *Gatherer) gather(ctx context.Context, ids []string, spool Spool, prefix string, fetch fetchFunc) Result {
	date := g.Now().Format("2006-01-02")
	var files, records atomic.Int64

	p := pool.New().WithMaxGoroutines(max(g.Workers, 1))
	for _, vid := range ids {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			recs, n, err := fetch(ctx, vid)
			if errors.Is(err, ErrNoData) {
				g.Log.Debug().Err(err).Str("vehicle", vid).Msg("no data")
				return
			}
			if err != nil {
				g.Log.Error().Err(err).Str("vehicle", vid).Msg("fetch failed")
				return
			}
			name := fmt.Sprintf("%s_%s_%s.json", prefix, vid, date)
			if _, err := spool.Write(name, recs); err != nil {
				g.Log.Error().Err(err).Str("vehicle", vid).Msg("spool write failed")
				return
			}
			files.Add(1)
			records.Add(int64(n))
			g.Metrics.GatheredAdd(n)
		})
	}
	p.Wait()

	res := Result{Vehicles: len(ids), Files: int(files.Load()), Records: int(records.Load())}
	g.Log.Info().
		Str("kind", prefix).
		Int("vehicles", res.Vehicles).
		Int("files", res.Files).
		Int("records", res.Records).
		Msg("gather finished")
	return res
}
