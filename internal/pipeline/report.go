package pipeline

import (
	"github.com/rs/zerolog"
)

// Report counts what one consume or load run did at each stage.
type Report struct {
	Kind       string
	Received   int
	Nacked     int
	Derived    int
	Underived  int
	Validated  int
	Rejected   int
	Trips      int
	Loaded     map[string]int64
	TableTotal map[string]int64
}

func newReport(kind string) Report {
	return Report{Kind: kind, Loaded: map[string]int64{}, TableTotal: map[string]int64{}}
}

func (r Report) Log(logger zerolog.Logger) {
	ev := logger.Info().
		Str("kind", r.Kind).
		Int("received", r.Received).
		Int("nacked", r.Nacked).
		Int("validated", r.Validated).
		Int("rejected", r.Rejected)
	if r.Kind == KindBreadcrumb {
		ev = ev.Int("derived", r.Derived).Int("underived", r.Underived).Int("trips", r.Trips)
	}
	loaded := zerolog.Dict()
	for table, n := range r.Loaded {
		loaded = loaded.Int64(table, n)
	}
	totals := zerolog.Dict()
	for table, n := range r.TableTotal {
		totals = totals.Int64(table, n)
	}
	ev.Dict("loaded", loaded).Dict("table_totals", totals).Msg("run finished")
}
