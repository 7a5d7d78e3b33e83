package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Collector struct {
	reg *prometheus.Registry

	Gathered      *prometheus.CounterVec // kind
	Published     *prometheus.CounterVec // kind
	PublishErrs   *prometheus.CounterVec // kind
	Received      *prometheus.CounterVec // kind
	Nacked        *prometheus.CounterVec // kind
	Derived       prometheus.Counter
	DeriveSkipped prometheus.Counter
	Rejected      *prometheus.CounterVec // kind, rule
	Loaded        *prometheus.CounterVec // table
	LoadFailures  *prometheus.CounterVec // table

	ChannelConnected prometheus.Gauge

	PublishDuration prometheus.Histogram
	StageDuration   *prometheus.HistogramVec // stage
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Gathered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_records_gathered_total",
			Help: "Raw records fetched and spooled.",
		}, []string{"kind"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_records_published_total",
			Help: "Records acknowledged by the channel.",
		}, []string{"kind"}),
		PublishErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_publish_errors_total",
			Help: "Records that failed to publish.",
		}, []string{"kind"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_messages_received_total",
			Help: "Deliveries handed to the consumer.",
		}, []string{"kind"}),
		Nacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_messages_nacked_total",
			Help: "Deliveries negatively acknowledged.",
		}, []string{"kind"}),
		Derived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_breadcrumbs_derived_total",
			Help: "Breadcrumbs with derived timestamp and speed.",
		}),
		DeriveSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_breadcrumbs_underivable_total",
			Help: "Breadcrumbs dropped because OPD_DATE did not parse.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_rows_rejected_total",
			Help: "Rows rejected by the validation gate.",
		}, []string{"kind", "rule"}),
		Loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_rows_loaded_total",
			Help: "Rows committed to the database.",
		}, []string{"table"}),
		LoadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_load_failures_total",
			Help: "Rolled-back loads.",
		}, []string{"table"}),
		ChannelConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_channel_connected",
			Help: "1 if the channel connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_publish_duration_seconds",
			Help:    "Time from submit to broker acknowledgement.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall time of one pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.Gathered, c.Published, c.PublishErrs,
		c.Received, c.Nacked,
		c.Derived, c.DeriveSkipped, c.Rejected,
		c.Loaded, c.LoadFailures,
		c.ChannelConnected, c.PublishDuration, c.StageDuration,
	)
	return c
}

func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.ChannelConnected.Set(1)
		return
	}
	c.ChannelConnected.Set(0)
}

func (c *Collector) LoadedAdd(table string, n int64) { c.Loaded.WithLabelValues(table).Add(float64(n)) }
func (c *Collector) LoadFailedInc(table string)      { c.LoadFailures.WithLabelValues(table).Inc() }

func (c *Collector) DerivedAdd(derived, skipped int) {
	c.Derived.Add(float64(derived))
	c.DeriveSkipped.Add(float64(skipped))
}

func (c *Collector) RejectedInc(kind, rule string) { c.Rejected.WithLabelValues(kind, rule).Inc() }

// ObserveStage records how long stage took since start.
func (c *Collector) ObserveStage(stage string, start time.Time) {
	c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Kind returns the counters of one record kind ("breadcrumb" or "stopevent").
func (c *Collector) Kind(kind string) KindMetrics {
	return KindMetrics{c: c, kind: kind}
}

// KindMetrics satisfies the publisher, consumer and fetcher metric interfaces.
type KindMetrics struct {
	c    *Collector
	kind string
}

func (k KindMetrics) GatheredAdd(n int) { k.c.Gathered.WithLabelValues(k.kind).Add(float64(n)) }
func (k KindMetrics) PublishedInc()     { k.c.Published.WithLabelValues(k.kind).Inc() }
func (k KindMetrics) PublishErrInc()    { k.c.PublishErrs.WithLabelValues(k.kind).Inc() }
func (k KindMetrics) ReceivedInc()      { k.c.Received.WithLabelValues(k.kind).Inc() }
func (k KindMetrics) NackedInc()        { k.c.Nacked.WithLabelValues(k.kind).Inc() }

func (k KindMetrics) PublishObserve(d time.Duration) { k.c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
