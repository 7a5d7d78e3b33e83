package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"trimet-pipeline/internal/channel"
	"trimet-pipeline/internal/config"
	"trimet-pipeline/internal/db"
	"trimet-pipeline/internal/logging"
	"trimet-pipeline/internal/metrics"
	"trimet-pipeline/internal/pipeline"
)

// env holds what every job needs; close releases it in reverse order.
type env struct {
	cfg     *config.Config
	metrics *metrics.Collector
	log     zerolog.Logger
	closers []func()
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.LogFormat, cfg.LogLevel)

	e := &env{cfg: cfg, metrics: metrics.NewCollector(), log: logging.Component("pipeline")}
	if cfg.MetricsAddr != "" {
		srv := e.metrics.Serve(cfg.MetricsAddr)
		e.onClose(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	return e, nil
}

func (e *env) onClose(fn func()) { e.closers = append(e.closers, fn) }

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (e *env) tables() db.Tables {
	return db.Tables{Trip: e.cfg.TripTable, Breadcrumb: e.cfg.BreadcrumbTable, StopEvent: e.cfg.StopEventTable}
}

func (e *env) spool(kind string) string {
	return filepath.Join(e.cfg.SpoolDir, kind)
}

func (e *env) subject(kind string) string {
	if kind == pipeline.KindStopEvent {
		return e.cfg.StopEventSubject
	}
	return e.cfg.BreadcrumbSubject
}

func retry(ctx context.Context, what string, logger zerolog.Logger, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msgf("%s not reachable", what)
	})
}

// topic connects to the configured channel backend and returns the topic
// for kind.
func (e *env) topic(ctx context.Context, kind string) (channel.Topic, error) {
	logger := logging.Component("channel")
	switch e.cfg.ChannelBackend {
	case "redis":
		var r *channel.Redis
		err := retry(ctx, "redis", logger, func() error {
			var err error
			r, err = channel.DialRedis(ctx, e.cfg.RedisAddress, e.cfg.RedisPassword, e.cfg.RedisDatabase, logger)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		e.onClose(r.Close)
		e.metrics.SetConnected(true)
		return r.Topic(e.subject(kind))
	default:
		var n *channel.NATS
		err := retry(ctx, "nats", logger, func() error {
			var err error
			n, err = channel.DialNATS(e.cfg.NATSURL, e.cfg.NATSStreamName, logger, e.metrics)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		e.onClose(n.Close)
		if err := n.EnsureStream(e.cfg.BreadcrumbSubject, e.cfg.StopEventSubject); err != nil {
			return nil, err
		}
		durable := e.cfg.NATSDurablePrefix + "-" + kind
		return n.Topic(e.subject(kind), durable, e.cfg.NATSMaxDeliver), nil
	}
}

func (e *env) database(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, e.cfg.DatabaseURL, logging.Component("db"))
	if err != nil {
		return nil, err
	}
	e.onClose(pool.Close)
	return pool, nil
}

func (e *env) pipeline(pool *pgxpool.Pool) *pipeline.Pipeline {
	loader := db.NewLoader(pool, e.metrics).WithLogger(logging.Component("loader"))
	p := pipeline.New(loader, e.tables(), e.cfg.Location)
	p.Counter = func(ctx context.Context, table string) (int64, error) {
		return db.CountRows(ctx, pool, table)
	}
	p.Metrics = e.metrics
	p.Log = logging.Component("pipeline")
	return p
}

// interruptible cancels on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// stopOnSignal calls stop on the first SIGINT/SIGTERM and cancels the
// returned context on the second.
func stopOnSignal(ctx context.Context, stop func(), logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			logger.Info().Msg("stop requested, finishing batch")
			stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			logger.Warn().Msg("second signal, aborting")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
