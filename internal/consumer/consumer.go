// Package consumer drains a channel topic into an in-memory batch.
package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trimet-pipeline/internal/channel"
)

type Metrics interface {
	ReceivedInc()
	NackedInc()
}

type noopMetrics struct{}

func (noopMetrics) ReceivedInc() {}
func (noopMetrics) NackedInc()   {}

// StopReason says why a drain ended.
type StopReason string

const (
	StoppedExplicitly StopReason = "stopped"
	StoppedIdle       StopReason = "idle"
	StoppedCancelled  StopReason = "cancelled"
)

type Drained[T any] struct {
	Records []T
	Nacked  int
	Reason  StopReason
}

type Consumer[T any] struct {
	sub     channel.Subscriber
	decode  func([]byte) (T, error)
	metrics Metrics
	log     zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type Option func(*options)

type options struct {
	metrics Metrics
	log     *zerolog.Logger
}

func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

func New[T any](sub channel.Subscriber, decode func([]byte) (T, error), opts ...Option) *Consumer[T] {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	c := &Consumer[T]{
		sub:     sub,
		decode:  decode,
		metrics: noopMetrics{},
		log:     log.Logger,
		stop:    make(chan struct{}),
	}
	if o.metrics != nil {
		c.metrics = o.metrics
	}
	if o.log != nil {
		c.log = *o.log
	}
	return c
}

// Stop ends a running or future Drain. Safe to call more than once.
func (c *Consumer[T]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Drain receives until Stop is called, no record has been accumulated for
// idle, or ctx is done. Decoded records are acked as soon as they are
// accumulated; undecodable ones and deliveries arriving after the batch is
// sealed are nacked. On cancellation the records gathered so far are
// returned together with ctx's error.
func (c *Consumer[T]) Drain(ctx context.Context, idle time.Duration) (Drained[T], error) {
	acc := &Accumulator[T]{}
	activity := make(chan struct{}, 1)
	var nacked atomic.Int64

	nak := func(d channel.Delivery) {
		nacked.Add(1)
		c.metrics.NackedInc()
		if err := d.Nak(); err != nil {
			c.log.Warn().Err(err).Str("message", d.ID()).Msg("nak failed")
		}
	}

	handler := func(d channel.Delivery) {
		c.metrics.ReceivedInc()
		rec, err := c.decode(d.Data())
		if err != nil {
			c.log.Warn().Err(err).Str("message", d.ID()).Msg("undecodable message")
			nak(d)
			return
		}
		if err := acc.Add(rec); err != nil {
			nak(d)
			return
		}
		if err := d.Ack(); err != nil {
			c.log.Warn().Err(err).Str("message", d.ID()).Msg("ack failed")
		}
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	sub, err := c.sub.Subscribe(ctx, handler)
	if err != nil {
		return Drained[T]{}, err
	}

	timer := time.NewTimer(idle)
	defer timer.Stop()

	var reason StopReason
loop:
	for {
		select {
		case <-ctx.Done():
			reason = StoppedCancelled
			break loop
		case <-c.stop:
			c.log.Info().Int("accumulated", acc.Len()).Msg("stop requested")
			reason = StoppedExplicitly
			break loop
		case <-timer.C:
			reason = StoppedIdle
			break loop
		case <-activity:
			timer.Reset(idle)
		}
	}

	records := acc.Seal()
	if err := sub.Unsubscribe(); err != nil {
		c.log.Warn().Err(err).Msg("unsubscribe failed")
	}

	out := Drained[T]{Records: records, Nacked: int(nacked.Load()), Reason: reason}
	c.log.Info().
		Int("received", len(records)).
		Int("nacked", out.Nacked).
		Str("reason", string(reason)).
		Msg("drain finished")
	if reason == StoppedCancelled {
		return out, ctx.Err()
	}
	return out, nil
}
