package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ConnMetrics is notified about broker connectivity.
type ConnMetrics interface {
	SetConnected(connected bool)
}

type NATS struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	stream  string
	log     zerolog.Logger
	metrics ConnMetrics
}

func DialNATS(url, stream string, logger zerolog.Logger, m ConnMetrics) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("trimet-pipeline"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.SetConnected(false)
			}
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(true)
			}
			logger.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			logger.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if m != nil {
		m.SetConnected(true)
	}
	return &NATS{nc: nc, js: js, stream: stream, log: logger, metrics: m}, nil
}

// EnsureStream creates the stream for subjects if it does not exist yet.
func (n *NATS) EnsureStream(subjects ...string) error {
	_, err := n.js.StreamInfo(n.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", n.stream, err)
	}
	_, err = n.js.AddStream(&nats.StreamConfig{
		Name:     n.stream,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", n.stream, err)
	}
	n.log.Info().Str("stream", n.stream).Strs("subjects", subjects).Msg("created stream")
	return nil
}

func (n *NATS) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
		n.nc.Close()
	}
}

// Topic binds a subject and the durable pull consumer that reads it.
func (n *NATS) Topic(subject, durable string, maxDeliver int) *NATSTopic {
	return &NATSTopic{n: n, subject: subject, durable: durable, maxDeliver: maxDeliver, fetchBatch: 64, fetchWait: time.Second}
}

type NATSTopic struct {
	n          *NATS
	subject    string
	durable    string
	maxDeliver int
	fetchBatch int
	fetchWait  time.Duration
}

func (t *NATSTopic) Publish(_ context.Context, data []byte) (Future, error) {
	f, err := t.n.js.PublishAsync(t.subject, data)
	if err != nil {
		return nil, err
	}
	return natsFuture{f: f}, nil
}

type natsFuture struct {
	f nats.PubAckFuture
}

func (f natsFuture) Result(ctx context.Context) (MessageID, error) {
	select {
	case ack := <-f.f.Ok():
		return MessageID(fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)), nil
	case err := <-f.f.Err():
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe reads through a durable pull consumer. The consumer is created
// here and bound, so unsubscribing leaves it (and its ack floor) on the
// server for the next run.
func (t *NATSTopic) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	if err := t.ensureConsumer(); err != nil {
		return nil, err
	}
	sub, err := t.n.js.PullSubscribe(t.subject, t.durable, nats.Bind(t.n.stream, t.durable))
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", t.subject, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &natsSubscription{sub: sub, cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ctx.Err() == nil {
			fctx, cancel := context.WithTimeout(ctx, t.fetchWait)
			msgs, err := sub.Fetch(t.fetchBatch, nats.Context(fctx))
			cancel()
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				t.n.log.Warn().Err(err).Str("subject", t.subject).Msg("fetch failed")
				continue
			}
			for _, m := range msgs {
				if ctx.Err() != nil {
					_ = m.Nak()
					continue
				}
				h(natsDelivery{m: m})
			}
		}
	}()
	return s, nil
}

func (t *NATSTopic) ensureConsumer() error {
	if _, err := t.n.js.ConsumerInfo(t.n.stream, t.durable); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("consumer info %s: %w", t.durable, err)
	}
	_, err := t.n.js.AddConsumer(t.n.stream, &nats.ConsumerConfig{
		Durable:       t.durable,
		FilterSubject: t.subject,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxDeliver:    t.maxDeliver,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("add consumer %s: %w", t.durable, err)
	}
	return nil
}

type natsSubscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *natsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		err = s.sub.Unsubscribe()
	})
	return err
}

type natsDelivery struct {
	m *nats.Msg
}

func (d natsDelivery) ID() string {
	meta, err := d.m.Metadata()
	if err != nil {
		return d.m.Subject
	}
	return fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
}

func (d natsDelivery) Data() []byte { return d.m.Data }
func (d natsDelivery) Ack() error   { return d.m.Ack() }
func (d natsDelivery) Nak() error   { return d.m.Nak() }
