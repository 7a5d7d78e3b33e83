package channel

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is the rmq-backed channel. Queues are durable lists in Redis; a
// rejected delivery moves to the queue's rejected list and is returned to
// ready when the next subscription starts.
type Redis struct {
	client *redis.Client
	conn   rmq.Connection
	log    zerolog.Logger
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func DialRedis(ctx context.Context, address, password string, database int, logger zerolog.Logger) (*Redis, error) {
	opts := &redis.Options{Addr: address, DB: database}
	if password != "" {
		opts.Password = password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedis(client, logger)
}

func newRedis(client *redis.Client, logger zerolog.Logger) (*Redis, error) {
	errs := make(chan error, 16)
	conn, err := rmq.OpenConnectionWithRedisClient("trimet-pipeline", client, errs)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open rmq connection: %w", err)
	}
	r := &Redis{client: client, conn: conn, log: logger, errs: errs, done: make(chan struct{})}
	go r.logErrors()
	return r, nil
}

func (r *Redis) logErrors() {
	for {
		select {
		case err := <-r.errs:
			r.log.Warn().Err(err).Msg("rmq error")
		case <-r.done:
			return
		}
	}
}

func (r *Redis) Topic(name string) (*RedisTopic, error) {
	q, err := r.conn.OpenQueue(name)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", name, err)
	}
	return &RedisTopic{
		name:     name,
		conn:     r.conn,
		queue:    q,
		log:      r.log,
		prefetch: 64,
		poll:     100 * time.Millisecond,
	}, nil
}

func (r *Redis) Close() {
	r.once.Do(func() {
		<-r.conn.StopAllConsuming()
		close(r.done)
		_ = r.client.Close()
	})
}

type RedisTopic struct {
	name     string
	conn     rmq.Connection
	queue    rmq.Queue
	log      zerolog.Logger
	prefetch int64
	poll     time.Duration
}

// Publish is synchronous in rmq; the returned Future is already resolved.
func (t *RedisTopic) Publish(_ context.Context, data []byte) (Future, error) {
	if err := t.queue.PublishBytes(data); err != nil {
		return nil, err
	}
	return resolved{id: MessageID(uuid.NewString())}, nil
}

func (t *RedisTopic) Subscribe(_ context.Context, h Handler) (Subscription, error) {
	if err := t.requeue(); err != nil {
		return nil, err
	}
	if err := t.queue.StartConsuming(t.prefetch, t.poll); err != nil {
		return nil, fmt.Errorf("start consuming %s: %w", t.name, err)
	}
	if _, err := t.queue.AddConsumerFunc(t.name+"-drain", func(d rmq.Delivery) {
		h(&redisDelivery{d: d, id: uuid.NewString()})
	}); err != nil {
		<-t.queue.StopConsuming()
		return nil, fmt.Errorf("add consumer %s: %w", t.name, err)
	}
	return &redisSubscription{queue: t.queue}, nil
}

// requeue returns deliveries left unacked by dead connections and those
// rejected by earlier runs, so every nack is eventually redelivered.
func (t *RedisTopic) requeue() error {
	cleaned, err := rmq.NewCleaner(t.conn).Clean()
	if err != nil {
		return fmt.Errorf("clean %s: %w", t.name, err)
	}
	returned, err := t.ReturnRejected(math.MaxInt64)
	if err != nil {
		return fmt.Errorf("return rejected %s: %w", t.name, err)
	}
	if cleaned != 0 || returned != 0 {
		t.log.Info().
			Str("queue", t.name).
			Int64("cleaned", cleaned).
			Int64("returned", returned).
			Msg("requeued deliveries")
	}
	return nil
}

// ReturnRejected moves up to max rejected deliveries back to ready.
func (t *RedisTopic) ReturnRejected(max int64) (int64, error) {
	return t.queue.ReturnRejected(max)
}

type redisSubscription struct {
	queue rmq.Queue
	once  sync.Once
}

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		<-s.queue.StopConsuming()
	})
	return nil
}

type redisDelivery struct {
	d  rmq.Delivery
	id string
}

func (d *redisDelivery) ID() string   { return d.id }
func (d *redisDelivery) Data() []byte { return []byte(d.d.Payload()) }
func (d *redisDelivery) Ack() error   { return d.d.Ack() }
func (d *redisDelivery) Nak() error   { return d.d.Reject() }
