package channel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process channel with at-least-once semantics: a nacked
// message goes to the back of the ready list until MaxDeliver is reached.
// Publishers and subscribers must share the same process.
type Memory struct {
	// Workers is the number of concurrent handler goroutines per subscription.
	Workers int
	// MaxDeliver drops a message after that many nacks; 0 means never.
	MaxDeliver int
	// FailPublish, when set, is consulted before a message is accepted. The
	// argument is the 1-based publish attempt.
	FailPublish func(attempt int) error
	// FailAck, when set, makes the Future of the given attempt fail.
	FailAck func(attempt int) error

	mu       sync.Mutex
	ready    []*memMessage
	attempts int
	seq      int
	acked    int
	nacked   int
	dropped  int
	notify   chan struct{}
}

type memMessage struct {
	id         string
	data       []byte
	deliveries int
}

func NewMemory() *Memory {
	return &Memory{Workers: 1, notify: make(chan struct{}, 1)}
}

func (m *Memory) Publish(_ context.Context, data []byte) (Future, error) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	if m.FailPublish != nil {
		if err := m.FailPublish(attempt); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	if m.FailAck != nil {
		if err := m.FailAck(attempt); err != nil {
			m.mu.Unlock()
			return resolved{err: err}, nil
		}
	}
	m.seq++
	msg := &memMessage{id: fmt.Sprintf("mem:%d", m.seq), data: append([]byte(nil), data...)}
	m.ready = append(m.ready, msg)
	m.mu.Unlock()
	m.wake()
	return resolved{id: MessageID(msg.id)}, nil
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) next() (*memMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ready) == 0 {
		return nil, false
	}
	msg := m.ready[0]
	m.ready = m.ready[1:]
	msg.deliveries++
	return msg, true
}

func (m *Memory) requeue(msg *memMessage, nak bool) {
	m.mu.Lock()
	if nak {
		m.nacked++
		if m.MaxDeliver > 0 && msg.deliveries >= m.MaxDeliver {
			m.dropped++
			m.mu.Unlock()
			return
		}
	} else {
		msg.deliveries--
	}
	m.ready = append(m.ready, msg)
	m.mu.Unlock()
	m.wake()
}

func (m *Memory) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &memSubscription{cancel: cancel}
	workers := max(m.Workers, 1)
	for range workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				msg, ok := m.next()
				if !ok {
					select {
					case <-ctx.Done():
						return
					case <-m.notify:
					case <-time.After(10 * time.Millisecond):
					}
					continue
				}
				if ctx.Err() != nil {
					m.requeue(msg, false)
					return
				}
				h(&memDelivery{m: m, msg: msg})
			}
		}()
	}
	return s, nil
}

// Pending is the number of messages waiting for delivery.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

func (m *Memory) Acked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

// Dropped counts messages discarded after MaxDeliver nacks.
func (m *Memory) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Memory) Nacked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nacked
}

type memSubscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *memSubscription) Unsubscribe() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

type memDelivery struct {
	m    *Memory
	msg  *memMessage
	once sync.Once
}

func (d *memDelivery) ID() string   { return d.msg.id }
func (d *memDelivery) Data() []byte { return d.msg.data }

func (d *memDelivery) Ack() error {
	d.once.Do(func() {
		d.m.mu.Lock()
		d.m.acked++
		d.m.mu.Unlock()
	})
	return nil
}

func (d *memDelivery) Nak() error {
	d.once.Do(func() { d.m.requeue(d.msg, true) })
	return nil
}
