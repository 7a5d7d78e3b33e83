package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishAssignsIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	f1, err := m.Publish(ctx, []byte("a"))
	require.NoError(t, err)
	f2, err := m.Publish(ctx, []byte("b"))
	require.NoError(t, err)

	id1, err := f1.Result(ctx)
	require.NoError(t, err)
	id2, err := f2.Result(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, m.Pending())
}

func TestMemoryPublishFailures(t *testing.T) {
	m := NewMemory()
	m.FailPublish = func(attempt int) error {
		if attempt == 2 {
			return errors.New("refused")
		}
		return nil
	}
	m.FailAck = func(attempt int) error {
		if attempt == 3 {
			return errors.New("no ack")
		}
		return nil
	}
	ctx := context.Background()

	_, err := m.Publish(ctx, []byte("1"))
	require.NoError(t, err)

	_, err = m.Publish(ctx, []byte("2"))
	require.Error(t, err)

	f, err := m.Publish(ctx, []byte("3"))
	require.NoError(t, err)
	_, err = f.Result(ctx)
	require.Error(t, err)

	assert.Equal(t, 1, m.Pending())
}

func TestMemoryNakRedelivers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.Publish(ctx, []byte("x"))
	require.NoError(t, err)

	var mu sync.Mutex
	seen := 0
	sub, err := m.Subscribe(ctx, func(d Delivery) {
		mu.Lock()
		seen++
		n := seen
		mu.Unlock()
		if n == 1 {
			_ = d.Nak()
			return
		}
		_ = d.Ack()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Acked() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, m.Nacked())
	assert.Equal(t, 0, m.Pending())
}

func TestMemoryMaxDeliverDrops(t *testing.T) {
	m := NewMemory()
	m.MaxDeliver = 3
	ctx := context.Background()
	_, err := m.Publish(ctx, []byte("poison"))
	require.NoError(t, err)

	sub, err := m.Subscribe(ctx, func(d Delivery) { _ = d.Nak() })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Dropped() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 3, m.Nacked())
	assert.Equal(t, 0, m.Pending())
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	m := NewMemory()
	m.Workers = 4
	ctx := context.Background()

	sub, err := m.Subscribe(ctx, func(d Delivery) { _ = d.Ack() })
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	_, err = m.Publish(ctx, []byte("late"))
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, 0, m.Acked())
}
