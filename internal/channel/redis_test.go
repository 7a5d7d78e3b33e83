package channel

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	return connectRedis(t, miniredis.RunT(t))
}

func connectRedis(t *testing.T, mr *miniredis.Miniredis) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r, err := newRedis(client, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRedisPublishAndConsume(t *testing.T) {
	r := newTestRedis(t)
	topic, err := r.Topic("breadcrumbs")
	require.NoError(t, err)

	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		f, err := topic.Publish(ctx, []byte(p))
		require.NoError(t, err)
		id, err := f.Result(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	var mu sync.Mutex
	var got []string
	sub, err := topic.Subscribe(ctx, func(d Delivery) {
		mu.Lock()
		got = append(got, string(d.Data()))
		mu.Unlock()
		_ = d.Ack()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, sub.Unsubscribe())

	sort.Strings(got)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRedisNakMovesToRejected(t *testing.T) {
	r := newTestRedis(t)
	topic, err := r.Topic("stopevents")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = topic.Publish(ctx, []byte("bad"))
	require.NoError(t, err)

	done := make(chan struct{}, 1)
	sub, err := topic.Subscribe(ctx, func(d Delivery) {
		_ = d.Nak()
		done <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery")
	}
	require.NoError(t, sub.Unsubscribe())

	n, err := topic.ReturnRejected(10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisNakIsRedeliveredToNextSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	first := connectRedis(t, mr)
	topic, err := first.Topic("breadcrumbs")
	require.NoError(t, err)
	_, err = topic.Publish(ctx, []byte("retry-me"))
	require.NoError(t, err)

	nacked := make(chan struct{}, 1)
	sub, err := topic.Subscribe(ctx, func(d Delivery) {
		_ = d.Nak()
		nacked <- struct{}{}
	})
	require.NoError(t, err)
	select {
	case <-nacked:
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery on first run")
	}
	require.NoError(t, sub.Unsubscribe())
	first.Close()

	second := connectRedis(t, mr)
	topic, err = second.Topic("breadcrumbs")
	require.NoError(t, err)

	acked := make(chan string, 1)
	sub, err = topic.Subscribe(ctx, func(d Delivery) {
		_ = d.Ack()
		acked <- string(d.Data())
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case got := <-acked:
		assert.Equal(t, "retry-me", got)
	case <-time.After(3 * time.Second):
		t.Fatal("nacked delivery was not redelivered")
	}
}
