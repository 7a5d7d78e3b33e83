package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trimet-pipeline/internal/channel"
)

type record struct {
	N int `json:"n"`
}

func decode(b []byte) (record, error) {
	var r record
	err := json.Unmarshal(b, &r)
	return r, err
}

func publish(t *testing.T, m *channel.Memory, bodies ...string) {
	t.Helper()
	for _, b := range bodies {
		_, err := m.Publish(context.Background(), []byte(b))
		require.NoError(t, err)
	}
}

func TestAccumulatorSeal(t *testing.T) {
	var acc Accumulator[int]
	require.NoError(t, acc.Add(1))
	require.NoError(t, acc.Add(2))

	assert.Equal(t, []int{1, 2}, acc.Seal())
	assert.ErrorIs(t, acc.Add(3), ErrSealed)
	assert.Equal(t, []int{1, 2}, acc.Seal())
	assert.Equal(t, 2, acc.Len())
}

func TestDrainIdleReturnsEverything(t *testing.T) {
	mem := channel.NewMemory()
	mem.Workers = 4
	for i := range 200 {
		publish(t, mem, fmt.Sprintf(`{"n":%d}`, i))
	}

	c := New(mem, decode, WithLogger(zerolog.Nop()))
	out, err := c.Drain(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StoppedIdle, out.Reason)
	assert.Len(t, out.Records, 200)
	assert.Equal(t, 200, mem.Acked())
	assert.Equal(t, 0, mem.Pending())

	seen := map[int]bool{}
	for _, r := range out.Records {
		seen[r.N] = true
	}
	assert.Len(t, seen, 200)
}

func TestDrainNacksUndecodable(t *testing.T) {
	mem := channel.NewMemory()
	mem.MaxDeliver = 2
	publish(t, mem, `{"n":1}`, `{broken`, `{"n":2}`)

	c := New(mem, decode, WithLogger(zerolog.Nop()))
	out, err := c.Drain(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	assert.ElementsMatch(t, []record{{N: 1}, {N: 2}}, out.Records)
	assert.Equal(t, 2, out.Nacked)
	assert.Equal(t, 1, mem.Dropped())
}

func TestDrainKeepsDuplicates(t *testing.T) {
	mem := channel.NewMemory()
	publish(t, mem, `{"n":7}`, `{"n":7}`)

	c := New(mem, decode, WithLogger(zerolog.Nop()))
	out, err := c.Drain(context.Background(), 80*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []record{{N: 7}, {N: 7}}, out.Records)
}

func TestDrainExplicitStop(t *testing.T) {
	mem := channel.NewMemory()
	publish(t, mem, `{"n":1}`)

	var buf bytes.Buffer
	c := New(mem, decode, WithLogger(zerolog.New(&buf)))
	go func() {
		time.Sleep(50 * time.Millisecond)
		c.Stop()
		c.Stop()
	}()
	out, err := c.Drain(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StoppedExplicitly, out.Reason)
	assert.Equal(t, []record{{N: 1}}, out.Records)
	assert.Contains(t, buf.String(), `"accumulated":1`)
}

func TestDrainCancelled(t *testing.T) {
	mem := channel.NewMemory()
	publish(t, mem, `{"n":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(mem, decode, WithLogger(zerolog.Nop()))
	out, err := c.Drain(ctx, time.Hour)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StoppedCancelled, out.Reason)
	assert.Equal(t, []record{{N: 1}}, out.Records)
}

func TestDrainEmptyTopic(t *testing.T) {
	c := New(channel.NewMemory(), decode, WithLogger(zerolog.Nop()))
	out, err := c.Drain(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, out.Records)
	assert.Equal(t, StoppedIdle, out.Reason)
}
