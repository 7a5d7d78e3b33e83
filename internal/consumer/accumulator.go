package consumer

import (
	"errors"
	"sync"
)

var ErrSealed = errors.New("accumulator sealed")

// Accumulator collects decoded records from concurrent handlers. Once sealed
// it rejects further additions.
type Accumulator[T any] struct {
	mu     sync.Mutex
	items  []T
	sealed bool
}

func (a *Accumulator[T]) Add(v T) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return ErrSealed
	}
	a.items = append(a.items, v)
	return nil
}

// Seal closes the accumulator and returns its contents. Calling it again
// returns the same records.
func (a *Accumulator[T]) Seal() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	return a.items
}

func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}
