// Package lazy provides initialize-once handles for expensive clients and
// models.
package lazy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle builds a value on first use and returns the same value afterwards.
// Concurrent first callers wait for the one in-flight initialization. A failed
// initialization is not cached, so a later Get may try again.
type Handle[T any] struct {
	name  string
	init  func(context.Context) (T, error)
	mu    sync.Mutex
	ready atomic.Bool
	value T
}

func New[T any](name string, init func(context.Context) (T, error)) *Handle[T] {
	return &Handle[T]{name: name, init: init}
}

// Ready wraps an already constructed value.
func Ready[T any](name string, value T) *Handle[T] {
	h := &Handle[T]{name: name, value: value}
	h.ready.Store(true)
	return h
}

func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	if h.ready.Load() {
		return h.value, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready.Load() {
		return h.value, nil
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if h.init == nil {
		return zero, fmt.Errorf("initialize %s: no initializer", h.name)
	}
	value, err := h.init(ctx)
	if err != nil {
		return zero, fmt.Errorf("initialize %s: %w", h.name, err)
	}
	h.value = value
	h.ready.Store(true)
	return value, nil
}

func (h *Handle[T]) Initialized() bool {
	return h.ready.Load()
}
