package lazy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHandleInitializesOnceUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	h := New("model", func(context.Context) (*int, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		v := 42
		return &v, nil
	})

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Get(context.Background())
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected single init, got %d", calls.Load())
	}
	for _, v := range results {
		if v != results[0] {
			t.Fatalf("expected same instance for all callers")
		}
	}
	if !h.Initialized() {
		t.Fatalf("expected handle initialized")
	}
}

func TestHandleRetriesAfterFailedInit(t *testing.T) {
	attempts := 0
	h := New("client", func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("unavailable")
		}
		return "ok", nil
	})

	if _, err := h.Get(context.Background()); err == nil {
		t.Fatalf("expected first init to fail")
	}
	if h.Initialized() {
		t.Fatalf("failed init must not mark handle ready")
	}
	v, err := h.Get(context.Background())
	if err != nil || v != "ok" {
		t.Fatalf("expected second init to succeed, got %q, %v", v, err)
	}
	if _, err := h.Get(context.Background()); err != nil || attempts != 2 {
		t.Fatalf("expected cached value, attempts=%d err=%v", attempts, err)
	}
}

func TestReadyHandleSkipsInit(t *testing.T) {
	h := Ready("static", 7)
	v, err := h.Get(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("unexpected result %d, %v", v, err)
	}
}
