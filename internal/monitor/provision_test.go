package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingEnsurer counts backend creation
// calls, optionally stalling them so tests
// can overlap callers.
type countingEnsurer struct {
	mu    sync.Mutex
	calls int
	err   error
	stall time.Duration
}

func (c *countingEnsurer) EnsureItem(_ context.Context, host, key, name string) error {
	c.mu.Lock()
	c.calls++
	err := c.err
	stall := c.stall
	c.mu.Unlock()

	if stall > 0 {
		time.Sleep(stall)
	}

	return err
}

func (c *countingEnsurer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestProvisionerCaches(t *testing.T) {
	e := &countingEnsurer{}
	p := NewProvisioner(e, time.Hour)

	for i := 0; i < 5; i++ {
		if err := p.Ensure(context.Background(), "mq01", "key", "name"); err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
	}

	if e.count() != 1 {
		t.Errorf("Expected 1 backend call, got %d", e.count())
	}

	// Distinct (host, key) pairs don't share
	// cache entries.
	p.Ensure(context.Background(), "mq02", "key", "name")
	if e.count() != 2 {
		t.Errorf("Expected 2 backend calls, got %d", e.count())
	}
}

func TestProvisionerTTLExpiry(t *testing.T) {
	e := &countingEnsurer{}
	p := NewProvisioner(e, time.Millisecond)

	p.Ensure(context.Background(), "mq01", "key", "name")
	time.Sleep(5 * time.Millisecond)
	p.Ensure(context.Background(), "mq01", "key", "name")

	if e.count() != 2 {
		t.Errorf("Expected 2 backend calls after TTL expiry, got %d", e.count())
	}
}

func TestProvisionerSingleFlight(t *testing.T) {
	e := &countingEnsurer{stall: 50 * time.Millisecond}
	p := NewProvisioner(e, time.Hour)

	// Two overlapping passes for the same
	// (host, key): exactly one creation call
	// must reach the backend.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Ensure(context.Background(), "mq01", "key", "name"); err != nil {
				t.Errorf("Unexpected error: %s", err)
			}
		}()
	}
	wg.Wait()

	if e.count() != 1 {
		t.Errorf("Expected 1 backend call, got %d", e.count())
	}
}

func TestProvisionerFailure(t *testing.T) {
	e := &countingEnsurer{err: errors.New("no such host")}
	p := NewProvisioner(e, time.Hour)

	err := p.Ensure(context.Background(), "mq01", "key", "name")

	var pf *ProvisionFailed
	if !errors.As(err, &pf) {
		t.Fatalf("Expected ProvisionFailed, got %T", err)
	}

	// Failures are not cached; the next call
	// retries the backend.
	e.mu.Lock()
	e.err = nil
	e.mu.Unlock()

	if err := p.Ensure(context.Background(), "mq01", "key", "name"); err != nil {
		t.Errorf("Unexpected error: %s", err)
	}

	if e.count() != 2 {
		t.Errorf("Expected 2 backend calls, got %d", e.count())
	}
}
