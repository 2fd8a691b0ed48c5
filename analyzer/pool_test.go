package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"
)

type nopClient struct{}

func (nopClient) CreatePrediction(ctx context.Context, model string, input map[string]interface{}) (*Prediction, error) {
	return &Prediction{ID: "p", Status: "starting"}, nil
}

func (nopClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	return &Prediction{ID: id, Status: StatusSucceeded}, nil
}

func newTestPool(t *testing.T, keys ...string) *Pool {
	t.Helper()
	clients := make(map[string]PredictionClient, len(keys))
	for _, k := range keys {
		clients[k] = nopClient{}
	}
	p, err := NewPool(clients)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func TestPoolAcquireRelease(t *testing.T) {
	p := newTestPool(t, "key1")

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Key != "key1" {
		t.Errorf("acquired %s, want key1", h.Key)
	}

	// The only client is busy now.
	if got := p.tryAcquire(); got != nil {
		t.Error("tryAcquire returned a busy client")
	}

	p.Release(h)
	if got := p.tryAcquire(); got == nil {
		t.Error("tryAcquire failed after release")
	}
}

func TestPoolPrefersHealthyClient(t *testing.T) {
	p := newTestPool(t, "key1", "key2")

	// key1 takes an error; key2 should be preferred.
	h1 := p.handles[0]
	p.MarkError(h1)

	h := p.tryAcquire()
	if h == nil || h.Key != "key2" {
		t.Fatalf("acquired %+v, want key2", h)
	}
	p.Release(h)

	// Outside the cooldown the recent-error flag drops and key1 is
	// competitive again; consecutive errors still rank it second.
	p.now = func() time.Time { return time.Now().Add(errorCooldown + time.Second) }
	h = p.tryAcquire()
	if h == nil || h.Key != "key2" {
		t.Fatalf("acquired %+v, want key2 (fewer consecutive errors)", h)
	}
	p.MarkSuccess(h1)
	p.Release(h)

	// With the streak cleared every health field ties and the pool
	// falls back to its stable key order: key1 first, then key2.
	h2 := p.tryAcquire()
	if h2 == nil || h2.Key != "key1" {
		t.Fatalf("acquired %+v, want key1", h2)
	}
	h = p.tryAcquire()
	if h == nil || h.Key != "key2" {
		t.Fatalf("acquired %+v, want key2", h)
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	p := newTestPool(t, "key1")
	p.acquireTimeout = -time.Second

	// Occupy the single client so Acquire cannot succeed.
	if h := p.tryAcquire(); h == nil {
		t.Fatal("tryAcquire failed")
	}

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrNoClientAvailable) {
		t.Fatalf("Acquire error = %v, want ErrNoClientAvailable", err)
	}
}

func TestPoolAcquireContextCancel(t *testing.T) {
	p := newTestPool(t, "key1")
	// Occupy the single client.
	if h := p.tryAcquire(); h == nil {
		t.Fatal("tryAcquire failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire error = %v, want deadline exceeded", err)
	}
}

func TestNewPoolEmpty(t *testing.T) {
	if _, err := NewPool(nil); err == nil {
		t.Fatal("NewPool(nil) expected error")
	}
}
