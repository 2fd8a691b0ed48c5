package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// ErrNoClientAvailable is returned when every pooled client stayed busy
// for the whole acquire window.
var ErrNoClientAvailable = errors.New("no analyzer client available")

const (
	// A client runs at most this many requests at once.
	perClientConcurrency = 1
	// Errors count as recent for this long.
	errorCooldown = 30 * time.Second
	// Acquire gives up after this long.
	defaultAcquireTimeout = 5 * time.Minute
)

// Acquire polls at this interval.
var acquireTick = time.Second

// Handle is one pooled client with its health bookkeeping.
type Handle struct {
	Key    string
	Client PredictionClient

	activeRequests    int
	consecutiveErrors int
	lastErrorTime     time.Time
}

// Pool hands out the healthiest idle client.
type Pool struct {
	mu             sync.Mutex
	handles        []*Handle
	acquireTimeout time.Duration
	now            func() time.Time
}

// NewPool builds a pool over the given clients, keyed for logging.
func NewPool(clients map[string]PredictionClient) (*Pool, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("analyzer pool needs at least one client")
	}
	p := &Pool{
		acquireTimeout: defaultAcquireTimeout,
		now:            time.Now,
	}
	keys := make([]string, 0, len(clients))
	for k := range clients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.handles = append(p.handles, &Handle{Key: k, Client: clients[k]})
	}
	log.Printf("[AnalyzerPool] Initialized with %d clients", len(p.handles))
	return p, nil
}

// Size returns the number of pooled clients.
func (p *Pool) Size() int {
	return len(p.handles)
}

// Acquire blocks until a client is free, polling once a second, and
// returns ErrNoClientAvailable after the acquire window expires. The
// healthiest free client wins: fewest recent errors first, then fewest
// consecutive errors, then fewest active requests.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	deadline := p.now().Add(p.acquireTimeout)
	for {
		if h := p.tryAcquire(); h != nil {
			return h, nil
		}
		if p.now().After(deadline) {
			return nil, ErrNoClientAvailable
		}
		select {
		case <-time.After(acquireTick):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) tryAcquire() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Handle
	for _, h := range p.handles {
		if h.activeRequests >= perClientConcurrency {
			continue
		}
		if best == nil || p.healthier(h, best) {
			best = h
		}
	}
	if best != nil {
		best.activeRequests++
	}
	return best
}

// healthier orders handles by (recent error flag, consecutive errors,
// active requests), lexicographically.
func (p *Pool) healthier(a, b *Handle) bool {
	ar, br := p.recentError(a), p.recentError(b)
	if ar != br {
		return !ar
	}
	if a.consecutiveErrors != b.consecutiveErrors {
		return a.consecutiveErrors < b.consecutiveErrors
	}
	return a.activeRequests < b.activeRequests
}

func (p *Pool) recentError(h *Handle) bool {
	return !h.lastErrorTime.IsZero() && p.now().Sub(h.lastErrorTime) < errorCooldown
}

// Release returns the handle to the pool.
func (p *Pool) Release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.activeRequests > 0 {
		h.activeRequests--
	}
}

// MarkSuccess clears the handle's error streak.
func (p *Pool) MarkSuccess(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h.consecutiveErrors = 0
}

// MarkError records a failed request against the handle.
func (p *Pool) MarkError(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h.consecutiveErrors++
	h.lastErrorTime = p.now()
	log.Printf("[AnalyzerPool] Client %s error streak now %d", h.Key, h.consecutiveErrors)
}
