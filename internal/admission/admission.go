// Package admission gates requests before they reach the relay. A gate
// may reject outright (rate limit) or hold the request until an operator
// approves it.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/relaykit/copilot-relay/internal/domain"
)

// Gate admits or rejects one request identified by key.
type Gate interface {
	Admit(ctx context.Context, key string) error
}

// Chain runs gates in order; the first rejection wins.
type Chain []Gate

func (c Chain) Admit(ctx context.Context, key string) error {
	for _, g := range c {
		if err := g.Admit(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// InMemoryLimiter enforces a requests-per-minute limit with per-key
// fixed windows. Suitable for single-instance deployments.
type InMemoryLimiter struct {
	limit   int
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryLimiter(limit int) *InMemoryLimiter {
	return &InMemoryLimiter{
		limit:   limit,
		windows: make(map[string]*window),
	}
}

func (l *InMemoryLimiter) Admit(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[key] = w
	}

	if w.count >= l.limit {
		return domain.ErrRateLimitExceeded
	}
	w.count++
	return nil
}
