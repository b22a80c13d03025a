package credential

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/relaykit/copilot-relay/internal/domain"
	"github.com/relaykit/copilot-relay/internal/metrics"
)

// Operation performs one upstream call with the supplied credential.
// The coordinator may invoke it a second time after a refresh.
type Operation func(ctx context.Context, cred *Credential) (*http.Response, error)

// Coordinator wraps upstream calls with retry-once-after-refresh
// semantics: an unauthorized result triggers exactly one credential
// refresh, and a successful refresh triggers exactly one re-execution.
// A refresh failure is swallowed and the original unauthorized result
// propagates. Never more than one extra round trip per request.
type Coordinator struct {
	store     *Store
	refresher Refresher

	mu        sync.Mutex // serializes refreshes
	onRefresh func(*Credential)
}

func NewCoordinator(store *Store, refresher Refresher) *Coordinator {
	return &Coordinator{store: store, refresher: refresher}
}

// OnRefresh registers a hook invoked with every successfully acquired
// credential. Used for persisting the token across restarts. Must be set
// before the coordinator is shared across goroutines.
func (c *Coordinator) OnRefresh(fn func(*Credential)) {
	c.onRefresh = fn
}

type coordState int

const (
	stateFirstAttempt coordState = iota
	stateRefreshing
	stateRetry
	stateDone
	stateFailed
)

// Do executes op with the current credential, applying the retry policy.
// The returned response may be the original unauthorized result when the
// refresh did not succeed, or the retried result in every other 401 case.
func (c *Coordinator) Do(ctx context.Context, op Operation) (*http.Response, error) {
	var (
		resp      *http.Response
		stale     *Credential
		retryCred *Credential
	)

	for st := stateFirstAttempt; ; {
		switch st {
		case stateFirstAttempt:
			cred, err := c.store.Get()
			if err != nil {
				return nil, err
			}
			resp, err = op(ctx, cred)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusUnauthorized {
				st = stateDone
				continue
			}
			stale = cred
			st = stateRefreshing

		case stateRefreshing:
			fresh, err := c.refresh(ctx, stale)
			if err != nil {
				slog.Warn("credential refresh failed, returning original unauthorized result", "error", err)
				st = stateFailed
				continue
			}
			retryCred = fresh
			st = stateRetry

		case stateRetry:
			resp.Body.Close()
			metrics.UpstreamRetriesTotal.Inc()
			retried, err := op(ctx, retryCred)
			if err != nil {
				return nil, err
			}
			resp = retried
			st = stateDone

		case stateDone:
			return resp, nil

		case stateFailed:
			return resp, nil
		}
	}
}

// refresh performs at most one token exchange across concurrent callers:
// when another request already replaced the stale credential while we
// waited for the lock, that credential is reused as-is.
func (c *Coordinator) refresh(ctx context.Context, stale *Credential) (*Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, err := c.store.Get(); err == nil && current != stale {
		return current, nil
	}

	fresh, err := c.refresher.Refresh(ctx)
	if err != nil {
		metrics.CredentialRefreshesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}
	metrics.CredentialRefreshesTotal.WithLabelValues("success").Inc()

	c.store.Replace(fresh)
	if c.onRefresh != nil {
		c.onRefresh(fresh)
	}
	return fresh, nil
}

// ForceRefresh unconditionally acquires and installs a new credential.
// Backs the manual token-refresh endpoint.
func (c *Coordinator) ForceRefresh(ctx context.Context) (*Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh, err := c.refresher.Refresh(ctx)
	if err != nil {
		metrics.CredentialRefreshesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}
	metrics.CredentialRefreshesTotal.WithLabelValues("success").Inc()

	c.store.Replace(fresh)
	if c.onRefresh != nil {
		c.onRefresh(fresh)
	}
	return fresh, nil
}
