// Package catalog holds a process-wide snapshot of the upstream model
// catalog. The snapshot is replaced wholesale; readers always observe a
// complete value.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaykit/copilot-relay/internal/credential"
	"github.com/relaykit/copilot-relay/internal/domain"
)

// Model is one catalog entry as the upstream reports it.
type Model struct {
	ID     string `json:"id"`
	Vendor string `json:"vendor"`
	Name   string `json:"name"`
}

type listResponse struct {
	Data []Model `json:"data"`
}

type snapshot struct {
	models    []Model
	fetchedAt time.Time
}

type Cache struct {
	coord  *credential.Coordinator
	client *http.Client
	ttl    time.Duration

	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes fetches
}

func New(coord *credential.Coordinator, client *http.Client, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{coord: coord, client: client, ttl: ttl}
}

// Models returns the cached catalog, fetching when stale. When a fetch
// fails and an older snapshot exists, the stale snapshot is served
// instead of the error.
func (c *Cache) Models(ctx context.Context) ([]Model, error) {
	if snap := c.current.Load(); snap != nil && time.Since(snap.fetchedAt) < c.ttl {
		return snap.models, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another request may have refreshed while we waited.
	if snap := c.current.Load(); snap != nil && time.Since(snap.fetchedAt) < c.ttl {
		return snap.models, nil
	}

	models, err := c.fetch(ctx)
	if err != nil {
		if snap := c.current.Load(); snap != nil {
			slog.Warn("catalog fetch failed, serving stale snapshot", "error", err)
			return snap.models, nil
		}
		return nil, err
	}

	c.current.Store(&snapshot{models: models, fetchedAt: time.Now()})
	return models, nil
}

func (c *Cache) fetch(ctx context.Context) ([]Model, error) {
	resp, err := c.coord.Do(ctx, func(ctx context.Context, cred *credential.Credential) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, cred.Endpoint+"/models", http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
		httpReq.Header.Set("Editor-Version", credential.EditorVersion)
		httpReq.Header.Set("Copilot-Integration-Id", credential.IntegrationID)
		httpReq.Header.Set("User-Agent", credential.UserAgent)
		return c.client.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &domain.UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return list.Data, nil
}
