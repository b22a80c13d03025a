// Package relay issues chat-completion calls to the upstream provider.
// Calls are always made in streaming mode, whatever the client asked for:
// long-held non-streaming upstream connections are prone to being dropped
// mid-flight by intermediaries. Buffering back into a single response is
// the accumulator's job, one layer up.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relaykit/copilot-relay/internal/alias"
	"github.com/relaykit/copilot-relay/internal/credential"
	"github.com/relaykit/copilot-relay/internal/domain"
)

const maxLineSize = 1024 * 1024

type Relay struct {
	registry *alias.Registry
	coord    *credential.Coordinator
	client   *http.Client
}

func New(registry *alias.Registry, coord *credential.Coordinator, client *http.Client) *Relay {
	return &Relay{
		registry: registry,
		coord:    coord,
		client:   client,
	}
}

// Stream forwards req upstream and returns the raw SSE data payloads,
// including the terminal [DONE] sentinel. Dispatch failures are returned
// synchronously; mid-stream read failures arrive on the error channel.
func (r *Relay) Stream(ctx context.Context, req domain.ChatRequest) (<-chan []byte, <-chan error, error) {
	resp, err := r.dispatch(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			select {
			case events <- []byte(payload):
			case <-ctx.Done():
				return
			}

			if payload == domain.SSEDone {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read upstream stream: %w", err)
		}
	}()

	return events, errs, nil
}

// dispatch normalizes the model, shapes the upstream headers from the
// message list, and performs the call through the refresh coordinator
// with streaming forced on.
func (r *Relay) dispatch(ctx context.Context, req domain.ChatRequest) (*http.Response, error) {
	req.Model = r.registry.Normalize(req.Model)
	req.Stream = true

	vision := hasImageContent(req.Messages)
	initiator := "user"
	if hasAgentTurn(req.Messages) {
		initiator = "agent"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := r.coord.Do(ctx, func(ctx context.Context, cred *credential.Credential) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.Endpoint+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
		httpReq.Header.Set("Editor-Version", credential.EditorVersion)
		httpReq.Header.Set("Copilot-Integration-Id", credential.IntegrationID)
		httpReq.Header.Set("User-Agent", credential.UserAgent)
		httpReq.Header.Set("X-Initiator", initiator)
		if vision {
			httpReq.Header.Set("Copilot-Vision-Request", "true")
		}

		return r.client.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.UpstreamError{StatusCode: resp.StatusCode, Body: bodyBytes}
	}

	return resp, nil
}

func hasImageContent(messages []domain.Message) bool {
	for _, m := range messages {
		if m.Content.HasImage() {
			return true
		}
	}
	return false
}

// hasAgentTurn reports whether the conversation already contains
// assistant or tool turns, marking the call as agent-initiated.
func hasAgentTurn(messages []domain.Message) bool {
	for _, m := range messages {
		if m.Role == domain.RoleAssistant || m.Role == domain.RoleTool {
			return true
		}
	}
	return false
}
