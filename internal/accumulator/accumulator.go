// Package accumulator folds an incremental chat-completion event
// sequence into the single response a non-streaming upstream call would
// have produced. The fold is a pure function of the input sequence.
package accumulator

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/copilot-relay/internal/domain"
	"github.com/relaykit/copilot-relay/internal/metrics"
)

// Accumulator collects state from one event sequence. One instance per
// request, owned by the request's goroutine; not safe for concurrent use.
type Accumulator struct {
	id          string
	model       string
	created     int64
	fingerprint string

	finishReason string
	usage        *domain.Usage
	content      strings.Builder
	toolCalls    map[int]*toolCallState
	done         bool
}

type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

func New() *Accumulator {
	return &Accumulator{
		toolCalls: make(map[int]*toolCallState),
	}
}

// Add folds one raw SSE payload into the accumulator. Returns false once
// the end-of-stream sentinel was consumed; later payloads are ignored.
// A payload that fails to parse is skipped, never aborting the response:
// losing one malformed chunk beats losing the whole completion.
func (a *Accumulator) Add(payload []byte) bool {
	if a.done {
		return false
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return true
	}
	if string(trimmed) == domain.SSEDone {
		a.done = true
		return false
	}

	var chunk domain.StreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		metrics.MalformedChunksTotal.Inc()
		slog.Warn("skipping malformed stream chunk", "error", err)
		return true
	}

	// First non-empty sighting wins and is never overwritten.
	if a.id == "" {
		a.id = chunk.ID
	}
	if a.model == "" {
		a.model = chunk.Model
	}
	if a.created == 0 {
		a.created = chunk.Created
	}
	if a.fingerprint == "" {
		a.fingerprint = chunk.SystemFingerprint
	}

	// Usage is cumulative upstream, expected only on the final event.
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return true
	}
	choice := chunk.Choices[0]

	if choice.FinishReason != "" {
		a.finishReason = choice.FinishReason
	}
	if choice.Delta == nil {
		return true
	}

	a.content.WriteString(choice.Delta.Content)
	for _, frag := range choice.Delta.ToolCalls {
		a.mergeToolCall(frag)
	}
	return true
}

func (a *Accumulator) mergeToolCall(frag domain.ToolCall) {
	tc, ok := a.toolCalls[frag.Index]
	if !ok {
		tc = &toolCallState{}
		a.toolCalls[frag.Index] = tc
	}
	if tc.id == "" {
		tc.id = frag.ID
	}
	if tc.name == "" {
		tc.name = frag.Function.Name
	}
	tc.args.WriteString(frag.Function.Arguments)
}

// Response emits the folded result. fallbackModel fills the model field
// when no event named one, preserving the client-requested identifier.
func (a *Accumulator) Response(fallbackModel string) *domain.ChatResponse {
	id := a.id
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	model := a.model
	if model == "" {
		model = fallbackModel
	}
	created := a.created
	if created == 0 {
		created = time.Now().Unix()
	}
	finish := a.finishReason
	if finish == "" {
		finish = domain.FinishReasonStop
	}

	msg := &domain.ChoiceMessage{Role: domain.RoleAssistant}
	if a.content.Len() > 0 {
		text := a.content.String()
		msg.Content = &text
	}
	if len(a.toolCalls) > 0 {
		msg.ToolCalls = a.mergedToolCalls()
	}

	return &domain.ChatResponse{
		ID:                id,
		Object:            domain.ObjectChatCompletion,
		Created:           created,
		Model:             model,
		SystemFingerprint: a.fingerprint,
		Usage:             a.usage,
		Choices: []domain.Choice{
			{Index: 0, Message: msg, FinishReason: finish},
		},
	}
}

func (a *Accumulator) mergedToolCalls() []domain.ToolCall {
	indexes := make([]int, 0, len(a.toolCalls))
	for i := range a.toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]domain.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		tc := a.toolCalls[i]
		out = append(out, domain.ToolCall{
			Index: i,
			ID:    tc.id,
			Type:  "function",
			Function: domain.FunctionCall{
				Name:      tc.name,
				Arguments: tc.args.String(),
			},
		})
	}
	return out
}
