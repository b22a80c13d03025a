// Package usage records per-request token consumption for reporting.
package usage

import (
	"context"
	"sync"
	"time"
)

// Record captures what a single completed chat request consumed.
type Record struct {
	RequestID        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
	Streamed         bool
	LatencyMs        int64
	CreatedAt        time.Time
}

type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// MemoryRecorder keeps records in memory. Used when no database is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
