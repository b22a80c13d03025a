package admission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/relaykit/copilot-relay/internal/domain"
)

// ManualApproval holds each request until an operator answers a prompt.
// Prompts are serialized; the answer is read line-by-line, so the gate is
// only meant for interactive single-operator use.
type ManualApproval struct {
	mu  sync.Mutex
	in  *bufio.Scanner
	out io.Writer
}

func NewManualApproval(in io.Reader, out io.Writer) *ManualApproval {
	return &ManualApproval{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

func (m *ManualApproval) Admit(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintf(m.out, "approve chat completion request from %s? [y/N] ", key)
	if !m.in.Scan() {
		return domain.ErrNotApproved
	}

	answer := strings.ToLower(strings.TrimSpace(m.in.Text()))
	if answer == "y" || answer == "yes" {
		return nil
	}
	return domain.ErrNotApproved
}
