// Package credential holds the process-wide upstream credential and
// implements the refresh-once retry policy around upstream calls.
package credential

import (
	"sync/atomic"

	"github.com/relaykit/copilot-relay/internal/domain"
)

// Credential is an opaque upstream bearer token plus its endpoint
// metadata. The core tracks no expiry; expiry is inferred from upstream
// rejection.
type Credential struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}

// Store is an atomically swappable credential cell shared by all
// in-flight requests. Credentials are replaced wholesale, never mutated.
type Store struct {
	current atomic.Pointer[Credential]
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get() (*Credential, error) {
	cred := s.current.Load()
	if cred == nil {
		return nil, domain.ErrCredentialMissing
	}
	return cred, nil
}

func (s *Store) Replace(cred *Credential) {
	s.current.Store(cred)
}
