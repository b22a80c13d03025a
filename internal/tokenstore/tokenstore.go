// Package tokenstore persists the current upstream credential to disk,
// encrypted, so a restart can keep using a still-valid token instead of
// forcing an exchange.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relaykit/copilot-relay/internal/credential"
	"github.com/relaykit/copilot-relay/internal/crypto"
)

type FileStore struct {
	path      string
	encryptor *crypto.Encryptor
}

func NewFileStore(path, encryptionKey string) (*FileStore, error) {
	enc, err := crypto.NewEncryptor(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, encryptor: enc}, nil
}

// Save writes the credential snapshot, replacing any previous one.
func (s *FileStore) Save(cred *credential.Credential) error {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	ciphertext, err := s.encryptor.Encrypt(string(plaintext))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(ciphertext), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Load reads the persisted credential. Returns os.ErrNotExist when no
// snapshot has been saved yet.
func (s *FileStore) Load() (*credential.Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.encryptor.Decrypt(string(data))
	if err != nil {
		return nil, fmt.Errorf("decrypt token file: %w", err)
	}

	var cred credential.Credential
	if err := json.Unmarshal([]byte(plaintext), &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return &cred, nil
}
