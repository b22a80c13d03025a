// Package auth guards the administrative endpoints with a bcrypt-hashed key.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrDisabled     = errors.New("admin endpoints disabled")
)

// AdminKey verifies callers of the admin surface against a single bcrypt
// hash. An empty hash disables the admin endpoints entirely.
type AdminKey struct {
	hash string
}

func NewAdminKey(hash string) *AdminKey {
	return &AdminKey{hash: hash}
}

func (a *AdminKey) Enabled() bool {
	return a.hash != ""
}

// Verify checks the request's bearer token against the configured hash.
func (a *AdminKey) Verify(r *http.Request) error {
	if !a.Enabled() {
		return ErrDisabled
	}

	token := ExtractBearerToken(r)
	if token == "" {
		return ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.hash), []byte(token)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
