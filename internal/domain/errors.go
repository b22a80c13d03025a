package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCredentialMissing = errors.New("no upstream credential available")
	ErrRefreshFailed     = errors.New("credential refresh failed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNotApproved       = errors.New("request rejected by operator")
)

// UpstreamError carries a non-2xx upstream status and body, uninterpreted,
// so the client can apply its own retry policy.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status=%d body=%s", e.StatusCode, e.Body)
}

// Unauthorized reports whether the upstream rejected the call for
// authentication reasons.
func (e *UpstreamError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
