package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTokenURL = "https://api.github.com/copilot_internal/v2/token"
	defaultEndpoint = "https://api.individual.githubcopilot.com"
)

// Refresher supplies a fresh upstream credential on demand.
type Refresher interface {
	Refresh(ctx context.Context) (*Credential, error)
}

// GitHubRefresher exchanges a long-lived GitHub OAuth token for a
// short-lived upstream bearer token.
type GitHubRefresher struct {
	githubToken string
	tokenURL    string
	client      *http.Client
}

func NewGitHubRefresher(githubToken, tokenURL string) *GitHubRefresher {
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &GitHubRefresher{
		githubToken: githubToken,
		tokenURL:    tokenURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Endpoints struct {
		API string `json:"api"`
	} `json:"endpoints"`
}

func (r *GitHubRefresher) Refresh(ctx context.Context) (*Credential, error) {
	if r.githubToken == "" {
		return nil, fmt.Errorf("no github token configured")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.tokenURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "token "+r.githubToken)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Editor-Version", EditorVersion)
	httpReq.Header.Set("User-Agent", UserAgent)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token exchange: status=%d body=%s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.Token == "" {
		return nil, fmt.Errorf("token exchange returned an empty token")
	}

	endpoint := tok.Endpoints.API
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	return &Credential{Token: tok.Token, Endpoint: endpoint}, nil
}

// Editor identification the upstream expects on token exchange and on
// relayed calls.
const (
	EditorVersion = "vscode/1.99.2"
	IntegrationID = "vscode-chat"
	UserAgent     = "copilot-relay/0.1.0"
)
