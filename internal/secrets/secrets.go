// Package secrets sources the long-lived GitHub token from AWS Secrets
// Manager so it never has to live in the process environment.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// AWSStore reads secrets from AWS Secrets Manager with a short-lived
// in-process cache, so restart-time lookups do not hammer the API.
type AWSStore struct {
	client *secretsmanager.Client
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSStoreWithConfig(cfg), nil
}

func NewAWSStoreWithConfig(cfg aws.Config) *AWSStore {
	return &AWSStore{
		client: secretsmanager.NewFromConfig(cfg),
		ttl:    5 * time.Minute,
		cache:  make(map[string]cachedSecret),
	}
}

func (s *AWSStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if c, ok := s.cache[name]; ok && time.Now().Before(c.expiresAt) {
		s.mu.RUnlock()
		return c.value, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := ""
	if out.SecretString != nil {
		value = *out.SecretString
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}

// GitHubToken resolves the named secret to a GitHub token. The secret may
// be the bare token string or a JSON object with a "github_token" field.
func GitHubToken(ctx context.Context, store Store, name string) (string, error) {
	raw, err := store.Get(ctx, name)
	if err != nil {
		return "", err
	}

	var payload struct {
		GitHubToken string `json:"github_token"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.GitHubToken != "" {
		return payload.GitHubToken, nil
	}

	if raw == "" {
		return "", fmt.Errorf("secret %s is empty", name)
	}
	return raw, nil
}

// StaticStore serves fixed values, for local development and tests.
type StaticStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewStaticStore() *StaticStore {
	return &StaticStore{secrets: make(map[string]string)}
}

func (s *StaticStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *StaticStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}
