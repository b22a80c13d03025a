package secrets

import (
	"context"
	"testing"
)

func TestStaticStore_SetAndGet(t *testing.T) {
	store := NewStaticStore()
	ctx := context.Background()

	store.Set("github-token", "ghu_test123")

	value, err := store.Get(ctx, "github-token")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "ghu_test123" {
		t.Errorf("Get() = %v, want ghu_test123", value)
	}
}

func TestStaticStore_GetNotFound(t *testing.T) {
	store := NewStaticStore()

	_, err := store.Get(context.Background(), "nonexistent")
	if err == nil {
		t.Error("Get() should return error for nonexistent secret")
	}
}

func TestStaticStore_Overwrite(t *testing.T) {
	store := NewStaticStore()

	store.Set("key", "value1")
	store.Set("key", "value2")

	value, _ := store.Get(context.Background(), "key")
	if value != "value2" {
		t.Errorf("Get() = %v, want value2", value)
	}
}

func TestGitHubToken(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		want    string
		wantErr bool
	}{
		{"bare token", "ghu_abc", "ghu_abc", false},
		{"json payload", `{"github_token": "ghu_json"}`, "ghu_json", false},
		{"json without field falls back to raw", `{"other": "x"}`, `{"other": "x"}`, false},
		{"empty secret", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStaticStore()
			store.Set("gh", tt.secret)

			got, err := GitHubToken(context.Background(), store, "gh")
			if (err != nil) != tt.wantErr {
				t.Fatalf("GitHubToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GitHubToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGitHubToken_MissingSecret(t *testing.T) {
	store := NewStaticStore()

	_, err := GitHubToken(context.Background(), store, "nonexistent")
	if err == nil {
		t.Error("GitHubToken() should return error when the secret is missing")
	}
}
