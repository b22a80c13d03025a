package alias

import (
	"reflect"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry([]Entry{
		{Canonical: "claude-opus-4.6-1m", Aliases: []string{"claude-opus-4-6[1M]", "claude-opus-4-6"}},
		{Canonical: "gpt-5", Aliases: []string{"gpt-5-latest"}},
	})
}

func TestNormalize(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"alias", "claude-opus-4-6", "claude-opus-4.6-1m"},
		{"bracketed alias", "claude-opus-4-6[1M]", "claude-opus-4.6-1m"},
		{"already canonical", "claude-opus-4.6-1m", "claude-opus-4.6-1m"},
		{"unknown id passes through", "mistral-large", "mistral-large"},
		{"empty id", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Normalize(tt.id); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	r := testRegistry()

	ids := []string{"claude-opus-4-6", "claude-opus-4.6-1m", "gpt-5-latest", "unknown", ""}
	for _, id := range ids {
		once := r.Normalize(id)
		twice := r.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", id, once, twice)
		}
	}
}

func TestAliasesOf(t *testing.T) {
	r := testRegistry()

	got := r.AliasesOf("claude-opus-4.6-1m")
	want := []string{"claude-opus-4-6[1M]", "claude-opus-4-6"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AliasesOf() = %v, want %v", got, want)
	}

	if got := r.AliasesOf("mistral-large"); got != nil {
		t.Errorf("AliasesOf(unknown) = %v, want nil", got)
	}
}

func TestExpandWithAliases(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "aliases follow their canonical id",
			in:   []string{"claude-opus-4.6-1m", "gpt-5"},
			want: []string{"claude-opus-4.6-1m", "claude-opus-4-6[1M]", "claude-opus-4-6", "gpt-5", "gpt-5-latest"},
		},
		{
			name: "id without aliases passes through",
			in:   []string{"mistral-large"},
			want: []string{"mistral-large"},
		},
		{
			name: "repeated input de-duplicated",
			in:   []string{"gpt-5", "gpt-5", "claude-opus-4.6-1m", "gpt-5"},
			want: []string{"gpt-5", "gpt-5-latest", "claude-opus-4.6-1m", "claude-opus-4-6[1M]", "claude-opus-4-6"},
		},
		{
			name: "empty input",
			in:   nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ExpandWithAliases(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandWithAliases(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandWithAliases_NoDuplicates(t *testing.T) {
	r := testRegistry()

	// An alias already present as an input id must not reappear.
	got := r.ExpandWithAliases([]string{"claude-opus-4-6", "claude-opus-4.6-1m"})
	seen := make(map[string]int)
	for _, id := range got {
		seen[id]++
		if seen[id] > 1 {
			t.Errorf("id %q appears more than once in %v", id, got)
		}
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	if got := r.Normalize("claude-opus-4-6"); got != "claude-opus-4.6-1m" {
		t.Errorf("Normalize(claude-opus-4-6) = %q, want claude-opus-4.6-1m", got)
	}

	got := r.ExpandWithAliases([]string{"claude-opus-4.6-1m"})
	want := []string{"claude-opus-4.6-1m", "claude-opus-4-6[1M]", "claude-opus-4-6"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandWithAliases = %v, want %v", got, want)
	}
}
