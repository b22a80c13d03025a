// Package alias maps client-facing model identifiers to the canonical
// names the upstream understands. The table is fixed at process start
// and never mutated afterward.
package alias

// Entry registers the aliases published for one canonical model id.
// Alias order is preserved in listing output.
type Entry struct {
	Canonical string
	Aliases   []string
}

// defaultTable covers the long-context model variants, published both
// under the bracketed context-window suffix and the plain id.
var defaultTable = []Entry{
	{Canonical: "claude-opus-4.6-1m", Aliases: []string{"claude-opus-4-6[1M]", "claude-opus-4-6"}},
	{Canonical: "claude-sonnet-4.5-1m", Aliases: []string{"claude-sonnet-4-5[1M]", "claude-sonnet-4-5"}},
	{Canonical: "claude-haiku-4.5-1m", Aliases: []string{"claude-haiku-4-5[1M]", "claude-haiku-4-5"}},
}

type Registry struct {
	toCanonical map[string]string
	byCanonical map[string][]string
}

func NewRegistry(entries []Entry) *Registry {
	r := &Registry{
		toCanonical: make(map[string]string),
		byCanonical: make(map[string][]string),
	}
	for _, e := range entries {
		for _, a := range e.Aliases {
			r.toCanonical[a] = e.Canonical
			r.byCanonical[e.Canonical] = append(r.byCanonical[e.Canonical], a)
		}
	}
	return r
}

// Default returns a registry built from the built-in alias table.
func Default() *Registry {
	return NewRegistry(defaultTable)
}

// Normalize returns the canonical name for a known alias, or id unchanged
// otherwise. Normalizing an already-canonical name is the identity.
func (r *Registry) Normalize(id string) string {
	if canonical, ok := r.toCanonical[id]; ok {
		return canonical
	}
	return id
}

// AliasesOf returns the aliases registered for a canonical id in table
// order, nil if there are none.
func (r *Registry) AliasesOf(canonical string) []string {
	aliases := r.byCanonical[canonical]
	if len(aliases) == 0 {
		return nil
	}
	out := make([]string, len(aliases))
	copy(out, aliases)
	return out
}

// ExpandWithAliases turns a catalog of canonical ids into a de-duplicated
// list where each id is immediately followed by its aliases, preserving
// first-seen order across the whole input.
func (r *Registry) ExpandWithAliases(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		add(id)
		for _, a := range r.byCanonical[id] {
			add(a)
		}
	}
	return out
}
