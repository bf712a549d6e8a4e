package tags

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTag is returned when a taxonomy does not know a tag.
var ErrUnknownTag = errors.New("unknown tag")

// Taxonomy resolves raw tag text into canonical, comparable tags.
type Taxonomy interface {
	Resolve(raw string) (Tag, bool)
}

// Open is a Taxonomy that accepts every non-empty tag verbatim.
type Open struct{}

// Resolve trims raw and accepts it unless empty.
func (Open) Resolve(raw string) (Tag, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return Tag(raw), true
}

// Registry is a closed taxonomy loaded from configuration.
// Lookups are case-insensitive; the registered spelling is canonical.
type Registry struct {
	byKey map[string]Tag
}

// registryFile is the on-disk layout of a tag registry.
type registryFile struct {
	Version int      `yaml:"version"`
	Tags    []string `yaml:"tags"`
}

// NewRegistry builds a registry from tag names. Parents of every tag are
// registered implicitly.
func NewRegistry(names ...string) *Registry {
	r := &Registry{byKey: make(map[string]Tag)}
	for _, n := range names {
		r.add(Tag(strings.TrimSpace(n)))
	}
	return r
}

func (r *Registry) add(t Tag) {
	if t == "" {
		return
	}
	if _, ok := r.byKey[strings.ToLower(string(t))]; !ok {
		r.byKey[strings.ToLower(string(t))] = t
	}
	for _, p := range t.Ancestors() {
		if _, ok := r.byKey[strings.ToLower(string(p))]; !ok {
			r.byKey[strings.ToLower(string(p))] = p
		}
	}
}

// LoadRegistry reads a yaml tag registry.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag registry: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tag registry: %w", err)
	}

	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported tag registry version: %d", f.Version)
	}

	return NewRegistry(f.Tags...), nil
}

// Resolve returns the canonical tag for raw, if registered.
func (r *Registry) Resolve(raw string) (Tag, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	t, ok := r.byKey[strings.ToLower(raw)]
	return t, ok
}

// Len returns the number of registered tags, implicit parents included.
func (r *Registry) Len() int {
	return len(r.byKey)
}

// All returns every registered tag sorted alphabetically.
func (r *Registry) All() []Tag {
	out := make([]Tag, 0, len(r.byKey))
	for _, t := range r.byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
