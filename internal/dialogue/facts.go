package dialogue

import (
	"sync"

	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

// Facts is an in-memory Predicates implementation. Collaborators write to it
// from their own goroutines; the engine only reads.
type Facts struct {
	mu     sync.RWMutex
	bools  map[string]bool
	values map[string]float64
	tags   tags.Set
}

// NewFacts creates an empty fact store.
func NewFacts() *Facts {
	return &Facts{
		bools:  make(map[string]bool),
		values: make(map[string]float64),
	}
}

// SetFact records a boolean fact.
func (f *Facts) SetFact(name string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bools[name] = v
}

// SetValue records a numeric value.
func (f *Facts) SetValue(name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = v
}

// AddTag adds a context tag.
func (f *Facts) AddTag(t tags.Tag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = f.tags.Add(t)
}

// RemoveTag removes a context tag.
func (f *Facts) RemoveTag(t tags.Tag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.tags[:0]
	for _, x := range f.tags {
		if x != t {
			out = append(out, x)
		}
	}
	f.tags = out
}

// Clear forgets a fact and value of the given name.
func (f *Facts) Clear(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bools, name)
	delete(f.values, name)
}

// Fact implements Predicates.
func (f *Facts) Fact(name string) (bool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.bools[name]
	return v, ok
}

// Value implements Predicates.
func (f *Facts) Value(name string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[name]
	return v, ok
}

// HasTag implements Predicates using hierarchical matching.
func (f *Facts) HasTag(t tags.Tag) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tags.HasMatch(t)
}
