// Package tags implements the hierarchical tag taxonomy used to identify
// speakers, moods and condition facts.
//
// Tags are dotted paths ("Mood.Angry.Furious"). A tag matches any of its
// ancestors, so a branch guarded on "Mood.Angry" accepts "Mood.Angry.Furious".
package tags

import (
	"strings"
)

// Tag is a dotted hierarchical identifier. The zero value is the empty tag.
type Tag string

// IsEmpty returns true for the zero tag.
func (t Tag) IsEmpty() bool {
	return t == ""
}

// String returns the tag text.
func (t Tag) String() string {
	return string(t)
}

// Matches returns true if t equals parent or is a descendant of it.
// The empty parent matches nothing.
func (t Tag) Matches(parent Tag) bool {
	if parent == "" || t == "" {
		return false
	}
	if t == parent {
		return true
	}
	return strings.HasPrefix(string(t), string(parent)+".")
}

// Parent returns the direct parent tag, or the empty tag for a root.
func (t Tag) Parent() Tag {
	idx := strings.LastIndex(string(t), ".")
	if idx < 0 {
		return ""
	}
	return t[:idx]
}

// Ancestors returns all parents of t, nearest first.
func (t Tag) Ancestors() []Tag {
	var out []Tag
	for p := t.Parent(); p != ""; p = p.Parent() {
		out = append(out, p)
	}
	return out
}

// Set is an ordered collection of distinct tags.
type Set []Tag

// NewSet builds a set, dropping empty and duplicate tags.
func NewSet(tt ...Tag) Set {
	var s Set
	for _, t := range tt {
		s = s.Add(t)
	}
	return s
}

// Add returns the set with t appended if not already present.
func (s Set) Add(t Tag) Set {
	if t == "" || s.Has(t) {
		return s
	}
	return append(s, t)
}

// Has returns true if the exact tag is in the set.
func (s Set) Has(t Tag) bool {
	for _, x := range s {
		if x == t {
			return true
		}
	}
	return false
}

// HasMatch returns true if any tag in the set matches parent.
func (s Set) HasMatch(parent Tag) bool {
	for _, x := range s {
		if x.Matches(parent) {
			return true
		}
	}
	return false
}

// Strings returns the tags as plain strings.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = string(t)
	}
	return out
}
