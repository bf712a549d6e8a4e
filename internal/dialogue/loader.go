package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

// ErrInvalidGraph is returned when a graph file fails validation.
var ErrInvalidGraph = errors.New("dialogue: invalid graph")

// graphFile is the on-disk layout shared by the JSON and YAML formats.
type graphFile struct {
	Version int        `json:"version" yaml:"version"`
	ID      string     `json:"id" yaml:"id"`
	Start   string     `json:"start" yaml:"start"`
	Nodes   []nodeFile `json:"nodes" yaml:"nodes"`
}

type nodeFile struct {
	ID   string `json:"id" yaml:"id"`
	Kind string `json:"kind" yaml:"kind"`

	Speaker         string         `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Text            string         `json:"text,omitempty" yaml:"text,omitempty"`
	Audio           *audioFile     `json:"audio,omitempty" yaml:"audio,omitempty"`
	Moods           []string       `json:"moods,omitempty" yaml:"moods,omitempty"`
	MinDuration     fileDuration   `json:"min_duration,omitempty" yaml:"min_duration,omitempty"`
	Padding         *fileDuration  `json:"padding,omitempty" yaml:"padding,omitempty"`
	Interruptible   *bool          `json:"interruptible,omitempty" yaml:"interruptible,omitempty"`
	RequiresAdvance bool           `json:"requires_advance,omitempty" yaml:"requires_advance,omitempty"`
	Slot            string         `json:"slot,omitempty" yaml:"slot,omitempty"`
	Next            string         `json:"next,omitempty" yaml:"next,omitempty"`
	Mode            string         `json:"mode,omitempty" yaml:"mode,omitempty"`
	Edges           []edgeFile     `json:"edges,omitempty" yaml:"edges,omitempty"`
	Fallback        string         `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Signal          string         `json:"signal,omitempty" yaml:"signal,omitempty"`
	When            *conditionFile `json:"when,omitempty" yaml:"when,omitempty"`
	Limit           int            `json:"limit,omitempty" yaml:"limit,omitempty"`
}

type audioFile struct {
	ID     string       `json:"id" yaml:"id"`
	Length fileDuration `json:"length" yaml:"length"`
}

type edgeFile struct {
	To       string         `json:"to" yaml:"to"`
	Priority int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Weight   *float64       `json:"weight,omitempty" yaml:"weight,omitempty"`
	When     *conditionFile `json:"when,omitempty" yaml:"when,omitempty"`
	Text     string         `json:"text,omitempty" yaml:"text,omitempty"`
	Limit    int            `json:"limit,omitempty" yaml:"limit,omitempty"`
}

type conditionFile struct {
	Kind       string           `json:"kind" yaml:"kind"`
	Name       string           `json:"name,omitempty" yaml:"name,omitempty"`
	Op         string           `json:"op,omitempty" yaml:"op,omitempty"`
	Value      float64          `json:"value,omitempty" yaml:"value,omitempty"`
	Tag        string           `json:"tag,omitempty" yaml:"tag,omitempty"`
	Conditions []*conditionFile `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// fileDuration accepts "1.5s" style strings or plain numbers of seconds.
type fileDuration time.Duration

func parseFileDuration(s string) (fileDuration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return fileDuration(time.Duration(secs * float64(time.Second))), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return fileDuration(d), nil
}

func (d *fileDuration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = fileDuration(time.Duration(v * float64(time.Second)))
		return nil
	case string:
		parsed, err := parseFileDuration(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case nil:
		*d = 0
		return nil
	}
	return fmt.Errorf("invalid duration %s", string(b))
}

func (d *fileDuration) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := parseFileDuration(n.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LoadGraph loads a dialogue graph from a .json, .yaml or .yml file.
func LoadGraph(path string, taxonomy tags.Taxonomy) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	g, err := ParseGraph(data, filepath.Ext(path), taxonomy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return g, nil
}

// LoadDir loads every graph file in dir, in file name order.
// Graph ids must be unique across the directory.
func LoadDir(dir string, taxonomy tags.Taxonomy) ([]*Graph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string)
	graphs := make([]*Graph, 0, len(names))
	for _, name := range names {
		g, err := LoadGraph(filepath.Join(dir, name), taxonomy)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[g.ID]; dup {
			return nil, fmt.Errorf("%w: graph id %q defined in both %s and %s", ErrInvalidGraph, g.ID, other, name)
		}
		seen[g.ID] = name
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// ParseGraph decodes and validates a graph. ext selects the format
// (".json" or ".yaml"/".yml"). A nil taxonomy skips tag resolution.
func ParseGraph(data []byte, ext string, taxonomy tags.Taxonomy) (*Graph, error) {
	var gf graphFile
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &gf); err != nil {
			return nil, fmt.Errorf("failed to parse graph JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &gf); err != nil {
			return nil, fmt.Errorf("failed to parse graph YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported graph format: %q", ext)
	}

	if gf.Version != 1 {
		return nil, fmt.Errorf("unsupported graph version: %d", gf.Version)
	}

	g, err := gf.build()
	if err != nil {
		return nil, err
	}
	if err := Validate(g, taxonomy); err != nil {
		return nil, err
	}
	return g, nil
}

func (gf *graphFile) build() (*Graph, error) {
	if gf.ID == "" {
		return nil, fmt.Errorf("%w: missing graph id", ErrInvalidGraph)
	}

	g := &Graph{
		ID:    gf.ID,
		Start: NodeID(gf.Start),
		Nodes: make(map[NodeID]*Node, len(gf.Nodes)),
	}

	for _, nf := range gf.Nodes {
		id := NodeID(nf.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: node without id", ErrInvalidGraph)
		}
		if _, dup := g.Nodes[id]; dup {
			return nil, fmt.Errorf("%w: duplicate node %s", ErrInvalidGraph, id)
		}

		node := &Node{
			ID:       id,
			Kind:     NodeKind(nf.Kind),
			Next:     NodeID(nf.Next),
			Mode:     ForkMode(nf.Mode),
			Fallback: NodeID(nf.Fallback),
			Signal:   nf.Signal,
			When:     nf.When.build(),
			Limit:    nf.Limit,
		}

		if node.Kind == NodeLine {
			interruptible := true
			if nf.Interruptible != nil {
				interruptible = *nf.Interruptible
			}
			line := &LineSpec{
				Speaker:         nf.Speaker,
				Text:            nf.Text,
				Moods:           nf.Moods,
				MinDuration:     time.Duration(nf.MinDuration),
				Interruptible:   interruptible,
				RequiresAdvance: nf.RequiresAdvance,
				Slot:            nf.Slot,
			}
			if nf.Audio != nil {
				line.Audio = &AudioRef{ID: nf.Audio.ID, Length: time.Duration(nf.Audio.Length)}
			}
			if nf.Padding != nil {
				p := time.Duration(*nf.Padding)
				line.Padding = &p
			}
			node.Line = line
		}

		if node.Kind == NodeFork && node.Mode == "" {
			node.Mode = ForkAuto
		}

		for _, ef := range nf.Edges {
			node.Edges = append(node.Edges, Edge{
				To:       NodeID(ef.To),
				Priority: ef.Priority,
				Weight:   ef.Weight,
				When:     ef.When.build(),
				Text:     ef.Text,
				Limit:    ef.Limit,
			})
		}

		g.Nodes[id] = node
		g.Order = append(g.Order, id)
	}

	return g, nil
}

func (cf *conditionFile) build() *Condition {
	if cf == nil {
		return nil
	}
	c := &Condition{
		Kind:  ConditionKind(cf.Kind),
		Name:  cf.Name,
		Op:    CompareOp(cf.Op),
		Value: cf.Value,
		Tag:   tags.Tag(cf.Tag),
	}
	for _, child := range cf.Conditions {
		c.Children = append(c.Children, child.build())
	}
	return c
}

// Validate checks graph references and authored values. When taxonomy is
// non-nil, speaker, mood and condition tags are resolved to their canonical
// form and unknown tags are reported.
func Validate(g *Graph, taxonomy tags.Taxonomy) error {
	if !g.HasNode(g.Start) {
		return fmt.Errorf("%w: start node %q not found", ErrInvalidGraph, g.Start)
	}

	ref := func(from NodeID, to NodeID, what string) error {
		if to == "" {
			return nil
		}
		if !g.HasNode(to) {
			return fmt.Errorf("%w: node %s %s references missing node %s", ErrInvalidGraph, from, what, to)
		}
		return nil
	}

	var problems []string

	for _, id := range g.Order {
		n := g.Nodes[id]
		switch n.Kind {
		case NodeLine:
			if err := ref(id, n.Next, "next"); err != nil {
				return err
			}
			if n.Limit < 0 {
				return fmt.Errorf("%w: node %s has negative limit", ErrInvalidGraph, id)
			}
			if n.Line.MinDuration < 0 {
				return fmt.Errorf("%w: node %s has negative min_duration", ErrInvalidGraph, id)
			}
			if n.Line.Audio != nil && n.Line.Audio.Length < 0 {
				return fmt.Errorf("%w: node %s has negative audio length", ErrInvalidGraph, id)
			}
			if taxonomy != nil {
				if n.Line.Speaker != "" {
					t, ok := taxonomy.Resolve(n.Line.Speaker)
					if !ok {
						problems = append(problems, fmt.Sprintf("node %s: unknown speaker tag %q", id, n.Line.Speaker))
					} else {
						n.Line.Speaker = string(t)
					}
				}
				for i, m := range n.Line.Moods {
					t, ok := taxonomy.Resolve(m)
					if !ok {
						problems = append(problems, fmt.Sprintf("node %s: unknown mood tag %q", id, m))
						continue
					}
					n.Line.Moods[i] = string(t)
				}
			}

		case NodeFork:
			if n.Mode != ForkAuto && n.Mode != ForkPrompt {
				return fmt.Errorf("%w: node %s has unknown fork mode %q", ErrInvalidGraph, id, n.Mode)
			}
			if len(n.Edges) == 0 {
				return fmt.Errorf("%w: fork %s has no edges", ErrInvalidGraph, id)
			}
			for _, e := range n.Edges {
				if e.To == "" {
					return fmt.Errorf("%w: fork %s has an edge without target", ErrInvalidGraph, id)
				}
				if err := ref(id, e.To, "edge"); err != nil {
					return err
				}
				if e.Limit < 0 {
					return fmt.Errorf("%w: fork %s edge to %s has negative limit", ErrInvalidGraph, id, e.To)
				}
				if e.EffectiveWeight() < 0 {
					return fmt.Errorf("%w: fork %s edge to %s has negative weight", ErrInvalidGraph, id, e.To)
				}
				if err := e.When.Validate(); err != nil {
					return fmt.Errorf("%w: fork %s edge to %s: %v", ErrInvalidGraph, id, e.To, err)
				}
				problems = append(problems, resolveConditionTags(id, e.When, taxonomy)...)
			}
			if err := ref(id, n.Fallback, "fallback"); err != nil {
				return err
			}

		case NodeGate:
			if err := ref(id, n.Next, "next"); err != nil {
				return err
			}
			if err := n.When.Validate(); err != nil {
				return fmt.Errorf("%w: gate %s: %v", ErrInvalidGraph, id, err)
			}
			problems = append(problems, resolveConditionTags(id, n.When, taxonomy)...)

		case NodeEnd:

		default:
			return fmt.Errorf("%w: node %s has unknown kind %q", ErrInvalidGraph, id, n.Kind)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidGraph, strings.Join(problems, "; "))
	}
	return nil
}

func resolveConditionTags(id NodeID, c *Condition, taxonomy tags.Taxonomy) []string {
	if taxonomy == nil || c == nil {
		return nil
	}
	var problems []string
	var visit func(*Condition)
	visit = func(c *Condition) {
		if c == nil {
			return
		}
		if c.Kind == CondTag {
			t, ok := taxonomy.Resolve(string(c.Tag))
			if !ok {
				problems = append(problems, fmt.Sprintf("node %s: unknown condition tag %q", id, c.Tag))
			} else {
				c.Tag = t
			}
		}
		for _, child := range c.Children {
			visit(child)
		}
	}
	visit(c)
	return problems
}
