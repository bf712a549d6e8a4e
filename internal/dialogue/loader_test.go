package dialogue

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

const jsonGraph = `{
  "version": 1,
  "id": "gatehouse",
  "start": "greet",
  "nodes": [
    {"id": "greet", "kind": "line", "speaker": "speaker.guard", "text": "Halt!",
     "moods": ["mood.angry"], "min_duration": 1.5, "padding": "250ms",
     "audio": {"id": "vo_halt", "length": "2s"}, "next": "ask"},
    {"id": "ask", "kind": "fork", "mode": "prompt", "edges": [
      {"to": "bye", "text": "Leave", "weight": 2},
      {"to": "bye", "text": "Insult", "when": {"kind": "tag", "tag": "mood.angry"}}
    ]},
    {"id": "bye", "kind": "line", "text": "Go.", "interruptible": false, "requires_advance": true}
  ]
}`

func TestParseGraphJSON(t *testing.T) {
	reg := tags.NewRegistry("Speaker.Guard", "Mood.Angry")
	g, err := ParseGraph([]byte(jsonGraph), ".json", reg)
	require.NoError(t, err)

	assert.Equal(t, "gatehouse", g.ID)
	assert.Equal(t, NodeID("greet"), g.Start)
	assert.Equal(t, []NodeID{"greet", "ask", "bye"}, g.Order)

	greet := g.Node("greet")
	require.NotNil(t, greet.Line)
	assert.Equal(t, "Speaker.Guard", greet.Line.Speaker)
	assert.Equal(t, []string{"Mood.Angry"}, greet.Line.Moods)
	assert.Equal(t, 1500*time.Millisecond, greet.Line.MinDuration)
	require.NotNil(t, greet.Line.Padding)
	assert.Equal(t, 250*time.Millisecond, *greet.Line.Padding)
	require.NotNil(t, greet.Line.Audio)
	assert.Equal(t, 2*time.Second, greet.Line.Audio.Length)
	assert.True(t, greet.Line.Interruptible)

	ask := g.Node("ask")
	assert.Equal(t, ForkPrompt, ask.Mode)
	require.Len(t, ask.Edges, 2)
	assert.Equal(t, 2.0, ask.Edges[0].EffectiveWeight())
	assert.Equal(t, tags.Tag("Mood.Angry"), ask.Edges[1].When.Tag)

	bye := g.Node("bye")
	assert.False(t, bye.Line.Interruptible)
	assert.True(t, bye.Line.RequiresAdvance)
}

func TestParseGraphYAMLDefaults(t *testing.T) {
	g := mustParse(t, `
version: 1
id: y
start: F
nodes:
  - id: F
    kind: fork
    edges:
      - to: L
  - id: L
    kind: line
    text: hello
    min_duration: 3
`)
	assert.Equal(t, ForkAuto, g.Node("F").Mode)
	assert.Equal(t, 3*time.Second, g.Node("L").Line.MinDuration)
	assert.True(t, g.Node("L").Line.Interruptible)
}

func TestParseGraphErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"version", "version: 2\nid: x\nstart: a\nnodes: [{id: a, kind: end}]", "version"},
		{"missing id", "version: 1\nstart: a\nnodes: [{id: a, kind: end}]", "missing graph id"},
		{"missing start", "version: 1\nid: x\nstart: b\nnodes: [{id: a, kind: end}]", "start node"},
		{"duplicate", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: end}, {id: a, kind: end}]", "duplicate"},
		{"dangling next", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: line, text: t, next: b}]", "missing node"},
		{"bad kind", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: jump}]", "unknown kind"},
		{"bad mode", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: fork, mode: vote, edges: [{to: a}]}]", "fork mode"},
		{"no edges", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: fork}]", "no edges"},
		{"negative weight", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: fork, edges: [{to: b, weight: -1}]}, {id: b, kind: end}]", "negative weight"},
		{"negative line limit", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: line, text: t, limit: -1}]", "negative limit"},
		{"negative edge limit", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: fork, edges: [{to: b, limit: -2}]}, {id: b, kind: end}]", "negative limit"},
		{"bad condition", "version: 1\nid: x\nstart: a\nnodes: [{id: a, kind: gate, when: {kind: fact}, next: b}, {id: b, kind: end}]", "requires a name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGraph([]byte(tt.src), ".yaml", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseGraphUnknownTags(t *testing.T) {
	reg := tags.NewRegistry("Speaker.Guard")
	_, err := ParseGraph([]byte(jsonGraph), ".json", reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
	assert.Contains(t, err.Error(), `unknown mood tag "mood.angry"`)
	assert.Contains(t, err.Error(), `unknown condition tag "mood.angry"`)
}

func TestParseGraphUnsupportedFormat(t *testing.T) {
	_, err := ParseGraph([]byte("{}"), ".toml", nil)
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(jsonGraph), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(branchGraph), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	graphs, err := LoadDir(dir, tags.Open{})
	require.NoError(t, err)
	require.Len(t, graphs, 2)
	assert.Equal(t, "gatehouse", graphs[0].ID)
	assert.Equal(t, "branch", graphs[1].ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yml"), []byte(branchGraph), 0644))
	_, err = LoadDir(dir, tags.Open{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined in both")
}

func TestLoadGraphMissingFile(t *testing.T) {
	_, err := LoadGraph(filepath.Join(t.TempDir(), "none.yaml"), nil)
	assert.Error(t, err)
}

func TestShippedGraphsLoad(t *testing.T) {
	graphs, err := LoadDir(filepath.Join("..", "..", "graphs"), tags.Open{})
	require.NoError(t, err)
	require.NotEmpty(t, graphs)
	for _, g := range graphs {
		assert.True(t, g.HasNode(g.Start), "graph %s start node", g.ID)
	}
}
