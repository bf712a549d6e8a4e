// Package dialogue implements the conversation execution engine: it walks
// branching dialogue graphs, sequences speaker turns through a per-conversation
// playback state machine, arbitrates presentation slots and publishes every
// transition to an ordered event bus.
//
// The engine is single-threaded. All state changes happen inside calls on a
// Scheduler (Tick, StartConversation, Advance, ...); callers that drive it from
// several goroutines must serialise access themselves (see internal/host).
package dialogue

import (
	"sort"
	"sync"
	"time"
)

// NodeID identifies a node within a graph.
type NodeID string

// NodeKind categorizes graph nodes.
type NodeKind string

const (
	// NodeLine presents one turn of dialogue.
	NodeLine NodeKind = "line"
	// NodeFork branches on conditions, priority and weights.
	NodeFork NodeKind = "fork"
	// NodeGate holds the conversation until a signal or condition.
	NodeGate NodeKind = "gate"
	// NodeEnd terminates the conversation.
	NodeEnd NodeKind = "end"
)

// ForkMode selects who resolves a fork.
type ForkMode string

const (
	// ForkAuto forks are resolved by the walker.
	ForkAuto ForkMode = "auto"
	// ForkPrompt forks are offered as choices to an external chooser.
	ForkPrompt ForkMode = "prompt"
)

// Graph is an immutable snapshot of a dialogue graph.
// Version increases every time the graph with the same ID is replaced.
type Graph struct {
	ID      string
	Version int
	Start   NodeID
	Nodes   map[NodeID]*Node
	Order   []NodeID // declaration order
}

// Node is a single graph node. Which fields are meaningful depends on Kind.
type Node struct {
	ID   NodeID
	Kind NodeKind

	// line
	Line *LineSpec
	// Limit caps how often a line plays per conversation. Zero means
	// unlimited; an exhausted line is passed over to Next.
	Limit int

	// line, gate
	Next NodeID

	// fork
	Mode     ForkMode
	Edges    []Edge
	Fallback NodeID

	// gate
	Signal string
	When   *Condition
}

// LineSpec carries the authored fields of a line node.
type LineSpec struct {
	Speaker         string
	Text            string
	Audio           *AudioRef
	Moods           []string
	MinDuration     time.Duration
	Padding         *time.Duration
	Interruptible   bool
	RequiresAdvance bool
	Slot            string
}

// AudioRef points at a voice asset owned by the audio collaborator.
type AudioRef struct {
	ID     string
	Length time.Duration
}

// Edge is an outgoing fork edge.
type Edge struct {
	To       NodeID
	Priority int
	Weight   *float64 // nil means 1
	When     *Condition
	Text     string // prompt label
	Limit    int    // times the edge may be taken per conversation, 0 = unlimited
}

// EffectiveWeight returns the edge weight with the unset default applied.
func (e Edge) EffectiveWeight() float64 {
	if e.Weight == nil {
		return 1
	}
	return *e.Weight
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if g == nil {
		return nil
	}
	return g.Nodes[id]
}

// HasNode returns true if the node exists in this snapshot.
func (g *Graph) HasNode(id NodeID) bool {
	return g.Node(id) != nil
}

// GraphSource provides the current snapshot of a graph by id.
type GraphSource interface {
	Graph(id string) (*Graph, bool)
}

// Library is a concurrency-safe GraphSource whose graphs can be replaced at
// runtime. Conversations look their graph up on every step, so a replacement
// is observed by live conversations on their next decision.
type Library struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewLibrary creates a library holding the given graphs.
func NewLibrary(graphs ...*Graph) *Library {
	l := &Library{graphs: make(map[string]*Graph)}
	for _, g := range graphs {
		l.Put(g)
	}
	return l
}

// Put stores g, assigning it the next version for its id.
func (l *Library) Put(g *Graph) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.graphs[g.ID]; ok {
		g.Version = prev.Version + 1
	} else if g.Version == 0 {
		g.Version = 1
	}
	l.graphs[g.ID] = g
}

// Remove drops a graph. Conversations still walking it fail their next step.
func (l *Library) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.graphs, id)
}

// Graph implements GraphSource.
func (l *Library) Graph(id string) (*Graph, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	g, ok := l.graphs[id]
	return g, ok
}

// IDs returns the stored graph ids, sorted.
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.graphs))
	for id := range l.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
