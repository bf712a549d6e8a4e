package api

import (
	"fmt"
	"sync"

	"github.com/AaronLay10/SentientDialogue/internal/config"
	"github.com/AaronLay10/SentientDialogue/internal/dialogue"
	"github.com/AaronLay10/SentientDialogue/internal/events"
	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

type fakeEngine struct {
	mu      sync.Mutex
	convs   map[dialogue.ConversationID]dialogue.ConversationInfo
	calls   []string
	facts   map[string]interface{}
	known   tags.Taxonomy
	active  map[tags.Tag]bool
	graphs  []string
	reload  error
	started []dialogue.StartOptions
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		convs:  make(map[dialogue.ConversationID]dialogue.ConversationInfo),
		facts:  make(map[string]interface{}),
		known:  tags.NewRegistry("Weather.Rain", "Mood.Calm"),
		active: make(map[tags.Tag]bool),
		graphs: []string{"intro"},
	}
}

func (f *fakeEngine) record(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeEngine) Start(graphID string, start dialogue.NodeID, opts dialogue.StartOptions) (dialogue.ConversationID, error) {
	switch graphID {
	case "missing":
		return "", fmt.Errorf("start %s: %w", graphID, dialogue.ErrUnknownGraph)
	case "broken":
		return "", &dialogue.IntegrityError{Graph: graphID, Node: start, Reason: "start node not found"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := dialogue.ConversationID(fmt.Sprintf("c%d", len(f.convs)+1))
	f.convs[id] = dialogue.ConversationInfo{ID: id, Graph: graphID, State: dialogue.StateSpeaking, Priority: opts.Priority}
	f.started = append(f.started, opts)
	return id, nil
}

func (f *fakeEngine) Advance(id dialogue.ConversationID) bool   { f.record("advance %s", id); return true }
func (f *fakeEngine) Interrupt(id dialogue.ConversationID) bool { f.record("interrupt %s", id); return true }
func (f *fakeEngine) Skip(id dialogue.ConversationID) bool      { f.record("skip %s", id); return false }
func (f *fakeEngine) Cancel(id dialogue.ConversationID) bool    { f.record("cancel %s", id); return true }

func (f *fakeEngine) Choose(id dialogue.ConversationID, index int) bool {
	f.record("choose %s %d", id, index)
	return index == 0
}

func (f *fakeEngine) Signal(id dialogue.ConversationID, name string) bool {
	f.record("signal %s %s", id, name)
	return true
}

func (f *fakeEngine) SignalAll(name string) int {
	f.record("signalall %s", name)
	return 2
}

func (f *fakeEngine) SetFact(name string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts[name] = v
}

func (f *fakeEngine) SetValue(name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts[name] = v
}

func (f *fakeEngine) ResolveTag(raw string) error {
	_, err := f.resolve(raw)
	return err
}

func (f *fakeEngine) resolve(raw string) (tags.Tag, error) {
	t, ok := f.known.Resolve(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", tags.ErrUnknownTag, raw)
	}
	return t, nil
}

func (f *fakeEngine) AddTag(raw string) error {
	t, err := f.resolve(raw)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[t] = true
	return nil
}

func (f *fakeEngine) RemoveTag(raw string) error {
	t, err := f.resolve(raw)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, t)
	return nil
}

func (f *fakeEngine) Conversations() []dialogue.ConversationInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dialogue.ConversationInfo, 0, len(f.convs))
	for _, c := range f.convs {
		out = append(out, c)
	}
	return out
}

func (f *fakeEngine) Conversation(id dialogue.ConversationID) (dialogue.ConversationInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	return c, ok
}

func (f *fakeEngine) Graphs() []string                { return f.graphs }
func (f *fakeEngine) ReloadGraphs() ([]string, error) { return f.graphs, f.reload }
func (f *fakeEngine) Ticks() uint64                   { return 42 }
func (f *fakeEngine) Running() bool                   { return true }

func newTestServer(creds config.Credentials) (*Server, *fakeEngine, *events.Bus) {
	eng := newFakeEngine()
	bus := events.NewBus(100)
	s := NewServer(eng, bus, Options{InstanceID: "test", Credentials: creds})
	return s, eng, bus
}
