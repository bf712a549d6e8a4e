package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientDialogue/internal/dialogue"
	"github.com/AaronLay10/SentientDialogue/internal/events"
	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

const lines = `
version: 1
id: lines
start: A
nodes:
  - {id: A, kind: line, text: Hello., next: G}
  - {id: G, kind: gate, when: {kind: fact, name: ready}, next: B}
  - {id: B, kind: line, text: Goodbye.}
`

func parse(t *testing.T, src string) *dialogue.Graph {
	t.Helper()
	g, err := dialogue.ParseGraph([]byte(src), ".yaml", nil)
	require.NoError(t, err)
	return g
}

func newHost(t *testing.T, load GraphLoader) (*Host, *events.Bus) {
	t.Helper()
	lib := dialogue.NewLibrary(parse(t, lines))
	facts := dialogue.NewFacts()
	bus := events.NewBus(100)
	sched := dialogue.NewScheduler(lib, facts, bus, dialogue.DefaultOptions())
	return New(sched, lib, facts, bus, Options{Interval: 5 * time.Millisecond, Load: load}), bus
}

func names(bus *events.Bus, conv string) []string {
	var out []string
	for _, e := range bus.Recent(0) {
		if e.Conversation == conv {
			out = append(out, e.Name)
		}
	}
	return out
}

func TestHostStepAndFacts(t *testing.T) {
	h, bus := newHost(t, nil)

	id, err := h.Start("lines", "", dialogue.StartOptions{})
	require.NoError(t, err)

	h.Step(time.Second)
	info, ok := h.Conversation(id)
	require.True(t, ok)
	assert.Equal(t, dialogue.StateWaiting, info.State)

	h.SetFact("ready", true)
	h.Step(10 * time.Millisecond)
	info, _ = h.Conversation(id)
	assert.Equal(t, dialogue.StateSpeaking, info.State)
	assert.Equal(t, "Goodbye.", info.Text)

	assert.Equal(t, uint64(2), h.Ticks())
	assert.Contains(t, names(bus, string(id)), events.ConversationWaiting)
}

func TestHostPost(t *testing.T) {
	h, bus := newHost(t, nil)
	id, err := h.Start("lines", "", dialogue.StartOptions{})
	require.NoError(t, err)

	// a subscriber reacting to turn.started through Post
	bus.Subscribe(events.SubscriberFunc(func(e events.Event) {
		if e.Name == events.TurnStarted {
			h.Post(func(s *dialogue.Scheduler) { s.Interrupt(dialogue.ConversationID(e.Conversation)) })
		}
	}))
	h.SetFact("ready", true)
	h.Step(time.Second)
	h.Step(0)

	_, ok := h.Conversation(id)
	assert.False(t, ok, "interrupting the last line ends the conversation")
}

func TestHostRun(t *testing.T) {
	h, _ := newHost(t, nil)
	h.SetFact("ready", true)
	id, err := h.Start("lines", "", dialogue.StartOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	assert.Eventually(t, h.Running, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return h.Ticks() > 2 }, time.Second, time.Millisecond)

	assert.True(t, h.Interrupt(id))
	cancel()
	require.NoError(t, <-done)

	assert.False(t, h.Running())
	assert.Empty(t, h.Conversations())
}

func TestHostReloadGraphs(t *testing.T) {
	replacement := `
version: 1
id: other
start: X
nodes:
  - {id: X, kind: line, text: New graph.}
`
	var fail bool
	h, bus := newHost(t, func() ([]*dialogue.Graph, error) {
		if fail {
			return nil, errors.New("disk on fire")
		}
		return []*dialogue.Graph{parse(t, replacement)}, nil
	})

	ids, err := h.ReloadGraphs()
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, ids)
	assert.Equal(t, []string{"other"}, h.Graphs())
	assert.Contains(t, names(bus, ""), events.GraphReloaded)

	fail = true
	_, err = h.ReloadGraphs()
	assert.Error(t, err)
	assert.Contains(t, names(bus, ""), events.SystemError)
}

func TestHostReloadWithoutLoader(t *testing.T) {
	h, _ := newHost(t, nil)
	_, err := h.ReloadGraphs()
	assert.Error(t, err)
}

func TestHostTags(t *testing.T) {
	lib := dialogue.NewLibrary(parse(t, `
version: 1
id: weather
start: G
nodes:
  - {id: G, kind: gate, when: {kind: tag, tag: Weather.Rain}, next: L}
  - {id: L, kind: line, text: Wet out there.}
`))
	facts := dialogue.NewFacts()
	bus := events.NewBus(100)
	sched := dialogue.NewScheduler(lib, facts, bus, dialogue.DefaultOptions())
	reg := tags.NewRegistry("Weather.Rain.Heavy", "Weather.Snow")
	h := New(sched, lib, facts, bus, Options{Tags: reg})

	id, err := h.Start("weather", "", dialogue.StartOptions{})
	require.NoError(t, err)

	err = h.AddTag("Weather.Hail")
	assert.True(t, errors.Is(err, tags.ErrUnknownTag))
	assert.Error(t, h.ResolveTag(""))

	// registry lookups are case-insensitive
	require.NoError(t, h.AddTag("weather.rain.heavy"))
	h.Step(10 * time.Millisecond)
	info, _ := h.Conversation(id)
	assert.Equal(t, dialogue.StateSpeaking, info.State)
	assert.True(t, facts.HasTag("Weather.Rain"))

	require.NoError(t, h.RemoveTag("Weather.Rain.Heavy"))
	assert.False(t, facts.HasTag("Weather.Rain"))
}

func TestHostTagsOpenTaxonomy(t *testing.T) {
	h, _ := newHost(t, nil)
	require.NoError(t, h.AddTag("Anything.Goes"))
	require.NoError(t, h.RemoveTag("Anything.Goes"))
	assert.True(t, errors.Is(h.AddTag("  "), tags.ErrUnknownTag))
}
