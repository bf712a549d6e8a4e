// Package host runs the dialogue scheduler in real time. The scheduler is
// single-threaded; Host serialises every call onto it with a mutex and
// drives Tick from a ticker using measured wall-clock deltas.
//
// Event subscribers run while the host lock is held and must not call Host
// methods directly. Use Post to schedule work for the next frame.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/SentientDialogue/internal/dialogue"
	"github.com/AaronLay10/SentientDialogue/internal/events"
	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

// GraphLoader returns the current set of graphs, typically by reading the
// graph directory.
type GraphLoader func() ([]*dialogue.Graph, error)

type Options struct {
	Interval time.Duration
	Load     GraphLoader
	// Tags resolves context tags set at runtime. Defaults to tags.Open.
	Tags   tags.Taxonomy
	Logger *slog.Logger
}

type Host struct {
	mu    sync.Mutex
	sched *dialogue.Scheduler
	lib   *dialogue.Library
	facts *dialogue.Facts
	pub   events.Publisher

	interval time.Duration
	load     GraphLoader
	tags     tags.Taxonomy
	logger   *slog.Logger

	postMu sync.Mutex
	posted []func(*dialogue.Scheduler)

	ticks   atomic.Uint64
	running atomic.Bool
	now     func() time.Time
}

func New(sched *dialogue.Scheduler, lib *dialogue.Library, facts *dialogue.Facts, pub events.Publisher, opts Options) *Host {
	if opts.Interval <= 0 {
		opts.Interval = 16 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tags == nil {
		opts.Tags = tags.Open{}
	}
	return &Host{
		sched:    sched,
		lib:      lib,
		facts:    facts,
		pub:      pub,
		interval: opts.Interval,
		load:     opts.Load,
		tags:     opts.Tags,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Run ticks the scheduler until ctx is done, then cancels every live
// conversation.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.running.Store(true)
	defer h.running.Store(false)

	last := h.now()
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			n := h.sched.CancelAll()
			h.mu.Unlock()
			h.logger.Info("host loop stopped", "cancelled", n)
			return nil
		case <-ticker.C:
			now := h.now()
			h.Step(now.Sub(last))
			last = now
		}
	}
}

// Step runs one frame: queued work first, then Tick(delta).
func (h *Host) Step(delta time.Duration) {
	h.postMu.Lock()
	posted := h.posted
	h.posted = nil
	h.postMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, fn := range posted {
		fn(h.sched)
	}
	h.sched.Tick(delta)
	h.ticks.Add(1)
}

// Post queues fn to run on the scheduler at the start of the next frame.
// It never blocks and is safe to call from event subscribers.
func (h *Host) Post(fn func(*dialogue.Scheduler)) {
	h.postMu.Lock()
	h.posted = append(h.posted, fn)
	h.postMu.Unlock()
}

// Ticks returns the number of frames run.
func (h *Host) Ticks() uint64 { return h.ticks.Load() }

// Running reports whether Run is active.
func (h *Host) Running() bool { return h.running.Load() }

func (h *Host) Start(graphID string, start dialogue.NodeID, opts dialogue.StartOptions) (dialogue.ConversationID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.StartConversation(graphID, start, opts)
}

func (h *Host) Advance(id dialogue.ConversationID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Advance(id)
}

func (h *Host) Interrupt(id dialogue.ConversationID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Interrupt(id)
}

func (h *Host) Skip(id dialogue.ConversationID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Skip(id)
}

func (h *Host) Cancel(id dialogue.ConversationID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Cancel(id)
}

func (h *Host) Choose(id dialogue.ConversationID, index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Choose(id, index)
}

func (h *Host) Signal(id dialogue.ConversationID, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Signal(id, name)
}

func (h *Host) SignalAll(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.SignalAll(name)
}

// SetFact and SetValue update the predicate context. Gates waiting on a
// condition see the change on the next frame.
func (h *Host) SetFact(name string, v bool) { h.facts.SetFact(name, v) }

func (h *Host) SetValue(name string, v float64) { h.facts.SetValue(name, v) }

// AddTag and RemoveTag update the context tags. Raw tag text is resolved
// through the taxonomy; unknown tags fail with tags.ErrUnknownTag.
func (h *Host) AddTag(raw string) error {
	t, err := h.resolveTag(raw)
	if err != nil {
		return err
	}
	h.facts.AddTag(t)
	return nil
}

func (h *Host) RemoveTag(raw string) error {
	t, err := h.resolveTag(raw)
	if err != nil {
		return err
	}
	h.facts.RemoveTag(t)
	return nil
}

// ResolveTag reports whether raw names a known tag.
func (h *Host) ResolveTag(raw string) error {
	_, err := h.resolveTag(raw)
	return err
}

func (h *Host) resolveTag(raw string) (tags.Tag, error) {
	t, ok := h.tags.Resolve(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", tags.ErrUnknownTag, raw)
	}
	return t, nil
}

func (h *Host) Conversations() []dialogue.ConversationInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Conversations()
}

func (h *Host) Conversation(id dialogue.ConversationID) (dialogue.ConversationInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sched.Conversation(id)
}

// Graphs returns the loaded graph ids.
func (h *Host) Graphs() []string { return h.lib.IDs() }

// ReloadGraphs loads every graph and swaps it into the library. Graphs that
// disappeared are removed; conversations still walking them end with an
// integrity error on their next step.
func (h *Host) ReloadGraphs() ([]string, error) {
	if h.load == nil {
		return nil, fmt.Errorf("no graph loader configured")
	}
	graphs, err := h.load()
	if err != nil {
		h.publish("error", events.SystemError, "graph reload failed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("reload graphs: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	keep := make(map[string]bool, len(graphs))
	ids := make([]string, 0, len(graphs))
	for _, g := range graphs {
		h.lib.Put(g)
		keep[g.ID] = true
		ids = append(ids, g.ID)
	}
	var removed []string
	for _, id := range h.lib.IDs() {
		if !keep[id] {
			h.lib.Remove(id)
			removed = append(removed, id)
		}
	}

	h.publish("info", events.GraphReloaded, "graphs reloaded", map[string]interface{}{
		"graphs":  ids,
		"removed": removed,
	})
	h.logger.Info("graphs reloaded", "count", len(ids), "removed", len(removed))
	return ids, nil
}

func (h *Host) publish(level, name, msg string, fields map[string]interface{}) {
	if h.pub == nil {
		return
	}
	if _, err := h.pub.Publish(level, name, "", msg, fields); err != nil {
		h.logger.Error("publish failed", "event", name, "err", err)
	}
}
