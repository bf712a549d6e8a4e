package dialogue

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/SentientDialogue/internal/events"
)

// Conversation end reasons.
const (
	EndCompleted = "completed"
	EndCancelled = "cancelled"
	EndError     = "error"
)

// Options configures a Scheduler.
type Options struct {
	Timing Timing

	// Seed is mixed into every conversation seed that is not given explicitly.
	Seed uint32

	// Lookahead bounds each conversation's pending-turn queue. Lines that
	// follow the speaking turn without a fork or gate in between are read
	// ahead up to this many turns.
	Lookahead int

	// DefaultSlot is claimed by turns that do not name a slot. Empty means
	// such turns need no slot.
	DefaultSlot string

	AutoSelectSingleChoice bool

	Logger *slog.Logger

	// NewID generates conversation ids. Defaults to random UUIDs.
	NewID func() ConversationID
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timing:                 DefaultTiming(),
		Lookahead:              2,
		DefaultSlot:            "main",
		AutoSelectSingleChoice: true,
	}
}

// StartOptions are per-conversation settings.
type StartOptions struct {
	Priority int
	Seed     *uint32
	Slot     string // overrides Options.DefaultSlot
}

type slotGrant struct {
	slot string
	id   ConversationID
}

// Scheduler owns every live conversation. It is single-threaded: callers
// must serialise access (see internal/host). All progress happens inside
// Tick or inside the control calls; nothing runs in the background.
//
// Calls made while the scheduler is already inside an operation, typically
// from an event subscriber, are queued and run once the current operation
// has committed. Such calls report success optimistically.
type Scheduler struct {
	graphs GraphSource
	preds  Predicates
	pub    events.Publisher
	walker Walker
	opts   Options
	logger *slog.Logger

	convs map[ConversationID]*conversation
	order []*conversation
	slots *SlotArbiter
	seq   uint64

	busy     bool
	deferred []func()
	grants   []slotGrant
}

// NewScheduler creates a scheduler reading graphs from graphs and evaluating
// conditions against preds. pub may be nil.
func NewScheduler(graphs GraphSource, preds Predicates, pub events.Publisher, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Lookahead < 1 {
		opts.Lookahead = 1
	}
	if opts.NewID == nil {
		opts.NewID = func() ConversationID { return ConversationID(uuid.NewString()) }
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Scheduler{
		graphs: graphs,
		preds:  preds,
		pub:    pub,
		walker: Walker{AutoSelectSingleChoice: opts.AutoSelectSingleChoice},
		opts:   opts,
		logger: opts.Logger,
		convs:  make(map[ConversationID]*conversation),
		slots:  NewSlotArbiter(),
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(level, name, conversation, msg string, fields map[string]interface{}) (events.Event, error) {
	return events.Event{}, nil
}

// run executes op, or queues it when called reentrantly. Pending slot grants
// are applied after each operation so a releasing conversation's own events
// precede the next holder's.
func (s *Scheduler) run(op func()) (deferred bool) {
	if s.busy {
		s.deferred = append(s.deferred, op)
		return true
	}
	s.busy = true
	defer func() { s.busy = false }()

	op()
	s.flushGrants()
	for len(s.deferred) > 0 {
		next := s.deferred[0]
		s.deferred = s.deferred[1:]
		next()
		s.flushGrants()
	}
	return false
}

// StartConversation begins walking graphID at start (the graph's start node
// when empty) and returns the new conversation's id.
func (s *Scheduler) StartConversation(graphID string, start NodeID, opts StartOptions) (ConversationID, error) {
	g, ok := s.graphs.Graph(graphID)
	if !ok || g == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownGraph, graphID)
	}
	if start == "" {
		start = g.Start
	}
	if !g.HasNode(start) {
		return "", &IntegrityError{Graph: g.ID, Version: g.Version, Node: start, Reason: "start node not found"}
	}

	s.seq++
	seq := s.seq
	seed := noise32(uint32(seq), s.opts.Seed)
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	slot := s.opts.DefaultSlot
	if opts.Slot != "" {
		slot = opts.Slot
	}

	acts := make(Activations)
	c := &conversation{
		id:          s.opts.NewID(),
		graph:       GraphRef{Source: s.graphs, ID: g.ID},
		seq:         seq,
		priority:    opts.Priority,
		slot:        slot,
		cursor:      Cursor{Node: start, Seed: seed, Activations: acts},
		playback:    NewPlayback(s.opts.Timing),
		queue:       newTurnQueue(s.opts.Lookahead),
		activations: acts,
	}

	s.run(func() {
		s.convs[c.id] = c
		s.order = append(s.order, c)
		s.publish("info", events.ConversationStarted, c, "conversation started", map[string]interface{}{
			"graph_version": g.Version,
			"start":         string(start),
			"priority":      c.priority,
			"slot":          c.slot,
		})
		s.step(c)
	})
	return c.id, nil
}

// Advance completes, or latches completion of, a turn that requires an
// explicit advance.
func (s *Scheduler) Advance(id ConversationID) bool {
	accepted := false
	if s.run(func() { accepted = s.advance(id) }) {
		return true
	}
	return accepted
}

func (s *Scheduler) advance(id ConversationID) bool {
	c := s.live(id, "advance")
	if c == nil {
		return false
	}
	turn := c.playback.Turn()
	switch c.playback.Advance() {
	case SignalLatched:
		return true
	case SignalEnded:
		s.endTurn(c, turn, ReasonNatural)
		if c.playback.Ready() {
			s.step(c)
		}
		return true
	}
	s.ignored(c, "advance")
	return false
}

// Interrupt truncates the current turn if it is interruptible.
func (s *Scheduler) Interrupt(id ConversationID) bool {
	accepted := false
	if s.run(func() { accepted = s.truncate(id, "interrupt", ReasonInterrupted, (*Playback).Interrupt) }) {
		return true
	}
	return accepted
}

// Skip fast-forwards the current turn when the skip thresholds allow it.
func (s *Scheduler) Skip(id ConversationID) bool {
	accepted := false
	if s.run(func() { accepted = s.truncate(id, "skip", ReasonSkipped, (*Playback).Skip) }) {
		return true
	}
	return accepted
}

func (s *Scheduler) truncate(id ConversationID, signal string, reason EndReason, fn func(*Playback) SignalResult) bool {
	c := s.live(id, signal)
	if c == nil {
		return false
	}
	turn := c.playback.Turn()
	if fn(c.playback) != SignalEnded {
		s.ignored(c, signal)
		return false
	}
	s.endTurn(c, turn, reason)
	s.step(c)
	return true
}

// Choose resumes a conversation waiting on a prompt fork.
func (s *Scheduler) Choose(id ConversationID, index int) bool {
	accepted := false
	if s.run(func() { accepted = s.choose(id, index) }) {
		return true
	}
	return accepted
}

func (s *Scheduler) choose(id ConversationID, index int) bool {
	c := s.live(id, "choose")
	if c == nil {
		return false
	}
	if c.playback.State() != StateChoosing || index < 0 || index >= len(c.choices) {
		s.ignored(c, "choose")
		return false
	}
	ch := c.choices[index]
	if ch.limited {
		c.activations[ActivationKey{Node: c.cursor.Node, Edge: ch.edge}]++
	}
	c.cursor.Node = ch.To
	c.choices = nil
	s.step(c)
	return true
}

// Signal delivers a named signal to a conversation held at a gate.
func (s *Scheduler) Signal(id ConversationID, name string) bool {
	accepted := false
	if s.run(func() { accepted = s.signal(id, name) }) {
		return true
	}
	return accepted
}

// SignalAll delivers a signal to every conversation waiting for it and
// returns how many resumed.
func (s *Scheduler) SignalAll(name string) int {
	n := 0
	s.run(func() {
		for _, c := range s.snapshotOrder() {
			if c.playback.State() == StateWaiting && c.waitSignal == name && name != "" {
				if s.signal(c.id, name) {
					n++
				}
			}
		}
	})
	return n
}

func (s *Scheduler) signal(id ConversationID, name string) bool {
	c := s.live(id, "signal")
	if c == nil {
		return false
	}
	if c.playback.State() != StateWaiting || c.waitSignal == "" || c.waitSignal != name {
		s.ignored(c, "signal")
		return false
	}
	c.cursor.Signal = name
	s.resume(c)
	return true
}

// Cancel tears a conversation down in any state. The slot release and
// ConversationEnded are published before Cancel returns. It reports false
// only for unknown ids.
func (s *Scheduler) Cancel(id ConversationID) bool {
	found := false
	deferred := s.run(func() {
		c, ok := s.convs[id]
		if !ok {
			return
		}
		found = true
		s.finish(c, EndCancelled, nil)
	})
	if deferred {
		_, ok := s.convs[id]
		return ok
	}
	return found
}

// CancelAll cancels every live conversation in start order.
func (s *Scheduler) CancelAll() int {
	n := 0
	s.run(func() {
		for _, c := range s.snapshotOrder() {
			if _, ok := s.convs[c.id]; ok {
				s.finish(c, EndCancelled, nil)
				n++
			}
		}
	})
	return n
}

// Tick advances every live conversation by delta, in start order.
func (s *Scheduler) Tick(delta time.Duration) {
	if delta < 0 {
		delta = 0
	}
	s.run(func() {
		for _, c := range s.snapshotOrder() {
			if _, ok := s.convs[c.id]; !ok {
				continue
			}
			s.tickOne(c, delta)
		}
	})
}

func (s *Scheduler) tickOne(c *conversation, delta time.Duration) {
	switch c.playback.State() {
	case StateSpeaking:
		turn := c.playback.Turn()
		if c.playback.Tick(delta) {
			s.endTurn(c, turn, ReasonNatural)
			if c.playback.Ready() {
				s.step(c)
			}
		}
	case StateAdvancing:
		c.playback.Tick(delta)
		if c.playback.Ready() {
			s.step(c)
		}
	case StateWaiting:
		// conditions may have changed since the last evaluation
		s.resume(c)
	}
}

// resume re-evaluates a waiting conversation, staying quiet when it is still
// held at the same gate.
func (s *Scheduler) resume(c *conversation) {
	d, err := s.walker.Evaluate(c.graph, c.cursor, s.preds)
	if err != nil {
		s.fail(c, err)
		return
	}
	if d.Kind == DecisionWait && d.Node == c.waitNode {
		c.cursor = d.Cursor
		s.commit(c, d.Taken)
		return
	}
	c.waitNode, c.waitSignal = "", ""
	s.apply(c, d)
}

// step presents the next queued turn, or asks the walker for the next
// decision and acts on it. Queued turns read from a replaced graph are
// dropped and walked again.
func (s *Scheduler) step(c *conversation) {
	if c.queue.Len() > 0 {
		if g, ok := c.graph.Source.Graph(c.graph.ID); ok && g != nil && g.Version == c.aheadVersion {
			s.present(c)
			return
		}
		c.cursor = c.aheadFrom
		c.queue.Clear()
	}
	d, err := s.walker.Evaluate(c.graph, c.cursor, s.preds)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.apply(c, d)
}

func (s *Scheduler) apply(c *conversation, d Decision) {
	if d.Recovered != nil {
		s.logger.Warn("unsatisfiable branch",
			"conversation_id", c.id,
			"graph_id", c.graph.ID,
			"node_id", d.Recovered.Node,
			"fallback", d.Recovered.Fallback,
		)
	}
	c.cursor = d.Cursor
	s.commit(c, d.Taken)

	switch d.Kind {
	case DecisionNextTurn:
		if err := c.queue.Push(d.Turn); err != nil {
			s.fail(c, err)
			return
		}
		s.present(c)

	case DecisionFork:
		c.choices = d.Choices
		c.playback.Choose()
		s.publish("info", events.PromptOpened, c, "prompt opened", map[string]interface{}{
			"node_id": string(d.Node),
			"choices": d.Choices,
		})

	case DecisionWait:
		s.releaseSlot(c)
		c.playback.Wait()
		c.waitNode = d.Node
		c.waitSignal = d.Signal
		s.publish("info", events.ConversationWaiting, c, "waiting at gate", map[string]interface{}{
			"node_id": string(d.Node),
			"signal":  d.Signal,
		})

	case DecisionEnd:
		s.finish(c, EndCompleted, nil)
	}
}

// present binds the next queued turn and starts it once its slot is held.
// A turn needing a different slot than the one held releases the old one.
func (s *Scheduler) present(c *conversation) {
	turn := c.queue.Pop()
	if turn == nil {
		return
	}
	if next := c.queue.Peek(); next != nil {
		c.aheadFrom.Node = next.Node
	}
	slot := c.slotFor(turn)
	if c.held != "" && c.held != slot {
		s.releaseSlot(c)
	}
	if err := c.playback.Bind(turn); err != nil {
		s.fail(c, err)
		return
	}

	if slot == "" || c.held == slot {
		s.begin(c)
		return
	}
	if s.slots.Request(slot, c.id, c.priority) {
		c.held = slot
		s.publish("info", events.SlotGranted, c, "slot granted", map[string]interface{}{"slot": slot})
		s.begin(c)
		return
	}
	c.requested = slot
	s.logger.Debug("slot contended",
		"conversation_id", c.id,
		"slot", slot,
		"holder", s.slots.Holder(slot),
	)
}

func (s *Scheduler) begin(c *conversation) {
	if !c.playback.Begin() {
		return
	}
	c.turns++
	fields := c.playback.Turn().Fields()
	fields["duration_ms"] = c.playback.Duration().Milliseconds()
	s.publish("info", events.TurnStarted, c, "turn started", fields)
	s.prefetch(c)
}

// prefetch queues the lines that follow the speaking turn while no decision
// stands between them: the cursor must sit on an unlimited line.
func (s *Scheduler) prefetch(c *conversation) {
	g, ok := c.graph.Source.Graph(c.graph.ID)
	if !ok || g == nil {
		return
	}
	if c.queue.Len() > 0 && c.aheadVersion != g.Version {
		return
	}
	for !c.queue.Full() {
		n := g.Node(c.cursor.Node)
		if n == nil || n.Kind != NodeLine || n.Limit > 0 {
			return
		}
		d, err := s.walker.Evaluate(c.graph, c.cursor, s.preds)
		if err != nil || d.Kind != DecisionNextTurn {
			return
		}
		if c.queue.Len() == 0 {
			c.aheadFrom = c.cursor
			c.aheadVersion = g.Version
		}
		if err := c.queue.Push(d.Turn); err != nil {
			return
		}
		c.cursor = d.Cursor
	}
}

// commit records the limited lines and edges a decision used.
func (s *Scheduler) commit(c *conversation, taken []ActivationKey) {
	for _, k := range taken {
		c.activations[k]++
	}
}

func (s *Scheduler) endTurn(c *conversation, turn *Turn, reason EndReason) {
	fields := map[string]interface{}{"reason": string(reason)}
	if turn != nil {
		fields["node_id"] = string(turn.Node)
		fields["speaker"] = turn.Speaker.String()
	}
	s.publish("info", events.TurnEnded, c, "turn ended", fields)
}

func (s *Scheduler) releaseSlot(c *conversation) {
	if c.held == "" {
		return
	}
	slot := c.held
	c.held = ""
	next, ok := s.slots.Release(slot, c.id)
	s.publish("info", events.SlotReleased, c, "slot released", map[string]interface{}{"slot": slot})
	if ok && next != "" {
		s.grants = append(s.grants, slotGrant{slot: slot, id: next})
	}
}

// flushGrants starts the turns of conversations that were handed a slot.
func (s *Scheduler) flushGrants() {
	for len(s.grants) > 0 {
		g := s.grants[0]
		s.grants = s.grants[1:]

		c, ok := s.convs[g.id]
		if !ok || c.requested != g.slot || c.playback.State() != StatePending {
			// stale waiter, pass the slot on
			if next, ok := s.slots.Release(g.slot, g.id); ok && next != "" {
				s.grants = append(s.grants, slotGrant{slot: g.slot, id: next})
			}
			continue
		}
		c.requested = ""
		c.held = g.slot
		s.publish("info", events.SlotGranted, c, "slot granted", map[string]interface{}{"slot": g.slot})
		s.begin(c)
	}
}

// finish ends a conversation: any speaking turn ends as cancelled, the slot
// is released and ConversationEnded is the last event for the id.
func (s *Scheduler) finish(c *conversation, reason string, cause error) {
	if _, ok := s.convs[c.id]; !ok {
		return
	}
	if c.playback.State() == StateSpeaking {
		s.endTurn(c, c.playback.Turn(), ReasonCancelled)
	}
	s.slots.Withdraw(c.id)
	c.requested = ""
	s.releaseSlot(c)
	c.queue.Clear()
	c.choices = nil
	c.playback.Finish()

	delete(s.convs, c.id)
	for i, o := range s.order {
		if o == c {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}

	level := "info"
	fields := map[string]interface{}{
		"reason": reason,
		"turns":  c.turns,
	}
	if cause != nil {
		level = "error"
		fields["error"] = cause.Error()
	}
	s.publish(level, events.ConversationEnded, c, "conversation ended", fields)
}

// fail ends a conversation after an integrity error. Other errors are
// internal faults and end it the same way.
func (s *Scheduler) fail(c *conversation, err error) {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		s.logger.Error("graph integrity error",
			"conversation_id", c.id,
			"graph_id", ie.Graph,
			"graph_version", ie.Version,
			"node_id", ie.Node,
			"reason", ie.Reason,
		)
	} else {
		s.logger.Error("conversation failed", "conversation_id", c.id, "err", err)
	}
	s.finish(c, EndError, err)
}

func (s *Scheduler) live(id ConversationID, signal string) *conversation {
	c, ok := s.convs[id]
	if !ok {
		s.logger.Debug("signal for unknown conversation", "conversation_id", id, "signal", signal)
		return nil
	}
	return c
}

func (s *Scheduler) ignored(c *conversation, signal string) {
	s.logger.Debug("signal ignored",
		"conversation_id", c.id,
		"signal", signal,
		"state", c.playback.State(),
	)
}

func (s *Scheduler) publish(level, name string, c *conversation, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["graph_id"] = c.graph.ID
	if _, err := s.pub.Publish(level, name, string(c.id), msg, fields); err != nil {
		s.logger.Error("publish failed", "event", name, "conversation_id", c.id, "err", err)
	}
}

func (s *Scheduler) snapshotOrder() []*conversation {
	return append([]*conversation(nil), s.order...)
}

// Conversations returns snapshots of every live conversation in start order.
func (s *Scheduler) Conversations() []ConversationInfo {
	out := make([]ConversationInfo, 0, len(s.order))
	for _, c := range s.order {
		out = append(out, c.info())
	}
	return out
}

// Conversation returns a snapshot of one conversation.
func (s *Scheduler) Conversation(id ConversationID) (ConversationInfo, bool) {
	c, ok := s.convs[id]
	if !ok {
		return ConversationInfo{}, false
	}
	return c.info(), true
}

// Len returns the number of live conversations.
func (s *Scheduler) Len() int { return len(s.convs) }

// SlotHolder returns the conversation holding slot, if any.
func (s *Scheduler) SlotHolder(slot string) (ConversationID, bool) {
	id := s.slots.Holder(slot)
	return id, id != ""
}
