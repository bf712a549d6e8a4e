package dialogue

import (
	"fmt"
	"time"
)

// PlaybackState is the per-conversation playback state.
type PlaybackState string

const (
	StateIdle        PlaybackState = "idle"
	StatePending     PlaybackState = "pending"  // turn bound, waiting for its slot
	StateSpeaking    PlaybackState = "speaking" // turn is being presented
	StateAdvancing   PlaybackState = "advancing"
	StateInterrupted PlaybackState = "interrupted"
	StateWaiting     PlaybackState = "waiting"  // held at a gate
	StateChoosing    PlaybackState = "choosing" // prompt fork offered
	StateFinished    PlaybackState = "finished"
)

// EndReason explains why a turn ended.
type EndReason string

const (
	ReasonNatural     EndReason = "natural"
	ReasonInterrupted EndReason = "interrupted"
	ReasonSkipped     EndReason = "skipped"
	ReasonCancelled   EndReason = "cancelled"
)

// SignalResult reports what a playback signal did.
type SignalResult int

const (
	// SignalIgnored means the signal was not valid in the current state.
	SignalIgnored SignalResult = iota
	// SignalLatched means the signal was recorded and takes effect later.
	SignalLatched
	// SignalEnded means the signal ended the current turn.
	SignalEnded
)

// Playback drives one conversation's turn through time. It only changes
// state; the Scheduler decides what to publish.
type Playback struct {
	timing Timing

	state    PlaybackState
	turn     *Turn
	duration time.Duration
	elapsed  time.Duration
	padding  time.Duration
	advance  bool
}

// NewPlayback creates an idle controller.
func NewPlayback(timing Timing) *Playback {
	return &Playback{timing: timing, state: StateIdle}
}

// State returns the current state.
func (p *Playback) State() PlaybackState { return p.state }

// Turn returns the bound turn, if any.
func (p *Playback) Turn() *Turn { return p.turn }

// Duration returns the computed display duration of the bound turn.
func (p *Playback) Duration() time.Duration { return p.duration }

// Elapsed returns how long the bound turn has been speaking.
func (p *Playback) Elapsed() time.Duration { return p.elapsed }

// Remaining returns the display time left, never negative.
func (p *Playback) Remaining() time.Duration {
	if p.elapsed >= p.duration {
		return 0
	}
	return p.duration - p.elapsed
}

// Bind attaches a fresh turn. The controller enters Pending until Begin is
// called with the slot held.
func (p *Playback) Bind(turn *Turn) error {
	switch p.state {
	case StateSpeaking, StateFinished:
		return fmt.Errorf("cannot bind turn %s while %s", turn.Node, p.state)
	}
	p.turn = turn
	p.duration = p.timing.DisplayDuration(turn)
	p.elapsed = 0
	p.padding = 0
	p.advance = false
	p.state = StatePending
	return nil
}

// Begin moves a pending turn to Speaking.
func (p *Playback) Begin() bool {
	if p.state != StatePending || p.turn == nil {
		return false
	}
	p.state = StateSpeaking
	return true
}

// Tick advances time. It returns true when the speaking turn ends naturally
// during this tick; the controller then sits in Advancing for its padding.
func (p *Playback) Tick(delta time.Duration) bool {
	switch p.state {
	case StateSpeaking:
		p.elapsed += delta
		if p.elapsed >= p.duration && (!p.turn.RequiresAdvance || p.advance) {
			p.toAdvancing()
			return true
		}
	case StateAdvancing:
		p.padding -= delta
	}
	return false
}

// Ready reports whether an Advancing or Interrupted controller may move on
// to the next decision.
func (p *Playback) Ready() bool {
	switch p.state {
	case StateAdvancing:
		return p.padding <= 0
	case StateInterrupted:
		return true
	}
	return false
}

// Advance records an explicit advance for turns that require one.
func (p *Playback) Advance() SignalResult {
	if p.state != StateSpeaking || !p.turn.RequiresAdvance {
		return SignalIgnored
	}
	p.advance = true
	if p.elapsed >= p.duration {
		p.toAdvancing()
		return SignalEnded
	}
	return SignalLatched
}

// Interrupt truncates an interruptible turn.
func (p *Playback) Interrupt() SignalResult {
	if p.state != StateSpeaking || !p.turn.Interruptible {
		return SignalIgnored
	}
	p.state = StateInterrupted
	return SignalEnded
}

// Skip fast-forwards the turn when the skip thresholds allow it.
func (p *Playback) Skip() SignalResult {
	if p.state != StateSpeaking {
		return SignalIgnored
	}
	if p.elapsed < p.timing.SkipMinElapsed {
		return SignalIgnored
	}
	if p.Remaining() < p.timing.SkipMinRemaining {
		return SignalIgnored
	}
	p.state = StateInterrupted
	return SignalEnded
}

// Wait marks the conversation as held at a gate.
func (p *Playback) Wait() {
	p.clearTurn()
	p.state = StateWaiting
}

// Choose marks the conversation as waiting for a prompt choice.
func (p *Playback) Choose() {
	p.clearTurn()
	p.state = StateChoosing
}

// Finish moves to the terminal state.
func (p *Playback) Finish() {
	p.clearTurn()
	p.state = StateFinished
}

func (p *Playback) toAdvancing() {
	p.state = StateAdvancing
	p.padding = p.timing.PaddingFor(p.turn)
}

func (p *Playback) clearTurn() {
	p.turn = nil
	p.duration = 0
	p.elapsed = 0
	p.padding = 0
	p.advance = false
}
