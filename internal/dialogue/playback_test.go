package dialogue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func speakingPlayback(t *testing.T, turn *Turn) *Playback {
	t.Helper()
	p := NewPlayback(DefaultTiming())
	require.NoError(t, p.Bind(turn))
	assert.Equal(t, StatePending, p.State())
	require.True(t, p.Begin())
	assert.Equal(t, StateSpeaking, p.State())
	return p
}

func TestPlaybackNaturalEnd(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi.", MinDuration: 2 * time.Second, Interruptible: true})
	assert.Equal(t, 2*time.Second, p.Duration())

	assert.False(t, p.Tick(1500*time.Millisecond))
	assert.Equal(t, 500*time.Millisecond, p.Remaining())
	assert.True(t, p.Tick(500*time.Millisecond))
	assert.Equal(t, StateAdvancing, p.State())
	assert.True(t, p.Ready())
}

func TestPlaybackNonInterruptible(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi.", MinDuration: 2 * time.Second})

	for i := 0; i < 10; i++ {
		assert.Equal(t, SignalIgnored, p.Interrupt())
		assert.Equal(t, StateSpeaking, p.State())
	}
	assert.True(t, p.Tick(2*time.Second))
}

func TestPlaybackInterrupt(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi.", Interruptible: true})
	assert.Equal(t, SignalEnded, p.Interrupt())
	assert.Equal(t, StateInterrupted, p.State())
	assert.True(t, p.Ready())
	assert.Equal(t, SignalIgnored, p.Interrupt())
}

func TestPlaybackRequiresAdvance(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi.", RequiresAdvance: true})

	assert.False(t, p.Tick(5*time.Second))
	assert.Equal(t, StateSpeaking, p.State())

	assert.Equal(t, SignalEnded, p.Advance())
	assert.Equal(t, StateAdvancing, p.State())
}

func TestPlaybackAdvanceLatched(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi.", RequiresAdvance: true})

	assert.Equal(t, SignalLatched, p.Advance())
	assert.Equal(t, StateSpeaking, p.State())
	assert.True(t, p.Tick(time.Second))
}

func TestPlaybackAdvanceIgnoredWithoutFlag(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi."})
	assert.Equal(t, SignalIgnored, p.Advance())
}

func TestPlaybackSkipThresholds(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi.", MinDuration: 2 * time.Second})

	// too early
	assert.Equal(t, SignalIgnored, p.Skip())

	p.Tick(300 * time.Millisecond)
	assert.Equal(t, SignalEnded, p.Skip())
	assert.Equal(t, StateInterrupted, p.State())
}

func TestPlaybackSkipMinRemaining(t *testing.T) {
	tm := DefaultTiming()
	tm.SkipMinRemaining = time.Second
	p := NewPlayback(tm)
	require.NoError(t, p.Bind(&Turn{Node: "A", Text: "Hi.", MinDuration: 2 * time.Second}))
	p.Begin()

	p.Tick(1500 * time.Millisecond)
	assert.Equal(t, SignalIgnored, p.Skip())
}

func TestPlaybackPadding(t *testing.T) {
	pad := 500 * time.Millisecond
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi.", Padding: &pad})

	assert.True(t, p.Tick(time.Second))
	assert.False(t, p.Ready())
	p.Tick(300 * time.Millisecond)
	assert.False(t, p.Ready())
	p.Tick(200 * time.Millisecond)
	assert.True(t, p.Ready())
}

func TestPlaybackBindRules(t *testing.T) {
	p := speakingPlayback(t, &Turn{Node: "A", Text: "Hi."})
	assert.Error(t, p.Bind(&Turn{Node: "B"}))

	p.Finish()
	assert.Equal(t, StateFinished, p.State())
	assert.Nil(t, p.Turn())
	assert.Error(t, p.Bind(&Turn{Node: "B"}))
	assert.False(t, p.Begin())
}

func TestPlaybackWaitAndChoose(t *testing.T) {
	p := NewPlayback(DefaultTiming())
	assert.Equal(t, StateIdle, p.State())

	p.Wait()
	assert.Equal(t, StateWaiting, p.State())
	assert.False(t, p.Tick(time.Second))

	p.Choose()
	assert.Equal(t, StateChoosing, p.State())
	assert.False(t, p.Ready())
}
