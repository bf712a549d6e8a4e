package dialogue

import (
	"strings"
	"time"
	"unicode"
)

// Timing holds the configurable parameters of the display duration policy.
type Timing struct {
	WordsPerMinute   float64
	MinTextTime      time.Duration
	MinAudioTime     time.Duration
	MinSpeakingTime  time.Duration
	Padding          time.Duration
	PlaybackRate     float64
	SkipMinElapsed   time.Duration
	SkipMinRemaining time.Duration
}

// DefaultTiming returns the stock reading-speed settings.
func DefaultTiming() Timing {
	return Timing{
		WordsPerMinute:  120,
		MinTextTime:     time.Second,
		MinAudioTime:    500 * time.Millisecond,
		MinSpeakingTime: 250 * time.Millisecond,
		PlaybackRate:    1,
		SkipMinElapsed:  250 * time.Millisecond,
	}
}

// WordCount counts whitespace separated words containing at least one
// letter or digit.
func WordCount(text string) int {
	count := 0
	for _, f := range strings.Fields(text) {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			count++
		}
	}
	return count
}

// TextTime estimates reading time for text. Empty text has no estimate.
func (t Timing) TextTime(text string) time.Duration {
	words := WordCount(text)
	if words == 0 {
		return 0
	}
	wpm := t.WordsPerMinute
	if wpm <= 0 {
		wpm = DefaultTiming().WordsPerMinute
	}
	rate := t.PlaybackRate
	if rate <= 0 {
		rate = 1
	}
	d := time.Duration(float64(words) * 60 / wpm / rate * float64(time.Second))
	if d < t.MinTextTime {
		d = t.MinTextTime
	}
	return d
}

// AudioTime returns the audio-driven duration, or zero without audio.
func (t Timing) AudioTime(a *AudioRef) time.Duration {
	if a == nil {
		return 0
	}
	d := a.Length
	if d < t.MinAudioTime {
		d = t.MinAudioTime
	}
	return d
}

// DisplayDuration is max(turn minimum, global minimum, text estimate, audio length).
func (t Timing) DisplayDuration(turn *Turn) time.Duration {
	d := turn.MinDuration
	if t.MinSpeakingTime > d {
		d = t.MinSpeakingTime
	}
	if text := t.TextTime(turn.Text); text > d {
		d = text
	}
	if audio := t.AudioTime(turn.Audio); audio > d {
		d = audio
	}
	return d
}

// PaddingFor returns the idle time after turn, honouring its override.
func (t Timing) PaddingFor(turn *Turn) time.Duration {
	if turn.Padding != nil {
		return *turn.Padding
	}
	return t.Padding
}
