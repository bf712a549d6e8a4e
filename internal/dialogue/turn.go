package dialogue

import (
	"time"

	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

// Turn describes one unit of spoken or displayed dialogue. It is produced by
// the walker and is never modified afterwards.
type Turn struct {
	Node            NodeID
	Speaker         tags.Tag
	Text            string
	Audio           *AudioRef
	Moods           tags.Set
	MinDuration     time.Duration
	Padding         *time.Duration
	Interruptible   bool
	RequiresAdvance bool
	Slot            string
}

func newTurn(n *Node) *Turn {
	l := n.Line
	t := &Turn{
		Node:            n.ID,
		Speaker:         tags.Tag(l.Speaker),
		Text:            l.Text,
		MinDuration:     l.MinDuration,
		Interruptible:   l.Interruptible,
		RequiresAdvance: l.RequiresAdvance,
		Slot:            l.Slot,
	}
	for _, m := range l.Moods {
		t.Moods = t.Moods.Add(tags.Tag(m))
	}
	if l.Audio != nil {
		a := *l.Audio
		t.Audio = &a
	}
	if l.Padding != nil {
		p := *l.Padding
		t.Padding = &p
	}
	return t
}

// Fields returns the turn as event fields.
func (t *Turn) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"node_id":          string(t.Node),
		"speaker":          string(t.Speaker),
		"text":             t.Text,
		"interruptible":    t.Interruptible,
		"requires_advance": t.RequiresAdvance,
		"slot":             t.Slot,
	}
	if len(t.Moods) > 0 {
		fields["moods"] = t.Moods.Strings()
	}
	if t.Audio != nil {
		fields["audio_id"] = t.Audio.ID
		fields["audio_ms"] = t.Audio.Length.Milliseconds()
	}
	return fields
}
