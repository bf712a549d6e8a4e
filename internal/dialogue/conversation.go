package dialogue

import "time"

// ConversationID is the opaque Conversation Handle handed to callers.
type ConversationID string

func (id ConversationID) String() string { return string(id) }

// conversation is the scheduler's private state for one live traversal.
type conversation struct {
	id       ConversationID
	graph    GraphRef
	seq      uint64
	priority int
	slot     string // slot used by turns that do not name one

	cursor   Cursor
	playback *Playback
	queue    *turnQueue

	// aheadFrom is the cursor at the head of the queue and aheadVersion
	// the graph version the queued turns were read from.
	aheadFrom    Cursor
	aheadVersion int

	activations Activations

	held      string // slot currently held
	requested string // slot requested while pending

	choices    []Choice
	waitNode   NodeID
	waitSignal string

	turns int
}

func (c *conversation) slotFor(t *Turn) string {
	if t.Slot != "" {
		return t.Slot
	}
	return c.slot
}

// ConversationInfo is a read-only snapshot of a live conversation.
type ConversationInfo struct {
	ID         ConversationID `json:"id"`
	Graph      string         `json:"graph_id"`
	Node       NodeID         `json:"node_id,omitempty"`
	State      PlaybackState  `json:"state"`
	Priority   int            `json:"priority"`
	Slot       string         `json:"slot,omitempty"`
	Requested  string         `json:"requested_slot,omitempty"`
	Speaker    string         `json:"speaker,omitempty"`
	Text       string         `json:"text,omitempty"`
	Duration   time.Duration  `json:"duration_ns,omitempty"`
	Remaining  time.Duration  `json:"remaining_ns,omitempty"`
	Choices    []Choice       `json:"choices,omitempty"`
	WaitingFor string         `json:"waiting_for,omitempty"`
	Queued     int            `json:"queued"`
	Turns      int            `json:"turns"`
}

func (c *conversation) info() ConversationInfo {
	info := ConversationInfo{
		ID:        c.id,
		Graph:     c.graph.ID,
		Node:      c.cursor.Node,
		State:     c.playback.State(),
		Priority:  c.priority,
		Slot:      c.held,
		Requested: c.requested,
		Queued:    c.queue.Len(),
		Turns:     c.turns,
	}
	if t := c.playback.Turn(); t != nil {
		info.Node = t.Node
		info.Speaker = t.Speaker.String()
		info.Text = t.Text
		info.Duration = c.playback.Duration()
		info.Remaining = c.playback.Remaining()
	}
	switch info.State {
	case StateChoosing:
		info.Choices = append([]Choice(nil), c.choices...)
		info.Node = c.cursor.Node
	case StateWaiting:
		info.Node = c.waitNode
		info.WaitingFor = c.waitSignal
	}
	return info
}
