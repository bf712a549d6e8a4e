package dialogue

// DecisionKind tags the Decision variant.
type DecisionKind string

const (
	// DecisionNextTurn carries the next Turn.
	DecisionNextTurn DecisionKind = "next_turn"
	// DecisionFork offers choices to an external chooser.
	DecisionFork DecisionKind = "fork"
	// DecisionWait holds the conversation at a gate.
	DecisionWait DecisionKind = "wait"
	// DecisionEnd terminates the conversation.
	DecisionEnd DecisionKind = "end"
)

// Cursor is the only traversal state a conversation keeps. The walker reads a
// cursor and returns the cursor to continue from; it never retains either.
type Cursor struct {
	Node   NodeID
	Seed   uint32
	Draws  uint32 // random draws consumed so far
	Signal string // signal delivered to the gate at Node, if any

	// Activations is read by the walker and updated by the scheduler from
	// Decision.Taken. Nil means nothing has been counted.
	Activations Activations
}

// ActivationKey names a limited line (Edge -1) or a limited fork edge by its
// declaration index.
type ActivationKey struct {
	Node NodeID
	Edge int
}

// Activations counts how often limited lines and edges have been used.
type Activations map[ActivationKey]int

func lineKey(id NodeID) ActivationKey { return ActivationKey{Node: id, Edge: -1} }

// Choice is one option of a prompt fork.
type Choice struct {
	Index    int    `json:"index"`
	To       NodeID `json:"to"`
	Text     string `json:"text,omitempty"`
	Priority int    `json:"priority"`

	edge    int // declaration index on the fork
	limited bool
}

// Decision is the walker's answer for one traversal step. It is recomputed
// on every step and never persisted.
type Decision struct {
	Kind    DecisionKind
	Turn    *Turn    // DecisionNextTurn
	Choices []Choice // DecisionFork
	Signal  string   // DecisionWait
	Node    NodeID   // node that produced the decision
	Cursor  Cursor   // where to continue from

	// Taken lists the limited lines and edges this decision used. The
	// caller commits them to the conversation's Activations.
	Taken []ActivationKey

	// Recovered is set when a fork without eligible edges was passed on the
	// way to this decision.
	Recovered *UnsatisfiableBranch
}
