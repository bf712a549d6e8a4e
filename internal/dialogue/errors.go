package dialogue

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphIntegrity is matched by every *IntegrityError.
	ErrGraphIntegrity = errors.New("dialogue: graph integrity")
	// ErrUnknownGraph is returned when starting a conversation on a graph that is not loaded.
	ErrUnknownGraph = errors.New("dialogue: unknown graph")
	// ErrQueueFull is returned when a conversation's turn lookahead is exhausted.
	ErrQueueFull = errors.New("dialogue: turn queue full")
)

// IntegrityError reports a cursor that no longer fits its graph, typically
// because the graph was replaced or removed while a conversation was live.
// It is fatal to the conversation.
type IntegrityError struct {
	Graph   string
	Version int
	Node    NodeID
	Reason  string
}

func (e *IntegrityError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("graph %s (v%d): %s", e.Graph, e.Version, e.Reason)
	}
	return fmt.Sprintf("graph %s (v%d) node %s: %s", e.Graph, e.Version, e.Node, e.Reason)
}

// Is makes errors.Is(err, ErrGraphIntegrity) hold.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrGraphIntegrity
}

// UnsatisfiableBranch records a fork with no eligible edge. The walker
// recovers from it (fallback edge or End); it is reported on the decision and
// never returned as an error.
type UnsatisfiableBranch struct {
	Node     NodeID
	Fallback NodeID
}

func (e *UnsatisfiableBranch) Error() string {
	if e.Fallback == "" {
		return fmt.Sprintf("fork %s has no eligible edge, ending conversation", e.Node)
	}
	return fmt.Sprintf("fork %s has no eligible edge, following fallback %s", e.Node, e.Fallback)
}
