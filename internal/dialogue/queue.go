package dialogue

// turnQueue is a bounded FIFO of turns produced ahead of playback.
type turnQueue struct {
	limit int
	items []*Turn
}

func newTurnQueue(limit int) *turnQueue {
	if limit < 1 {
		limit = 1
	}
	return &turnQueue{limit: limit}
}

// Push appends t, failing with ErrQueueFull at the limit.
func (q *turnQueue) Push(t *Turn) error {
	if len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, t)
	return nil
}

// Pop removes and returns the head, or nil.
func (q *turnQueue) Pop() *Turn {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// Peek returns the head without removing it.
func (q *turnQueue) Peek() *Turn {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Full reports whether the queue is at its limit.
func (q *turnQueue) Full() bool {
	return len(q.items) >= q.limit
}

// Len returns the number of queued turns.
func (q *turnQueue) Len() int {
	return len(q.items)
}

// Clear drops all queued turns.
func (q *turnQueue) Clear() {
	q.items = nil
}
