package dialogue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotArbiterFIFO(t *testing.T) {
	a := NewSlotArbiter()

	assert.True(t, a.Request("main", "c1", 0))
	assert.True(t, a.Request("main", "c1", 0))
	assert.False(t, a.Request("main", "c2", 0))
	assert.False(t, a.Request("main", "c3", 0))
	assert.False(t, a.Request("main", "c2", 0))
	assert.Equal(t, []ConversationID{"c2", "c3"}, a.Waiting("main"))

	next, ok := a.Release("main", "c1")
	require.True(t, ok)
	assert.Equal(t, ConversationID("c2"), next)
	assert.Equal(t, ConversationID("c2"), a.Holder("main"))

	next, ok = a.Release("main", "c2")
	require.True(t, ok)
	assert.Equal(t, ConversationID("c3"), next)

	next, ok = a.Release("main", "c3")
	require.True(t, ok)
	assert.Empty(t, next)
	assert.Empty(t, a.Holder("main"))
}

func TestSlotArbiterPriority(t *testing.T) {
	a := NewSlotArbiter()
	a.Request("main", "c1", 0)
	a.Request("main", "low", 0)
	a.Request("main", "high", 10)
	a.Request("main", "high2", 10)

	assert.Equal(t, []ConversationID{"high", "high2", "low"}, a.Waiting("main"))
	next, _ := a.Release("main", "c1")
	assert.Equal(t, ConversationID("high"), next)
}

func TestSlotArbiterReleaseByNonHolder(t *testing.T) {
	a := NewSlotArbiter()
	a.Request("main", "c1", 0)

	_, ok := a.Release("main", "c2")
	assert.False(t, ok)
	_, ok = a.Release("other", "c1")
	assert.False(t, ok)
	assert.Equal(t, ConversationID("c1"), a.Holder("main"))
}

func TestSlotArbiterWithdraw(t *testing.T) {
	a := NewSlotArbiter()
	a.Request("main", "c1", 0)
	a.Request("main", "c2", 0)
	a.Request("bark", "c3", 0)
	a.Request("bark", "c2", 0)

	a.Withdraw("c2")
	assert.Empty(t, a.Waiting("main"))
	assert.Empty(t, a.Waiting("bark"))
	assert.Equal(t, []string{"bark", "main"}, a.Slots())
}

func TestTurnQueue(t *testing.T) {
	q := newTurnQueue(2)
	require.NoError(t, q.Push(&Turn{Node: "A"}))
	require.NoError(t, q.Push(&Turn{Node: "B"}))

	err := q.Push(&Turn{Node: "C"})
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, NodeID("A"), q.Peek().Node)
	assert.Equal(t, NodeID("A"), q.Pop().Node)
	assert.Equal(t, NodeID("B"), q.Pop().Node)
	assert.Nil(t, q.Pop())
	assert.Nil(t, q.Peek())

	q.Push(&Turn{Node: "D"})
	q.Clear()
	assert.Equal(t, 0, q.Len())
}
