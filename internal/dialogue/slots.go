package dialogue

import "sort"

// SlotArbiter grants named presentation slots to at most one conversation at
// a time. Contenders queue and are granted by priority, then request order.
type SlotArbiter struct {
	slots map[string]*slotState
	seq   uint64
}

type slotState struct {
	holder  ConversationID
	waiters []slotWaiter
}

type slotWaiter struct {
	id       ConversationID
	priority int
	seq      uint64
}

// NewSlotArbiter creates an arbiter with no claims.
func NewSlotArbiter() *SlotArbiter {
	return &SlotArbiter{slots: make(map[string]*slotState)}
}

func (a *SlotArbiter) state(slot string) *slotState {
	s, ok := a.slots[slot]
	if !ok {
		s = &slotState{}
		a.slots[slot] = s
	}
	return s
}

// Request claims slot for id. It returns true if id now holds the slot;
// otherwise id is queued (once) until a release grants it.
func (a *SlotArbiter) Request(slot string, id ConversationID, priority int) bool {
	s := a.state(slot)
	if s.holder == id {
		return true
	}
	if s.holder == "" && len(s.waiters) == 0 {
		s.holder = id
		return true
	}
	for _, w := range s.waiters {
		if w.id == id {
			return false
		}
	}
	a.seq++
	s.waiters = append(s.waiters, slotWaiter{id: id, priority: priority, seq: a.seq})
	sort.SliceStable(s.waiters, func(i, j int) bool {
		if s.waiters[i].priority != s.waiters[j].priority {
			return s.waiters[i].priority > s.waiters[j].priority
		}
		return s.waiters[i].seq < s.waiters[j].seq
	})
	return false
}

// Release frees slot if id holds it and hands it to the best waiter.
// It returns the new holder (empty if none) and whether id held the slot.
func (a *SlotArbiter) Release(slot string, id ConversationID) (ConversationID, bool) {
	s, ok := a.slots[slot]
	if !ok || s.holder != id || id == "" {
		return "", false
	}
	s.holder = ""
	if len(s.waiters) == 0 {
		return "", true
	}
	next := s.waiters[0]
	s.waiters = s.waiters[1:]
	s.holder = next.id
	return next.id, true
}

// Withdraw removes id from every wait queue.
func (a *SlotArbiter) Withdraw(id ConversationID) {
	for _, s := range a.slots {
		out := s.waiters[:0]
		for _, w := range s.waiters {
			if w.id != id {
				out = append(out, w)
			}
		}
		s.waiters = out
	}
}

// Holder returns the conversation holding slot, or empty.
func (a *SlotArbiter) Holder(slot string) ConversationID {
	if s, ok := a.slots[slot]; ok {
		return s.holder
	}
	return ""
}

// Waiting returns the queued conversations for slot in the order they will
// be granted.
func (a *SlotArbiter) Waiting(slot string) []ConversationID {
	s, ok := a.slots[slot]
	if !ok {
		return nil
	}
	out := make([]ConversationID, len(s.waiters))
	for i, w := range s.waiters {
		out[i] = w.id
	}
	return out
}

// Slots returns the names of all slots ever requested, sorted.
func (a *SlotArbiter) Slots() []string {
	names := make([]string, 0, len(a.slots))
	for name := range a.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
