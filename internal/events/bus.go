// Package events is the engine's broadcast interface: an ordered,
// synchronous publish contract that UI, audio and AI collaborators observe.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published engine event. Seq increases by one per publish and
// Timestamp is Time in RFC 3339 form.
type Event struct {
	Seq          uint64                 `json:"seq"`
	Timestamp    string                 `json:"ts"`
	Level        string                 `json:"level"`
	Name         string                 `json:"event"`
	Conversation string                 `json:"conversation_id,omitempty"`
	Message      string                 `json:"msg,omitempty"`
	Fields       map[string]interface{} `json:"fields,omitempty"`

	Time time.Time `json:"-"`
}

// Subscriber observes published events. Subscribers must not block; they are
// called on the publishing goroutine.
type Subscriber interface {
	HandleEvent(e Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(e Event)

func (f SubscriberFunc) HandleEvent(e Event) { f(e) }

// Publisher is what the engine needs from the bus.
type Publisher interface {
	Publish(level, name, conversation, msg string, fields map[string]interface{}) (Event, error)
}

type subscription struct {
	id  uint64
	sub Subscriber
}

// Bus assigns sequence numbers and delivers events to subscribers in
// sequence order. Events published from inside a subscriber are queued and
// delivered after the current event has reached every subscriber.
type Bus struct {
	mu         sync.Mutex
	seq        uint64
	nextID     uint64
	subs       []subscription
	pending    []Event
	delivering bool

	buffer *RingBuffer
	total  atomic.Uint64
	now    func() time.Time
}

// NewBus creates a bus keeping the last bufferSize events.
func NewBus(bufferSize int) *Bus {
	return &Bus{
		buffer: NewRingBuffer(bufferSize),
		now:    time.Now,
	}
}

// Subscribe adds a subscriber and returns a function that removes it.
func (b *Bus) Subscribe(s Subscriber) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, sub: s})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish validates and records an event, then delivers it.
func (b *Bus) Publish(level, name, conversation, msg string, fields map[string]interface{}) (Event, error) {
	if err := Validate(name); err != nil {
		return Event{}, err
	}

	b.mu.Lock()
	b.seq++
	ts := b.now().UTC()
	e := Event{
		Seq:          b.seq,
		Timestamp:    ts.Format(time.RFC3339Nano),
		Level:        level,
		Name:         name,
		Conversation: conversation,
		Message:      msg,
		Fields:       fields,
		Time:         ts,
	}
	b.buffer.Add(e)
	b.total.Add(1)
	b.pending = append(b.pending, e)
	if b.delivering {
		b.mu.Unlock()
		return e, nil
	}
	b.delivering = true
	b.mu.Unlock()

	b.drain()
	return e, nil
}

// drain delivers pending events in order until none remain.
func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.delivering = false
			b.mu.Unlock()
			return
		}
		e := b.pending[0]
		b.pending = b.pending[1:]
		subs := append([]subscription(nil), b.subs...)
		b.mu.Unlock()

		for _, s := range subs {
			s.sub.HandleEvent(e)
		}
	}
}

// Recent returns the last n events. n <= 0 returns everything buffered.
func (b *Bus) Recent(n int) []Event {
	all := b.buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// TotalCount returns the number of events published since creation.
func (b *Bus) TotalCount() uint64 {
	return b.total.Load()
}

// Clear resets the recent-event buffer. Used for testing.
func (b *Bus) Clear() {
	b.buffer.Clear()
}
