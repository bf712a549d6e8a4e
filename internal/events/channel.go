package events

import (
	"sync"
	"sync/atomic"
)

// Channel is a buffered subscriber for consumers on other goroutines, such
// as websocket clients. Events that do not fit are dropped.
type Channel struct {
	C <-chan Event

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	unsub   func()
	dropped atomic.Uint64
}

// SubscribeChan registers a buffered channel subscriber.
func (b *Bus) SubscribeChan(size int) *Channel {
	if size < 1 {
		size = 64
	}
	ch := make(chan Event, size)
	c := &Channel{C: ch, ch: ch}
	c.unsub = b.Subscribe(c)
	return c
}

func (c *Channel) HandleEvent(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the buffer.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// Close unsubscribes and closes the channel. Safe to call more than once.
func (c *Channel) Close() {
	c.unsub()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
