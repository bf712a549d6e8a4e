package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// JournalWriter persists one event. Implemented by the postgres client.
type JournalWriter interface {
	Append(ts time.Time, seq uint64, level, event, conversation, msg string, fields map[string]interface{}) error
}

// Journal forwards events to a JournalWriter on its own goroutine so slow
// storage never stalls the engine.
type Journal struct {
	w      JournalWriter
	ch     chan Event
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	dropped  atomic.Uint64
	failures atomic.Uint64
}

// NewJournal starts a journal writing to w through a queue of size events.
// A nil logger uses slog.Default.
func NewJournal(w JournalWriter, size int, logger *slog.Logger) *Journal {
	if size < 1 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		w:      w,
		ch:     make(chan Event, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go j.run()
	return j
}

func (j *Journal) run() {
	defer close(j.done)
	logged := false
	for e := range j.ch {
		err := j.w.Append(e.Time, e.Seq, e.Level, e.Name, e.Conversation, e.Message, e.Fields)
		if err == nil {
			continue
		}
		j.failures.Add(1)
		if !logged {
			// log the first failure only
			j.logger.Error("journal append failed", "err", err, "event", e.Name, "seq", e.Seq)
			logged = true
		}
	}
}

// HandleEvent queues e. Events arriving after Close count as dropped.
func (j *Journal) HandleEvent(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Failures returns the number of failed writes.
func (j *Journal) Failures() uint64 { return j.failures.Load() }

// Close stops accepting events and waits for the queue to drain. Safe to call
// more than once.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.ch)
	}
	j.mu.Unlock()
	<-j.done
}
