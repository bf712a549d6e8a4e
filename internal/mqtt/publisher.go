package mqtt

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AaronLay10/SentientDialogue/internal/events"
)

// Sender is the part of Client used for outbound messages.
type Sender interface {
	Publish(topic string, payload []byte) error
}

// EventPublisher forwards bus events to <prefix>/events/<name>. Publishing
// happens on its own goroutine; events that do not fit the queue are dropped.
type EventPublisher struct {
	sender Sender
	prefix string
	logger *slog.Logger

	ch      chan events.Event
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewEventPublisher(sender Sender, prefix string, size int, logger *slog.Logger) *EventPublisher {
	if size < 1 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &EventPublisher{
		sender: sender,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
		ch:     make(chan events.Event, size),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Topic returns the topic an event name is published on.
func (p *EventPublisher) Topic(name string) string {
	return p.prefix + "/events/" + name
}

func (p *EventPublisher) HandleEvent(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.ch <- e:
	default:
		p.dropped.Add(1)
	}
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for e := range p.ch {
		payload, err := json.Marshal(e)
		if err != nil {
			p.logger.Error("event marshal failed", "event", e.Name, "err", err)
			continue
		}
		if err := p.sender.Publish(p.Topic(e.Name), payload); err != nil {
			// only the first failure in a run is logged
			if p.failed.Add(1) == 1 {
				p.logger.Warn("mqtt publish failed", "event", e.Name, "err", err)
			}
		}
	}
}

// Dropped returns how many events were discarded on a full queue.
func (p *EventPublisher) Dropped() uint64 { return p.dropped.Load() }

// Failed returns how many publishes returned an error.
func (p *EventPublisher) Failed() uint64 { return p.failed.Load() }

// Close drains the queue. Events handled afterwards are dropped.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()
	<-p.done
}
