package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientDialogue/internal/dialogue"
)

// Subscriber is the part of Client the bridge subscribes through.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Controller receives the commands carried by inbound messages.
type Controller interface {
	Start(graphID string, start dialogue.NodeID, opts dialogue.StartOptions) (dialogue.ConversationID, error)
	Advance(id dialogue.ConversationID) bool
	Interrupt(id dialogue.ConversationID) bool
	Skip(id dialogue.ConversationID) bool
	Cancel(id dialogue.ConversationID) bool
	Choose(id dialogue.ConversationID, index int) bool
	Signal(id dialogue.ConversationID, name string) bool
	SignalAll(name string) int
	SetFact(name string, v bool)
	SetValue(name string, v float64)
	AddTag(raw string) error
	RemoveTag(raw string) error
}

// StartRequest is the payload of <prefix>/start.
type StartRequest struct {
	Graph    string  `json:"graph"`
	Start    string  `json:"start,omitempty"`
	Priority int     `json:"priority,omitempty"`
	Slot     string  `json:"slot,omitempty"`
	Seed     *uint32 `json:"seed,omitempty"`
}

// Bridge routes inbound MQTT messages to a Controller.
type Bridge struct {
	sub    Subscriber
	ctrl   Controller
	prefix string
	logger *slog.Logger
}

func NewBridge(sub Subscriber, ctrl Controller, prefix string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		sub:    sub,
		ctrl:   ctrl,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Topics returns the subscription filters used by Start.
func (b *Bridge) Topics() []string {
	return []string{
		b.prefix + "/start",
		b.prefix + "/conversations/+/+",
		b.prefix + "/signals/+",
		b.prefix + "/facts/+",
		b.prefix + "/tags/+",
	}
}

// Start subscribes to every inbound topic.
func (b *Bridge) Start() error {
	for _, topic := range b.Topics() {
		if err := b.sub.Subscribe(topic, b.handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (b *Bridge) handle(_ paho.Client, msg paho.Message) {
	if err := b.Dispatch(msg.Topic(), msg.Payload()); err != nil {
		b.logger.Warn("mqtt message rejected", "topic", msg.Topic(), "err", err)
	}
}

// Dispatch applies one message. Commands the engine ignores (for example an
// interrupt on a non-interruptible turn) are not errors.
func (b *Bridge) Dispatch(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return fmt.Errorf("topic outside prefix %q", b.prefix)
	}
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] == "start":
		var req StartRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("invalid start payload: %w", err)
		}
		if req.Graph == "" {
			return fmt.Errorf("start payload without graph")
		}
		id, err := b.ctrl.Start(req.Graph, dialogue.NodeID(req.Start), dialogue.StartOptions{
			Priority: req.Priority,
			Slot:     req.Slot,
			Seed:     req.Seed,
		})
		if err != nil {
			return err
		}
		b.logger.Debug("conversation started over mqtt", "conversation_id", id, "graph_id", req.Graph)
		return nil

	case len(parts) == 3 && parts[0] == "conversations":
		return b.conversation(dialogue.ConversationID(parts[1]), parts[2], payload)

	case len(parts) == 2 && parts[0] == "signals":
		n := b.ctrl.SignalAll(parts[1])
		b.logger.Debug("signal broadcast", "signal", parts[1], "resumed", n)
		return nil

	case len(parts) == 2 && parts[0] == "facts":
		return b.fact(parts[1], payload)

	case len(parts) == 2 && parts[0] == "tags":
		return b.tag(parts[1], payload)
	}
	return fmt.Errorf("unknown topic")
}

func (b *Bridge) conversation(id dialogue.ConversationID, action string, payload []byte) error {
	var accepted bool
	switch action {
	case "advance":
		accepted = b.ctrl.Advance(id)
	case "interrupt":
		accepted = b.ctrl.Interrupt(id)
	case "skip":
		accepted = b.ctrl.Skip(id)
	case "cancel":
		accepted = b.ctrl.Cancel(id)
	case "choose":
		index, err := parseIndex(payload)
		if err != nil {
			return err
		}
		accepted = b.ctrl.Choose(id, index)
	case "signal":
		name := parseName(payload)
		if name == "" {
			return fmt.Errorf("signal payload without name")
		}
		accepted = b.ctrl.Signal(id, name)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	b.logger.Debug("mqtt command", "conversation_id", id, "action", action, "accepted", accepted)
	return nil
}

// fact accepts a JSON boolean or number.
func (b *Bridge) fact(name string, payload []byte) error {
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("invalid fact payload: %w", err)
	}
	switch val := v.(type) {
	case bool:
		b.ctrl.SetFact(name, val)
	case float64:
		b.ctrl.SetValue(name, val)
	default:
		return fmt.Errorf("fact %s must be a boolean or number", name)
	}
	return nil
}

// tag adds the tag for an empty, true or "add" payload and removes it for
// false or "remove".
func (b *Bridge) tag(raw string, payload []byte) error {
	switch strings.Trim(strings.TrimSpace(string(payload)), `"`) {
	case "", "true", "add":
		return b.ctrl.AddTag(raw)
	case "false", "remove":
		return b.ctrl.RemoveTag(raw)
	}
	return fmt.Errorf("invalid tag payload for %s", raw)
}

// parseIndex accepts {"index": n} or a bare number.
func parseIndex(payload []byte) (int, error) {
	var body struct {
		Index *int `json:"index"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Index != nil {
		return *body.Index, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return 0, fmt.Errorf("invalid choice payload")
	}
	return n, nil
}

// parseName accepts {"name": "..."} or a bare string.
func parseName(payload []byte) string {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Name != "" {
		return body.Name
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(payload))
}
