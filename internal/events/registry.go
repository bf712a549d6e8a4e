package events

import "fmt"

// Event names published by the dialogue engine and its host.
const (
	ConversationStarted = "conversation.started"
	ConversationWaiting = "conversation.waiting"
	ConversationEnded   = "conversation.ended"
	TurnStarted         = "turn.started"
	TurnEnded           = "turn.ended"
	SlotGranted         = "slot.granted"
	SlotReleased        = "slot.released"
	PromptOpened        = "prompt.opened"
	GraphReloaded       = "graph.reloaded"
	SystemStartup       = "system.startup"
	SystemShutdown      = "system.shutdown"
	SystemError         = "system.error"
)

var allowedEvents = map[string]struct{}{
	// conversation
	ConversationStarted: {},
	ConversationWaiting: {},
	ConversationEnded:   {},

	// turn
	TurnStarted:  {},
	TurnEnded:    {},
	PromptOpened: {},

	// slot
	SlotGranted:  {},
	SlotReleased: {},

	// graph
	GraphReloaded: {},

	// system
	SystemStartup:  {},
	SystemShutdown: {},
	SystemError:    {},
}

// ErrUnknownEvent is returned by Validate for unregistered names.
var ErrUnknownEvent = fmt.Errorf("unknown event")

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	return nil
}
