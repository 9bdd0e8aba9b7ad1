// Package chat is the client side of a streamed matchbot conversation.
//
// A Session owns the ordered list of turns, sends the whole conversation to
// the chat function, and grows the assistant's reply in place as deltas
// arrive on the event stream. Every change is published to an optional
// listener as an immutable Snapshot, so a presentation layer can render
// progress without touching Session state.
package chat

// Role identifies the author of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation.
type Turn struct {
	Role    Role
	Content string
}

// State is the lifecycle position of the Session's current or most recent
// exchange.
//
//	Idle -> Sending -> AwaitingHeaders -> Streaming -> Completed
//	                                                -> Failed
//	                                                -> Cancelled
//
// Sending and AwaitingHeaders may also move straight to Failed or Cancelled.
// A terminal state is reported until the next exchange begins; it is not
// busy and accepts a new message exactly like Idle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingHeaders
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingHeaders:
		return "awaiting_headers"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends an exchange.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Snapshot is a point-in-time copy of the Session as seen by a listener.
type Snapshot struct {
	Conversation []Turn
	Busy         bool
	State        State

	seq uint64
}
