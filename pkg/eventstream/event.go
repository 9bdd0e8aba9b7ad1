// Package eventstream defines the exchange telemetry events matchbot emits
// and the Publisher interface their sinks implement.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeExchangeCompleted is emitted once per finished chat exchange,
	// whatever its outcome.
	EventTypeExchangeCompleted = "matchbot.exchange.completed"
)

// ExchangeEvent is a transport-neutral event payload describing one
// streamed exchange. Conversation text is never included.
type ExchangeEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Source        EventSource  `json:"source"`
	Exchange      ExchangeMeta `json:"exchange"`
}

// EventSource identifies which component observed the exchange.
type EventSource struct {
	// Component is "client" or "relay".
	Component string `json:"component"`
	Function  string `json:"function"`
}

// ExchangeMeta captures the lifecycle and stream statistics of an exchange.
type ExchangeMeta struct {
	RequestID  string    `json:"request_id"`
	Outcome    string    `json:"outcome"`
	HTTPStatus int       `json:"http_status,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Frames     int       `json:"frames"`
	Malformed  int       `json:"malformed"`
	Bytes      int64     `json:"bytes"`
	SawDone    bool      `json:"saw_done"`
	Error      string    `json:"error,omitempty"`
}

// NewExchangeEvent stamps a v1 event with a fresh id and emission time.
func NewExchangeEvent(source EventSource, meta ExchangeMeta) *ExchangeEvent {
	return &ExchangeEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeExchangeCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Exchange:      meta,
	}
}
