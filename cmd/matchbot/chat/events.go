package chatcmder

import (
	"github.com/papercomputeco/matchbot/pkg/chat"
	"github.com/papercomputeco/matchbot/pkg/eventstream"
)

const componentClient = "client"

// exchangeEvent converts a finished exchange into its telemetry event.
func exchangeEvent(function string, ex chat.Exchange) *eventstream.ExchangeEvent {
	meta := eventstream.ExchangeMeta{
		RequestID:  ex.ID.String(),
		Outcome:    ex.Outcome.String(),
		HTTPStatus: ex.StatusCode,
		StartedAt:  ex.StartedAt.UTC(),
		DurationMs: ex.Duration.Milliseconds(),
		Frames:     ex.Deltas,
		Malformed:  ex.Malformed,
		Bytes:      int64(ex.Bytes),
		SawDone:    ex.SawDone,
	}
	if ex.Err != nil {
		meta.Error = ex.Err.Error()
	}

	return eventstream.NewExchangeEvent(
		eventstream.EventSource{Component: componentClient, Function: function},
		meta,
	)
}
