package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/matchbot/pkg/llm"
	"github.com/papercomputeco/matchbot/pkg/sse"
)

// maxErrorBody caps how much of a non-2xx body is read.
const maxErrorBody = 64 << 10

// Exchange records one request/response cycle for telemetry.
type Exchange struct {
	ID         uuid.UUID
	StartedAt  time.Time
	Duration   time.Duration
	Outcome    State
	StatusCode int

	// Deltas counts non-empty deltas applied to the assistant turn.
	Deltas int

	// Malformed counts data frames whose payload was not valid JSON.
	Malformed int

	// Bytes is the number of body bytes read.
	Bytes int

	// SawDone is set when the stream ended with the terminal marker.
	SawDone bool

	Err error

	reachedNetwork bool
}

func (s *Session) exchange(ctx context.Context, ex *Exchange, history []llm.Message) error {
	var missing []string
	if s.endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if s.apiKey == "" {
		missing = append(missing, "api key")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	ex.reachedNetwork = true

	body, err := json.Marshal(llm.ChatRequest{Messages: history})
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("X-Request-Id", ex.ID.String())

	s.setState(StateAwaitingHeaders)
	s.logger.Debug("sending chat request", "request_id", ex.ID.String(), "turns", len(history))

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	ex.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			StatusCode: resp.StatusCode,
			Message:    llm.ErrorMessage(raw),
		}
	}

	s.openAssistant()
	return s.stream(ctx, ex, resp.Body)
}

// stream reads the body until end of stream, the terminal marker,
// cancellation or a read failure.
func (s *Session) stream(ctx context.Context, ex *Exchange, body io.Reader) error {
	dec := sse.NewDecoder()
	buf := make([]byte, s.readSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := body.Read(buf)
		if n > 0 {
			ex.Bytes += n
			if s.apply(ctx, ex, dec.Feed(buf[:n])) {
				return ctx.Err()
			}
		}

		if errors.Is(err, io.EOF) {
			if s.apply(ctx, ex, dec.Flush()) {
				return ctx.Err()
			}
			if rest := dec.Residual(); rest != "" {
				s.logger.Debug("discarding unterminated line at end of stream",
					"request_id", ex.ID.String(), "bytes", len(rest))
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Err: fmt.Errorf("reading stream: %w", err)}
		}
	}
}

// apply handles complete lines in order. It returns true when reading must
// stop: the terminal marker was seen or the exchange was cancelled. Lines
// after the terminal marker are never applied.
func (s *Session) apply(ctx context.Context, ex *Exchange, lines []string) bool {
	for _, line := range lines {
		if ctx.Err() != nil {
			return true
		}

		frame := sse.Classify(line)
		switch frame.Kind {
		case sse.FrameDone:
			ex.SawDone = true
			return true
		case sse.FrameData:
			delta, err := llm.ParseDelta([]byte(frame.Payload))
			if err != nil {
				ex.Malformed++
				s.logger.Warn("skipping malformed stream frame",
					"request_id", ex.ID.String(), "error", err)
				continue
			}
			if delta == "" {
				continue
			}
			ex.Deltas++
			s.appendDelta(delta)
		}
	}
	return false
}
