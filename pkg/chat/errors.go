package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrBusy is returned by SendMessage while another exchange is in flight.
var ErrBusy = errors.New("an exchange is already in progress")

// ConfigError reports that the endpoint or credential is missing. It is
// returned before any connection is attempted.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "chat is not configured: missing " + strings.Join(e.Missing, " and ")
}

// TransportError reports a failed exchange: a non-2xx response, a request
// that could not be sent, or a body read that failed mid-stream.
type TransportError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := e.Message
		if msg == "" {
			msg = http.StatusText(e.StatusCode)
		}
		return fmt.Sprintf("server error %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("chat transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
