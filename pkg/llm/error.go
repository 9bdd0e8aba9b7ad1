package llm

import (
	"encoding/json"
	"strings"
)

// maxErrorBody bounds how much of an unparseable error body is echoed back.
const maxErrorBody = 512

// ErrorResponse covers the error body shapes returned by the chat function
// and the gateway in front of it.
type ErrorResponse struct {
	Error   json.RawMessage `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// ErrorMessage extracts a human readable message from a non-2xx response
// body. It understands {"error":{"message":...}}, {"error":"..."} and
// {"message":...}, and falls back to the trimmed raw body.
func ErrorMessage(body []byte) string {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		if len(resp.Error) > 0 {
			var detail errorDetail
			if json.Unmarshal(resp.Error, &detail) == nil && detail.Message != "" {
				return detail.Message
			}
			var s string
			if json.Unmarshal(resp.Error, &s) == nil && s != "" {
				return s
			}
		}
		if resp.Message != "" {
			return resp.Message
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return msg
}
