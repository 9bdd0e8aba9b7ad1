package llm

import (
	"encoding/json"
	"fmt"
)

// StreamChunk is the JSON payload carried by each "data: " line of a
// streamed completion.
type StreamChunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// Choice is one completion alternative. The chat function only ever
// produces a single choice.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Delta is the incremental part of a choice.
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Text returns choices[0].delta.content, or "" when any part of that path
// is absent or null.
func (c *StreamChunk) Text() string {
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return ""
	}
	return *c.Choices[0].Delta.Content
}

// ParseDelta decodes a data payload and returns its text delta. Valid JSON
// without a delta yields "" and no error.
func ParseDelta(payload []byte) (string, error) {
	var chunk StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", fmt.Errorf("decoding stream chunk: %w", err)
	}
	return chunk.Text(), nil
}
