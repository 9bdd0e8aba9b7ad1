package llm

// ChatRequest is the body POSTed to the chat function. The whole
// conversation is sent on every exchange, oldest message first.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}
