// Package llm holds the wire types exchanged with the matchbot chat
// function: the request body and the OpenAI style completion chunks it
// streams back.
package llm

// Message is one conversation entry in a chat request.
type Message struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"`
}
