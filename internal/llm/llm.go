// Package llm defines the completion provider contract used for answer
// generation and confidence self-assessment.
package llm

import "context"

// Provider is the interface for any completion backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Message is a single chat turn. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents one completion call.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the provider's reply plus token accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}
