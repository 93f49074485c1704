// Package rag holds the retrieval collaborator contract and the answer
// generation engine that grounds drafted replies in retrieved passages.
package rag

import "context"

// Retrieval is the outcome of a knowledge lookup: passage texts plus the
// source identifiers they came from, index-aligned where the backend
// provides that.
type Retrieval struct {
	Documents []string `json:"documents"`
	Sources   []string `json:"sources"`
}

// Retriever is the narrow contract to the vector search collaborator. Its
// implementation (index, embeddings, similarity metric) is outside this
// service.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (*Retrieval, error)
}

// Nop is a retriever that always returns an empty retrieval. Used when no
// retrieval endpoint is configured; answers then rely on conversation
// history alone.
type Nop struct{}

// Retrieve implements Retriever.
func (Nop) Retrieve(context.Context, string) (*Retrieval, error) {
	return &Retrieval{}, nil
}
