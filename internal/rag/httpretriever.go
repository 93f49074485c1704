package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const retrieveTimeout = 30 * time.Second

// HTTPRetriever queries a retrieval service over HTTP. The service accepts
// POST /query with {"query": ..., "top_k": ...} and answers with
// {"documents": [...], "sources": [...]}.
type HTTPRetriever struct {
	endpoint   string
	topK       int
	httpClient *http.Client
}

// NewHTTPRetriever creates a retriever client for the given endpoint.
func NewHTTPRetriever(endpoint string, topK int) *HTTPRetriever {
	return &HTTPRetriever{
		endpoint: endpoint,
		topK:     topK,
		httpClient: &http.Client{
			Timeout: retrieveTimeout,
		},
	}
}

// Retrieve fetches the passages most relevant to the query.
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string) (*Retrieval, error) {
	payload, err := json.Marshal(map[string]any{
		"query": query,
		"top_k": r.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval query failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval returned %d: %s", resp.StatusCode, string(body))
	}

	var out Retrieval
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}
