package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/llm"
)

// DefaultSystemPrompt grounds the completion in retrieved passages. The
// {context} placeholder is replaced with the joined documents.
const DefaultSystemPrompt = `You are an expert assistant. Use the following context to answer:

{context}

Answer conversationally. If you don't know the answer based on the provided context, say so.`

const (
	defaultMaxTokens   = 256
	defaultTemperature = 0.5
)

// Options tune answer generation. Zero values fall back to defaults.
type Options struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// ResponsePrefix is appended to every generated answer when set
	// (disclaimer text, signature, etc).
	ResponsePrefix string
}

// Answer is one generated draft plus the material it was grounded on.
type Answer struct {
	Text         string
	Sources      []string
	Context      string
	InputTokens  int
	OutputTokens int
}

// Engine turns an inbound query plus conversation history into a grounded
// draft answer: retrieve passages, build the system prompt, complete.
type Engine struct {
	retriever Retriever
	provider  llm.Provider
	logger    log.Logger
	opts      Options
}

// NewEngine creates an answer engine. A nil retriever disables retrieval.
func NewEngine(retriever Retriever, provider llm.Provider, logger log.Logger, opts Options) *Engine {
	if retriever == nil {
		retriever = Nop{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	return &Engine{
		retriever: retriever,
		provider:  provider,
		logger:    logger,
		opts:      opts,
	}
}

// Answer generates a draft reply to query. History must be in chronological
// order; the current query is appended as the final user turn.
func (e *Engine) Answer(ctx context.Context, query string, history []llm.Message) (*Answer, error) {
	ret, err := e.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve: %w", chat.ErrUpstream, err)
	}

	docContext := strings.Join(ret.Documents, "\n\n")
	system := strings.ReplaceAll(e.opts.SystemPrompt, "{context}", docContext)

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: query})

	resp, err := e.provider.Complete(ctx, &llm.Request{
		System:      system,
		Messages:    msgs,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: complete: %w", chat.ErrUpstream, err)
	}

	text := resp.Text
	if e.opts.ResponsePrefix != "" {
		text = text + "\n\n" + e.opts.ResponsePrefix
	}

	e.logger.Info(ctx, "answer generated",
		"documents", len(ret.Documents),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)

	return &Answer{
		Text:         text,
		Sources:      dedupSources(ret.Sources),
		Context:      docContext,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// dedupSources drops repeated source identifiers, keeping first-seen order.
func dedupSources(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
