// Package triage implements the human-in-the-loop message triage pipeline:
// ingestion and dedup, confidence-gated routing between auto-answer and
// manual review, the response lifecycle, and follow-up scheduling.
package triage

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/llm"
	"github.com/linnemanlabs/parley/internal/rag"
	"github.com/linnemanlabs/parley/internal/transport"
)

const (
	// DefaultConfidenceThreshold is the minimum assessment score for a draft
	// to be sent without human review.
	DefaultConfidenceThreshold = 70

	// DefaultContextMessages is how much recent history feeds generation.
	DefaultContextMessages = 10
)

// Answerer produces a grounded draft reply for a query given prior turns.
type Answerer interface {
	Answer(ctx context.Context, query string, history []llm.Message) (*rag.Answer, error)
}

// Options tune the triage pipeline. Zero values fall back to defaults.
type Options struct {
	ConfidenceThreshold float64
	ContextMessages     int
}

// Service is the business boundary for triage operations. All state
// transitions and lifecycle rules live here; the store only persists.
type Service struct {
	store      chat.Store
	answerer   Answerer
	assessor   *Assessor
	sender     transport.Sender
	logger     log.Logger
	metrics    *Metrics
	dontAnswer *dontAnswerSet
	opts       Options

	now func() time.Time
}

// NewService creates a triage service. metrics may be nil.
func NewService(store chat.Store, answerer Answerer, assessor *Assessor, sender transport.Sender, logger log.Logger, metrics *Metrics, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if opts.ContextMessages <= 0 {
		opts.ContextMessages = DefaultContextMessages
	}
	return &Service{
		store:      store,
		answerer:   answerer,
		assessor:   assessor,
		sender:     sender,
		logger:     logger,
		metrics:    metrics,
		dontAnswer: newDontAnswerSet(),
		opts:       opts,
		now:        time.Now,
	}
}

// GetConversation retrieves a conversation by ID.
func (s *Service) GetConversation(ctx context.Context, id string) (*chat.Conversation, bool, error) {
	return s.store.GetConversation(ctx, id)
}

// GetResponse retrieves a response by ID.
func (s *Service) GetResponse(ctx context.Context, id string) (*chat.Response, bool, error) {
	return s.store.GetResponse(ctx, id)
}

// ListTemplates returns active reply templates matching the filter.
func (s *Service) ListTemplates(ctx context.Context, category string, tags []string) ([]*chat.Template, error) {
	return s.store.ListTemplates(ctx, category, tags)
}

// Stats aggregates conversation activity over the trailing number of days.
func (s *Service) Stats(ctx context.Context, days int) (*chat.Stats, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().AddDate(0, 0, -days)
	return s.store.Stats(ctx, since)
}
