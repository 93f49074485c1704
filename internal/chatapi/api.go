// Package chatapi exposes the triage pipeline over HTTP: the operator API
// under /api/v1 and the channel webhook under /webhook.
package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/triage"
	"github.com/linnemanlabs/parley/internal/ttlcache"
	"github.com/linnemanlabs/parley/internal/worker"
)

// TriageService defines the business operations chatapi needs.
type TriageService interface {
	NextConversations(ctx context.Context, limit int) ([]*chat.Conversation, error)
	ReadConversation(ctx context.Context, id string) (*chat.Conversation, []*chat.Message, error)
	UpdateStatus(ctx context.Context, id string, to chat.Status) (*chat.Conversation, error)
	ScheduleFollowup(ctx context.Context, id string, at time.Time) (*chat.Conversation, error)
	CreateDraft(ctx context.Context, messageID, text string) (*chat.Response, error)
	EditResponse(ctx context.Context, id, text string) (*chat.Response, error)
	SendResponse(ctx context.Context, id string) (*triage.SendResult, error)
	GetResponse(ctx context.Context, id string) (*chat.Response, bool, error)
	ListTemplates(ctx context.Context, category string, tags []string) ([]*chat.Template, error)
	Stats(ctx context.Context, days int) (*chat.Stats, error)
}

// Queue accepts asynchronous triage work.
type Queue interface {
	Enqueue(a worker.Action) error
}

// WebhookConfig holds channel webhook settings.
type WebhookConfig struct {
	// VerifyToken answers the subscription handshake.
	VerifyToken string
	// AppSecret verifies delivery signatures; empty disables verification.
	AppSecret string
	// NumberFilter is a glob allowlist of sender numbers; empty allows all.
	NumberFilter []string
}

const seenCacheSize = 4096

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	svc     TriageService
	queue   Queue
	webhook WebhookConfig
	// seen sheds replayed webhook deliveries before they reach the queue.
	seen *ttlcache.Cache
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, queue Queue, webhook WebhookConfig) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if queue == nil {
		panic(xerrors.New("queue is required"))
	}
	return &API{
		logger:  logger,
		svc:     svc,
		queue:   queue,
		webhook: webhook,
		seen:    ttlcache.New(seenCacheSize, 10*time.Minute),
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", a.handlePostEvent)
		r.Get("/conversations", a.handleListConversations)
		r.Get("/conversations/{id}", a.handleGetConversation)
		r.Put("/conversations/{id}/status", a.handleUpdateStatus)
		r.Post("/conversations/{id}/followup", a.handleScheduleFollowup)
		r.Post("/responses", a.handleCreateDraft)
		r.Get("/responses/{id}", a.handleGetResponse)
		r.Put("/responses/{id}", a.handleEditResponse)
		r.Post("/responses/{id}/send", a.handleSendResponse)
		r.Get("/templates", a.handleListTemplates)
		r.Get("/stats", a.handleStats)
	})
	r.Get("/webhook", a.handleWebhookVerify)
	r.Post("/webhook", a.handleWebhookDelivery)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps business errors onto HTTP statuses.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrConflict):
		a.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrUpstream):
		a.logger.Error(r.Context(), err, "upstream failure")
		a.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream failure"})
	case errors.Is(err, worker.ErrQueueFull):
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
	default:
		a.logger.Error(r.Context(), err, "internal error")
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
