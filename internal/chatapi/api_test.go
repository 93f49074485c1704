package chatapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/triage"
	"github.com/linnemanlabs/parley/internal/worker"
)

// mockService implements TriageService with canned results.
type mockService struct {
	conv     *chat.Conversation
	msgs     []*chat.Message
	resp     *chat.Response
	sendRes  *triage.SendResult
	sendErr  error
	statusTo chat.Status
	err      error
}

func (m *mockService) NextConversations(context.Context, int) ([]*chat.Conversation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []*chat.Conversation{m.conv}, nil
}

func (m *mockService) ReadConversation(context.Context, string) (*chat.Conversation, []*chat.Message, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.conv, m.msgs, nil
}

func (m *mockService) UpdateStatus(_ context.Context, _ string, to chat.Status) (*chat.Conversation, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.statusTo = to
	return m.conv, nil
}

func (m *mockService) ScheduleFollowup(context.Context, string, time.Time) (*chat.Conversation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.conv, nil
}

func (m *mockService) CreateDraft(context.Context, string, string) (*chat.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockService) EditResponse(context.Context, string, string) (*chat.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockService) SendResponse(context.Context, string) (*triage.SendResult, error) {
	return m.sendRes, m.sendErr
}

func (m *mockService) GetResponse(context.Context, string) (*chat.Response, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return m.resp, m.resp != nil, nil
}

func (m *mockService) ListTemplates(context.Context, string, []string) ([]*chat.Template, error) {
	return nil, m.err
}

func (m *mockService) Stats(context.Context, int) (*chat.Stats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &chat.Stats{TotalConversations: 3}, nil
}

// mockQueue records enqueued actions.
type mockQueue struct {
	mu      sync.Mutex
	actions []worker.Action
	err     error
}

func (q *mockQueue) Enqueue(a worker.Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.actions = append(q.actions, a)
	return nil
}

func (q *mockQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func newTestAPI(svc *mockService, queue *mockQueue, webhook WebhookConfig) http.Handler {
	if svc.conv == nil {
		svc.conv = &chat.Conversation{ID: "conv1", ChatID: "chat1", Status: chat.StatusUnread}
	}
	r := chi.NewRouter()
	New(nil, svc, queue, webhook).RegisterRoutes(r)
	return r
}

func TestPostEvent_Queued(t *testing.T) {
	t.Parallel()

	queue := &mockQueue{}
	h := newTestAPI(&mockService{}, queue, WebhookConfig{})

	body := `{"external_id":"m1","chat_id":"c1","phone":"+491555","content":"hi"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if queue.len() != 1 {
		t.Errorf("queued = %d, want 1", queue.len())
	}
}

func TestPostEvent_QueueFull(t *testing.T) {
	t.Parallel()

	queue := &mockQueue{err: worker.ErrQueueFull}
	h := newTestAPI(&mockService{}, queue, WebhookConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events",
		strings.NewReader(`{"external_id":"m1","chat_id":"c1","phone":"p","content":"hi"}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestUpdateStatus_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: bad", chat.ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: conversation", chat.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("%w: illegal transition", chat.ErrConflict), http.StatusConflict},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestAPI(&mockService{err: tc.err}, &mockQueue{}, WebhookConfig{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/conversations/conv1/status",
				strings.NewReader(`{"status":"answered"}`)))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestUpdateStatus_PassesStatusThrough(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	h := newTestAPI(svc, &mockQueue{}, WebhookConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/conversations/conv1/status",
		strings.NewReader(`{"status":"dont_answer"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.statusTo != chat.StatusDontAnswer {
		t.Errorf("service got status %q", svc.statusTo)
	}
}

func TestGetConversation_ReturnsMessages(t *testing.T) {
	t.Parallel()

	svc := &mockService{msgs: []*chat.Message{{ID: "m1", Content: "hi"}}}
	h := newTestAPI(svc, &mockQueue{}, WebhookConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/conv1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got struct {
		Conversation *chat.Conversation `json:"conversation"`
		Messages     []*chat.Message    `json:"messages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Conversation == nil || got.Conversation.ID != "conv1" {
		t.Errorf("conversation = %+v", got.Conversation)
	}
	if len(got.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(got.Messages))
	}
}

func TestSendResponse_Outcomes(t *testing.T) {
	t.Parallel()

	t.Run("sent", func(t *testing.T) {
		t.Parallel()
		svc := &mockService{sendRes: &triage.SendResult{Outcome: triage.SendOutcomeSent, Response: &chat.Response{ID: "r1"}}}
		h := newTestAPI(svc, &mockQueue{}, WebhookConfig{})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/responses/r1/send", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()
		svc := &mockService{
			sendRes: &triage.SendResult{Outcome: triage.SendOutcomeFailed, Response: &chat.Response{ID: "r1"}},
			sendErr: fmt.Errorf("%w: send: gateway down", chat.ErrUpstream),
		}
		h := newTestAPI(svc, &mockQueue{}, WebhookConfig{})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/responses/r1/send", nil))
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
		var got struct {
			Outcome string `json:"outcome"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Outcome != "failed" {
			t.Errorf("outcome = %q, want failed", got.Outcome)
		}
	})

	t.Run("unknown response", func(t *testing.T) {
		t.Parallel()
		svc := &mockService{sendErr: fmt.Errorf("%w: response", chat.ErrNotFound)}
		h := newTestAPI(svc, &mockQueue{}, WebhookConfig{})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/responses/missing/send", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestWebhookVerify(t *testing.T) {
	t.Parallel()

	h := newTestAPI(&mockService{}, &mockQueue{}, WebhookConfig{VerifyToken: "tok"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=12345", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Errorf("handshake = %d %q, want 200 with challenge", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad token = %d, want 403", rec.Code)
	}
}

func webhookBody(externalID, from string) string {
	return fmt.Sprintf(`{"entry":[{"changes":[{"value":{"messages":[
		{"from":%q,"id":%q,"timestamp":"1700000000","type":"text","text":{"body":"hi"}}
	]}}]}]}`, from, externalID)
}

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookDelivery_QueuesEvents(t *testing.T) {
	t.Parallel()

	queue := &mockQueue{}
	h := newTestAPI(&mockService{}, queue, WebhookConfig{AppSecret: "s3cret"})

	body := webhookBody("wamid.1", "4915550001")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody("s3cret", body))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if queue.len() != 1 {
		t.Errorf("queued = %d, want 1", queue.len())
	}
}

func TestWebhookDelivery_BadSignature(t *testing.T) {
	t.Parallel()

	queue := &mockQueue{}
	h := newTestAPI(&mockService{}, queue, WebhookConfig{AppSecret: "s3cret"})

	body := webhookBody("wamid.1", "4915550001")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody("wrong", body))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if queue.len() != 0 {
		t.Errorf("queued = %d, want 0", queue.len())
	}
}

func TestWebhookDelivery_ReplayShedBeforeQueue(t *testing.T) {
	t.Parallel()

	queue := &mockQueue{}
	h := newTestAPI(&mockService{}, queue, WebhookConfig{})

	body := webhookBody("wamid.replay", "4915550001")
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}

	if queue.len() != 1 {
		t.Errorf("queued = %d, want 1 despite replays", queue.len())
	}
}

func TestWebhookDelivery_NumberFilter(t *testing.T) {
	t.Parallel()

	queue := &mockQueue{}
	h := newTestAPI(&mockService{}, queue, WebhookConfig{NumberFilter: []string{"4916*"}})

	body := webhookBody("wamid.f1", "4915550001")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if queue.len() != 0 {
		t.Errorf("queued = %d, want 0 for filtered sender", queue.len())
	}
}
