package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/chat/memstore"
	"github.com/linnemanlabs/parley/internal/llm"
	"github.com/linnemanlabs/parley/internal/rag"
	"github.com/linnemanlabs/parley/internal/triage"
)

type stubAnswerer struct{}

func (stubAnswerer) Answer(context.Context, string, []llm.Message) (*rag.Answer, error) {
	return &rag.Answer{Text: "draft"}, nil
}

type stubProvider struct{ text string }

func (s stubProvider) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: s.text}, nil
}

type stubSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubSender) SendText(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func newTestPool(t *testing.T, opts Options) (*Pool, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := triage.NewService(
		store,
		stubAnswerer{},
		triage.NewAssessor(stubProvider{text: "10"}, nil),
		&stubSender{},
		nil,
		nil,
		triage.Options{},
	)
	return NewPool(svc, nil, nil, opts), store
}

func event(externalID, chatID string) *triage.Event {
	return &triage.Event{
		ExternalID: externalID,
		ChatID:     chatID,
		Phone:      "+49155" + chatID,
		Content:    "hello",
	}
}

func TestRoute_SameKeySameWorker(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, Options{Workers: 8})
	a := p.route("4915550001@c.us")
	for i := 0; i < 10; i++ {
		if got := p.route("4915550001@c.us"); got != a {
			t.Fatalf("route changed: %d vs %d", got, a)
		}
	}
}

func TestRoute_IndexInRange(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, Options{Workers: 3})
	// The empty key hashes above MaxInt32, catching any signed truncation
	// in the modulo.
	for _, key := range []string{"", "4915550001@c.us", "chat-a", "x"} {
		if got := p.route(key); got < 0 || got >= 3 {
			t.Errorf("route(%q) = %d, want in [0,3)", key, got)
		}
	}
}

func TestEnqueue_QueueFull(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, Options{Workers: 1, QueueSize: 1})

	if err := p.Enqueue(ProcessInbound{Event: event("m1", "c1")}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	err := p.Enqueue(ProcessInbound{Event: event("m2", "c1")})
	if err == nil {
		t.Fatal("expected ErrQueueFull")
	}
}

func TestPool_DrainsQueuedActionsOnShutdown(t *testing.T) {
	t.Parallel()

	p, store := newTestPool(t, Options{Workers: 2, QueueSize: 16})

	for _, ext := range []string{"m1", "m2", "m3"} {
		if err := p.Enqueue(ProcessInbound{Event: event(ext, "chat-a")}); err != nil {
			t.Fatalf("Enqueue %s: %v", ext, err)
		}
	}

	// Canceled before Run: workers must still drain what was queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	conv, ok, err := store.GetConversationByChatID(context.Background(), "chat-a")
	if err != nil || !ok {
		t.Fatalf("conversation missing: %v", err)
	}
	msgs, err := store.RecentMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("messages = %d, want all 3 drained", len(msgs))
	}
}

func TestPool_ProcessesWhileRunning(t *testing.T) {
	t.Parallel()

	p, store := newTestPool(t, Options{Workers: 2, QueueSize: 16, ErrorBackoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	if err := p.Enqueue(ProcessInbound{Event: event("m1", "chat-b")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, ok, _ := store.GetConversationByChatID(context.Background(), "chat-b"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("action not processed in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestReconciler_TickReopensDue(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := triage.NewService(
		store,
		stubAnswerer{},
		triage.NewAssessor(stubProvider{text: "10"}, nil),
		&stubSender{},
		nil,
		nil,
		triage.Options{},
	)
	ctx := context.Background()

	ing, err := svc.Ingest(ctx, event("m1", "chat-r"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	now := time.Now()
	if _, err := svc.ScheduleFollowup(ctx, ing.Conversation.ID, now.Add(-time.Minute)); err != nil {
		t.Fatalf("ScheduleFollowup: %v", err)
	}

	r := NewReconciler(svc, nil, 0)
	n, err := r.Tick(ctx, now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 {
		t.Errorf("reopened = %d, want 1", n)
	}
	conv, _, _ := store.GetConversation(ctx, ing.Conversation.ID)
	if conv.Status != chat.StatusUnread {
		t.Errorf("status = %q, want unread", conv.Status)
	}
}
