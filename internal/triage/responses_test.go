package triage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/parley/internal/chat"
)

// seedHeld runs one low-confidence event so a draft is waiting for review.
func seedHeld(t *testing.T, svc *Service) *ProcessResult {
	t.Helper()
	res, err := svc.Process(context.Background(), event("wamid.held"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Route != chat.StatusWaitingManual {
		t.Fatalf("seed route = %q, want waiting_for_manual", res.Route)
	}
	return res
}

func TestCreateDraft_UnknownMessage(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "draft", "10")
	if _, err := svc.CreateDraft(context.Background(), "missing", "hello"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateDraft_EmptyText(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "draft", "10")
	if _, err := svc.CreateDraft(context.Background(), "any", ""); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestEditResponse_OverridesText(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "generated text", "10")
	held := seedHeld(t, svc)

	edited, err := svc.EditResponse(context.Background(), held.Response.ID, "better text")
	if err != nil {
		t.Fatalf("EditResponse: %v", err)
	}
	if edited.Status != chat.ResponseEdited {
		t.Errorf("status = %v, want edited", edited.Status)
	}
	if edited.Text() != "better text" {
		t.Errorf("Text() = %q, want the edit to win", edited.Text())
	}
	if edited.Generated != "generated text" {
		t.Error("generated text must be preserved for audit")
	}
}

func TestEditResponse_SentIsImmutable(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "draft", "10")
	held := seedHeld(t, svc)

	if _, err := svc.SendResponse(context.Background(), held.Response.ID); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	if _, err := svc.EditResponse(context.Background(), held.Response.ID, "too late"); !errors.Is(err, chat.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestSendResponse_SettlesConversation(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, "the answer", "10")
	held := seedHeld(t, svc)
	ctx := context.Background()

	sr, err := svc.SendResponse(ctx, held.Response.ID)
	if err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	if sr.Outcome != SendOutcomeSent {
		t.Fatalf("outcome = %q, want sent", sr.Outcome)
	}
	if sr.Response.SentAt == nil {
		t.Error("SentAt not set")
	}

	conv, _, _ := deps.store.GetConversation(ctx, held.Ingest.Conversation.ID)
	if conv.Status != chat.StatusAnswered {
		t.Errorf("conversation status = %q, want answered", conv.Status)
	}
	msg, _, _ := deps.store.GetMessage(ctx, held.Ingest.Message.ID)
	if !msg.Processed {
		t.Error("inbound message not marked processed")
	}

	// Outbound message recorded with a synthetic external ID.
	msgs, _ := deps.store.RecentMessages(ctx, conv.ID, 10)
	var out *chat.Message
	for _, m := range msgs {
		if m.Direction == chat.DirectionOutgoing {
			out = m
		}
	}
	if out == nil {
		t.Fatal("no outbound message recorded")
	}
	if !strings.HasPrefix(out.ExternalID, "out_"+held.Response.ID+"_") {
		t.Errorf("outbound external id = %q", out.ExternalID)
	}
	if out.Content != "the answer" {
		t.Errorf("outbound content = %q", out.Content)
	}
}

func TestSendResponse_SendsEditOverGenerated(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, "generated", "10")
	held := seedHeld(t, svc)
	ctx := context.Background()

	if _, err := svc.EditResponse(ctx, held.Response.ID, "edited"); err != nil {
		t.Fatalf("EditResponse: %v", err)
	}
	if _, err := svc.SendResponse(ctx, held.Response.ID); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	if deps.sender.sent[len(deps.sender.sent)-1] != "edited" {
		t.Errorf("sent %q, want the edited text", deps.sender.sent[len(deps.sender.sent)-1])
	}
}

func TestSendResponse_DoubleSendIsNoop(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, "draft", "10")
	held := seedHeld(t, svc)
	ctx := context.Background()

	if _, err := svc.SendResponse(ctx, held.Response.ID); err != nil {
		t.Fatalf("first SendResponse: %v", err)
	}
	sr, err := svc.SendResponse(ctx, held.Response.ID)
	if err != nil {
		t.Fatalf("second SendResponse: %v", err)
	}
	if sr.Outcome != SendOutcomeAlreadySent {
		t.Errorf("outcome = %q, want already_sent", sr.Outcome)
	}
	if deps.sender.count() != 1 {
		t.Errorf("sends = %d, want exactly 1", deps.sender.count())
	}
}

func TestSendResponse_TransportFailureLeavesStateRetryable(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, "draft", "10")
	held := seedHeld(t, svc)
	ctx := context.Background()

	deps.sender.err = errors.New("gateway timeout")
	sr, err := svc.SendResponse(ctx, held.Response.ID)
	if !errors.Is(err, chat.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
	if sr.Outcome != SendOutcomeFailed {
		t.Errorf("outcome = %q, want failed", sr.Outcome)
	}

	conv, _, _ := deps.store.GetConversation(ctx, held.Ingest.Conversation.ID)
	if conv.Status != chat.StatusWaitingManual {
		t.Errorf("conversation status = %q, must be untouched", conv.Status)
	}
	msg, _, _ := deps.store.GetMessage(ctx, held.Ingest.Message.ID)
	if msg.Processed {
		t.Error("inbound message must stay unprocessed on failure")
	}

	// Failed responses stay retryable.
	deps.sender.err = nil
	sr, err = svc.SendResponse(ctx, held.Response.ID)
	if err != nil {
		t.Fatalf("retry SendResponse: %v", err)
	}
	if sr.Outcome != SendOutcomeSent {
		t.Errorf("retry outcome = %q, want sent", sr.Outcome)
	}
}

func TestSendResponse_UnknownResponse(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "draft", "10")
	if _, err := svc.SendResponse(context.Background(), "missing"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
