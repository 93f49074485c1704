package triage

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/llm"
)

// ProcessResult is the outcome of running one inbound event through the
// full pipeline.
type ProcessResult struct {
	Ingest   *IngestResult
	Response *chat.Response
	// Route is where the conversation landed: waiting_for_user on
	// auto-send, waiting_for_manual when held for review, empty when the
	// event was a duplicate or the chat is excluded.
	Route chat.Status
}

// Process ingests one inbound event, drafts a grounded reply, scores it,
// and routes: a draft at or above the confidence threshold is sent
// immediately, anything below is held for an operator. Duplicates and
// excluded chats stop after ingestion.
func (s *Service) Process(ctx context.Context, ev *Event) (*ProcessResult, error) {
	ing, err := s.Ingest(ctx, ev)
	if err != nil {
		return nil, err
	}
	if ing.Duplicate {
		return &ProcessResult{Ingest: ing}, nil
	}

	L := s.logger.With("conversation_id", ing.Conversation.ID, "message_id", ing.Message.ID)

	if s.dontAnswer.contains(ev.ChatID) {
		if err := s.store.MarkMessageProcessed(ctx, ing.Message.ID); err != nil {
			L.Error(ctx, err, "failed to mark excluded message processed")
		}
		L.Info(ctx, "chat excluded, skipping triage", "chat_id", ev.ChatID)
		return &ProcessResult{Ingest: ing}, nil
	}

	if chat.CanTransition(ing.Conversation.Status, chat.StatusRead) {
		if _, err := s.store.SetConversationStatus(ctx, ing.Conversation.ID, chat.StatusRead, nil); err != nil {
			return nil, err
		}
	}

	history, err := s.history(ctx, ing.Conversation.ID, ing.Message.ID)
	if err != nil {
		return nil, err
	}

	ans, err := s.answerer.Answer(ctx, ev.Content, history)
	if err != nil {
		// No draft to show; hold the conversation for a human.
		L.Error(ctx, err, "draft generation failed, routing to manual")
		if _, serr := s.store.SetConversationStatus(ctx, ing.Conversation.ID, chat.StatusWaitingManual, nil); serr != nil {
			return nil, serr
		}
		s.metrics.recordAssessment("manual", 0)
		return &ProcessResult{Ingest: ing, Route: chat.StatusWaitingManual}, nil
	}
	s.metrics.recordLLMCall(ans.InputTokens, ans.OutputTokens)

	score := 0.0
	if ass, err := s.assessor.Assess(ctx, ev.Content, ans.Context, ans.Text); err != nil {
		// An unscorable draft never auto-sends.
		L.Error(ctx, err, "confidence assessment failed, scoring 0")
	} else {
		score = ass.Score
		s.metrics.recordLLMCall(ass.InputTokens, ass.OutputTokens)
	}

	resp := &chat.Response{
		ID:         ulid.Make().String(),
		MessageID:  ing.Message.ID,
		Generated:  ans.Text,
		Confidence: score,
		Sources:    ans.Sources,
		Status:     chat.ResponseDraft,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertResponse(ctx, resp); err != nil {
		return nil, err
	}
	s.metrics.recordDraft()

	if score >= s.opts.ConfidenceThreshold {
		s.metrics.recordAssessment("auto", score)
		L.Info(ctx, "auto-answering", "confidence", score)
		if _, err := s.send(ctx, resp.ID, chat.StatusWaitingUser); err != nil {
			// Delivery failed; the draft survives for an operator retry.
			if _, serr := s.store.SetConversationStatus(ctx, ing.Conversation.ID, chat.StatusWaitingManual, nil); serr != nil {
				return nil, serr
			}
			return &ProcessResult{Ingest: ing, Response: resp, Route: chat.StatusWaitingManual}, nil
		}
		return &ProcessResult{Ingest: ing, Response: resp, Route: chat.StatusWaitingUser}, nil
	}

	s.metrics.recordAssessment("manual", score)
	L.Info(ctx, "holding for manual review", "confidence", score)
	if _, err := s.store.SetConversationStatus(ctx, ing.Conversation.ID, chat.StatusWaitingManual, nil); err != nil {
		return nil, err
	}
	return &ProcessResult{Ingest: ing, Response: resp, Route: chat.StatusWaitingManual}, nil
}

// history maps recent stored messages to model turns, excluding the message
// currently being answered.
func (s *Service) history(ctx context.Context, conversationID, currentMsgID string) ([]llm.Message, error) {
	msgs, err := s.store.RecentMessages(ctx, conversationID, s.opts.ContextMessages)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == currentMsgID || m.Content == "" {
			continue
		}
		role := "user"
		if m.Direction == chat.DirectionOutgoing {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out, nil
}
