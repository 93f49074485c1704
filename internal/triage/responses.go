package triage

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/parley/internal/chat"
)

// SendOutcome classifies a send attempt.
type SendOutcome string

const (
	SendOutcomeSent        SendOutcome = "sent"
	SendOutcomeAlreadySent SendOutcome = "already_sent"
	SendOutcomeFailed      SendOutcome = "failed"
)

// SendResult is the outcome of delivering one response.
type SendResult struct {
	Outcome  SendOutcome
	Response *chat.Response
}

// CreateDraft records an operator-authored draft reply to a message.
func (s *Service) CreateDraft(ctx context.Context, messageID, text string) (*chat.Response, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", chat.ErrValidation)
	}
	if _, ok, err := s.store.GetMessage(ctx, messageID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: message %q", chat.ErrNotFound, messageID)
	}

	resp := &chat.Response{
		ID:        ulid.Make().String(),
		MessageID: messageID,
		Generated: text,
		Status:    chat.ResponseDraft,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertResponse(ctx, resp); err != nil {
		return nil, err
	}
	s.metrics.recordDraft()
	return resp, nil
}

// EditResponse overrides a draft's text before sending. A response that has
// already gone out cannot be edited.
func (s *Service) EditResponse(ctx context.Context, responseID, text string) (*chat.Response, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", chat.ErrValidation)
	}
	resp, ok, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: response %q", chat.ErrNotFound, responseID)
	}
	if resp.Status != chat.ResponseDraft && resp.Status != chat.ResponseEdited {
		return nil, fmt.Errorf("%w: response is %s", chat.ErrConflict, resp.Status)
	}

	resp.Edited = text
	resp.Status = chat.ResponseEdited
	if err := s.store.UpdateResponse(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendResponse delivers a response on behalf of an operator and settles the
// conversation as answered. Sending an already-sent response is a no-op.
func (s *Service) SendResponse(ctx context.Context, responseID string) (*SendResult, error) {
	return s.send(ctx, responseID, chat.StatusAnswered)
}

// send delivers the response text, records the outbound message, marks the
// answered inbound message processed and moves the conversation to
// finalStatus. The conversation must be able to settle into finalStatus
// before anything goes out: sending into a dont_answer or skipped
// conversation conflicts instead of delivering. On transport failure only
// the response is touched: it is marked failed and stays retryable.
func (s *Service) send(ctx context.Context, responseID string, finalStatus chat.Status) (*SendResult, error) {
	resp, ok, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: response %q", chat.ErrNotFound, responseID)
	}
	if resp.Status == chat.ResponseSent {
		s.metrics.recordSend(SendOutcomeAlreadySent)
		return &SendResult{Outcome: SendOutcomeAlreadySent, Response: resp}, nil
	}

	msg, ok, err := s.store.GetMessage(ctx, resp.MessageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: message %q", chat.ErrNotFound, resp.MessageID)
	}
	conv, ok, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: conversation %q", chat.ErrNotFound, msg.ConversationID)
	}

	if err := chat.Transition(conv.Status, finalStatus); err != nil {
		return nil, err
	}

	if err := s.sender.SendText(ctx, conv.ChatID, resp.Text()); err != nil {
		resp.Status = chat.ResponseFailed
		if uerr := s.store.UpdateResponse(ctx, resp); uerr != nil {
			s.logger.Error(ctx, uerr, "failed to mark response failed", "response_id", resp.ID)
		}
		s.metrics.recordSend(SendOutcomeFailed)
		s.logger.Error(ctx, err, "send failed", "response_id", resp.ID, "chat_id", conv.ChatID)
		return &SendResult{Outcome: SendOutcomeFailed, Response: resp},
			fmt.Errorf("%w: send: %w", chat.ErrUpstream, err)
	}

	now := s.now()
	resp.Status = chat.ResponseSent
	resp.SentAt = &now
	if err := s.store.UpdateResponse(ctx, resp); err != nil {
		return nil, err
	}

	out := &chat.Message{
		ID:             ulid.Make().String(),
		ConversationID: conv.ID,
		ExternalID:     fmt.Sprintf("out_%s_%d", resp.ID, now.Unix()),
		Direction:      chat.DirectionOutgoing,
		ContentType:    "text",
		Content:        resp.Text(),
		Timestamp:      now,
		Processed:      true,
	}
	if err := s.store.InsertMessage(ctx, out); err != nil {
		s.logger.Error(ctx, err, "failed to record outbound message", "response_id", resp.ID)
	}

	if err := s.store.MarkMessageProcessed(ctx, msg.ID); err != nil {
		s.logger.Error(ctx, err, "failed to mark message processed", "message_id", msg.ID)
	}

	if _, err := s.store.SetConversationStatus(ctx, conv.ID, finalStatus, nil); err != nil {
		s.logger.Error(ctx, err, "failed to settle conversation", "conversation_id", conv.ID)
	}

	s.metrics.recordSend(SendOutcomeSent)
	s.logger.Info(ctx, "response sent",
		"response_id", resp.ID,
		"conversation_id", conv.ID,
		"status", finalStatus,
	)
	return &SendResult{Outcome: SendOutcomeSent, Response: resp}, nil
}
