package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/parley/internal/chat"
)

// UpdateStatus applies an operator-driven status change. The transition must
// be legal for the conversation's current status; moving into skipped goes
// through ScheduleFollowup so the follow-up invariant holds.
func (s *Service) UpdateStatus(ctx context.Context, conversationID string, to chat.Status) (*chat.Conversation, error) {
	if to == chat.StatusSkipped {
		return nil, fmt.Errorf("%w: skipping requires a follow-up time", chat.ErrValidation)
	}
	conv, ok, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: conversation %q", chat.ErrNotFound, conversationID)
	}
	if err := chat.Transition(conv.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.store.SetConversationStatus(ctx, conversationID, to, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case to == chat.StatusDontAnswer:
		s.dontAnswer.add(conv.ChatID)
	case conv.Status == chat.StatusDontAnswer:
		s.dontAnswer.remove(conv.ChatID)
	}

	s.logger.Info(ctx, "conversation status updated",
		"conversation_id", conversationID,
		"from", conv.Status,
		"to", to,
	)
	return updated, nil
}

// ScheduleFollowup defers a conversation until the given time. The
// conversation drops out of work selection until the follow-up comes due,
// when reconciliation reopens it as unread.
func (s *Service) ScheduleFollowup(ctx context.Context, conversationID string, at time.Time) (*chat.Conversation, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: follow-up time is required", chat.ErrValidation)
	}
	conv, ok, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: conversation %q", chat.ErrNotFound, conversationID)
	}
	if err := chat.Transition(conv.Status, chat.StatusSkipped); err != nil {
		return nil, err
	}

	updated, err := s.store.SetConversationStatus(ctx, conversationID, chat.StatusSkipped, &at)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "follow-up scheduled", "conversation_id", conversationID, "at", at)
	return updated, nil
}

// ReconcileFollowups reopens every deferred conversation whose follow-up
// time has passed and returns how many were reopened.
func (s *Service) ReconcileFollowups(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueFollowups(ctx, now)
	if err != nil {
		return 0, err
	}
	var n int
	for _, conv := range due {
		if _, err := s.store.SetConversationStatus(ctx, conv.ID, chat.StatusUnread, nil); err != nil {
			s.logger.Error(ctx, err, "failed to reopen due conversation", "conversation_id", conv.ID)
			continue
		}
		n++
	}
	s.metrics.recordFollowups(n)
	if n > 0 {
		s.logger.Info(ctx, "follow-ups reopened", "count", n)
	}
	return n, nil
}

// NextConversations reconciles due follow-ups, then returns up to limit
// pending conversations in work-priority order.
func (s *Service) NextConversations(ctx context.Context, limit int) ([]*chat.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	if _, err := s.ReconcileFollowups(ctx, s.now()); err != nil {
		return nil, err
	}
	return s.store.SelectPending(ctx, limit)
}

// ReadConversation fetches a conversation with its recent history for
// review, marking an unread conversation as read.
func (s *Service) ReadConversation(ctx context.Context, conversationID string) (*chat.Conversation, []*chat.Message, error) {
	conv, ok, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: conversation %q", chat.ErrNotFound, conversationID)
	}

	if conv.Status == chat.StatusUnread {
		conv, err = s.store.SetConversationStatus(ctx, conversationID, chat.StatusRead, nil)
		if err != nil {
			return nil, nil, err
		}
	}

	msgs, err := s.store.RecentMessages(ctx, conversationID, s.opts.ContextMessages)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}
