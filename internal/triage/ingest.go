package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/parley/internal/chat"
)

// Event is one inbound message delivery from the channel. Deliveries are
// at-least-once; ExternalID is the dedup key.
type Event struct {
	ExternalID  string            `json:"external_id"`
	ChatID      string            `json:"chat_id"`
	Phone       string            `json:"phone"`
	Name        string            `json:"name,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Content     string            `json:"content"`
	MediaURL    string            `json:"media_url,omitempty"`
	Timestamp   time.Time         `json:"timestamp,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (e *Event) validate() error {
	switch {
	case e.ExternalID == "":
		return fmt.Errorf("%w: external_id is required", chat.ErrValidation)
	case e.ChatID == "":
		return fmt.Errorf("%w: chat_id is required", chat.ErrValidation)
	case e.Phone == "":
		return fmt.Errorf("%w: phone is required", chat.ErrValidation)
	case e.Content == "" && e.MediaURL == "":
		return fmt.Errorf("%w: content or media_url is required", chat.ErrValidation)
	}
	return nil
}

// IngestResult is the outcome of recording one inbound event.
type IngestResult struct {
	Message      *chat.Message
	Conversation *chat.Conversation
	// Duplicate is set when the event's external ID was already recorded;
	// Message then points at the previously stored row.
	Duplicate bool
}

// Ingest records an inbound event: upserts the contact and conversation,
// appends the message, and reopens a settled conversation as unread. A
// replayed external ID is reported as a duplicate, not an error. Excluded
// (dont_answer) conversations are never reopened here.
func (s *Service) Ingest(ctx context.Context, ev *Event) (*IngestResult, error) {
	if err := ev.validate(); err != nil {
		s.metrics.recordIngest("invalid")
		return nil, err
	}

	now := s.now()
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	contentType := ev.ContentType
	if contentType == "" {
		contentType = "text"
	}

	contact, err := s.store.UpsertContactByPhone(ctx, ev.Phone, ev.Name, now)
	if err != nil {
		s.metrics.recordIngest("error")
		return nil, fmt.Errorf("upsert contact: %w", err)
	}

	conv, err := s.store.UpsertConversationByChatID(ctx, contact.ID, ev.ChatID)
	if err != nil {
		s.metrics.recordIngest("error")
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	msg := &chat.Message{
		ID:             ulid.Make().String(),
		ConversationID: conv.ID,
		ExternalID:     ev.ExternalID,
		Direction:      chat.DirectionIncoming,
		ContentType:    contentType,
		Content:        ev.Content,
		MediaURL:       ev.MediaURL,
		Metadata:       ev.Metadata,
		Timestamp:      ts,
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, chat.ErrDuplicateMessage) {
			existing, ok, lerr := s.store.GetMessageByExternalID(ctx, ev.ExternalID)
			if lerr != nil {
				return nil, fmt.Errorf("lookup duplicate: %w", lerr)
			}
			if !ok {
				return nil, fmt.Errorf("duplicate message %q disappeared", ev.ExternalID)
			}
			s.metrics.recordIngest("duplicate")
			s.logger.Info(ctx, "duplicate event ignored", "external_id", ev.ExternalID, "chat_id", ev.ChatID)
			return &IngestResult{Message: existing, Conversation: conv, Duplicate: true}, nil
		}
		s.metrics.recordIngest("error")
		return nil, fmt.Errorf("insert message: %w", err)
	}

	// A new inbound message reopens any settled conversation, except one an
	// operator has excluded.
	if conv.Status != chat.StatusUnread && conv.Status != chat.StatusDontAnswer {
		conv, err = s.store.SetConversationStatus(ctx, conv.ID, chat.StatusUnread, nil)
		if err != nil {
			s.metrics.recordIngest("error")
			return nil, fmt.Errorf("reopen conversation: %w", err)
		}
	}

	s.metrics.recordIngest("success")
	return &IngestResult{Message: msg, Conversation: conv}, nil
}
