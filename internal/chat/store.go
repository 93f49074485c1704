package chat

import (
	"context"
	"time"
)

// Store is the persistence interface for triage state. Implementations carry
// no business rules; lookups return ok=false rather than an error when the
// row is absent.
//
// Both upserts must be atomic with respect to concurrent duplicate
// deliveries: two racing calls for the same key yield one row. InsertMessage
// enforces external-id uniqueness and reports ErrDuplicateMessage on a hit;
// that constraint, not a prior read, is the ingestion dedup guarantee.
type Store interface {
	// Contacts.
	GetContactByPhone(ctx context.Context, phone string) (*Contact, bool, error)
	// UpsertContactByPhone creates the contact if absent and always refreshes
	// LastInteraction to now. An existing contact's name is only filled in
	// when it was empty.
	UpsertContactByPhone(ctx context.Context, phone, name string, now time.Time) (*Contact, error)
	UpdateContact(ctx context.Context, c *Contact) error
	// DeleteContact removes the contact and cascades to its conversations,
	// messages and responses.
	DeleteContact(ctx context.Context, id string) error

	// Conversations.
	GetConversation(ctx context.Context, id string) (*Conversation, bool, error)
	GetConversationByChatID(ctx context.Context, chatID string) (*Conversation, bool, error)
	// UpsertConversationByChatID creates the conversation with status unread
	// if absent.
	UpsertConversationByChatID(ctx context.Context, contactID, chatID string) (*Conversation, error)
	// SetConversationStatus writes status and follow-up time together so the
	// skipped<->followup invariant is never observable broken, and bumps
	// UpdatedAt.
	SetConversationStatus(ctx context.Context, id string, status Status, followup *time.Time) (*Conversation, error)
	// SelectPending returns up to limit conversations with status unread or
	// skipped: high-priority contacts first, then conversations without a
	// scheduled follow-up before deferred ones, then oldest UpdatedAt first.
	SelectPending(ctx context.Context, limit int) ([]*Conversation, error)
	// DueFollowups returns skipped conversations whose follow-up time has
	// passed.
	DueFollowups(ctx context.Context, now time.Time) ([]*Conversation, error)
	ChatIDsByStatus(ctx context.Context, status Status) ([]string, error)

	// Messages.
	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, bool, error)
	GetMessageByExternalID(ctx context.Context, externalID string) (*Message, bool, error)
	// RecentMessages returns the newest limit messages in chronological order.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	MarkMessageProcessed(ctx context.Context, id string) error

	// Responses.
	InsertResponse(ctx context.Context, r *Response) error
	GetResponse(ctx context.Context, id string) (*Response, bool, error)
	UpdateResponse(ctx context.Context, r *Response) error

	// Templates.
	ListTemplates(ctx context.Context, category string, tags []string) ([]*Template, error)
	InsertTemplate(ctx context.Context, t *Template) error

	// Stats aggregates conversations created since the given time.
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}
