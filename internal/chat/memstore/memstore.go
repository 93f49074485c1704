// Package memstore provides an in-memory implementation of chat.Store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/parley/internal/chat"
)

// Store holds all triage state in memory. Suitable for dev/testing. A single
// mutex covers every map, which makes the get-or-create operations and the
// external-id uniqueness check atomic under concurrent duplicate deliveries.
type Store struct {
	mu sync.RWMutex

	contacts       map[string]*chat.Contact      // contact ID -> contact
	contactByPhone map[string]string             // phone -> contact ID
	convs          map[string]*chat.Conversation // conversation ID -> conversation
	convByChat     map[string]string             // chat ID -> conversation ID
	msgs           map[string]*chat.Message      // message ID -> message
	msgByExternal  map[string]string             // external message ID -> message ID (dedup)
	msgOrder       map[string][]string           // conversation ID -> message IDs, insertion order
	responses      map[string]*chat.Response     // response ID -> response
	templates      map[string]*chat.Template     // template ID -> template
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		contacts:       make(map[string]*chat.Contact),
		contactByPhone: make(map[string]string),
		convs:          make(map[string]*chat.Conversation),
		convByChat:     make(map[string]string),
		msgs:           make(map[string]*chat.Message),
		msgByExternal:  make(map[string]string),
		msgOrder:       make(map[string][]string),
		responses:      make(map[string]*chat.Response),
		templates:      make(map[string]*chat.Template),
	}
}

// Contacts

// GetContactByPhone retrieves a contact by phone number. Returns a copy.
func (s *Store) GetContactByPhone(_ context.Context, phone string) (*chat.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.contactByPhone[phone]
	if !ok {
		return nil, false, nil
	}
	cp := *s.contacts[id]
	return &cp, true, nil
}

// UpsertContactByPhone creates the contact if absent and refreshes
// LastInteraction either way.
func (s *Store) UpsertContactByPhone(_ context.Context, phone, name string, now time.Time) (*chat.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.contactByPhone[phone]; ok {
		c := s.contacts[id]
		if c.Name == "" && name != "" {
			c.Name = name
		}
		c.LastInteraction = now
		c.UpdatedAt = now
		cp := *c
		return &cp, nil
	}

	c := &chat.Contact{
		ID:              ulid.Make().String(),
		Phone:           phone,
		Name:            name,
		Priority:        chat.PriorityNormal,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastInteraction: now,
	}
	s.contacts[c.ID] = c
	s.contactByPhone[phone] = c.ID
	cp := *c
	return &cp, nil
}

// UpdateContact overwrites the stored contact.
func (s *Store) UpdateContact(_ context.Context, c *chat.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.contacts[c.ID]
	if !ok {
		return fmt.Errorf("contact %s: %w", c.ID, chat.ErrNotFound)
	}
	cp := *c
	cp.CreatedAt = old.CreatedAt
	if old.Phone != cp.Phone {
		delete(s.contactByPhone, old.Phone)
	}
	s.contacts[c.ID] = &cp
	s.contactByPhone[cp.Phone] = c.ID
	return nil
}

// DeleteContact removes the contact and cascades to conversations, messages
// and responses it owns.
func (s *Store) DeleteContact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return fmt.Errorf("contact %s: %w", id, chat.ErrNotFound)
	}
	delete(s.contacts, id)
	delete(s.contactByPhone, c.Phone)

	for convID, conv := range s.convs {
		if conv.ContactID != id {
			continue
		}
		for _, msgID := range s.msgOrder[convID] {
			m := s.msgs[msgID]
			delete(s.msgByExternal, m.ExternalID)
			delete(s.msgs, msgID)
			for respID, r := range s.responses {
				if r.MessageID == msgID {
					delete(s.responses, respID)
				}
			}
		}
		delete(s.msgOrder, convID)
		delete(s.convByChat, conv.ChatID)
		delete(s.convs, convID)
	}
	return nil
}

// Conversations

// GetConversation retrieves a conversation by ID. Returns a copy.
func (s *Store) GetConversation(_ context.Context, id string) (*chat.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, false, nil
	}
	return copyConv(c), true, nil
}

// GetConversationByChatID retrieves a conversation by channel chat ID.
func (s *Store) GetConversationByChatID(_ context.Context, chatID string) (*chat.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.convByChat[chatID]
	if !ok {
		return nil, false, nil
	}
	return copyConv(s.convs[id]), true, nil
}

// UpsertConversationByChatID creates the conversation with status unread if
// absent.
func (s *Store) UpsertConversationByChatID(_ context.Context, contactID, chatID string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.convByChat[chatID]; ok {
		return copyConv(s.convs[id]), nil
	}

	now := time.Now().UTC()
	c := &chat.Conversation{
		ID:        ulid.Make().String(),
		ContactID: contactID,
		ChatID:    chatID,
		Status:    chat.StatusUnread,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.convs[c.ID] = c
	s.convByChat[chatID] = c.ID
	return copyConv(c), nil
}

// SetConversationStatus writes status and follow-up atomically and bumps
// UpdatedAt.
func (s *Store) SetConversationStatus(_ context.Context, id string, status chat.Status, followup *time.Time) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, chat.ErrNotFound)
	}
	c.Status = status
	if followup != nil {
		t := followup.UTC()
		c.ScheduledFollowup = &t
	} else {
		c.ScheduledFollowup = nil
	}
	c.UpdatedAt = time.Now().UTC()
	return copyConv(c), nil
}

// SelectPending returns up to limit unread/skipped conversations in triage
// order: high-priority contacts first, undeferred before deferred, oldest
// UpdatedAt first.
func (s *Store) SelectPending(_ context.Context, limit int) ([]*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*chat.Conversation
	for _, c := range s.convs {
		if c.Status == chat.StatusUnread || c.Status == chat.StatusSkipped {
			pending = append(pending, c)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		ah := s.contactPriority(a.ContactID) == chat.PriorityHigh
		bh := s.contactPriority(b.ContactID) == chat.PriorityHigh
		if ah != bh {
			return ah
		}
		an := a.ScheduledFollowup == nil
		bn := b.ScheduledFollowup == nil
		if an != bn {
			return an
		}
		if !an && !a.ScheduledFollowup.Equal(*b.ScheduledFollowup) {
			return a.ScheduledFollowup.Before(*b.ScheduledFollowup)
		}
		return a.UpdatedAt.Before(b.UpdatedAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*chat.Conversation, len(pending))
	for i, c := range pending {
		out[i] = copyConv(c)
	}
	return out, nil
}

// DueFollowups returns skipped conversations whose follow-up time has passed.
func (s *Store) DueFollowups(_ context.Context, now time.Time) ([]*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*chat.Conversation
	for _, c := range s.convs {
		if c.Status == chat.StatusSkipped && c.ScheduledFollowup != nil && !c.ScheduledFollowup.After(now) {
			due = append(due, copyConv(c))
		}
	}
	return due, nil
}

// ChatIDsByStatus returns the chat IDs of all conversations in the given
// status.
func (s *Store) ChatIDsByStatus(_ context.Context, status chat.Status) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, c := range s.convs {
		if c.Status == status {
			ids = append(ids, c.ChatID)
		}
	}
	return ids, nil
}

// Messages

// InsertMessage stores a copy of the message. The external-id index is the
// dedup constraint: a second insert with the same ExternalID fails with
// chat.ErrDuplicateMessage without writing anything.
func (s *Store) InsertMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgByExternal[m.ExternalID]; ok {
		return fmt.Errorf("message %s: %w", m.ExternalID, chat.ErrDuplicateMessage)
	}
	if _, ok := s.convs[m.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, chat.ErrNotFound)
	}
	cp := *m
	s.msgs[m.ID] = &cp
	s.msgByExternal[m.ExternalID] = m.ID
	s.msgOrder[m.ConversationID] = append(s.msgOrder[m.ConversationID], m.ID)
	return nil
}

// GetMessage retrieves a message by ID. Returns a copy.
func (s *Store) GetMessage(_ context.Context, id string) (*chat.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *m
	return &cp, true, nil
}

// GetMessageByExternalID retrieves a message by its channel message ID.
func (s *Store) GetMessageByExternalID(_ context.Context, externalID string) (*chat.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.msgByExternal[externalID]
	if !ok {
		return nil, false, nil
	}
	cp := *s.msgs[id]
	return &cp, true, nil
}

// RecentMessages returns the newest limit messages in chronological order.
func (s *Store) RecentMessages(_ context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.msgOrder[conversationID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*chat.Message, len(ids))
	for i, id := range ids {
		cp := *s.msgs[id]
		out[i] = &cp
	}
	return out, nil
}

// MarkMessageProcessed flips the processed flag, the only mutation a message
// row ever sees.
func (s *Store) MarkMessageProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, chat.ErrNotFound)
	}
	m.Processed = true
	return nil
}

// Responses

// InsertResponse stores a copy of the response.
func (s *Store) InsertResponse(_ context.Context, r *chat.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[r.MessageID]; !ok {
		return fmt.Errorf("message %s: %w", r.MessageID, chat.ErrNotFound)
	}
	cp := *r
	s.responses[r.ID] = &cp
	return nil
}

// GetResponse retrieves a response by ID. Returns a copy.
func (s *Store) GetResponse(_ context.Context, id string) (*chat.Response, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// UpdateResponse overwrites the stored response.
func (s *Store) UpdateResponse(_ context.Context, r *chat.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.responses[r.ID]; !ok {
		return fmt.Errorf("response %s: %w", r.ID, chat.ErrNotFound)
	}
	cp := *r
	s.responses[r.ID] = &cp
	return nil
}

// Templates

// ListTemplates returns active templates, optionally filtered by category and
// tags (a template matches when it carries at least one requested tag),
// ordered by name.
func (s *Store) ListTemplates(_ context.Context, category string, tags []string) ([]*chat.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Template
	for _, t := range s.templates {
		if !t.Active {
			continue
		}
		if category != "" && t.Category != category {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(t.Tags, tags) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// InsertTemplate stores a copy of the template, assigning an ID when empty.
func (s *Store) InsertTemplate(_ context.Context, t *chat.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if cp.ID == "" {
		cp.ID = ulid.Make().String()
		t.ID = cp.ID
	}
	s.templates[cp.ID] = &cp
	return nil
}

// Stats

// Stats aggregates conversations created since the given time.
func (s *Store) Stats(_ context.Context, since time.Time) (*chat.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &chat.Stats{StatusCounts: make(map[chat.Status]int)}
	var totalMsgs int
	for id, c := range s.convs {
		if c.CreatedAt.Before(since) {
			continue
		}
		st.TotalConversations++
		st.StatusCounts[c.Status]++
		totalMsgs += len(s.msgOrder[id])
	}
	if st.TotalConversations > 0 {
		st.AvgMessages = float64(totalMsgs) / float64(st.TotalConversations)
	}
	return st, nil
}

func (s *Store) contactPriority(contactID string) chat.Priority {
	if c, ok := s.contacts[contactID]; ok {
		return c.Priority
	}
	return chat.PriorityNormal
}

func copyConv(c *chat.Conversation) *chat.Conversation {
	cp := *c
	if c.ScheduledFollowup != nil {
		t := *c.ScheduledFollowup
		cp.ScheduledFollowup = &t
	}
	return &cp
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
