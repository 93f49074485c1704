// Package pgstore provides a PostgreSQL implementation of chat.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/parley/internal/chat"
)

var tracer = otel.Tracer("github.com/linnemanlabs/parley/internal/chat/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage state in PostgreSQL. Uniqueness constraints on
// phone, chat_id and external_id carry the dedup guarantees.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Contacts

const contactColumns = `id, phone, name, priority, tags, is_active, created_at, updated_at, last_interaction`

// GetContactByPhone retrieves a contact by phone number.
func (s *Store) GetContactByPhone(ctx context.Context, phone string) (*chat.Contact, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetContactByPhone", "SELECT")
	defer span.End()

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE phone = $1`
	c, err := scanContact(s.pool.QueryRow(ctx, query, phone))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// UpsertContactByPhone creates the contact if absent and refreshes
// LastInteraction either way. An empty stored name is backfilled.
func (s *Store) UpsertContactByPhone(ctx context.Context, phone, name string, now time.Time) (*chat.Contact, error) {
	ctx, span := startSpan(ctx, "pgstore.UpsertContactByPhone", "UPSERT")
	defer span.End()

	query := `INSERT INTO contacts (id, phone, name, priority, is_active, created_at, updated_at, last_interaction)
		VALUES ($1, $2, $3, 'normal', TRUE, $4, $4, $4)
		ON CONFLICT (phone) DO UPDATE SET
			name             = CASE WHEN contacts.name = '' AND EXCLUDED.name <> ''
			                        THEN EXCLUDED.name ELSE contacts.name END,
			updated_at       = EXCLUDED.updated_at,
			last_interaction = EXCLUDED.last_interaction
		RETURNING ` + contactColumns

	c, err := scanContact(s.pool.QueryRow(ctx, query, ulid.Make().String(), phone, name, now))
	if err != nil {
		return nil, spanErr(span, err)
	}
	return c, nil
}

// UpdateContact overwrites the mutable contact fields.
func (s *Store) UpdateContact(ctx context.Context, c *chat.Contact) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateContact", "UPDATE")
	defer span.End()

	query := `UPDATE contacts SET
			phone = $2, name = $3, priority = $4, tags = $5, is_active = $6,
			updated_at = $7, last_interaction = $8
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		c.ID, c.Phone, c.Name, string(c.Priority), c.Tags, c.Active,
		c.UpdatedAt, nullTime(c.LastInteraction),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update contact: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact %s: %w", c.ID, chat.ErrNotFound)
	}
	return nil
}

// DeleteContact removes the contact; conversations, messages and responses
// go with it via foreign keys.
func (s *Store) DeleteContact(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.DeleteContact", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return spanErr(span, fmt.Errorf("delete contact: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact %s: %w", id, chat.ErrNotFound)
	}
	return nil
}

// Conversations

const convColumns = `id, contact_id, chat_id, status, scheduled_followup, created_at, updated_at`

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetConversation", "SELECT")
	defer span.End()

	query := `SELECT ` + convColumns + ` FROM conversations WHERE id = $1`
	c, err := scanConv(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// GetConversationByChatID retrieves a conversation by channel chat ID.
func (s *Store) GetConversationByChatID(ctx context.Context, chatID string) (*chat.Conversation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetConversationByChatID", "SELECT")
	defer span.End()

	query := `SELECT ` + convColumns + ` FROM conversations WHERE chat_id = $1`
	c, err := scanConv(s.pool.QueryRow(ctx, query, chatID))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// UpsertConversationByChatID creates the conversation with status unread if
// absent.
func (s *Store) UpsertConversationByChatID(ctx context.Context, contactID, chatID string) (*chat.Conversation, error) {
	ctx, span := startSpan(ctx, "pgstore.UpsertConversationByChatID", "UPSERT")
	defer span.End()

	// the no-op DO UPDATE makes RETURNING yield the existing row
	query := `INSERT INTO conversations (id, contact_id, chat_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'unread', $4, $4)
		ON CONFLICT (chat_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
		RETURNING ` + convColumns

	now := time.Now().UTC()
	c, err := scanConv(s.pool.QueryRow(ctx, query, ulid.Make().String(), contactID, chatID, now))
	if err != nil {
		return nil, spanErr(span, err)
	}
	return c, nil
}

// SetConversationStatus writes status and follow-up atomically and bumps
// UpdatedAt.
func (s *Store) SetConversationStatus(ctx context.Context, id string, status chat.Status, followup *time.Time) (*chat.Conversation, error) {
	ctx, span := startSpan(ctx, "pgstore.SetConversationStatus", "UPDATE")
	defer span.End()

	query := `UPDATE conversations
		SET status = $2, scheduled_followup = $3, updated_at = $4
		WHERE id = $1
		RETURNING ` + convColumns

	c, err := scanConv(s.pool.QueryRow(ctx, query, id, string(status), followup, time.Now().UTC()))
	if err != nil {
		return nil, spanErr(span, err)
	}
	if c == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, chat.ErrNotFound)
	}
	return c, nil
}

// SelectPending returns up to limit unread/skipped conversations in triage
// order: high-priority contacts first, undeferred before deferred, oldest
// UpdatedAt first.
func (s *Store) SelectPending(ctx context.Context, limit int) ([]*chat.Conversation, error) {
	ctx, span := startSpan(ctx, "pgstore.SelectPending", "SELECT")
	defer span.End()

	query := `SELECT c.id, c.contact_id, c.chat_id, c.status, c.scheduled_followup, c.created_at, c.updated_at
		FROM conversations c
		JOIN contacts ct ON ct.id = c.contact_id
		WHERE c.status IN ('unread', 'skipped')
		ORDER BY (ct.priority = 'high') DESC,
		         c.scheduled_followup ASC NULLS FIRST,
		         c.updated_at ASC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query pending: %w", err))
	}
	defer rows.Close()

	out, err := collectConvs(rows)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

// DueFollowups returns skipped conversations whose follow-up time has passed.
func (s *Store) DueFollowups(ctx context.Context, now time.Time) ([]*chat.Conversation, error) {
	ctx, span := startSpan(ctx, "pgstore.DueFollowups", "SELECT")
	defer span.End()

	query := `SELECT ` + convColumns + ` FROM conversations
		WHERE status = 'skipped' AND scheduled_followup IS NOT NULL AND scheduled_followup <= $1`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query due followups: %w", err))
	}
	defer rows.Close()

	out, err := collectConvs(rows)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

// ChatIDsByStatus returns the chat IDs of all conversations in the given
// status.
func (s *Store) ChatIDsByStatus(ctx context.Context, status chat.Status) ([]string, error) {
	ctx, span := startSpan(ctx, "pgstore.ChatIDsByStatus", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM conversations WHERE status = $1`, string(status))
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query chat ids: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan chat id: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate chat ids: %w", err))
	}
	return ids, nil
}

// Messages

const msgColumns = `id, conversation_id, external_id, direction, content_type, content, media_url, metadata, ts, processed`

// InsertMessage appends a message. The external_id uniqueness constraint is
// the dedup guarantee; a replay reports chat.ErrDuplicateMessage without
// writing anything.
func (s *Store) InsertMessage(ctx context.Context, m *chat.Message) error {
	ctx, span := startSpan(ctx, "pgstore.InsertMessage", "INSERT")
	defer span.End()

	query := `INSERT INTO messages (id, conversation_id, external_id, direction, content_type, content, media_url, metadata, ts, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.ConversationID, m.ExternalID, string(m.Direction), m.ContentType,
		m.Content, m.MediaURL, m.Metadata, m.Timestamp, m.Processed,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert message: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", m.ExternalID, chat.ErrDuplicateMessage)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*chat.Message, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetMessage", "SELECT")
	defer span.End()

	query := `SELECT ` + msgColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if m == nil {
		return nil, false, nil
	}
	return m, true, nil
}

// GetMessageByExternalID retrieves a message by its channel message ID.
func (s *Store) GetMessageByExternalID(ctx context.Context, externalID string) (*chat.Message, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetMessageByExternalID", "SELECT")
	defer span.End()

	query := `SELECT ` + msgColumns + ` FROM messages WHERE external_id = $1`
	m, err := scanMessage(s.pool.QueryRow(ctx, query, externalID))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if m == nil {
		return nil, false, nil
	}
	return m, true, nil
}

// RecentMessages returns the newest limit messages in chronological order.
// ULIDs sort by creation time, so ordering by id preserves insertion order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	ctx, span := startSpan(ctx, "pgstore.RecentMessages", "SELECT")
	defer span.End()

	query := `SELECT ` + msgColumns + ` FROM (
			SELECT ` + msgColumns + ` FROM messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2
		) newest ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query messages: %w", err))
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate messages: %w", err))
	}
	return out, nil
}

// MarkMessageProcessed flips the processed flag.
func (s *Store) MarkMessageProcessed(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.MarkMessageProcessed", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE messages SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return spanErr(span, fmt.Errorf("mark processed: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, chat.ErrNotFound)
	}
	return nil
}

// Responses

const respColumns = `id, message_id, generated, edited, confidence_score, sources, status, created_at, sent_at`

// InsertResponse stores a drafted response.
func (s *Store) InsertResponse(ctx context.Context, r *chat.Response) error {
	ctx, span := startSpan(ctx, "pgstore.InsertResponse", "INSERT")
	defer span.End()

	query := `INSERT INTO responses (id, message_id, generated, edited, confidence_score, sources, status, created_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.MessageID, r.Generated, r.Edited, r.Confidence, r.Sources,
		string(r.Status), r.CreatedAt, r.SentAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert response: %w", err))
	}
	return nil
}

// GetResponse retrieves a response by ID.
func (s *Store) GetResponse(ctx context.Context, id string) (*chat.Response, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetResponse", "SELECT")
	defer span.End()

	query := `SELECT ` + respColumns + ` FROM responses WHERE id = $1`
	r, err := scanResponse(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// UpdateResponse overwrites the mutable response fields.
func (s *Store) UpdateResponse(ctx context.Context, r *chat.Response) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateResponse", "UPDATE")
	defer span.End()

	query := `UPDATE responses SET edited = $2, status = $3, sent_at = $4 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, r.ID, r.Edited, string(r.Status), r.SentAt)
	if err != nil {
		return spanErr(span, fmt.Errorf("update response: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("response %s: %w", r.ID, chat.ErrNotFound)
	}
	return nil
}

// Templates

const tplColumns = `id, name, content, category, tags, is_active, created_at, updated_at`

// ListTemplates returns active templates filtered by category and tags,
// ordered by name. A template matches when it carries at least one
// requested tag.
func (s *Store) ListTemplates(ctx context.Context, category string, tags []string) ([]*chat.Template, error) {
	ctx, span := startSpan(ctx, "pgstore.ListTemplates", "SELECT")
	defer span.End()

	query := `SELECT ` + tplColumns + ` FROM templates
		WHERE is_active
		  AND ($1 = '' OR category = $1)
		  AND (cardinality($2::text[]) = 0 OR tags && $2::text[])
		ORDER BY name`

	if tags == nil {
		tags = []string{}
	}
	rows, err := s.pool.Query(ctx, query, category, tags)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query templates: %w", err))
	}
	defer rows.Close()

	var out []*chat.Template
	for rows.Next() {
		var t chat.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Content, &t.Category, &t.Tags, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan template: %w", err))
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate templates: %w", err))
	}
	return out, nil
}

// InsertTemplate stores a template, assigning an ID when empty.
func (s *Store) InsertTemplate(ctx context.Context, t *chat.Template) error {
	ctx, span := startSpan(ctx, "pgstore.InsertTemplate", "INSERT")
	defer span.End()

	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	query := `INSERT INTO templates (id, name, content, category, tags, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Name, t.Content, t.Category, t.Tags, t.Active, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert template: %w", err))
	}
	return nil
}

// Stats

// Stats aggregates conversations created since the given time.
func (s *Store) Stats(ctx context.Context, since time.Time) (*chat.Stats, error) {
	ctx, span := startSpan(ctx, "pgstore.Stats", "SELECT")
	defer span.End()

	st := &chat.Stats{StatusCounts: make(map[chat.Status]int)}

	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM conversations WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query status counts: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan status count: %w", err))
		}
		st.StatusCounts[chat.Status(status)] = n
		st.TotalConversations += n
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate status counts: %w", err))
	}

	if st.TotalConversations > 0 {
		var totalMsgs int
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM messages m
			 JOIN conversations c ON c.id = m.conversation_id
			 WHERE c.created_at >= $1`, since).Scan(&totalMsgs)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("count messages: %w", err))
		}
		st.AvgMessages = float64(totalMsgs) / float64(st.TotalConversations)
	}
	return st, nil
}

// scan helpers

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanContact(row pgx.Row) (*chat.Contact, error) {
	var (
		c               chat.Contact
		priority        string
		lastInteraction *time.Time
	)
	err := row.Scan(&c.ID, &c.Phone, &c.Name, &priority, &c.Tags, &c.Active,
		&c.CreatedAt, &c.UpdatedAt, &lastInteraction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	c.Priority = chat.Priority(priority)
	if lastInteraction != nil {
		c.LastInteraction = *lastInteraction
	}
	return &c, nil
}

func scanConv(row pgx.Row) (*chat.Conversation, error) {
	var (
		c      chat.Conversation
		status string
	)
	err := row.Scan(&c.ID, &c.ContactID, &c.ChatID, &status, &c.ScheduledFollowup,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Status = chat.Status(status)
	return &c, nil
}

func collectConvs(rows pgx.Rows) ([]*chat.Conversation, error) {
	var out []*chat.Conversation
	for rows.Next() {
		c, err := scanConv(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var (
		m         chat.Message
		direction string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.ExternalID, &direction, &m.ContentType,
		&m.Content, &m.MediaURL, &m.Metadata, &m.Timestamp, &m.Processed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Direction = chat.Direction(direction)
	return &m, nil
}

func scanResponse(row pgx.Row) (*chat.Response, error) {
	var (
		r      chat.Response
		status string
	)
	err := row.Scan(&r.ID, &r.MessageID, &r.Generated, &r.Edited, &r.Confidence,
		&r.Sources, &status, &r.CreatedAt, &r.SentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan response: %w", err)
	}
	r.Status = chat.ResponseStatus(status)
	return &r, nil
}
