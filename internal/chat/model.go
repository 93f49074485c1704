package chat

import "time"

// Status tracks where a conversation sits in the triage lifecycle.
type Status string

const (
	// StatusUnread means there is an inbound message nobody has looked at yet.
	StatusUnread Status = "unread"

	// StatusRead means context has been fetched for assessment.
	StatusRead Status = "read"

	// StatusWaitingManual means confidence came in below threshold and the
	// conversation is held for human review.
	StatusWaitingManual Status = "waiting_for_manual"

	// StatusWaitingUser means the draft was judged good enough to auto-answer.
	StatusWaitingUser Status = "waiting_for_user"

	// StatusAnswered means a response was sent.
	StatusAnswered Status = "answered"

	// StatusSkipped means the conversation is deferred until its follow-up time.
	StatusSkipped Status = "skipped"

	// StatusDontAnswer means an operator excluded this conversation from triage.
	StatusDontAnswer Status = "dont_answer"
)

// Priority is the contact tier used by work selection.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Direction distinguishes inbound from outbound messages.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ResponseStatus tracks a drafted answer through its forward-only lifecycle.
type ResponseStatus string

const (
	ResponseDraft  ResponseStatus = "draft"
	ResponseEdited ResponseStatus = "edited"
	ResponseSent   ResponseStatus = "sent"
	ResponseFailed ResponseStatus = "failed"
)

// Contact is a person on the channel, keyed by phone number.
type Contact struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	Name            string    `json:"name,omitempty"`
	Priority        Priority  `json:"priority"`
	Tags            []string  `json:"tags,omitempty"`
	Active          bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastInteraction time.Time `json:"last_interaction,omitempty"`
}

// Conversation is one chat thread owned by exactly one contact.
// ScheduledFollowup is set if and only if Status is skipped.
type Conversation struct {
	ID                string     `json:"id"`
	ContactID         string     `json:"contact_id"`
	ChatID            string     `json:"chat_id"`
	Status            Status     `json:"status"`
	ScheduledFollowup *time.Time `json:"scheduled_followup,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Message is a single inbound or outbound message. Rows are append-only;
// only Processed ever changes after insert.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	ExternalID     string            `json:"external_id"`
	Direction      Direction         `json:"direction"`
	ContentType    string            `json:"content_type"`
	Content        string            `json:"content"`
	MediaURL       string            `json:"media_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Processed      bool              `json:"processed"`
}

// Response is a drafted answer to one inbound message.
type Response struct {
	ID         string         `json:"id"`
	MessageID  string         `json:"message_id"`
	Generated  string         `json:"generated"`
	Edited     string         `json:"edited,omitempty"`
	Confidence float64        `json:"confidence_score"`
	Sources    []string       `json:"sources,omitempty"`
	Status     ResponseStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	SentAt     *time.Time     `json:"sent_at,omitempty"`
}

// Text returns the content that should actually go out: the human edit when
// present, the generated draft otherwise.
func (r *Response) Text() string {
	if r.Edited != "" {
		return r.Edited
	}
	return r.Generated
}

// Template is reusable reply text for manual drafting. Lookup data only,
// not part of the state machine.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats aggregates conversation activity over a trailing window.
type Stats struct {
	TotalConversations int            `json:"total_conversations"`
	StatusCounts       map[Status]int `json:"status_counts"`
	AvgMessages        float64        `json:"avg_messages_per_conversation"`
}
