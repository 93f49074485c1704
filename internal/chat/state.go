package chat

import "fmt"

// transitions is the full edge set of the conversation state machine.
// A new inbound message re-opens any non-terminal conversation (edges back to
// unread); dont_answer is terminal except for explicit operator reactivation.
var transitions = map[Status]map[Status]bool{
	StatusUnread: {
		StatusRead:          true,
		StatusWaitingManual: true,
		StatusWaitingUser:   true,
		StatusAnswered:      true,
		StatusSkipped:       true,
		StatusDontAnswer:    true,
	},
	StatusRead: {
		StatusUnread:        true,
		StatusWaitingManual: true,
		StatusWaitingUser:   true,
		StatusAnswered:      true,
		StatusSkipped:       true,
		StatusDontAnswer:    true,
	},
	StatusWaitingManual: {
		StatusUnread:     true,
		StatusAnswered:   true,
		StatusSkipped:    true,
		StatusDontAnswer: true,
	},
	StatusWaitingUser: {
		StatusUnread:     true,
		StatusAnswered:   true,
		StatusSkipped:    true,
		StatusDontAnswer: true,
	},
	StatusAnswered: {
		StatusUnread:     true,
		StatusDontAnswer: true,
	},
	StatusSkipped: {
		StatusUnread:     true,
		StatusSkipped:    true, // re-schedule an existing follow-up
		StatusDontAnswer: true,
	},
	// Terminal until an operator explicitly reactivates; a new inbound
	// message never re-opens a dont_answer conversation.
	StatusDontAnswer: {
		StatusUnread: true,
	},
}

// ValidStatus reports whether s is a known conversation status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Transition validates a status change. It returns an error wrapping
// ErrConflict for illegal edges and ErrValidation for unknown statuses;
// this is the only legal gate for mutating conversation status.
func Transition(from, to Status) error {
	if !ValidStatus(from) {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, from)
	}
	if !ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition conversation from %s to %s", ErrConflict, from, to)
	}
	return nil
}
