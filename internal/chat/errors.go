package chat

import "errors"

// Error taxonomy for triage operations. Services wrap these with context and
// callers test with errors.Is; expected conditions (not found, conflict,
// duplicate) never propagate as opaque failures.
var (
	// ErrValidation means a malformed ingestion event, rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means a referenced contact, conversation, message or response
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means an illegal state transition or a double send.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateMessage is returned by Store.InsertMessage when the external
	// message id already exists. Ingest maps it to the normal already_processed
	// outcome; it is the dedup guarantee, not an error condition.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrUpstream means a retrieval, completion or transport call failed.
	ErrUpstream = errors.New("upstream failure")
)
