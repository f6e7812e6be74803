package revshare

import "errors"

var (
	// ErrAlreadyClosed signals that the period was already closed for this
	// workspace; the existing record is authoritative and no second invoice
	// is issued.
	ErrAlreadyClosed = errors.New("revenue period already closed")

	// ErrDuplicateEvent marks a revenue event whose ID was seen before.
	// Surfaced by stores; the service swallows it to keep delivery
	// idempotent for the caller.
	ErrDuplicateEvent = errors.New("duplicate revenue event")

	ErrRecordNotFound    = errors.New("revenue record not found")
	ErrInvalidAmount     = errors.New("revenue amount must be positive")
	ErrInvalidSource     = errors.New("revenue source is required")
	ErrEventIDRequired   = errors.New("event ID is required")
	ErrWorkspaceRequired = errors.New("workspace ID is required")
)
