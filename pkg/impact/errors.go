package impact

import "errors"

var (
	ErrReportNotFound = errors.New("impact analysis report not found")
	ErrPinNotFound    = errors.New("grandfather pin not found")

	// ErrAlreadyExecuted signals a replay of a completed migration plan.
	// Recover by reading the report's plan status; nothing was re-applied.
	ErrAlreadyExecuted = errors.New("migration plan already executed")

	ErrChangeRequestMismatch = errors.New("change request does not match bundle")
)
