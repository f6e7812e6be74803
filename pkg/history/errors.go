package history

import "errors"

var (
	ErrEntryValidation = errors.New("billing history entry validation failed")
	ErrStorageFailure  = errors.New("billing history storage operation failed")
)
