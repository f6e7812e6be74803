package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store persists bundle versions and change requests. Versions are
// append-only; the only mutable piece of state is the per-key current
// pointer, which AppendVersion advances under optimistic concurrency.
type Store interface {
	// GetCurrent returns the current version for the key.
	// Returns ErrBundleNotFound for unknown keys.
	GetCurrent(ctx context.Context, key string) (BundleDefinition, error)

	// GetVersion returns a specific historical version.
	// Returns ErrVersionNotFound if the version does not exist.
	GetVersion(ctx context.Context, key string, version int64) (BundleDefinition, error)

	// ListCurrent returns the current version of every bundle key.
	ListCurrent(ctx context.Context) ([]BundleDefinition, error)

	// AppendVersion stores def as the new current version of def.Key and
	// marks the previous current version as superseded by it.
	// expectVersion is the current version the caller read (0 for a brand
	// new key); returns ErrVersionConflict if the pointer has moved.
	AppendVersion(ctx context.Context, def BundleDefinition, expectVersion int64) error

	// SaveChangeRequest persists a proposed edit.
	SaveChangeRequest(ctx context.Context, cr ChangeRequest) error

	// GetChangeRequest loads a proposed edit by ID.
	// Returns ErrChangeRequestNotFound for unknown IDs.
	GetChangeRequest(ctx context.Context, id uuid.UUID) (ChangeRequest, error)
}
