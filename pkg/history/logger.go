package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store persists billing-history entries. Appends are immutable: a stored
// entry is never updated or deleted.
type Store interface {
	// Append stores a single entry.
	Append(ctx context.Context, entry Entry) error

	// List returns entries matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Logger records billing-history entries.
type Logger interface {
	// Log appends one entry of the given event type.
	Log(ctx context.Context, event EventType, opts ...EntryOption) error
}

type logger struct {
	store Store
	actor string
}

// Option configures the logger.
type Option func(*logger)

// WithDefaultActor sets the actor recorded when an entry specifies none.
func WithDefaultActor(actor string) Option {
	return func(l *logger) { l.actor = actor }
}

// NewLogger creates a billing-history logger backed by the given store.
// Panics on nil store to fail fast during initialization.
func NewLogger(store Store, opts ...Option) Logger {
	if store == nil {
		panic("history: store cannot be nil")
	}

	l := &logger{store: store, actor: "system"}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log appends one entry of the given event type.
func (l *logger) Log(ctx context.Context, event EventType, opts ...EntryOption) error {
	entry := Entry{
		ID:        uuid.New(),
		EventType: event,
		Actor:     l.actor,
		CreatedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(&entry)
	}

	if err := entry.Validate(); err != nil {
		return err
	}

	return l.store.Append(ctx, entry)
}

// WithWorkspace attaches the affected workspace to the entry.
func WithWorkspace(workspaceID uuid.UUID) EntryOption {
	return func(e *Entry) { e.WorkspaceID = &workspaceID }
}

// WithBundle attaches the affected bundle key to the entry.
func WithBundle(key string) EntryOption {
	return func(e *Entry) { e.BundleKey = key }
}

// WithActor overrides the logger's default actor.
func WithActor(actor string) EntryOption {
	return func(e *Entry) {
		if actor != "" {
			e.Actor = actor
		}
	}
}

// WithPriceChange records the billed price before and after the mutation.
func WithPriceChange(before, after decimal.Decimal) EntryOption {
	return func(e *Entry) {
		e.PriceBefore = &before
		e.PriceAfter = &after
	}
}

// WithBundleChange records the subscribed bundle set before and after the mutation.
func WithBundleChange(before, after []string) EntryOption {
	return func(e *Entry) {
		e.BundlesBefore = append([]string(nil), before...)
		e.BundlesAfter = append([]string(nil), after...)
	}
}

// WithMeta adds a metadata key-value pair to the entry.
func WithMeta(key string, value any) EntryOption {
	return func(e *Entry) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}
