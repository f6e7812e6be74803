package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore is a PostgreSQL-backed Store. The billing_history table is
// append-only; the schema lives in migrations/00001_create_billing_history.sql
// and is applied with pkg/pg.Migrate.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL billing-history store.
// Panics on nil pool to fail fast during initialization.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("history: pgx pool cannot be nil")
	}
	return &PGStore{pool: pool}
}

// Append stores a single entry.
func (s *PGStore) Append(ctx context.Context, entry Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return errors.Join(ErrStorageFailure, err)
	}

	var priceBefore, priceAfter *string
	if entry.PriceBefore != nil {
		v := entry.PriceBefore.String()
		priceBefore = &v
	}
	if entry.PriceAfter != nil {
		v := entry.PriceAfter.String()
		priceAfter = &v
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO billing_history
			(id, event_type, workspace_id, bundle_key, actor,
			 price_before, price_after, bundles_before, bundles_after, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, string(entry.EventType), entry.WorkspaceID, entry.BundleKey, entry.Actor,
		priceBefore, priceAfter, entry.BundlesBefore, entry.BundlesAfter, metadata, entry.CreatedAt,
	)
	if err != nil {
		return errors.Join(ErrStorageFailure, err)
	}
	return nil
}

// List returns entries matching the filter, oldest first.
func (s *PGStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, event_type, workspace_id, bundle_key, actor,
		       price_before, price_after, bundles_before, bundles_after, metadata, created_at
		FROM billing_history
		WHERE 1=1`
	args := []any{}

	if filter.WorkspaceID != nil {
		args = append(args, *filter.WorkspaceID)
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}
	if filter.BundleKey != "" {
		args = append(args, filter.BundleKey)
		query += fmt.Sprintf(" AND bundle_key = $%d", len(args))
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}

	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrStorageFailure, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                       Entry
			eventType               string
			priceBefore, priceAfter *string
			metadata                []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.WorkspaceID, &e.BundleKey, &e.Actor,
			&priceBefore, &priceAfter, &e.BundlesBefore, &e.BundlesAfter, &metadata, &e.CreatedAt); err != nil {
			return nil, errors.Join(ErrStorageFailure, err)
		}
		e.EventType = EventType(eventType)

		if priceBefore != nil {
			v, err := decimal.NewFromString(*priceBefore)
			if err != nil {
				return nil, errors.Join(ErrStorageFailure, err)
			}
			e.PriceBefore = &v
		}
		if priceAfter != nil {
			v, err := decimal.NewFromString(*priceAfter)
			if err != nil {
				return nil, errors.Join(ErrStorageFailure, err)
			}
			e.PriceAfter = &v
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, errors.Join(ErrStorageFailure, err)
			}
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStorageFailure, err)
	}
	return entries, nil
}
