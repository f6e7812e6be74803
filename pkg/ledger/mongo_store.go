package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// MongoSubscriptionStore is a MongoDB-backed SubscriptionStore.
type MongoSubscriptionStore struct {
	subs *mongo.Collection
}

// NewMongoSubscriptionStore creates a MongoDB subscription store.
func NewMongoSubscriptionStore(db *mongo.Database) *MongoSubscriptionStore {
	if db == nil {
		panic("ledger: mongo database is required")
	}
	return &MongoSubscriptionStore{subs: db.Collection("workspace_subscriptions")}
}

type subscriptionDoc struct {
	WorkspaceID        string           `bson:"_id"`
	BundleKeys         []string         `bson:"bundle_keys"`
	Cycle              string           `bson:"cycle"`
	Status             string           `bson:"status"`
	VersionPins        map[string]int64 `bson:"version_pins"`
	CurrentPeriodStart time.Time        `bson:"current_period_start"`
	CurrentPeriodEnd   time.Time        `bson:"current_period_end"`
	PeriodSeq          int64            `bson:"period_seq"`
	CreatedAt          time.Time        `bson:"created_at"`
	UpdatedAt          time.Time        `bson:"updated_at"`
	CancelledAt        *time.Time       `bson:"cancelled_at,omitempty"`
}

func toSubscriptionDoc(sub *WorkspaceSubscription) subscriptionDoc {
	return subscriptionDoc{
		WorkspaceID:        sub.WorkspaceID.String(),
		BundleKeys:         sub.BundleKeys,
		Cycle:              string(sub.Cycle),
		Status:             string(sub.Status),
		VersionPins:        sub.VersionPins,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		PeriodSeq:          sub.PeriodSeq,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
		CancelledAt:        sub.CancelledAt,
	}
}

func fromSubscriptionDoc(doc subscriptionDoc) (*WorkspaceSubscription, error) {
	workspaceID, err := uuid.Parse(doc.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return &WorkspaceSubscription{
		WorkspaceID:        workspaceID,
		BundleKeys:         doc.BundleKeys,
		Cycle:              catalog.BillingCycle(doc.Cycle),
		Status:             Status(doc.Status),
		VersionPins:        doc.VersionPins,
		CurrentPeriodStart: doc.CurrentPeriodStart,
		CurrentPeriodEnd:   doc.CurrentPeriodEnd,
		PeriodSeq:          doc.PeriodSeq,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
		CancelledAt:        doc.CancelledAt,
	}, nil
}

// Get retrieves a subscription by workspace ID.
func (s *MongoSubscriptionStore) Get(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSubscription, error) {
	var doc subscriptionDoc
	err := s.subs.FindOne(ctx, bson.M{"_id": workspaceID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromSubscriptionDoc(doc)
}

// Save creates or updates a subscription.
func (s *MongoSubscriptionStore) Save(ctx context.Context, sub *WorkspaceSubscription) error {
	_, err := s.subs.ReplaceOne(ctx,
		bson.M{"_id": sub.WorkspaceID.String()},
		toSubscriptionDoc(sub),
		options.Replace().SetUpsert(true),
	)
	return err
}

// ListByBundle returns every non-cancelled subscription containing the key.
func (s *MongoSubscriptionStore) ListByBundle(ctx context.Context, bundleKey string) ([]WorkspaceSubscription, error) {
	cursor, err := s.subs.Find(ctx, bson.M{
		"bundle_keys": bundleKey,
		"status":      bson.M{"$ne": string(StatusCancelled)},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []WorkspaceSubscription
	for cursor.Next(ctx) {
		var doc subscriptionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		sub, err := fromSubscriptionDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, *sub)
	}
	return result, cursor.Err()
}

// MongoUsageStore is a MongoDB-backed UsageStore. Add is a conditional
// update keyed on the document's current value, retried on conflict - the
// document-store equivalent of compare-and-increment.
type MongoUsageStore struct {
	counters *mongo.Collection
}

// NewMongoUsageStore creates a MongoDB usage store.
func NewMongoUsageStore(db *mongo.Database) *MongoUsageStore {
	if db == nil {
		panic("ledger: mongo database is required")
	}
	return &MongoUsageStore{counters: db.Collection("usage_counters")}
}

// casAttempts bounds the compare-and-increment retry loop; contention past
// this point surfaces as ErrUsageConflict, safe to retry from the caller.
const casAttempts = 16

type usageDoc struct {
	ID       string `bson:"_id"`
	Consumed int64  `bson:"consumed"`
}

// Add atomically increments the counter if the result stays within limit.
func (s *MongoUsageStore) Add(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string, amount, limit int64) (int64, error) {
	key := usageKey(workspaceID, feature, periodKey)

	for range casAttempts {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var doc usageDoc
		err := s.counters.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			doc = usageDoc{ID: key, Consumed: 0}
		case err != nil:
			return 0, err
		}

		if limit >= 0 && doc.Consumed+amount > limit {
			return doc.Consumed, ErrInsufficientQuota
		}

		next := doc.Consumed + amount
		if doc.Consumed == 0 {
			// Lazy counter creation; a duplicate key means a concurrent
			// writer created it first, so re-read and retry.
			_, err = s.counters.InsertOne(ctx, usageDoc{ID: key, Consumed: next})
			if err == nil {
				return next, nil
			}
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return 0, err
		}

		res, err := s.counters.UpdateOne(ctx,
			bson.M{"_id": key, "consumed": doc.Consumed},
			bson.M{"$set": bson.M{"consumed": next}},
		)
		if err != nil {
			return 0, err
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
		// Lost the race; retry against the fresh value.
	}
	return 0, ErrUsageConflict
}

// Get returns the current consumption for the counter.
func (s *MongoUsageStore) Get(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string) (int64, error) {
	var doc usageDoc
	err := s.counters.FindOne(ctx, bson.M{"_id": usageKey(workspaceID, feature, periodKey)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Consumed, nil
}
