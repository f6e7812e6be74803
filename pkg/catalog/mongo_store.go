package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is a MongoDB-backed Store. Versions live in an append-only
// collection; the per-key current pointer is a separate small document
// updated with a conditional write, which is what turns a lost-update race
// into an explicit ErrVersionConflict.
type MongoStore struct {
	versions *mongo.Collection
	current  *mongo.Collection
	changes  *mongo.Collection
}

// NewMongoStore creates a MongoDB catalog store using the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	if db == nil {
		panic("catalog: mongo database is required")
	}
	return &MongoStore{
		versions: db.Collection("bundle_versions"),
		current:  db.Collection("bundle_current"),
		changes:  db.Collection("bundle_change_requests"),
	}
}

type bundleDoc struct {
	ID           string           `bson:"_id"` // "<key>:<version>"
	Key          string           `bson:"key"`
	Version      int64            `bson:"version"`
	MonthlyPrice string           `bson:"monthly_price"`
	YearlyPrice  string           `bson:"yearly_price"`
	Features     []string         `bson:"features"`
	Limits       map[string]int64 `bson:"limits"`
	PromoPrice   *string          `bson:"promo_price,omitempty"`
	PromoExpires *time.Time       `bson:"promo_expires,omitempty"`
	Enabled      bool             `bson:"enabled"`
	SupersededBy int64            `bson:"superseded_by"`
	CreatedAt    time.Time        `bson:"created_at"`
}

type currentDoc struct {
	Key     string `bson:"_id"`
	Version int64  `bson:"version"`
}

type changeRequestDoc struct {
	ID          string    `bson:"_id"`
	BundleKey   string    `bson:"bundle_key"`
	BaseVersion int64     `bson:"base_version"`
	Changes     []byte    `bson:"changes"` // JSON-encoded ChangeSet
	CreatedAt   time.Time `bson:"created_at"`
}

func versionID(key string, version int64) string {
	return fmt.Sprintf("%s:%d", key, version)
}

func toBundleDoc(def BundleDefinition) bundleDoc {
	doc := bundleDoc{
		ID:           versionID(def.Key, def.Version),
		Key:          def.Key,
		Version:      def.Version,
		MonthlyPrice: def.MonthlyPrice.String(),
		YearlyPrice:  def.YearlyPrice.String(),
		Enabled:      def.Enabled,
		SupersededBy: def.SupersededBy,
		CreatedAt:    def.CreatedAt,
	}
	for _, f := range def.Features {
		doc.Features = append(doc.Features, string(f))
	}
	if def.Limits != nil {
		doc.Limits = make(map[string]int64, len(def.Limits))
		for f, limit := range def.Limits {
			doc.Limits[string(f)] = limit
		}
	}
	if def.Promo != nil {
		price := def.Promo.OverridePrice.String()
		expires := def.Promo.ExpiresAt
		doc.PromoPrice = &price
		doc.PromoExpires = &expires
	}
	return doc
}

func fromBundleDoc(doc bundleDoc) (BundleDefinition, error) {
	monthly, err := decimal.NewFromString(doc.MonthlyPrice)
	if err != nil {
		return BundleDefinition{}, err
	}
	yearly, err := decimal.NewFromString(doc.YearlyPrice)
	if err != nil {
		return BundleDefinition{}, err
	}

	def := BundleDefinition{
		Key:          doc.Key,
		Version:      doc.Version,
		MonthlyPrice: monthly,
		YearlyPrice:  yearly,
		Enabled:      doc.Enabled,
		SupersededBy: doc.SupersededBy,
		CreatedAt:    doc.CreatedAt,
	}
	for _, f := range doc.Features {
		def.Features = append(def.Features, Feature(f))
	}
	if doc.Limits != nil {
		def.Limits = make(map[Feature]int64, len(doc.Limits))
		for f, limit := range doc.Limits {
			def.Limits[Feature(f)] = limit
		}
	}
	if doc.PromoPrice != nil && doc.PromoExpires != nil {
		price, err := decimal.NewFromString(*doc.PromoPrice)
		if err != nil {
			return BundleDefinition{}, err
		}
		def.Promo = &Promo{OverridePrice: price, ExpiresAt: *doc.PromoExpires}
	}
	return def, nil
}

// GetCurrent returns the current version for the key.
func (s *MongoStore) GetCurrent(ctx context.Context, key string) (BundleDefinition, error) {
	var pointer currentDoc
	err := s.current.FindOne(ctx, bson.M{"_id": key}).Decode(&pointer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return BundleDefinition{}, ErrBundleNotFound
	}
	if err != nil {
		return BundleDefinition{}, err
	}
	return s.GetVersion(ctx, key, pointer.Version)
}

// GetVersion returns a specific historical version.
func (s *MongoStore) GetVersion(ctx context.Context, key string, version int64) (BundleDefinition, error) {
	var doc bundleDoc
	err := s.versions.FindOne(ctx, bson.M{"_id": versionID(key, version)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return BundleDefinition{}, ErrVersionNotFound
	}
	if err != nil {
		return BundleDefinition{}, err
	}
	return fromBundleDoc(doc)
}

// ListCurrent returns the current version of every bundle key.
func (s *MongoStore) ListCurrent(ctx context.Context) ([]BundleDefinition, error) {
	cursor, err := s.current.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var defs []BundleDefinition
	for cursor.Next(ctx) {
		var pointer currentDoc
		if err := cursor.Decode(&pointer); err != nil {
			return nil, err
		}
		def, err := s.GetVersion(ctx, pointer.Key, pointer.Version)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, cursor.Err()
}

// AppendVersion stores def as the new current version under optimistic
// concurrency on the caller's read version.
func (s *MongoStore) AppendVersion(ctx context.Context, def BundleDefinition, expectVersion int64) error {
	// Write the immutable version document first; the current pointer is the
	// commit point, so an orphaned version document is harmless.
	if _, err := s.versions.InsertOne(ctx, toBundleDoc(def)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		return err
	}

	if expectVersion == 0 {
		if _, err := s.current.InsertOne(ctx, currentDoc{Key: def.Key, Version: def.Version}); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return err
		}
		return nil
	}

	res, err := s.current.UpdateOne(ctx,
		bson.M{"_id": def.Key, "version": expectVersion},
		bson.M{"$set": bson.M{"version": def.Version}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}

	// Link the superseded version to its replacement.
	_, err = s.versions.UpdateOne(ctx,
		bson.M{"_id": versionID(def.Key, expectVersion)},
		bson.M{"$set": bson.M{"superseded_by": def.Version}},
	)
	return err
}

// SaveChangeRequest persists a proposed edit.
func (s *MongoStore) SaveChangeRequest(ctx context.Context, cr ChangeRequest) error {
	changes, err := json.Marshal(cr.Changes)
	if err != nil {
		return err
	}
	_, err = s.changes.InsertOne(ctx, changeRequestDoc{
		ID:          cr.ID.String(),
		BundleKey:   cr.BundleKey,
		BaseVersion: cr.BaseVersion,
		Changes:     changes,
		CreatedAt:   cr.CreatedAt,
	})
	return err
}

// GetChangeRequest loads a proposed edit by ID.
func (s *MongoStore) GetChangeRequest(ctx context.Context, id uuid.UUID) (ChangeRequest, error) {
	var doc changeRequestDoc
	err := s.changes.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ChangeRequest{}, ErrChangeRequestNotFound
	}
	if err != nil {
		return ChangeRequest{}, err
	}

	var changes ChangeSet
	if err := json.Unmarshal(doc.Changes, &changes); err != nil {
		return ChangeRequest{}, err
	}
	return ChangeRequest{
		ID:          id,
		BundleKey:   doc.BundleKey,
		BaseVersion: doc.BaseVersion,
		Changes:     changes,
		CreatedAt:   doc.CreatedAt,
	}, nil
}
