package impact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is a MongoDB-backed Store.
type MongoStore struct {
	reports *mongo.Collection
	pins    *mongo.Collection
}

// NewMongoStore creates a MongoDB analysis store.
func NewMongoStore(db *mongo.Database) *MongoStore {
	if db == nil {
		panic("impact: mongo database is required")
	}
	return &MongoStore{
		reports: db.Collection("impact_reports"),
		pins:    db.Collection("grandfather_pins"),
	}
}

// Reports carry decimals and nested change sets, so the document stores the
// JSON encoding and a few queryable fields alongside.
type reportDoc struct {
	ID        string    `bson:"_id"`
	BundleKey string    `bson:"bundle_key"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

type pinDoc struct {
	ID          string    `bson:"_id"` // "<workspace>:<bundle>"
	WorkspaceID string    `bson:"workspace_id"`
	BundleKey   string    `bson:"bundle_key"`
	Version     int64     `bson:"version"`
	Until       time.Time `bson:"until"`
}

// SaveReport creates a report or updates its migration-plan progress.
func (s *MongoStore) SaveReport(ctx context.Context, report Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = s.reports.ReplaceOne(ctx,
		bson.M{"_id": report.ID.String()},
		reportDoc{
			ID:        report.ID.String(),
			BundleKey: report.BundleKey,
			Data:      data,
			CreatedAt: report.CreatedAt,
		},
		options.Replace().SetUpsert(true),
	)
	return err
}

// GetReport loads a report by ID.
func (s *MongoStore) GetReport(ctx context.Context, id uuid.UUID) (Report, error) {
	var doc reportDoc
	err := s.reports.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Report{}, ErrReportNotFound
	}
	if err != nil {
		return Report{}, err
	}

	var report Report
	if err := json.Unmarshal(doc.Data, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}

// SavePin records or replaces a workspace's grandfather pin for a bundle.
func (s *MongoStore) SavePin(ctx context.Context, pin GrandfatherPin) error {
	id := fmt.Sprintf("%s:%s", pin.WorkspaceID, pin.BundleKey)
	_, err := s.pins.ReplaceOne(ctx,
		bson.M{"_id": id},
		pinDoc{
			ID:          id,
			WorkspaceID: pin.WorkspaceID.String(),
			BundleKey:   pin.BundleKey,
			Version:     pin.Version,
			Until:       pin.Until,
		},
		options.Replace().SetUpsert(true),
	)
	return err
}

// GetPin loads the pin for (workspace, bundle).
func (s *MongoStore) GetPin(ctx context.Context, workspaceID uuid.UUID, bundleKey string) (GrandfatherPin, error) {
	var doc pinDoc
	err := s.pins.FindOne(ctx, bson.M{"_id": fmt.Sprintf("%s:%s", workspaceID, bundleKey)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return GrandfatherPin{}, ErrPinNotFound
	}
	if err != nil {
		return GrandfatherPin{}, err
	}

	id, err := uuid.Parse(doc.WorkspaceID)
	if err != nil {
		return GrandfatherPin{}, err
	}
	return GrandfatherPin{
		WorkspaceID: id,
		BundleKey:   doc.BundleKey,
		Version:     doc.Version,
		Until:       doc.Until,
	}, nil
}
