package revshare

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoStore is a MongoDB-backed Store. Event and record uniqueness ride on
// _id inserts, so idempotency and single-close hold across processes.
type MongoStore struct {
	events  *mongo.Collection
	records *mongo.Collection
	outbox  *mongo.Collection
}

// NewMongoStore creates a MongoDB revenue store.
func NewMongoStore(db *mongo.Database) *MongoStore {
	if db == nil {
		panic("revshare: mongo database is required")
	}
	return &MongoStore{
		events:  db.Collection("revenue_events"),
		records: db.Collection("revenue_records"),
		outbox:  db.Collection("invoice_outbox"),
	}
}

type revenueEventDoc struct {
	EventID     string    `bson:"_id"`
	WorkspaceID string    `bson:"workspace_id"`
	Source      string    `bson:"source"`
	Amount      string    `bson:"amount"`
	OccurredAt  time.Time `bson:"occurred_at"`
	PeriodKey   string    `bson:"period_key"`
	RecordedAt  time.Time `bson:"recorded_at"`
}

type revenueRecordDoc struct {
	ID   string `bson:"_id"`
	Data []byte `bson:"data"`
}

type outboxDoc struct {
	ID             string     `bson:"_id"`
	Invoice        []byte     `bson:"invoice"`
	Attempts       int        `bson:"attempts"`
	LastError      string     `bson:"last_error"`
	CreatedAt      time.Time  `bson:"created_at"`
	DispatchedAt   *time.Time `bson:"dispatched_at,omitempty"`
	DeadLetteredAt *time.Time `bson:"dead_lettered_at,omitempty"`
}

// AppendEvent stores a revenue event.
func (s *MongoStore) AppendEvent(ctx context.Context, event RevenueEvent) error {
	_, err := s.events.InsertOne(ctx, revenueEventDoc{
		EventID:     event.EventID.String(),
		WorkspaceID: event.WorkspaceID.String(),
		Source:      event.Source,
		Amount:      event.Amount.String(),
		OccurredAt:  event.OccurredAt,
		PeriodKey:   event.PeriodKey,
		RecordedAt:  event.RecordedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	return err
}

// ListEvents returns the events of one workspace period, oldest first.
func (s *MongoStore) ListEvents(ctx context.Context, workspaceID uuid.UUID, periodKey string) ([]RevenueEvent, error) {
	cursor, err := s.events.Find(ctx, bson.M{
		"workspace_id": workspaceID.String(),
		"period_key":   periodKey,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []RevenueEvent
	for cursor.Next(ctx) {
		var doc revenueEventDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		event, err := fromRevenueEventDoc(doc)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, cursor.Err()
}

func fromRevenueEventDoc(doc revenueEventDoc) (RevenueEvent, error) {
	eventID, err := uuid.Parse(doc.EventID)
	if err != nil {
		return RevenueEvent{}, err
	}
	workspaceID, err := uuid.Parse(doc.WorkspaceID)
	if err != nil {
		return RevenueEvent{}, err
	}
	amount, err := decimal.NewFromString(doc.Amount)
	if err != nil {
		return RevenueEvent{}, err
	}
	return RevenueEvent{
		EventID:     eventID,
		WorkspaceID: workspaceID,
		Source:      doc.Source,
		Amount:      amount,
		OccurredAt:  doc.OccurredAt,
		PeriodKey:   doc.PeriodKey,
		RecordedAt:  doc.RecordedAt,
	}, nil
}

// GetRecord loads a closed-period record.
func (s *MongoStore) GetRecord(ctx context.Context, workspaceID uuid.UUID, periodKey string) (RevenueRecord, error) {
	var doc revenueRecordDoc
	err := s.records.FindOne(ctx, bson.M{"_id": periodID(workspaceID, periodKey)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return RevenueRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return RevenueRecord{}, err
	}
	var record RevenueRecord
	if err := json.Unmarshal(doc.Data, &record); err != nil {
		return RevenueRecord{}, err
	}
	return record, nil
}

// CreateRecord stores the record for a period exactly once.
func (s *MongoStore) CreateRecord(ctx context.Context, record RevenueRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.records.InsertOne(ctx, revenueRecordDoc{
		ID:   periodID(record.WorkspaceID, record.PeriodKey),
		Data: data,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyClosed
	}
	return err
}

// EnqueueInvoice adds a pending invoice handoff to the outbox.
func (s *MongoStore) EnqueueInvoice(ctx context.Context, item OutboxItem) error {
	invoice, err := json.Marshal(item.Invoice)
	if err != nil {
		return err
	}
	_, err = s.outbox.InsertOne(ctx, outboxDoc{
		ID:             item.ID.String(),
		Invoice:        invoice,
		Attempts:       item.Attempts,
		LastError:      item.LastError,
		CreatedAt:      item.CreatedAt,
		DispatchedAt:   item.DispatchedAt,
		DeadLetteredAt: item.DeadLetteredAt,
	})
	return err
}

// PendingInvoices returns up to limit undispatched, not dead-lettered
// outbox items.
func (s *MongoStore) PendingInvoices(ctx context.Context, limit int) ([]OutboxItem, error) {
	cursor, err := s.outbox.Find(ctx, bson.M{
		"dispatched_at":    bson.M{"$exists": false},
		"dead_lettered_at": bson.M{"$exists": false},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []OutboxItem
	for cursor.Next(ctx) {
		var doc outboxDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, err
		}
		var invoice InvoiceRequest
		if err := json.Unmarshal(doc.Invoice, &invoice); err != nil {
			return nil, err
		}
		items = append(items, OutboxItem{
			ID:             id,
			Invoice:        invoice,
			Attempts:       doc.Attempts,
			LastError:      doc.LastError,
			CreatedAt:      doc.CreatedAt,
			DispatchedAt:   doc.DispatchedAt,
			DeadLetteredAt: doc.DeadLetteredAt,
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, cursor.Err()
}

// MarkInvoiceDispatched records a successful handoff.
func (s *MongoStore) MarkInvoiceDispatched(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := s.outbox.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"dispatched_at": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkInvoiceFailed increments the attempt count and stores the error.
func (s *MongoStore) MarkInvoiceFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	res, err := s.outbox.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{
			"$inc": bson.M{"attempts": 1},
			"$set": bson.M{"last_error": errMsg},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkInvoiceDead parks an item that exhausted its retries.
func (s *MongoStore) MarkInvoiceDead(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := s.outbox.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"dead_lettered_at": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}
