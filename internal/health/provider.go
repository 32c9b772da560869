package health

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/healthadvisor/server/internal/db"
	"github.com/healthadvisor/server/internal/models"
)

// DataProvider reads a user's recent health records, newest first. An empty
// history is an empty slice, not an error.
type DataProvider interface {
	RecentRecords(ctx context.Context, userID string, recordType models.RecordType, limit int) ([]models.HealthRecord, error)
}

// MongoProvider stores and reads health records in MongoDB, one collection
// per record type.
type MongoProvider struct {
	collections map[models.RecordType]*mongo.Collection
}

func NewMongoProvider(m *db.Mongo) *MongoProvider {
	return &MongoProvider{
		collections: map[models.RecordType]*mongo.Collection{
			models.RecordMeal:      m.Meals,
			models.RecordLabResult: m.LabResults,
			models.RecordSymptom:   m.Symptoms,
		},
	}
}

func (p *MongoProvider) RecentRecords(ctx context.Context, userID string, recordType models.RecordType, limit int) ([]models.HealthRecord, error) {
	coll, ok := p.collections[recordType]
	if !ok {
		return nil, fmt.Errorf("health: unknown record type %q", recordType)
	}

	if limit <= 0 {
		limit = 5
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "recorded_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("health: query %s records: %w", recordType, err)
	}
	defer cursor.Close(ctx)

	records := make([]models.HealthRecord, 0, limit)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("health: decode %s records: %w", recordType, err)
	}

	for i := range records {
		records[i].Type = recordType
	}

	return records, nil
}

// LogRecord persists a new health record and returns the stored copy.
func (p *MongoProvider) LogRecord(ctx context.Context, record models.HealthRecord) (*models.HealthRecord, error) {
	coll, ok := p.collections[record.Type]
	if !ok {
		return nil, fmt.Errorf("health: unknown record type %q", record.Type)
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	if _, err := coll.InsertOne(ctx, record); err != nil {
		return nil, fmt.Errorf("health: insert %s record: %w", record.Type, err)
	}

	return &record, nil
}
