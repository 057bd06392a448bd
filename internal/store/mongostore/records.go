package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/store"
)

// records ensures the per-type collection indexes and returns the handle.
func (s *MongoStore) records(ctx context.Context, modemType string) (*mongo.Collection, error) {
	name := store.RecordsCollection(modemType)
	if err := s.ensureIndexes(ctx, name, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}, {Key: "imei", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "imei", Value: 1}, {Key: "timestamp", Value: -1}},
		},
	}); err != nil {
		return nil, err
	}
	return s.db.Collection(name), nil
}

func (s *MongoStore) raw(ctx context.Context, modemType string) (*mongo.Collection, error) {
	name := store.RawCollection(modemType)
	if err := s.ensureIndexes(ctx, name, []mongo.IndexModel{
		{Keys: bson.D{{Key: "imei", Value: 1}, {Key: "receivedAt", Value: -1}}},
	}); err != nil {
		return nil, err
	}
	return s.db.Collection(name), nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexed[collection] {
		return nil
	}
	if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("ensure %s indexes: %w", collection, err)
	}
	s.indexed[collection] = true
	return nil
}

func (s *MongoStore) InsertRecords(ctx context.Context, modemType string, records []*avl.Record) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	coll, err := s.records(ctx, modemType)
	if err != nil {
		return 0, 0, err
	}

	docs := make([]any, len(records))
	for i, rec := range records {
		docs[i] = rec.Document()
	}

	// Unordered insert keeps going past duplicate-key collisions, so a
	// replayed batch inserts only the records not seen before.
	_, err = coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(records), 0, nil
	}
	bwe, ok := err.(mongo.BulkWriteException)
	if !ok {
		return 0, 0, fmt.Errorf("insert records: %w", err)
	}
	duplicates := 0
	for _, we := range bwe.WriteErrors {
		if !mongo.IsDuplicateKeyError(we.WriteError) {
			return 0, 0, fmt.Errorf("insert records: %w", err)
		}
		duplicates++
	}
	return len(records) - duplicates, duplicates, nil
}

func (s *MongoStore) LatestRecord(ctx context.Context, modemType, imei string) (*avl.Record, error) {
	coll, err := s.records(ctx, modemType)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = coll.FindOne(ctx, bson.M{"imei": imei},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest record: %w", err)
	}
	return avl.RecordFromDocument(plainDocument(doc)), nil
}

func (s *MongoStore) Records(ctx context.Context, modemType, imei string, limit, skip int) ([]avl.Record, error) {
	coll, err := s.records(ctx, modemType)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.M{"imei": imei}, options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(skip)))
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	return collectRecords(ctx, cur)
}

func (s *MongoStore) RecordRange(ctx context.Context, modemType, imei string, from, to time.Time) ([]avl.Record, error) {
	coll, err := s.records(ctx, modemType)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.M{
		"imei":      imei,
		"timestamp": bson.M{"$gte": from, "$lte": to},
	}, options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}}).
		SetLimit(store.MaxRangeRecords))
	if err != nil {
		return nil, fmt.Errorf("record range: %w", err)
	}
	return collectRecords(ctx, cur)
}

func (s *MongoStore) CountRecords(ctx context.Context, modemType, imei string) (int64, error) {
	coll, err := s.records(ctx, modemType)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, bson.M{"imei": imei})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *MongoStore) CountRecordsSince(ctx context.Context, modemType, imei string, since time.Time) (int64, error) {
	coll, err := s.records(ctx, modemType)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, bson.M{
		"imei":      imei,
		"timestamp": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, fmt.Errorf("count records since: %w", err)
	}
	return n, nil
}

func (s *MongoStore) InsertRaw(ctx context.Context, modemType string, frame *avl.RawFrame) error {
	coll, err := s.raw(ctx, modemType)
	if err != nil {
		return err
	}
	if _, err := coll.InsertOne(ctx, frame); err != nil {
		return fmt.Errorf("insert raw frame: %w", err)
	}
	return nil
}

func (s *MongoStore) RawFrames(ctx context.Context, modemType, imei string, limit int) ([]avl.RawFrame, error) {
	coll, err := s.raw(ctx, modemType)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.M{"imei": imei}, options.Find().
		SetSort(bson.D{{Key: "receivedAt", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("raw frames: %w", err)
	}
	var frames []avl.RawFrame
	if err := cur.All(ctx, &frames); err != nil {
		return nil, fmt.Errorf("decode raw frames: %w", err)
	}
	return frames, nil
}

func collectRecords(ctx context.Context, cur *mongo.Cursor) ([]avl.Record, error) {
	defer cur.Close(ctx)
	var records []avl.Record
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, *avl.RecordFromDocument(plainDocument(doc)))
	}
	return records, cur.Err()
}

// plainDocument reduces driver value types to the plain Go values
// avl.RecordFromDocument understands.
func plainDocument(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = plainBSON(v)
	}
	return out
}

func plainBSON(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.M:
		// bson.M is an alias of primitive.M, so this arm covers both.
		return plainDocument(t)
	case primitive.A:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = plainBSON(item)
		}
		return items
	case int32:
		return int64(t)
	default:
		return v
	}
}
