// Package mongostore is the MongoDB backend of the document store. Records
// are stored as flattened documents with a unique (timestamp, imei) index so
// batch replays fall out as duplicate-key skips, matching the embedded
// SQLite backend.
package mongostore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/store"
)

// DefaultDatabase is used when the connection URI carries no database path.
const DefaultDatabase = "fleetgate"

const devicesCollection = "devices"

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database

	// indexed tracks which per-type collections have their indexes ensured.
	indexMu sync.Mutex
	indexed map[string]bool
}

var _ store.Store = (*MongoStore)(nil)

// Open connects to the deployment named by uri and ensures the devices
// indexes. The database name comes from the URI path, falling back to
// DefaultDatabase.
func Open(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &MongoStore{
		client:  client,
		db:      client.Database(DatabaseName(uri)),
		indexed: make(map[string]bool),
	}
	if err := s.ensureDeviceIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// DatabaseName extracts the database from a mongodb:// URI path.
func DatabaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return DefaultDatabase
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return DefaultDatabase
	}
	return name
}

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureDeviceIndexes(ctx context.Context) error {
	_, err := s.db.Collection(devicesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "imei", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("ensure devices index: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateDevice(ctx context.Context, d *avl.Device) error {
	if d.ModemType == "" {
		d.ModemType = avl.DefaultModemType
	}
	_, err := s.db.Collection(devicesCollection).InsertOne(ctx, d)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrExists
	}
	if err != nil {
		return fmt.Errorf("create device %s: %w", d.IMEI, err)
	}
	return nil
}

func (s *MongoStore) GetDevice(ctx context.Context, imei string) (*avl.Device, error) {
	var d avl.Device
	err := s.db.Collection(devicesCollection).FindOne(ctx, bson.M{"imei": imei}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", imei, err)
	}
	return &d, nil
}

func (s *MongoStore) ListDevices(ctx context.Context) ([]avl.Device, error) {
	// Descending lastSeenAt puts never-seen devices (missing field) last.
	cur, err := s.db.Collection(devicesCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "lastSeenAt", Value: -1}, {Key: "imei", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var devices []avl.Device
	if err := cur.All(ctx, &devices); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return devices, nil
}

func (s *MongoStore) UpdateDevice(ctx context.Context, imei string, upd store.DeviceUpdate) (*avl.Device, error) {
	set := bson.M{"updatedAt": avl.NewTime(time.Now())}
	appendSet := func(field string, v *string) {
		if v != nil {
			set[field] = *v
		}
	}
	appendSet("modemType", upd.ModemType)
	appendSet("carBrand", upd.CarBrand)
	appendSet("carModel", upd.CarModel)
	appendSet("plateNumber", upd.PlateNumber)
	appendSet("notes", upd.Notes)
	appendSet("pollCommand", upd.PollCommand)

	var d avl.Device
	err := s.db.Collection(devicesCollection).FindOneAndUpdate(ctx,
		bson.M{"imei": imei}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update device %s: %w", imei, err)
	}
	return &d, nil
}

func (s *MongoStore) SetApproved(ctx context.Context, imei string, approved bool) error {
	res, err := s.db.Collection(devicesCollection).UpdateOne(ctx,
		bson.M{"imei": imei},
		bson.M{"$set": bson.M{"approved": approved, "updatedAt": avl.NewTime(time.Now())}})
	if err != nil {
		return fmt.Errorf("set approved %s: %w", imei, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) SetVIN(ctx context.Context, imei, vin string) error {
	res, err := s.db.Collection(devicesCollection).UpdateOne(ctx,
		bson.M{"imei": imei, "$or": bson.A{
			bson.M{"vin": ""},
			bson.M{"vin": bson.M{"$exists": false}},
		}},
		bson.M{"$set": bson.M{"vin": vin, "updatedAt": avl.NewTime(time.Now())}})
	if err != nil {
		return fmt.Errorf("set vin %s: %w", imei, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// Either the device already has a VIN (first write wins) or it does not
	// exist at all.
	_, err = s.GetDevice(ctx, imei)
	return err
}

func (s *MongoStore) TouchDevice(ctx context.Context, imei string, seenAt time.Time) error {
	res, err := s.db.Collection(devicesCollection).UpdateOne(ctx,
		bson.M{"imei": imei},
		bson.M{"$set": bson.M{"lastSeenAt": avl.NewTime(seenAt)}})
	if err != nil {
		return fmt.Errorf("touch device %s: %w", imei, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteDevice(ctx context.Context, imei string) error {
	res, err := s.db.Collection(devicesCollection).DeleteOne(ctx, bson.M{"imei": imei})
	if err != nil {
		return fmt.Errorf("delete device %s: %w", imei, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
