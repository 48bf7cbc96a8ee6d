package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB heightmap store.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. terrainforge
	Collection string // e.g. heightmaps
}

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

type mongoRecord struct {
	ID         string    `bson:"_id"`
	Resolution int       `bson:"resolution"`
	Seed       int64     `bson:"seed"`
	Payload    []byte    `bson:"payload"`
	CreatedAt  time.Time `bson:"created_at"`
}

func newMongoRecord(rec *Record) (mongoRecord, error) {
	if err := validateID(rec.ID); err != nil {
		return mongoRecord{}, err
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return mongoRecord{}, err
	}
	params := rec.Map.Params()
	return mongoRecord{
		ID:         rec.ID,
		Resolution: params.Resolution,
		Seed:       params.Seed,
		Payload:    data,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// record decodes the payload; the indexed fields must agree with it.
func (d mongoRecord) record() (*Record, error) {
	rec, err := DecodeRecord(d.Payload)
	if err != nil {
		return nil, err
	}
	if rec.ID != d.ID || rec.Map.Resolution() != d.Resolution {
		return nil, fmt.Errorf("mongo document %s does not match its payload", d.ID)
	}
	return rec, nil
}

// NewMongoStore establishes connection and returns the store.
func NewMongoStore(cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "terrainforge"
	}
	if cfg.Collection == "" {
		cfg.Collection = "heightmaps"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}
	if err := store.ensureIndexes(); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: -1}},
		Options: options.Index().SetName("created_at_desc"),
	})
	return err
}

// Save upserts the record.
func (m *MongoStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("пустая запись")
	}
	doc, err := newMongoRecord(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo save %s: %w", rec.ID, err)
	}
	return nil
}

// Load returns ErrNotFound when the document is missing.
func (m *MongoStore) Load(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc mongoRecord
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo load %s: %w", id, err)
	}
	return doc.record()
}

// Delete removes the document.
func (m *MongoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo delete %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns ids, newest first.
func (m *MongoStore) List(ctx context.Context, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo list: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

// Close disconnects the client.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
