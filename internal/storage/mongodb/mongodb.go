// Package mongodb implements storage.Storage on a MongoDB collection.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/inn0kenty/mail2mongo/internal/mail"
)

const opTimeout = 3 * time.Second

// Storage stores mail records as documents in a single collection.
type Storage struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// mailDoc is the stored document layout. It mirrors the realtime event
// payload exactly, except the identifier is assigned by the store.
type mailDoc struct {
	From      string    `bson:"from"`
	To        string    `bson:"to"`
	Subject   string    `bson:"subject"`
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

// New pings the server, selects the database and collection and ensures the
// indexes used by downstream consumers.
func New(ctx context.Context, client *mongo.Client, database, collection string) (*Storage, error) {
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &Storage{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "to", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "timestamp", Value: -1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// MailCreate inserts one record and returns the hex form of the ObjectID the
// store assigned to it.
func (s *Storage) MailCreate(ctx context.Context, record *mail.Record) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result, err := s.collection.InsertOne(ctx, &mailDoc{
		From:      record.From,
		To:        record.To,
		Subject:   record.Subject,
		Text:      record.Text,
		Timestamp: record.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("insert mail: %w", err)
	}

	oid, ok := result.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", result.InsertedID)
	}
	return oid.Hex(), nil
}

// Close disconnects the underlying client.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
