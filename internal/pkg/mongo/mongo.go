package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fleetview/fleetview/internal/pkg/store"
)

// stateDocID identifies the single document holding the full state.
// Replacing one document is atomic on the server, which satisfies the
// full-replace durability contract.
const stateDocID = "fleetview-state"

// Store is a MongoDB-backed store.Store holding the durable state as a
// single document.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

type stateDoc struct {
	ID    string      `bson:"_id"`
	State store.State `bson:"state"`
}

// NewStore connects to MongoDB and prepares the state collection.
func NewStore(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(database).Collection("state")

	return &Store{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

// Load reads the state document, returning an empty state if none has
// been saved yet.
func (s *Store) Load(ctx context.Context) (*store.State, error) {
	var doc stateDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": stateDocID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return &store.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return &doc.State, nil
}

// Save replaces the state document wholesale, creating it on first use.
func (s *Store) Save(ctx context.Context, state *store.State) error {
	doc := stateDoc{ID: stateDocID, State: *state}

	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": stateDocID}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	return nil
}
