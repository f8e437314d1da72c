// Package mongo implements store.Store on MongoDB.
//
// Relations are populated with an aggregation: the owner is matched by _id and
// every requested relation becomes a $lookup whose localField and as are the
// same dotted path, so the referenced documents replace the stored ObjectIDs in
// place, including inside embedded documents. Transactions need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	client       *mongod.Client
	db           *mongod.Database
	owned        bool
	transactions bool
	logger       logger.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithTransactions turns multi-document transactions on or off.
// They are on by default and require a replica set or a sharded cluster.
func WithTransactions(enabled bool) Option {
	return func(s *Store) {
		s.transactions = enabled
	}
}

// New wraps a connected client. The caller owns the client; Close does not
// disconnect it.
func New(client *mongod.Client, database string, opts ...Option) *Store {
	s := &Store{
		client:       client,
		db:           client.Database(database),
		transactions: true,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri and pings the server. The returned Store owns the
// connection.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	if database == "" {
		return nil, constants.ErrNoDBName
	}

	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("embedpop/mongo: connect: %w", err)
	}

	s := New(client, database, opts...)
	s.owned = true

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s.logger.Info("connected", "database", database)
	return s, nil
}

// Client returns the underlying client for advanced usage.
func (s *Store) Client() *mongod.Client {
	return s.client
}

func (s *Store) Name() string {
	return "mongo"
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Transactions: s.transactions, NativeLookup: true}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("embedpop/mongo: ping: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("embedpop/mongo: disconnect: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, meta *models.Metadata, doc any) error {
	_, err := s.db.Collection(meta.Name).InsertOne(ctx, doc)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("embedpop/mongo: insert %s: %w", meta.Name, constants.ErrDuplicateKey)
		}
		return fmt.Errorf("embedpop/mongo: insert %s: %w", meta.Name, err)
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, meta *models.Metadata, id models.ObjectID, lookups []store.Lookup) (bson.Raw, error) {
	col := s.db.Collection(meta.Name)
	filter := bson.D{{Key: constants.PrimaryKeyField, Value: id}}

	if len(lookups) == 0 {
		raw, err := col.FindOne(ctx, filter).Raw()
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				return nil, constants.ErrNoDocument
			}
			return nil, fmt.Errorf("embedpop/mongo: find %s: %w", meta.Name, err)
		}
		return raw, nil
	}

	docs, err := s.aggregate(ctx, col, Pipeline(filter, lookups, 1))
	if err != nil {
		return nil, fmt.Errorf("embedpop/mongo: find %s: %w", meta.Name, err)
	}
	if len(docs) == 0 {
		return nil, constants.ErrNoDocument
	}
	return docs[0], nil
}

func (s *Store) FindMany(ctx context.Context, meta *models.Metadata, ids []models.ObjectID, lookups []store.Lookup) ([]bson.Raw, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	filter := bson.D{{Key: constants.PrimaryKeyField, Value: bson.D{{Key: "$in", Value: ids}}}}
	docs, err := s.aggregate(ctx, s.db.Collection(meta.Name), Pipeline(filter, lookups, 0))
	if err != nil {
		return nil, fmt.Errorf("embedpop/mongo: find many %s: %w", meta.Name, err)
	}
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, meta *models.Metadata, id models.ObjectID) error {
	res, err := s.db.Collection(meta.Name).DeleteOne(ctx, bson.D{{Key: constants.PrimaryKeyField, Value: id}})
	if err != nil {
		return fmt.Errorf("embedpop/mongo: delete %s: %w", meta.Name, err)
	}
	if res.DeletedCount == 0 {
		return constants.ErrNoDocument
	}
	return nil
}

// CreateCollection creates the collection unless it exists. Collections cannot
// be created implicitly inside a transaction on older servers, so the schema
// manager creates them up front.
func (s *Store) CreateCollection(ctx context.Context, meta *models.Metadata) error {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: meta.Name}})
	if err != nil {
		return fmt.Errorf("embedpop/mongo: list collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}
	if err := s.db.CreateCollection(ctx, meta.Name); err != nil {
		return fmt.Errorf("embedpop/mongo: create %s: %w", meta.Name, err)
	}
	s.logger.Debug("created collection", "collection", meta.Name)
	return nil
}

func (s *Store) DropCollection(ctx context.Context, meta *models.Metadata) error {
	if err := s.db.Collection(meta.Name).Drop(ctx); err != nil {
		return fmt.Errorf("embedpop/mongo: drop %s: %w", meta.Name, err)
	}
	return nil
}

func (s *Store) EnsureIndexes(ctx context.Context, meta *models.Metadata) error {
	indexes := IndexModels(meta)
	if len(indexes) == 0 {
		return nil
	}

	_, err := s.db.Collection(meta.Name).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("embedpop/mongo: %s indexes: %w", meta.Name, constants.ErrDuplicateKey)
		}
		return fmt.Errorf("embedpop/mongo: %s indexes: %w", meta.Name, err)
	}
	return nil
}

// Transaction runs fn in a session transaction. A callback already running
// inside a session joins it.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions || mongod.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("embedpop/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Store) aggregate(ctx context.Context, col *mongod.Collection, pipeline mongod.Pipeline) ([]bson.Raw, error) {
	cursor, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		docs = append(docs, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
