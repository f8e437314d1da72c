// Package store defines the contract between the mapper and a document database.
//
// A Store persists entities as documents, one collection per entity type, and
// resolves relation lookups natively: MongoDB through $lookup, SurrealDB through
// FETCH, and the memory store by walking its own documents. Documents cross the
// boundary as bson, so every store shares the entities' bson mapping.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/models"
)

// Lookup asks the store to replace the references stored at Path with the
// documents of collection From whose _id matches.
type Lookup struct {
	Path string
	From string
}

// LookupsFor converts relations into the lookups a store understands.
func LookupsFor(relations []models.Relation) []Lookup {
	lookups := make([]Lookup, 0, len(relations))
	for _, rel := range relations {
		lookups = append(lookups, Lookup{Path: rel.Path, From: rel.Target})
	}
	return lookups
}

type Capabilities struct {
	// Transactions reports whether Transaction gives atomicity.
	// Stores without it run the callback directly.
	Transactions bool
	// NativeLookup is false for stores that resolve lookups client side.
	NativeLookup bool
}

type Store interface {
	Name() string
	Capabilities() Capabilities

	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// Insert stores doc, which must marshal to a bson document carrying _id.
	Insert(ctx context.Context, meta *models.Metadata, doc any) error
	// FindOne returns constants.ErrNoDocument when no document has the id.
	FindOne(ctx context.Context, meta *models.Metadata, id models.ObjectID, lookups []Lookup) (bson.Raw, error)
	// FindMany returns the documents found, in no particular order.
	FindMany(ctx context.Context, meta *models.Metadata, ids []models.ObjectID, lookups []Lookup) ([]bson.Raw, error)
	// Delete returns constants.ErrNoDocument when no document has the id.
	Delete(ctx context.Context, meta *models.Metadata, id models.ObjectID) error

	CreateCollection(ctx context.Context, meta *models.Metadata) error
	DropCollection(ctx context.Context, meta *models.Metadata) error
	EnsureIndexes(ctx context.Context, meta *models.Metadata) error

	// Transaction runs fn atomically when the store supports it.
	// Operations inside fn must use the context passed to fn.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
