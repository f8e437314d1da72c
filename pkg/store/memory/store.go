// Package memory provides an in-process store.Store.
//
// Documents are kept as bson bytes, so entities go through exactly the same
// encoding as with MongoDB. Lookups are resolved by walking the owner document
// and replacing references with the referenced documents.
//
// A transaction works on a private copy of the collections and swaps it in when
// the callback succeeds. Writes outside the transaction wait until it ends, and
// reads outside it see only committed documents.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

var _ store.Store = (*Store)(nil)

type collection struct {
	docs    map[models.ObjectID]bson.Raw
	order   []models.ObjectID
	indexes []models.Index
}

func newCollection() *collection {
	return &collection{docs: make(map[models.ObjectID]bson.Raw)}
}

func (c *collection) clone() *collection {
	out := &collection{
		docs:    make(map[models.ObjectID]bson.Raw, len(c.docs)),
		order:   append([]models.ObjectID(nil), c.order...),
		indexes: append([]models.Index(nil), c.indexes...),
	}
	for id, raw := range c.docs {
		out.docs[id] = raw
	}
	return out
}

type txKey struct{}

// tx is the working copy of an open transaction.
type tx struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	// txMu is held by an open transaction and by every write outside one.
	txMu        sync.Mutex
	collections map[string]*collection
	logger      logger.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]*collection),
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string {
	return "memory"
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Transactions: true}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

func (s *Store) Insert(ctx context.Context, meta *models.Metadata, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("embedpop/memory: encode %s: %w", meta.Name, err)
	}
	raw := bson.Raw(data)

	id, ok := raw.Lookup(constants.PrimaryKeyField).ObjectIDOK()
	if !ok || id.IsZero() {
		return fmt.Errorf("embedpop/memory: insert %s: document has no %s", meta.Name, constants.PrimaryKeyField)
	}

	return s.write(ctx, func(cols map[string]*collection) error {
		c := collectionIn(cols, meta.Name)
		if _, exists := c.docs[id]; exists {
			return fmt.Errorf("embedpop/memory: insert %s: %w: %s %s", meta.Name, constants.ErrDuplicateKey, constants.PrimaryKeyField, id.Hex())
		}
		for _, idx := range c.indexes {
			if !idx.Unique {
				continue
			}
			for _, other := range c.order {
				if sameKey(idx, raw, c.docs[other]) {
					return fmt.Errorf("embedpop/memory: insert %s: %w: index %s", meta.Name, constants.ErrDuplicateKey, idx.Name)
				}
			}
		}

		c.docs[id] = raw
		c.order = append(c.order, id)
		s.logger.Debug("inserted document", "collection", meta.Name, "id", id.Hex())
		return nil
	})
}

func (s *Store) FindOne(ctx context.Context, meta *models.Metadata, id models.ObjectID, lookups []store.Lookup) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out bson.Raw
	err := s.read(ctx, func(cols map[string]*collection) error {
		c, ok := cols[meta.Name]
		if !ok {
			return constants.ErrNoDocument
		}
		raw, ok := c.docs[id]
		if !ok {
			return constants.ErrNoDocument
		}
		resolved, err := resolve(cols, raw, lookups)
		out = resolved
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FindMany(ctx context.Context, meta *models.Metadata, ids []models.ObjectID, lookups []store.Lookup) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make(map[models.ObjectID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var out []bson.Raw
	err := s.read(ctx, func(cols map[string]*collection) error {
		c, ok := cols[meta.Name]
		if !ok {
			return nil
		}
		for _, id := range c.order {
			if !wanted[id] {
				continue
			}
			raw, err := resolve(cols, c.docs[id], lookups)
			if err != nil {
				return err
			}
			out = append(out, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, meta *models.Metadata, id models.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.write(ctx, func(cols map[string]*collection) error {
		c, ok := cols[meta.Name]
		if !ok {
			return constants.ErrNoDocument
		}
		if _, ok := c.docs[id]; !ok {
			return constants.ErrNoDocument
		}
		delete(c.docs, id)
		for i, other := range c.order {
			if other == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (s *Store) CreateCollection(ctx context.Context, meta *models.Metadata) error {
	return s.write(ctx, func(cols map[string]*collection) error {
		collectionIn(cols, meta.Name)
		return nil
	})
}

func (s *Store) DropCollection(ctx context.Context, meta *models.Metadata) error {
	return s.write(ctx, func(cols map[string]*collection) error {
		delete(cols, meta.Name)
		return nil
	})
}

// EnsureIndexes replaces indexes by name. Building a unique index over
// duplicate documents fails, as it does on MongoDB.
func (s *Store) EnsureIndexes(ctx context.Context, meta *models.Metadata) error {
	return s.write(ctx, func(cols map[string]*collection) error {
		c := collectionIn(cols, meta.Name)
		for _, idx := range meta.Indexes {
			if idx.Unique {
				for i, a := range c.order {
					for _, b := range c.order[i+1:] {
						if sameKey(idx, c.docs[a], c.docs[b]) {
							return fmt.Errorf("embedpop/memory: index %s on %s: %w", idx.Name, meta.Name, constants.ErrDuplicateKey)
						}
					}
				}
			}

			replaced := false
			for i := range c.indexes {
				if c.indexes[i].Name == idx.Name {
					c.indexes[i] = idx
					replaced = true
				}
			}
			if !replaced {
				c.indexes = append(c.indexes, idx)
			}
		}
		return nil
	})
}

// Indexes returns the indexes ensured on a collection.
func (s *Store) Indexes(name string) []models.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return append([]models.Index(nil), c.indexes...)
	}
	return nil
}

// IDs returns the ids stored in a collection, in insertion order.
func (s *Store) IDs(name string) []models.ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return append([]models.ObjectID(nil), c.order...)
	}
	return nil
}

// Transaction runs fn against a copy of the collections and commits the copy
// when fn succeeds. A call inside a transaction joins it.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{collections: s.snapshot()}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		s.logger.Debug("transaction rolled back", "error", err)
		return err
	}

	s.mu.Lock()
	s.collections = t.collections
	s.mu.Unlock()
	return nil
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// write runs fn on the transaction's copy, or on the committed collections
// once no transaction is open.
func (s *Store) write(ctx context.Context, fn func(cols map[string]*collection) error) error {
	if t := txFrom(ctx); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return fn(t.collections)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.collections)
}

func (s *Store) read(ctx context.Context, fn func(cols map[string]*collection) error) error {
	if t := txFrom(ctx); t != nil {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return fn(t.collections)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.collections)
}

func (s *Store) snapshot() map[string]*collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*collection, len(s.collections))
	for name, c := range s.collections {
		out[name] = c.clone()
	}
	return out
}

func collectionIn(cols map[string]*collection, name string) *collection {
	c, ok := cols[name]
	if !ok {
		c = newCollection()
		cols[name] = c
	}
	return c
}

func resolve(cols map[string]*collection, raw bson.Raw, lookups []store.Lookup) (bson.Raw, error) {
	if len(lookups) == 0 {
		return append(bson.Raw(nil), raw...), nil
	}

	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("embedpop/memory: decode: %w", err)
	}

	for _, l := range lookups {
		from := cols[l.From]
		doc, _ = store.WalkPath(doc, store.SplitPath(l.Path), func(v any) any {
			return lookup(v, from)
		}).(bson.D)
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("embedpop/memory: encode: %w", err)
	}
	return data, nil
}

// lookup replaces ObjectIDs with the documents of from. References to missing
// documents are dropped, like $lookup does.
func lookup(v any, from *collection) any {
	refs, ok := v.(bson.A)
	if !ok {
		return v
	}
	out := bson.A{}
	for _, ref := range refs {
		id, ok := ref.(bson.ObjectID)
		if !ok {
			out = append(out, ref)
			continue
		}
		if from == nil {
			continue
		}
		raw, ok := from.docs[id]
		if !ok {
			continue
		}
		var target bson.D
		if err := bson.Unmarshal(raw, &target); err != nil {
			continue
		}
		out = append(out, target)
	}
	return out
}

func sameKey(idx models.Index, a, b bson.Raw) bool {
	for _, key := range idx.Keys {
		field, _ := models.KeyOrder(key)
		path := strings.Split(field, ".")
		av, aerr := a.LookupErr(path...)
		bv, berr := b.LookupErr(path...)
		if aerr != nil && berr != nil {
			continue
		}
		if aerr != nil || berr != nil || !av.Equal(bv) {
			return false
		}
	}
	return true
}
