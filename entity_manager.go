package embedpop

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

// EntityManager runs entity operations against the ORM's store.
// Managers are cheap; fork one per unit of work.
type EntityManager struct {
	orm    *ORM
	global bool
}

type txKey struct{}

// Fork returns a request-scoped manager. Forks are never subject to the
// global-context guard.
func (em *EntityManager) Fork() *EntityManager {
	return &EntityManager{orm: em.orm}
}

func (em *EntityManager) IsGlobal() bool {
	return em.global
}

func (em *EntityManager) check() error {
	if em.global && !em.orm.cfg.AllowGlobalContext {
		return constants.ErrGlobalContext
	}
	return nil
}

// Transactional runs fn in a store transaction. A call nested inside another
// Transactional joins the outer transaction. On stores without transactions fn
// runs directly.
func (em *EntityManager) Transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := em.check(); err != nil {
		return err
	}
	return em.transactional(ctx, fn)
}

func (em *EntityManager) transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTransaction(ctx) {
		return fn(ctx)
	}

	log := em.orm.logger
	log.Debug("transaction begin", "store", em.orm.store.Name())
	err := em.orm.store.Transaction(ctx, func(ctx context.Context) error {
		return fn(context.WithValue(ctx, txKey{}, true))
	})
	if err != nil {
		log.Debug("transaction rolled back", "error", err)
		return err
	}
	log.Debug("transaction committed")
	return nil
}

// implicit wraps a write when Config.ImplicitTransactions asks for it.
func (em *EntityManager) implicit(ctx context.Context, fn func(ctx context.Context) error) error {
	if em.orm.cfg.ImplicitTransactions && em.orm.store.Capabilities().Transactions {
		return em.transactional(ctx, fn)
	}
	return fn(ctx)
}

func inTransaction(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// entityPtr is the pointer type of a registered entity.
type entityPtr[T any] interface {
	*T
	models.Entity
	models.Identified
}

// Insert persists entity and returns its serialized id. The ObjectID is
// generated when unset; both identity fields are set before the write.
func Insert[T any, PT entityPtr[T]](ctx context.Context, em *EntityManager, entity PT) (string, error) {
	ids, err := insert[T](ctx, em, []PT{entity}, em.implicit, true)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertMany persists entities in one transaction when the store supports it.
// Without transactions a failure leaves the entities written before it stored,
// and only the others lose their generated ids.
func InsertMany[T any, PT entityPtr[T]](ctx context.Context, em *EntityManager, entities ...PT) ([]string, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	atomic := em.orm.store.Capabilities().Transactions
	run := em.implicit
	if atomic {
		run = em.transactional
	}
	return insert[T](ctx, em, entities, run, atomic)
}

func insert[T any, PT entityPtr[T]](
	ctx context.Context,
	em *EntityManager,
	entities []PT,
	run func(context.Context, func(context.Context) error) error,
	atomic bool,
) ([]string, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	meta, err := metadataFor[T](em.orm)
	if err != nil {
		return nil, err
	}

	ctx, cancel := em.orm.withTimeout(ctx)
	defer cancel()

	generated := make([]bool, len(entities))
	for i, e := range entities {
		if e == nil {
			return nil, fmt.Errorf("embedpop: insert %s: nil entity at %d", meta.Name, i)
		}
		if e.PrimaryKey().IsZero() {
			e.SetPrimaryKey(models.NewObjectID())
			generated[i] = true
		} else {
			e.SetPrimaryKey(e.PrimaryKey())
		}
	}

	// stored counts the writes of the last attempt; mongo may retry the callback.
	stored := 0
	err = run(ctx, func(ctx context.Context) error {
		stored = 0
		for _, e := range entities {
			if err := em.orm.store.Insert(ctx, meta, e); err != nil {
				return err
			}
			stored++
		}
		return nil
	})
	if err != nil {
		for i, e := range entities {
			if generated[i] && (atomic || i >= stored) {
				e.SetPrimaryKey(models.NilObjectID)
			}
		}
		return nil, err
	}

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.SerializedID())
	}
	em.orm.logger.Debug("inserted", "collection", meta.Name, "count", len(ids))
	return ids, nil
}

// FindOption configures a read.
type FindOption func(*findOptions)

type findOptions struct {
	populate []string
}

// Populate resolves the relations at paths. Each path must be a relation
// declared by the entity, e.g. "embeddedMember.otherEntities".
func Populate(paths ...string) FindOption {
	return func(o *findOptions) {
		o.populate = append(o.populate, paths...)
	}
}

func lookupsFor(meta *models.Metadata, opts []FindOption) ([]store.Lookup, error) {
	var fo findOptions
	for _, opt := range opts {
		opt(&fo)
	}

	rels := make([]models.Relation, 0, len(fo.populate))
	seen := make(map[string]bool, len(fo.populate))
	for _, path := range fo.populate {
		if seen[path] {
			continue
		}
		rel, ok := meta.Relation(path)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no relation %q", constants.ErrUnknownRelation, meta.Name, path)
		}
		seen[path] = true
		rels = append(rels, rel)
	}
	return store.LookupsFor(rels), nil
}

// FindOne returns the entity with the serialized id, or nil when there is none.
func FindOne[T any, PT entityPtr[T]](ctx context.Context, em *EntityManager, id string, opts ...FindOption) (*T, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	meta, err := metadataFor[T](em.orm)
	if err != nil {
		return nil, err
	}
	oid, err := models.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	lookups, err := lookupsFor(meta, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := em.orm.withTimeout(ctx)
	defer cancel()

	raw, err := em.orm.store.FindOne(ctx, meta, oid, lookups)
	if errors.Is(err, constants.ErrNoDocument) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[T, PT](meta, raw)
}

// FindOneOrFail is FindOne returning a *NotFoundError when there is no entity.
func FindOneOrFail[T any, PT entityPtr[T]](ctx context.Context, em *EntityManager, id string, opts ...FindOption) (*T, error) {
	entity, err := FindOne[T, PT](ctx, em, id, opts...)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		meta, _ := metadataFor[T](em.orm)
		return nil, &NotFoundError{Entity: meta.Name, ID: id}
	}
	return entity, nil
}

// Find returns the entities with the serialized ids in the order of ids.
// Ids without an entity are skipped.
func Find[T any, PT entityPtr[T]](ctx context.Context, em *EntityManager, ids []string, opts ...FindOption) ([]*T, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	meta, err := metadataFor[T](em.orm)
	if err != nil {
		return nil, err
	}
	oids := make([]models.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := models.ObjectIDFromHex(id)
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	lookups, err := lookupsFor(meta, opts)
	if err != nil {
		return nil, err
	}
	if len(oids) == 0 {
		return []*T{}, nil
	}

	ctx, cancel := em.orm.withTimeout(ctx)
	defer cancel()

	docs, err := em.orm.store.FindMany(ctx, meta, oids, lookups)
	if err != nil {
		return nil, err
	}

	byID := make(map[models.ObjectID]*T, len(docs))
	for _, raw := range docs {
		entity, err := decode[T, PT](meta, raw)
		if err != nil {
			return nil, err
		}
		byID[PT(entity).PrimaryKey()] = entity
	}

	out := make([]*T, 0, len(oids))
	for _, oid := range oids {
		if entity, ok := byID[oid]; ok {
			out = append(out, entity)
		}
	}
	return out, nil
}

// Delete removes the entity with the serialized id.
func Delete[T any, PT entityPtr[T]](ctx context.Context, em *EntityManager, id string) error {
	if err := em.check(); err != nil {
		return err
	}
	meta, err := metadataFor[T](em.orm)
	if err != nil {
		return err
	}
	oid, err := models.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	ctx, cancel := em.orm.withTimeout(ctx)
	defer cancel()

	err = em.implicit(ctx, func(ctx context.Context) error {
		return em.orm.store.Delete(ctx, meta, oid)
	})
	if errors.Is(err, constants.ErrNoDocument) {
		return &NotFoundError{Entity: meta.Name, ID: id}
	}
	return err
}

func decode[T any, PT entityPtr[T]](meta *models.Metadata, raw bson.Raw) (*T, error) {
	entity := new(T)
	if err := bson.Unmarshal(raw, entity); err != nil {
		return nil, fmt.Errorf("embedpop: decode %s: %w", meta.Name, err)
	}
	models.SyncIdentity(PT(entity))
	return entity, nil
}
