package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

var (
	targetMeta = &models.Metadata{Name: "target"}
	ownerMeta  = &models.Metadata{
		Name: "owner",
		Relations: []models.Relation{
			{Path: "inner.refs", Target: "target", Kind: models.ManyToMany},
		},
	}
)

func insertTarget(t *testing.T, s *Store, ctx context.Context, name string) models.ObjectID {
	t.Helper()
	id := models.NewObjectID()
	require.NoError(t, s.Insert(ctx, targetMeta, bson.D{{Key: "_id", Value: id}, {Key: "name", Value: name}}))
	return id
}

func TestStore_lookupInsideEmbeddedDocument(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := insertTarget(t, s, ctx, "a")
	b := insertTarget(t, s, ctx, "b")
	missing := models.NewObjectID()

	ownerID := models.NewObjectID()
	require.NoError(t, s.Insert(ctx, ownerMeta, bson.D{
		{Key: "_id", Value: ownerID},
		{Key: "inner", Value: bson.D{
			{Key: "name", Value: "embedded"},
			{Key: "refs", Value: bson.A{a, missing, b}},
		}},
	}))

	raw, err := s.FindOne(ctx, ownerMeta, ownerID, nil)
	require.NoError(t, err)
	refs, err := raw.LookupErr("inner", "refs")
	require.NoError(t, err)
	values, err := refs.Array().Values()
	require.NoError(t, err)
	assert.Len(t, values, 3, "without lookups the references stay as stored")

	raw, err = s.FindOne(ctx, ownerMeta, ownerID, store.LookupsFor(ownerMeta.Relations))
	require.NoError(t, err)
	refs, err = raw.LookupErr("inner", "refs")
	require.NoError(t, err)
	values, err = refs.Array().Values()
	require.NoError(t, err)
	require.Len(t, values, 2, "references to missing documents are dropped")
	assert.Equal(t, "a", values[0].Document().Lookup("name").StringValue())
	assert.Equal(t, "b", values[1].Document().Lookup("name").StringValue())
	assert.Equal(t, "embedded", raw.Lookup("inner", "name").StringValue())
}

func TestStore_lookupThroughArrays(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := insertTarget(t, s, ctx, "a")
	ownerID := models.NewObjectID()
	require.NoError(t, s.Insert(ctx, ownerMeta, bson.D{
		{Key: "_id", Value: ownerID},
		{Key: "inner", Value: bson.A{
			bson.D{{Key: "refs", Value: bson.A{a}}},
			bson.D{{Key: "refs", Value: bson.A{}}},
		}},
	}))

	raw, err := s.FindOne(ctx, ownerMeta, ownerID, store.LookupsFor(ownerMeta.Relations))
	require.NoError(t, err)
	first, err := raw.LookupErr("inner", "0", "refs", "0", "name")
	require.NoError(t, err)
	assert.Equal(t, "a", first.StringValue())
}

func TestStore_findManyAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := insertTarget(t, s, ctx, "a")
	b := insertTarget(t, s, ctx, "b")
	insertTarget(t, s, ctx, "c")

	docs, err := s.FindMany(ctx, targetMeta, []models.ObjectID{b, a, models.NewObjectID()}, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Lookup("name").StringValue(), "insertion order")

	require.NoError(t, s.Delete(ctx, targetMeta, a))
	require.ErrorIs(t, s.Delete(ctx, targetMeta, a), constants.ErrNoDocument)

	_, err = s.FindOne(ctx, targetMeta, a, nil)
	require.ErrorIs(t, err, constants.ErrNoDocument)

	_, err = s.FindOne(ctx, &models.Metadata{Name: "nothing"}, a, nil)
	require.ErrorIs(t, err, constants.ErrNoDocument)
}

func TestStore_duplicates(t *testing.T) {
	ctx := context.Background()
	s := New()

	id := insertTarget(t, s, ctx, "a")
	err := s.Insert(ctx, targetMeta, bson.D{{Key: "_id", Value: id}})
	require.ErrorIs(t, err, constants.ErrDuplicateKey)

	err = s.Insert(ctx, targetMeta, bson.D{{Key: "name", Value: "no id"}})
	require.Error(t, err)

	meta := &models.Metadata{
		Name:    "target",
		Indexes: []models.Index{{Name: "name_unique", Keys: []string{"name"}, Unique: true}},
	}
	require.NoError(t, s.EnsureIndexes(ctx, meta))
	require.NoError(t, s.EnsureIndexes(ctx, meta), "ensuring twice is a no-op")
	assert.Len(t, s.Indexes("target"), 1)

	err = s.Insert(ctx, targetMeta, bson.D{{Key: "_id", Value: models.NewObjectID()}, {Key: "name", Value: "a"}})
	require.ErrorIs(t, err, constants.ErrDuplicateKey)

	insertTarget(t, s, ctx, "b")
}

func TestStore_uniqueIndexOverDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	insertTarget(t, s, ctx, "same")
	insertTarget(t, s, ctx, "same")

	meta := &models.Metadata{
		Name:    "target",
		Indexes: []models.Index{{Name: "name_unique", Keys: []string{"-name"}, Unique: true}},
	}
	require.ErrorIs(t, s.EnsureIndexes(ctx, meta), constants.ErrDuplicateKey)
}

func TestStore_transaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	kept := insertTarget(t, s, ctx, "kept")

	boom := errors.New("boom")
	var inside models.ObjectID
	err := s.Transaction(ctx, func(ctx context.Context) error {
		inside = insertTarget(t, s, ctx, "rolled back")
		require.NoError(t, s.Delete(ctx, targetMeta, kept))

		return s.Transaction(ctx, func(context.Context) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	_, err = s.FindOne(ctx, targetMeta, inside, nil)
	require.ErrorIs(t, err, constants.ErrNoDocument)
	_, err = s.FindOne(ctx, targetMeta, kept, nil)
	require.NoError(t, err, "deleted document is kept")

	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		inside = insertTarget(t, s, ctx, "committed")
		return nil
	}))
	_, err = s.FindOne(ctx, targetMeta, inside, nil)
	require.NoError(t, err)
}

func TestStore_failedTransactionKeepsConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	boom := errors.New("boom")
	started := make(chan models.ObjectID)
	release := make(chan struct{})
	txDone := make(chan error)
	go func() {
		txDone <- s.Transaction(ctx, func(ctx context.Context) error {
			id := models.NewObjectID()
			assert.NoError(t, s.Insert(ctx, targetMeta, bson.D{{Key: "_id", Value: id}, {Key: "name", Value: "inside"}}))
			started <- id
			<-release
			return boom
		})
	}()
	inside := <-started

	_, err := s.FindOne(ctx, targetMeta, inside, nil)
	require.ErrorIs(t, err, constants.ErrNoDocument, "uncommitted writes are not visible outside")

	outside := models.NewObjectID()
	outsideDone := make(chan error)
	go func() {
		outsideDone <- s.Insert(ctx, targetMeta, bson.D{{Key: "_id", Value: outside}, {Key: "name", Value: "outside"}})
	}()

	close(release)
	require.ErrorIs(t, <-txDone, boom)
	require.NoError(t, <-outsideDone)

	_, err = s.FindOne(ctx, targetMeta, outside, nil)
	require.NoError(t, err)
	_, err = s.FindOne(ctx, targetMeta, inside, nil)
	require.ErrorIs(t, err, constants.ErrNoDocument)
	assert.Equal(t, []models.ObjectID{outside}, s.IDs("target"))
}

func TestStore_schema(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateCollection(ctx, targetMeta))
	docs, err := s.FindMany(ctx, targetMeta, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)

	id := insertTarget(t, s, ctx, "a")
	require.NoError(t, s.DropCollection(ctx, targetMeta))
	_, err = s.FindOne(ctx, targetMeta, id, nil)
	require.ErrorIs(t, err, constants.ErrNoDocument)
}

func TestStore_concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := models.NewObjectID()
			assert.NoError(t, s.Insert(ctx, targetMeta, bson.D{{Key: "_id", Value: id}}))
			_, err := s.FindOne(ctx, targetMeta, id, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestStore_canceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	require.ErrorIs(t, s.Insert(ctx, targetMeta, bson.D{}), context.Canceled)
	_, err := s.FindOne(ctx, targetMeta, models.NewObjectID(), nil)
	require.ErrorIs(t, err, context.Canceled)
}
