package embedpop_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedpop/embedpop"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
)

func TestInsert_setsIdentity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tg := &tag{Label: "go"}
	id, err := embedpop.Insert(ctx, e.em, tg)
	require.NoError(t, err)

	assert.False(t, tg.PK.IsZero())
	assert.Equal(t, tg.PK.Hex(), id)
	assert.Equal(t, id, tg.ID)

	preset := models.NewObjectID()
	tg2 := &tag{Label: "rust"}
	tg2.PK = preset
	id2, err := embedpop.Insert(ctx, e.em, tg2)
	require.NoError(t, err)
	assert.Equal(t, preset.Hex(), id2, "a preset primary key is kept")
	assert.Equal(t, id2, tg2.ID)
}

func TestFindOne(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := embedpop.Insert(ctx, e.em, &tag{Label: "go"})
	require.NoError(t, err)

	found, err := embedpop.FindOne[tag](ctx, e.em, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "go", found.Label)
	assert.Equal(t, id, found.ID)

	missing, err := embedpop.FindOne[tag](ctx, e.em, models.NewObjectID().Hex())
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = embedpop.FindOne[tag](ctx, e.em, "not-an-id")
	require.ErrorIs(t, err, constants.ErrInvalidID)

	_, err = embedpop.FindOne[unregistered](ctx, e.em, id)
	require.ErrorIs(t, err, constants.ErrUnknownEntity)
}

func TestFindOneOrFail_notFound(t *testing.T) {
	e := newEnv(t)
	id := models.NewObjectID().Hex()

	_, err := embedpop.FindOneOrFail[tag](context.Background(), e.em, id)
	require.ErrorIs(t, err, constants.ErrNotFound)

	var nf *embedpop.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "tag", nf.Entity)
	assert.Equal(t, id, nf.ID)
	assert.Equal(t, "tag not found ("+id+")", err.Error())
}

func TestPopulate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, b := &tag{Label: "a"}, &tag{Label: "b"}
	_, err := embedpop.InsertMany(ctx, e.em, a, b)
	require.NoError(t, err)

	art := &article{
		Details: details{Title: "embedded", Tags: models.NewCollection(a, b)},
		Related: models.NewReferences[tag](b.PK),
	}
	id, err := embedpop.Insert(ctx, e.em, art)
	require.NoError(t, err)

	plain, err := embedpop.FindOneOrFail[article](ctx, e.em, id)
	require.NoError(t, err)
	assert.False(t, plain.Details.Tags.IsInitialized())
	assert.Equal(t, []models.ObjectID{a.PK, b.PK}, plain.Details.Tags.IDs())

	populated, err := embedpop.FindOneOrFail[article](ctx, e.em, id,
		embedpop.Populate("details.tags"),
		embedpop.Populate("details.tags"),
	)
	require.NoError(t, err)
	require.True(t, populated.Details.Tags.IsInitialized())
	items := populated.Details.Tags.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Label)
	assert.Equal(t, a.ID, items[0].ID, "populated items carry the serialized id")
	assert.False(t, populated.Related.IsInitialized(), "only the requested path is populated")

	both, err := embedpop.FindOneOrFail[article](ctx, e.em, id, embedpop.Populate("details.tags", "related"))
	require.NoError(t, err)
	assert.True(t, both.Details.Tags.IsInitialized())
	assert.True(t, both.Related.IsInitialized())
	assert.True(t, both.Related.Contains(b.PK))

	_, err = embedpop.FindOne[article](ctx, e.em, id, embedpop.Populate("details.title"))
	require.ErrorIs(t, err, constants.ErrUnknownRelation)
}

func TestFind_keepsInputOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ids, err := embedpop.InsertMany(ctx, e.em, &tag{Label: "a"}, &tag{Label: "b"}, &tag{Label: "c"})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	found, err := embedpop.Find[tag](ctx, e.em, []string{ids[2], models.NewObjectID().Hex(), ids[0]})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "c", found[0].Label)
	assert.Equal(t, "a", found[1].Label)

	empty, err := embedpop.Find[tag](ctx, e.em, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = embedpop.Find[tag](ctx, e.em, []string{"zz"})
	require.ErrorIs(t, err, constants.ErrInvalidID)
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := embedpop.Insert(ctx, e.em, &tag{Label: "go"})
	require.NoError(t, err)

	require.NoError(t, embedpop.Delete[tag](ctx, e.em, id))

	found, err := embedpop.FindOne[tag](ctx, e.em, id)
	require.NoError(t, err)
	assert.Nil(t, found)

	err = embedpop.Delete[tag](ctx, e.em, id)
	require.ErrorIs(t, err, constants.ErrNotFound)
}

func TestGlobalContextGuard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	global := e.orm.EM()

	_, err := embedpop.Insert(ctx, global, &tag{Label: "go"})
	require.ErrorIs(t, err, constants.ErrGlobalContext)

	_, err = embedpop.FindOne[tag](ctx, global, models.NewObjectID().Hex())
	require.ErrorIs(t, err, constants.ErrGlobalContext)

	err = embedpop.Delete[tag](ctx, global, models.NewObjectID().Hex())
	require.ErrorIs(t, err, constants.ErrGlobalContext)

	err = global.Transactional(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, constants.ErrGlobalContext)

	_, err = embedpop.Insert(ctx, global.Fork(), &tag{Label: "go"})
	require.NoError(t, err)

	allowed := newEnv(t, func(c *embedpop.Config) { c.AllowGlobalContext = true })
	_, err = embedpop.Insert(ctx, allowed.orm.EM(), &tag{Label: "go"})
	require.NoError(t, err)
}

func TestInsertMany_rollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := embedpop.Insert(ctx, e.em, &tag{Label: "taken"})
	require.NoError(t, err)

	fresh, dup := &tag{Label: "fresh"}, &tag{Label: "taken"}
	_, err = embedpop.InsertMany(ctx, e.em, fresh, dup)
	require.ErrorIs(t, err, constants.ErrDuplicateKey)

	assert.True(t, fresh.PK.IsZero(), "generated ids are cleared after a failed write")
	assert.Empty(t, fresh.ID)
	assert.Equal(t, 1, countTags(t, e))
}

func TestTransactional_nestedRollback(t *testing.T) {
	ctx := context.Background()

	for _, implicit := range []bool{true, false} {
		implicit := implicit
		e := newEnv(t, func(c *embedpop.Config) { c.ImplicitTransactions = implicit })

		boom := errors.New("boom")
		err := e.em.Transactional(ctx, func(ctx context.Context) error {
			if _, err := embedpop.Insert(ctx, e.em, &tag{Label: "inside"}); err != nil {
				return err
			}
			// nested calls join the outer transaction
			err := e.em.Transactional(ctx, func(ctx context.Context) error {
				_, err := embedpop.Insert(ctx, e.em, &tag{Label: "nested"})
				return err
			})
			if err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, countTags(t, e), "implicit=%v", implicit)
	}
}

func TestTransactional_rollbackKeepsOtherForkWrites(t *testing.T) {
	e := newEnv(t, func(c *embedpop.Config) { c.ImplicitTransactions = false })
	ctx := context.Background()
	other := e.orm.EM().Fork()

	boom := errors.New("boom")
	started := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error)
	go func() {
		txDone <- e.em.Transactional(ctx, func(ctx context.Context) error {
			_, err := embedpop.Insert(ctx, e.em, &tag{Label: "inside"})
			close(started)
			if err != nil {
				return err
			}
			<-release
			return boom
		})
	}()
	<-started

	outside := &tag{Label: "outside"}
	outsideDone := make(chan error)
	go func() {
		_, err := embedpop.Insert(ctx, other, outside)
		outsideDone <- err
	}()

	close(release)
	require.ErrorIs(t, <-txDone, boom)
	require.NoError(t, <-outsideDone)

	found, err := embedpop.FindOne[tag](ctx, other.Fork(), outside.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "outside", found.Label)
	assert.Equal(t, 1, countTags(t, e))
}

func TestTimeout(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := embedpop.Insert(ctx, e.em, &tag{Label: "late"})
	require.ErrorIs(t, err, context.Canceled)
}

func countTags(t *testing.T, e *env) int {
	t.Helper()
	return len(e.store.IDs("tag"))
}
