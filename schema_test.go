package embedpop_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedpop/embedpop"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
)

func TestSchema(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	schema := e.orm.Schema()

	assert.Equal(t, []models.Index{{Name: "tag_label", Keys: []string{"label"}, Unique: true}}, e.store.Indexes("tag"))
	assert.Empty(t, e.store.Indexes("article"))

	// idempotent
	require.NoError(t, schema.CreateSchema(ctx))
	require.NoError(t, schema.EnsureIndexes(ctx))

	_, err := embedpop.Insert(ctx, e.em, &tag{Label: "go"})
	require.NoError(t, err)
	_, err = embedpop.Insert(ctx, e.em, &tag{Label: "go"})
	require.ErrorIs(t, err, constants.ErrDuplicateKey)

	require.NoError(t, schema.RefreshDatabase(ctx))
	assert.Empty(t, e.store.IDs("tag"))

	// dropping twice is fine
	require.NoError(t, schema.DropSchema(ctx))
	require.NoError(t, schema.DropSchema(ctx))
}

func TestSchema_ensureIndexesOverDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.orm.Schema().RefreshDatabase(ctx))

	_, err := embedpop.InsertMany(ctx, e.em, &tag{Label: "go"}, &tag{Label: "go"})
	require.NoError(t, err, "no unique index after a refresh")

	err = e.orm.Schema().EnsureIndexes(ctx)
	require.ErrorIs(t, err, constants.ErrDuplicateKey)
	assert.Contains(t, err.Error(), "ensure indexes tag")
}
