package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
)

func TestBaseEntity_identity(t *testing.T) {
	var e models.BaseEntity
	assert.Empty(t, e.SerializedID())

	id := models.NewObjectID()
	e.SetPrimaryKey(id)
	assert.Equal(t, id, e.PrimaryKey())
	assert.Equal(t, id.Hex(), e.SerializedID())

	parsed, err := models.ObjectIDFromHex(e.SerializedID())
	require.NoError(t, err)
	assert.Equal(t, id, parsed, "serialized id round-trips to the primary key")

	e.SetPrimaryKey(models.NilObjectID)
	assert.Empty(t, e.ID)
}

func TestSyncIdentity(t *testing.T) {
	e := &models.BaseEntity{PK: models.NewObjectID()}
	models.SyncIdentity(e)
	assert.Equal(t, e.PK.Hex(), e.ID)

	models.SyncIdentity(struct{}{})
}

func TestObjectIDFromHex(t *testing.T) {
	_, err := models.ObjectIDFromHex("nope")
	require.ErrorIs(t, err, constants.ErrInvalidID)
	assert.False(t, models.IsObjectIDHex("nope"))
	assert.True(t, models.IsObjectIDHex(models.NewObjectID().Hex()))
}

func TestMetadata_Relation(t *testing.T) {
	meta := models.Metadata{
		Name: "parent_entity",
		Relations: []models.Relation{
			{Path: "embeddedMember.otherEntities", Target: "other_entity", Kind: models.ManyToMany},
		},
	}

	rel, ok := meta.Relation("embeddedMember.otherEntities")
	require.True(t, ok)
	assert.Equal(t, "other_entity", rel.Target)
	assert.Equal(t, "m:n", rel.Kind.String())

	_, ok = meta.Relation("otherEntities")
	assert.False(t, ok)
}

func TestKeyOrder(t *testing.T) {
	field, dir := models.KeyOrder("-name")
	assert.Equal(t, "name", field)
	assert.Equal(t, -1, dir)

	field, dir = models.KeyOrder("embeddedMember.otherEntities")
	assert.Equal(t, "embeddedMember.otherEntities", field)
	assert.Equal(t, 1, dir)
}
