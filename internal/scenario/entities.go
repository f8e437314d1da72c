package scenario

import (
	"github.com/embedpop/embedpop/pkg/models"
)

const (
	OtherCollection  = "other_entity"
	ParentCollection = "parent_entity"
	OwnerCollection  = "owner_entity"

	// EmbeddedRelation is the relation declared inside ParentEntity's embedded value.
	EmbeddedRelation = "embeddedMember.otherEntities"
	// OwnerRelation is the same relation declared on a top-level entity.
	OwnerRelation = "otherEntities"
)

// OtherEntity is referenced by the relations of the other two entities.
type OtherEntity struct {
	models.BaseEntity `bson:",inline"`
	Name              string `bson:"name" json:"name"`
}

func NewOtherEntity(name string) *OtherEntity {
	return &OtherEntity{Name: name}
}

func (*OtherEntity) CollectionName() string {
	return OtherCollection
}

func (*OtherEntity) Relations() []models.Relation {
	return nil
}

func (*OtherEntity) Indexes() []models.Index {
	return []models.Index{
		{Name: "other_entity_name", Keys: []string{"name"}},
	}
}

// EmbeddedEntity has no identity; it is stored inline in ParentEntity.
type EmbeddedEntity struct {
	OtherEntities models.Collection[OtherEntity] `bson:"otherEntities" json:"otherEntities"`
	Name          string                         `bson:"name" json:"name"`
}

type ParentEntity struct {
	models.BaseEntity `bson:",inline"`
	EmbeddedMember    EmbeddedEntity `bson:"embeddedMember" json:"embeddedMember"`
}

// NewParentEntity builds a parent whose embedded value is named name and
// references others.
func NewParentEntity(name string, others ...*OtherEntity) *ParentEntity {
	return &ParentEntity{
		EmbeddedMember: EmbeddedEntity{
			Name:          name,
			OtherEntities: models.NewCollection(others...),
		},
	}
}

func (*ParentEntity) CollectionName() string {
	return ParentCollection
}

func (*ParentEntity) Relations() []models.Relation {
	return []models.Relation{
		{Path: EmbeddedRelation, Target: OtherCollection, Kind: models.ManyToMany},
	}
}

func (*ParentEntity) Indexes() []models.Index {
	return []models.Index{
		{Name: "parent_entity_embedded_name", Keys: []string{"embeddedMember.name"}},
	}
}

// OwnerEntity declares the relation directly on the top-level record.
type OwnerEntity struct {
	models.BaseEntity `bson:",inline"`
	Name              string                         `bson:"name" json:"name"`
	OtherEntities     models.Collection[OtherEntity] `bson:"otherEntities" json:"otherEntities"`
}

func (*OwnerEntity) CollectionName() string {
	return OwnerCollection
}

func (*OwnerEntity) Relations() []models.Relation {
	return []models.Relation{
		{Path: OwnerRelation, Target: OtherCollection, Kind: models.ManyToMany},
	}
}

// Entities returns one value of every entity the scenario maps.
func Entities() []models.Entity {
	return []models.Entity{
		&ParentEntity{},
		&OtherEntity{},
		&OwnerEntity{},
	}
}
