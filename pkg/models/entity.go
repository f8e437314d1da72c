package models

import (
	"fmt"
	"reflect"
	"strings"
)

// Entity is a top-level record stored in its own collection.
//
// Relations are declared explicitly. A relation path is the dotted bson path of a
// Collection field, so a relation that lives inside an embedded value is declared
// as "embeddedMember.otherEntities".
type Entity interface {
	CollectionName() string
	Relations() []Relation
}

// Identified is implemented by *T for every T that embeds BaseEntity.
type Identified interface {
	PrimaryKey() ObjectID
	SetPrimaryKey(id ObjectID)
	SerializedID() string
}

// Indexer is optionally implemented by entities that declare indexes.
type Indexer interface {
	Indexes() []Index
}

// BaseEntity carries the two identity fields.
// PK is what the database stores, ID is its textual projection and is never persisted.
// Embed it with `bson:",inline"`.
type BaseEntity struct {
	PK ObjectID `bson:"_id" json:"_id"`
	ID string   `bson:"-" json:"id"`
}

func (e *BaseEntity) PrimaryKey() ObjectID {
	return e.PK
}

func (e *BaseEntity) SetPrimaryKey(id ObjectID) {
	e.PK = id
	if id.IsZero() {
		e.ID = ""
		return
	}
	e.ID = id.Hex()
}

func (e *BaseEntity) SerializedID() string {
	return e.ID
}

// SyncIdentity re-derives the serialized id after a decode.
func SyncIdentity(v any) {
	if e, ok := v.(Identified); ok {
		e.SetPrimaryKey(e.PrimaryKey())
	}
}

type RelationKind int

const (
	ManyToMany RelationKind = iota + 1
)

func (k RelationKind) String() string {
	switch k {
	case ManyToMany:
		return "m:n"
	default:
		return fmt.Sprintf("RelationKind(%d)", int(k))
	}
}

// Relation links a Collection field to the collection its references point to.
type Relation struct {
	Path   string
	Target string
	Kind   RelationKind
}

// Index is a secondary index. A key prefixed with "-" is descending.
type Index struct {
	Name   string
	Keys   []string
	Unique bool
}

// KeyOrder splits an index key into its field path and sort direction.
func KeyOrder(key string) (string, int) {
	if strings.HasPrefix(key, "-") {
		return key[1:], -1
	}
	return key, 1
}

// Metadata is what the mapper knows about one entity type.
type Metadata struct {
	Name      string
	Type      reflect.Type
	Relations []Relation
	Indexes   []Index
}

func (m *Metadata) Relation(path string) (Relation, bool) {
	for _, rel := range m.Relations {
		if rel.Path == path {
			return rel, true
		}
	}
	return Relation{}, false
}

func (m *Metadata) String() string {
	return fmt.Sprintf("%s(%s)", m.Type, m.Name)
}
