package models

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/constants"
)

// Collection is the value of a many-to-many relation.
//
// It always knows the identifiers it references. After population it also holds
// the referenced entities and IsInitialized reports true. It persists as an array
// of ObjectIDs; on read, array elements that are full documents (the result of a
// lookup) are decoded into T.
type Collection[T any] struct {
	ids         []ObjectID
	items       []*T
	initialized bool
}

// NewCollection returns an initialized collection holding items.
// Every item must already have a primary key.
func NewCollection[T any](items ...*T) Collection[T] {
	c := Collection[T]{initialized: true}
	c.Add(items...)
	return c
}

// NewReferences returns an uninitialized collection referencing ids.
func NewReferences[T any](ids ...ObjectID) Collection[T] {
	c := Collection[T]{}
	c.AddReference(ids...)
	return c
}

func (c *Collection[T]) Add(items ...*T) {
	if len(c.ids) == 0 {
		c.initialized = true
	}
	for _, item := range items {
		c.items = append(c.items, item)
		c.ids = append(c.ids, primaryKeyOf(item))
	}
}

// AddReference appends bare identifiers. An initialized collection stops being
// initialized because its items no longer cover every reference.
func (c *Collection[T]) AddReference(ids ...ObjectID) {
	if len(ids) == 0 {
		return
	}
	c.ids = append(c.ids, ids...)
	c.initialized = false
	c.items = nil
}

func (c Collection[T]) IDs() []ObjectID {
	out := make([]ObjectID, len(c.ids))
	copy(out, c.ids)
	return out
}

func (c Collection[T]) Items() []*T {
	if !c.initialized {
		return nil
	}
	out := make([]*T, len(c.items))
	copy(out, c.items)
	return out
}

func (c Collection[T]) Len() int {
	return len(c.ids)
}

func (c Collection[T]) IsInitialized() bool {
	return c.initialized
}

func (c Collection[T]) Contains(id ObjectID) bool {
	for _, ref := range c.ids {
		if ref == id {
			return true
		}
	}
	return false
}

func (c Collection[T]) MarshalBSONValue() (byte, []byte, error) {
	ids := make([]ObjectID, 0, len(c.ids))
	for i, id := range c.ids {
		if id.IsZero() {
			return 0, nil, fmt.Errorf("%w: element %d", constants.ErrUnsavedEntity, i)
		}
		ids = append(ids, id)
	}
	typ, data, err := bson.MarshalValue(ids)
	return byte(typ), data, err
}

func (c *Collection[T]) UnmarshalBSONValue(typ byte, data []byte) error {
	*c = Collection[T]{}

	raw := bson.RawValue{Type: bson.Type(typ), Value: data}
	switch raw.Type {
	case bson.TypeNull, bson.TypeUndefined:
		return nil
	case bson.TypeArray:
	default:
		return fmt.Errorf("collection: cannot decode %s into a relation", raw.Type)
	}

	values, err := raw.Array().Values()
	if err != nil {
		return fmt.Errorf("collection: %w", err)
	}

	loaded := true
	for i, v := range values {
		switch v.Type {
		case bson.TypeNull:
			// dangling reference resolved to nothing
			continue
		case bson.TypeObjectID:
			c.ids = append(c.ids, v.ObjectID())
			loaded = false
		case bson.TypeEmbeddedDocument:
			item := new(T)
			if err := v.Unmarshal(item); err != nil {
				return fmt.Errorf("collection: element %d: %w", i, err)
			}
			SyncIdentity(item)
			c.items = append(c.items, item)
			c.ids = append(c.ids, primaryKeyOf(item))
		default:
			return fmt.Errorf("collection: element %d has unexpected type %s", i, v.Type)
		}
	}

	c.initialized = loaded
	if !loaded {
		c.items = nil
	}
	return nil
}

// MarshalJSON renders loaded items, or the serialized ids of a reference-only collection.
func (c Collection[T]) MarshalJSON() ([]byte, error) {
	if c.initialized {
		items := c.items
		if items == nil {
			items = []*T{}
		}
		return json.Marshal(items)
	}
	ids := make([]string, 0, len(c.ids))
	for _, id := range c.ids {
		ids = append(ids, id.Hex())
	}
	return json.Marshal(ids)
}

func (c Collection[T]) String() string {
	if c.initialized {
		return fmt.Sprintf("Collection<%d loaded>", len(c.items))
	}
	return fmt.Sprintf("Collection<%d references>", len(c.ids))
}

func primaryKeyOf(item any) ObjectID {
	if e, ok := item.(Identified); ok {
		return e.PrimaryKey()
	}
	return NilObjectID
}
