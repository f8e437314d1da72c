package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/constants"
)

// ObjectID is the storage-level primary key of every entity.
// It is generated client side so that all stores share the same identity.
type ObjectID = bson.ObjectID

// NilObjectID is the zero value, meaning "not persisted yet".
var NilObjectID = bson.NilObjectID

func NewObjectID() ObjectID {
	return bson.NewObjectID()
}

// ObjectIDFromHex parses a serialized id.
func ObjectIDFromHex(s string) (ObjectID, error) {
	id, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return NilObjectID, fmt.Errorf("%w: %q", constants.ErrInvalidID, s)
	}
	return id, nil
}

// IsObjectIDHex reports whether s is the serialized form of an ObjectID.
func IsObjectIDHex(s string) bool {
	_, err := bson.ObjectIDFromHex(s)
	return err == nil
}
