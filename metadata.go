package embedpop

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

var (
	identifiedType = reflect.TypeOf((*models.Identified)(nil)).Elem()
	relationType   = reflect.TypeOf((*relationField)(nil)).Elem()
)

// relationField is satisfied by every models.Collection.
type relationField interface {
	IDs() []models.ObjectID
	IsInitialized() bool
}

type registry struct {
	byType map[reflect.Type]*models.Metadata
	byName map[string]*models.Metadata
}

func newRegistry(entities []models.Entity) (*registry, error) {
	if len(entities) == 0 {
		return nil, constants.ErrNoEntities
	}

	r := &registry{
		byType: make(map[reflect.Type]*models.Metadata, len(entities)),
		byName: make(map[string]*models.Metadata, len(entities)),
	}

	for _, e := range entities {
		meta, err := discover(e)
		if err != nil {
			return nil, err
		}
		if _, ok := r.byType[meta.Type]; ok {
			return nil, fmt.Errorf("%w: %s registered twice", constants.ErrInvalidMetadata, meta.Type)
		}
		if other, ok := r.byName[meta.Name]; ok {
			return nil, fmt.Errorf("%w: %s and %s share collection %q", constants.ErrInvalidMetadata, other.Type, meta.Type, meta.Name)
		}
		r.byType[meta.Type] = meta
		r.byName[meta.Name] = meta
	}

	for _, meta := range r.byName {
		for _, rel := range meta.Relations {
			if _, ok := r.byName[rel.Target]; !ok {
				return nil, fmt.Errorf("%w: %s.%s targets %q", constants.ErrUnknownEntity, meta.Name, rel.Path, rel.Target)
			}
		}
	}
	return r, nil
}

func discover(e models.Entity) (*models.Metadata, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", constants.ErrInvalidMetadata)
	}

	t := reflect.TypeOf(e)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", constants.ErrInvalidMetadata, t)
	}
	if !reflect.PointerTo(t).Implements(identifiedType) {
		return nil, fmt.Errorf("%w: %s does not embed models.BaseEntity", constants.ErrInvalidMetadata, t)
	}

	meta := &models.Metadata{
		Name: e.CollectionName(),
		Type: t,
	}
	if meta.Name == "" {
		return nil, fmt.Errorf("%w: %s has no collection name", constants.ErrInvalidMetadata, t)
	}

	seen := make(map[string]bool)
	for _, rel := range e.Relations() {
		if rel.Kind != models.ManyToMany {
			return nil, fmt.Errorf("%w: %s.%s has unsupported kind %s", constants.ErrInvalidMetadata, meta.Name, rel.Path, rel.Kind)
		}
		if seen[rel.Path] {
			return nil, fmt.Errorf("%w: %s.%s declared twice", constants.ErrInvalidMetadata, meta.Name, rel.Path)
		}
		ft, ok := fieldByPath(t, store.SplitPath(rel.Path))
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field at %q", constants.ErrInvalidMetadata, t, rel.Path)
		}
		if !ft.Implements(relationType) {
			return nil, fmt.Errorf("%w: %s.%s is %s, not a models.Collection", constants.ErrInvalidMetadata, meta.Name, rel.Path, ft)
		}
		seen[rel.Path] = true
		meta.Relations = append(meta.Relations, rel)
	}

	if ix, ok := e.(models.Indexer); ok {
		meta.Indexes = ix.Indexes()
	}
	return meta, nil
}

// fieldByPath follows bson field names through structs, pointers and slices.
func fieldByPath(t reflect.Type, path []string) (reflect.Type, bool) {
	for _, seg := range path {
		for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return nil, false
		}
		f, ok := bsonField(t, seg)
		if !ok {
			return nil, false
		}
		t = f
	}
	return t, true
}

func bsonField(t reflect.Type, name string) (reflect.Type, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key, inline := bsonKey(f)
		if key == "-" {
			continue
		}
		if inline {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if found, ok := bsonField(ft, name); ok {
					return found, true
				}
			}
			continue
		}
		if key == name {
			return f.Type, true
		}
	}
	return nil, false
}

// bsonKey mirrors the driver's default struct codec: the tag name when present,
// the lowercased field name otherwise.
func bsonKey(f reflect.StructField) (string, bool) {
	tag, ok := f.Tag.Lookup("bson")
	if !ok {
		return strings.ToLower(f.Name), false
	}
	name, opts, _ := strings.Cut(tag, ",")
	inline := false
	for _, opt := range strings.Split(opts, ",") {
		if opt == "inline" {
			inline = true
		}
	}
	if name == "" {
		name = strings.ToLower(f.Name)
	}
	return name, inline
}

func (r *registry) metadataOf(t reflect.Type) (*models.Metadata, error) {
	meta, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrUnknownEntity, t)
	}
	return meta, nil
}

// sorted returns every metadata ordered by collection name.
func (r *registry) sorted() []*models.Metadata {
	out := make([]*models.Metadata, 0, len(r.byName))
	for _, meta := range r.byName {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func metadataFor[T any](o *ORM) (*models.Metadata, error) {
	return o.registry.metadataOf(reflect.TypeOf((*T)(nil)).Elem())
}
