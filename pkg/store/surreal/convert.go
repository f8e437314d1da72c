package surreal

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

// oidKey tags an ObjectID stored outside a relation path, {"$oid": "<hex>"},
// so that it decodes back to an ObjectID.
const oidKey = "$oid"

// toContent turns an entity's bson document into the content of a SurrealDB
// record. References at relation paths become record links so FETCH can follow
// them. _id is stored as its hex string and every other ObjectID as an $oid object.
func toContent(raw bson.Raw, meta *models.Metadata) (map[string]any, error) {
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	for _, rel := range meta.Relations {
		target := rel.Target
		doc, _ = store.WalkPath(doc, store.SplitPath(rel.Path), func(v any) any {
			refs, ok := v.(bson.A)
			if !ok {
				return v
			}
			links := make(bson.A, 0, len(refs))
			for _, ref := range refs {
				if id, ok := ref.(bson.ObjectID); ok {
					links = append(links, models.RecordIDFor(target, id))
					continue
				}
				links = append(links, ref)
			}
			return links
		}).(bson.D)
	}

	out, _ := toSurrealValue(doc).(map[string]any)
	if oid, ok := out[constants.PrimaryKeyField].(map[string]any); ok {
		out[constants.PrimaryKeyField] = oid[oidKey]
	}
	return out, nil
}

func toSurrealValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = toSurrealValue(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = toSurrealValue(e)
		}
		return m
	case bson.A:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, toSurrealValue(e))
		}
		return out
	case bson.ObjectID:
		return map[string]any{oidKey: t.Hex()}
	case bson.DateTime:
		return models.CustomDateTime{Time: t.Time().UTC()}
	case bson.Binary:
		return t.Data
	case bson.Null, bson.Undefined:
		return nil
	case int32:
		return int64(t)
	default:
		return v
	}
}

// fromRecord turns a row returned by SurrealDB back into a bson document the
// entity decodes from. Record ids become ObjectIDs again, fetched records
// become embedded documents, and the record's own id is dropped in favor of _id.
func fromRecord(row any) (bson.Raw, error) {
	m, ok := row.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: record is %T", constants.InvalidResponse, row)
	}
	doc, err := fromSurrealValue(m)
	if err != nil {
		return nil, err
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func fromSurrealValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return fromObject(t)
	case []any:
		out := make(bson.A, 0, len(t))
		for _, e := range t {
			c, err := fromSurrealValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	case models.RecordID:
		if id, ok := t.ObjectID(); ok {
			return id, nil
		}
		return t.String(), nil
	case *models.RecordID:
		return fromSurrealValue(*t)
	case models.CustomDateTime:
		return t.Time, nil
	case cbor.Tag:
		switch t.Number {
		case models.TagNone:
			return nil, nil
		case models.TagCustomDatetime:
			return models.DateTimeFromTag(t.Content)
		default:
			return nil, fmt.Errorf("%w: unsupported tag %d", constants.InvalidResponse, t.Number)
		}
	case uint64:
		return int64(t), nil
	default:
		return v, nil
	}
}

func fromObject(m map[string]any) (any, error) {
	if len(m) == 1 {
		if s, ok := m[oidKey].(string); ok && models.IsObjectIDHex(s) {
			id, _ := models.ObjectIDFromHex(s)
			return id, nil
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(m))
	var recordPK *models.ObjectID
	hasPK := false
	for _, k := range keys {
		v := m[k]
		if k == constants.SurrealRecordField {
			if rid, ok := v.(models.RecordID); ok {
				if id, ok := rid.ObjectID(); ok {
					recordPK = &id
				}
				continue
			}
		}
		if k == constants.PrimaryKeyField {
			hasPK = true
			if s, ok := v.(string); ok && models.IsObjectIDHex(s) {
				id, _ := models.ObjectIDFromHex(s)
				doc = append(doc, bson.E{Key: k, Value: id})
				continue
			}
		}

		c, err := fromSurrealValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		doc = append(doc, bson.E{Key: k, Value: c})
	}

	if !hasPK && recordPK != nil {
		doc = append(bson.D{{Key: constants.PrimaryKeyField, Value: *recordPK}}, doc...)
	}
	return doc, nil
}
