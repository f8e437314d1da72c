package store

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// SplitPath splits a dotted relation path into its segments.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// WalkPath applies fn to the value found at path inside v and stores the
// result back. Documents may be bson.D, bson.M or map[string]any. Arrays met
// before the end of the path are traversed element by element, so a relation
// inside an array of embedded values is reached too. Missing fields are left
// alone.
func WalkPath(v any, path []string, fn func(any) any) any {
	if len(path) == 0 {
		return fn(v)
	}
	switch t := v.(type) {
	case bson.D:
		for i := range t {
			if t[i].Key == path[0] {
				t[i].Value = WalkPath(t[i].Value, path[1:], fn)
			}
		}
		return t
	case bson.M:
		if inner, ok := t[path[0]]; ok {
			t[path[0]] = WalkPath(inner, path[1:], fn)
		}
		return t
	case map[string]any:
		if inner, ok := t[path[0]]; ok {
			t[path[0]] = WalkPath(inner, path[1:], fn)
		}
		return t
	case bson.A:
		for i := range t {
			t[i] = WalkPath(t[i], path, fn)
		}
		return t
	case []any:
		for i := range t {
			t[i] = WalkPath(t[i], path, fn)
		}
		return t
	default:
		return v
	}
}
