package models

import (
	"fmt"
	"strings"
)

// RecordID is a SurrealDB record identifier, a pair of table name and an
// identifier within that table. On the wire it is CBOR tag 8 over [table, id].
//
// The SurrealDB store uses "<collection>:<ObjectID hex>" for every entity and
// stores relation references as RecordIDs so that FETCH can resolve them.
type RecordID struct {
	_     struct{} `cbor:",toarray"`
	Table string
	ID    any
}

func NewRecordID(tableName string, id any) RecordID {
	return RecordID{Table: tableName, ID: id}
}

// RecordIDFor returns the record id an entity with primary key id gets in table.
func RecordIDFor(table string, id ObjectID) RecordID {
	return RecordID{Table: table, ID: id.Hex()}
}

// ParseRecordID parses "table:id". Angle-bracket escaping is removed from the id.
func ParseRecordID(idStr string) (*RecordID, error) {
	table, id, found := strings.Cut(idStr, ":")
	if !found || table == "" || id == "" {
		return nil, fmt.Errorf("invalid id string %q: expected format is 'tablename:identifier'", idStr)
	}
	if strings.HasPrefix(id, "⟨") && strings.HasSuffix(id, "⟩") {
		id = strings.TrimSuffix(strings.TrimPrefix(id, "⟨"), "⟩")
	}
	return &RecordID{Table: table, ID: id}, nil
}

// ObjectID returns the primary key encoded in the record id, if it holds one.
func (r RecordID) ObjectID() (ObjectID, bool) {
	s, ok := r.ID.(string)
	if !ok {
		return NilObjectID, false
	}
	id, err := ObjectIDFromHex(s)
	if err != nil {
		return NilObjectID, false
	}
	return id, true
}

// String returns "table:id", escaping ids that SurrealQL would not parse as bare identifiers.
func (r RecordID) String() string {
	idStr := fmt.Sprintf("%v", r.ID)
	if strID, ok := r.ID.(string); ok && needsEscaping(strID) {
		idStr = "⟨" + escapeString(strID, '⟩') + "⟩"
	}
	return fmt.Sprintf("%s:%s", r.Table, idStr)
}

func (r RecordID) SurrealString() string {
	return fmt.Sprintf("r'%s'", r.String())
}

func isASCIIDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isASCIIAlphanumeric(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || isASCIIDigit(ch)
}

// escapeString escapes the delimiter and backslash characters.
func escapeString(s string, delimiter rune) string {
	var result strings.Builder
	for _, ch := range s {
		if ch == delimiter || ch == '\\' {
			result.WriteRune('\\')
		}
		result.WriteRune(ch)
	}
	return result.String()
}

// needsEscaping is true for ids with special characters and for ids that start
// with a digit, which covers every ObjectID hex that would otherwise parse as a number.
func needsEscaping(s string) bool {
	if s == "" {
		return true
	}
	for _, ch := range s {
		if !isASCIIAlphanumeric(ch) && ch != '_' {
			return true
		}
	}
	return isASCIIDigit([]rune(s)[0])
}
