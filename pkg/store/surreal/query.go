package surreal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// escapeIdent quotes name with backticks unless it is a plain identifier.
func escapeIdent(name string) string {
	if identPattern.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func escapePath(path string) string {
	segs := store.SplitPath(path)
	for i, s := range segs {
		segs[i] = escapeIdent(s)
	}
	return strings.Join(segs, ".")
}

func fetchClause(lookups []store.Lookup) string {
	if len(lookups) == 0 {
		return ""
	}
	fields := make([]string, 0, len(lookups))
	for _, l := range lookups {
		fields = append(fields, escapePath(l.Path))
	}
	return " FETCH " + strings.Join(fields, ", ")
}

const (
	insertStatement = "CREATE $rid CONTENT $data RETURN NONE"
	deleteStatement = "DELETE $rid RETURN BEFORE"
)

func selectOne(lookups []store.Lookup) string {
	return "SELECT * FROM $rid" + fetchClause(lookups)
}

func selectMany(lookups []store.Lookup) string {
	return "SELECT * FROM $rids" + fetchClause(lookups)
}

func defineTable(meta *models.Metadata) string {
	return fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", escapeIdent(meta.Name))
}

func removeTable(meta *models.Metadata) string {
	return fmt.Sprintf("REMOVE TABLE IF EXISTS %s", escapeIdent(meta.Name))
}

// defineIndexes renders one statement per index. SurrealDB indexes have no
// direction, so descending keys are indexed like ascending ones.
func defineIndexes(meta *models.Metadata) []string {
	out := make([]string, 0, len(meta.Indexes))
	for i, idx := range meta.Indexes {
		name := idx.Name
		if name == "" {
			name = fmt.Sprintf("%s_idx_%d", meta.Name, i)
		}

		fields := make([]string, 0, len(idx.Keys))
		for _, key := range idx.Keys {
			field, _ := models.KeyOrder(key)
			fields = append(fields, escapePath(field))
		}

		stmt := fmt.Sprintf("DEFINE INDEX IF NOT EXISTS %s ON TABLE %s FIELDS %s",
			escapeIdent(name), escapeIdent(meta.Name), strings.Join(fields, ", "))
		if idx.Unique {
			stmt += " UNIQUE"
		}
		out = append(out, stmt)
	}
	return out
}
