package persistence

import (
	"strings"
)

// orderClause builds an ORDER BY clause from client input. Fields outside
// allowed fall back to def and any direction other than asc means DESC.
func orderClause(field, dir string, allowed map[string]bool, def string) string {
	field = strings.TrimSpace(field)
	if !allowed[field] {
		field = def
	}
	if strings.EqualFold(strings.TrimSpace(dir), "asc") {
		return field + " ASC"
	}
	return field + " DESC"
}

var importSessionSortFields = map[string]bool{
	"created_at":  true,
	"updated_at":  true,
	"started_at":  true,
	"finished_at": true,
	"import_type": true,
	"status":      true,
}
