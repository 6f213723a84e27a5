package store

import (
	"errors"
	"maps"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// DefaultRules maps the unique indexes created by the migrations to the
// field a user has to change to resolve the conflict. SQLite identifies a
// violated unique index by its column list.
func DefaultRules() map[string]string {
	return map[string]string{
		"recipes.user_id, recipes.title":                  "Title",
		"sub_ingredients.recipe_id, sub_ingredients.name": "Name",
		"directions.recipe_id, directions.number":         "Number",
	}
}

// Classifier turns constraint identifiers into user-facing causes. The rule
// table is fixed at construction.
type Classifier struct {
	rules map[string]string
}

// NewClassifier returns a Classifier over a copy of rules.
func NewClassifier(rules map[string]string) *Classifier {
	return &Classifier{rules: maps.Clone(rules)}
}

// Classify looks up the cause for identifier. Unknown identifiers report
// ok=false so that callers can fall back to a generic conflict.
func (c *Classifier) Classify(identifier string) (cause string, ok bool) {
	cause, ok = c.rules[strings.TrimSpace(identifier)]
	return cause, ok
}

// ConstraintIdentifier reports whether err is a SQLite uniqueness violation
// and, if so, the identifier of the violated constraint, e.g.
// "recipes.user_id, recipes.title".
func ConstraintIdentifier(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return "", false
	}

	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
	default:
		return "", false
	}

	_, identifier, found := strings.Cut(sqliteErr.Error(), "constraint failed: ")
	if !found {
		return "", true
	}
	return strings.TrimSpace(identifier), true
}
