package store_test

import (
	"database/sql"
	"errors"
	"path/filepath"
	"recipebox/internal/store"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "recipes.sqlite"))
	require.NoError(t, err, "Open error")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsRepeatable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "recipes.sqlite")
	for range 2 {
		db, err := store.Open(t.Context(), path)
		require.NoError(t, err, "Open error")
		require.NoError(t, db.Close(), "Close error")
	}
}

func TestInsertAndGetRecipe(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	now := time.Now().UTC()

	id, err := store.InsertRecipe(t.Context(), db, "alice", "Pancakes", "images/p.jpg", now)
	require.NoError(t, err, "InsertRecipe error")

	r, err := store.GetRecipe(t.Context(), db, id)
	require.NoError(t, err, "GetRecipe error")
	require.Equal(t, "alice", r.UserID, "user")
	require.Equal(t, "Pancakes", r.Title, "title")
	require.Equal(t, "images/p.jpg", r.ImageName, "image name")
	require.Equal(t, int64(1), r.Version, "initial version")

	_, err = store.GetRecipe(t.Context(), db, id+100)
	require.ErrorIs(t, err, store.ErrNotFound, "missing recipe")
}

func TestUniqueTitlePerUser(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	now := time.Now().UTC()
	classifier := store.NewClassifier(store.DefaultRules())

	_, err := store.InsertRecipe(t.Context(), db, "alice", "Soup", "", now)
	require.NoError(t, err, "first insert")

	// Same title for another user is fine.
	_, err = store.InsertRecipe(t.Context(), db, "bob", "Soup", "", now)
	require.NoError(t, err, "insert for another user")

	_, err = store.InsertRecipe(t.Context(), db, "alice", "Soup", "", now)
	require.Error(t, err, "duplicate insert")

	identifier, ok := store.ConstraintIdentifier(err)
	require.True(t, ok, "expected a uniqueness violation, got %v", err)
	require.Equal(t, "recipes.user_id, recipes.title", identifier, "identifier")

	cause, ok := classifier.Classify(identifier)
	require.True(t, ok, "identifier should be mapped")
	require.Equal(t, "Title", cause, "cause")
}

func TestChildConstraints(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	classifier := store.NewClassifier(store.DefaultRules())

	id, err := store.InsertRecipe(t.Context(), db, "alice", "Curry", "", time.Now().UTC())
	require.NoError(t, err, "InsertRecipe error")

	require.NoError(t, store.AddSubIngredient(t.Context(), db, id, "Paste", "2 tbsp"), "first sub-ingredient")
	err = store.AddSubIngredient(t.Context(), db, id, "Paste", "1 tbsp")
	identifier, ok := store.ConstraintIdentifier(err)
	require.True(t, ok, "duplicate sub-ingredient should violate a unique index")
	cause, _ := classifier.Classify(identifier)
	require.Equal(t, "Name", cause, "sub-ingredient cause")

	require.NoError(t, store.AddDirection(t.Context(), db, id, 1, "Chop"), "first direction")
	err = store.AddDirection(t.Context(), db, id, 1, "Fry")
	identifier, ok = store.ConstraintIdentifier(err)
	require.True(t, ok, "duplicate direction should violate a unique index")
	cause, _ = classifier.Classify(identifier)
	require.Equal(t, "Number", cause, "direction cause")
}

func TestConstraintIdentifierIgnoresOtherErrors(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	_, ok := store.ConstraintIdentifier(errors.New("UNIQUE constraint failed: recipes.id"))
	require.False(t, ok, "plain errors are not sqlite errors")

	// A foreign key violation is a constraint error but not a uniqueness one.
	err := store.AddDirection(t.Context(), db, 4242, 1, "Nothing to attach to")
	require.Error(t, err, "expected foreign key failure")
	_, ok = store.ConstraintIdentifier(err)
	require.False(t, ok, "foreign key violation classified as unique")
}

func TestClassifierUnknownIdentifier(t *testing.T) {
	t.Parallel()

	rules := store.DefaultRules()
	classifier := store.NewClassifier(rules)

	cause, ok := classifier.Classify("tags.recipe_id, tags.name")
	require.False(t, ok, "unknown identifier")
	require.Empty(t, cause, "cause for unknown identifier")

	// The classifier keeps its own copy of the table.
	rules["tags.recipe_id, tags.name"] = "Tag"
	_, ok = classifier.Classify("tags.recipe_id, tags.name")
	require.False(t, ok, "classifier observed caller mutation")
}

func TestSetRecipeImageVersioning(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	now := time.Now().UTC()

	id, err := store.InsertRecipe(t.Context(), db, "alice", "Bread", "", now)
	require.NoError(t, err, "InsertRecipe error")

	require.NoError(t, store.SetRecipeImage(t.Context(), db, id, 1, "images/b.jpg", now), "update at current version")

	err = store.SetRecipeImage(t.Context(), db, id, 1, "images/c.jpg", now)
	require.ErrorIs(t, err, store.ErrConcurrencyConflict, "update at stale version")

	err = store.SetRecipeImage(t.Context(), db, id+1, 1, "images/c.jpg", now)
	require.ErrorIs(t, err, store.ErrNotFound, "update of missing recipe")

	require.NoError(t, store.SetRecipeImage(t.Context(), db, id, 2, "", now), "clear image")
	r, err := store.GetRecipe(t.Context(), db, id)
	require.NoError(t, err, "GetRecipe error")
	require.Empty(t, r.ImageName, "image cleared")
	require.Equal(t, int64(3), r.Version, "version after two updates")
}

func TestRenameRecipe(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	now := time.Now().UTC()

	id, err := store.InsertRecipe(t.Context(), db, "alice", "Stew", "", now)
	require.NoError(t, err, "InsertRecipe error")
	_, err = store.InsertRecipe(t.Context(), db, "alice", "Chili", "", now)
	require.NoError(t, err, "InsertRecipe error")

	err = store.RenameRecipe(t.Context(), db, id, 1, "Chili", now)
	_, ok := store.ConstraintIdentifier(err)
	require.True(t, ok, "rename onto an existing title")

	require.NoError(t, store.RenameRecipe(t.Context(), db, id, 1, "Beef Stew", now), "rename")
}

func TestWithTransactionRollsBack(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	boom := errors.New("boom")

	err := store.WithTransaction(t.Context(), db, func(tx *sql.Tx) error {
		if _, err := store.InsertRecipe(t.Context(), tx, "carol", "Toast", "", time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom, "transaction error")

	n, err := store.CountRecipes(t.Context(), db, "carol")
	require.NoError(t, err, "CountRecipes error")
	require.Zero(t, n, "insert survived rollback")
}

func TestListChildren(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	id, err := store.InsertRecipe(t.Context(), db, "alice", "Stew", "", time.Now().UTC())
	require.NoError(t, err, "InsertRecipe error")

	require.NoError(t, store.AddSubIngredient(t.Context(), db, id, "Onion", "1"), "AddSubIngredient")
	require.NoError(t, store.AddSubIngredient(t.Context(), db, id, "Carrot", "2"), "AddSubIngredient")
	require.NoError(t, store.AddDirection(t.Context(), db, id, 2, "Simmer"), "AddDirection")
	require.NoError(t, store.AddDirection(t.Context(), db, id, 1, "Chop"), "AddDirection")

	ingredients, err := store.ListSubIngredients(t.Context(), db, id)
	require.NoError(t, err, "ListSubIngredients error")
	require.Equal(t, []store.SubIngredient{{Name: "Carrot", Quantity: "2"}, {Name: "Onion", Quantity: "1"}}, ingredients, "ingredients")

	directions, err := store.ListDirections(t.Context(), db, id)
	require.NoError(t, err, "ListDirections error")
	require.Equal(t, []store.Direction{{Number: 1, Text: "Chop"}, {Number: 2, Text: "Simmer"}}, directions, "directions")
}
