package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("recipe not found")
	ErrConcurrencyConflict = errors.New("recipe was modified concurrently")
)

// Recipe is a row of the recipes table.
type Recipe struct {
	ID        int64
	UserID    string
	Title     string
	ImageName string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertRecipe creates a recipe and returns its id. An empty imageName
// stores NULL.
func InsertRecipe(ctx context.Context, db Execer, userID string, title string, imageName string, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO recipes(user_id, title, image_name, version, created_at, updated_at)
		 VALUES(?, ?, ?, 1, ?, ?)`,
		userID, title, nullString(imageName), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert recipe: %w", err)
	}
	return res.LastInsertId()
}

// GetRecipe loads a recipe by id.
func GetRecipe(ctx context.Context, db Execer, id int64) (Recipe, error) {
	var (
		r         Recipe
		imageName sql.NullString
	)

	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, title, image_name, version, created_at, updated_at FROM recipes WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.UserID, &r.Title, &imageName, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipe{}, ErrNotFound
	}
	if err != nil {
		return Recipe{}, fmt.Errorf("lookup recipe: %w", err)
	}

	r.ImageName = imageName.String
	return r, nil
}

// SetRecipeImage replaces the recipe's image name and bumps its version,
// provided the stored version still equals expectedVersion. An empty
// imageName clears the image.
func SetRecipeImage(ctx context.Context, db Execer, id int64, expectedVersion int64, imageName string, now time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE recipes SET image_name = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		nullString(imageName), now, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update recipe image: %w", err)
	}
	return checkVersioned(ctx, db, res, id)
}

// RenameRecipe changes the title under the same optimistic version check as
// SetRecipeImage.
func RenameRecipe(ctx context.Context, db Execer, id int64, expectedVersion int64, title string, now time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE recipes SET title = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		title, now, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("rename recipe: %w", err)
	}
	return checkVersioned(ctx, db, res, id)
}

// checkVersioned tells a stale version apart from a missing row after a
// versioned update touched nothing.
func checkVersioned(ctx context.Context, db Execer, res sql.Result, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM recipes WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup recipe: %w", err)
	}
	return ErrConcurrencyConflict
}

// AddSubIngredient attaches a named sub-ingredient to a recipe.
func AddSubIngredient(ctx context.Context, db Execer, recipeID int64, name string, quantity string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO sub_ingredients(recipe_id, name, quantity) VALUES(?, ?, ?)`,
		recipeID, name, quantity,
	); err != nil {
		return fmt.Errorf("insert sub-ingredient: %w", err)
	}
	return nil
}

// AddDirection attaches a numbered direction to a recipe.
func AddDirection(ctx context.Context, db Execer, recipeID int64, number int, text string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO directions(recipe_id, number, text) VALUES(?, ?, ?)`,
		recipeID, number, text,
	); err != nil {
		return fmt.Errorf("insert direction: %w", err)
	}
	return nil
}

// SubIngredient is a row of the sub_ingredients table.
type SubIngredient struct {
	Name     string
	Quantity string
}

// ListSubIngredients returns the recipe's sub-ingredients ordered by name.
func ListSubIngredients(ctx context.Context, db Execer, recipeID int64) ([]SubIngredient, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, quantity FROM sub_ingredients WHERE recipe_id = ? ORDER BY name`,
		recipeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sub-ingredients: %w", err)
	}
	defer rows.Close()

	var out []SubIngredient
	for rows.Next() {
		var si SubIngredient
		if err := rows.Scan(&si.Name, &si.Quantity); err != nil {
			return nil, fmt.Errorf("scan sub-ingredient: %w", err)
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// Direction is a row of the directions table.
type Direction struct {
	Number int
	Text   string
}

// ListDirections returns the recipe's directions in step order.
func ListDirections(ctx context.Context, db Execer, recipeID int64) ([]Direction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT number, text FROM directions WHERE recipe_id = ? ORDER BY number`,
		recipeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list directions: %w", err)
	}
	defer rows.Close()

	var out []Direction
	for rows.Next() {
		var d Direction
		if err := rows.Scan(&d.Number, &d.Text); err != nil {
			return nil, fmt.Errorf("scan direction: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountRecipes returns the number of recipes owned by userID.
func CountRecipes(ctx context.Context, db Execer, userID string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recipes: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
