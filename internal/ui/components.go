package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

// Recipe represents a single recipe for display.
type Recipe struct {
	ID        int64
	Title     string
	ImageName string
	Version   int64
}

// Ingredient represents a sub-ingredient line.
type Ingredient struct {
	Name     string
	Quantity string
}

// Direction represents a numbered step.
type Direction struct {
	Number int
	Text   string
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<title>%s</title>", html.EscapeString(title))
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		// HTMX via CDN.
		_, err = io.WriteString(w, "<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<body hx-boost=\"true\"><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// Alert renders a failed commit. message must already be HTML-safe; the
// outcome messages encode user-supplied file names themselves.
func Alert(kind string, message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<div class=\"alert\" role=\"alert\" data-kind=\"%s\">%s</div>", html.EscapeString(kind), message)
		return err
	})
}

// RecipeCard renders a recipe summary. The version is carried so forms can
// send it back for the optimistic check.
func RecipeCard(r Recipe) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<article id=\"recipe-%d\" data-version=\"%d\"><header><h2>%s</h2></header>", r.ID, r.Version, html.EscapeString(r.Title))
		if err != nil {
			return err
		}

		if r.ImageName != "" {
			_, err = fmt.Fprintf(w, "<img src=\"/images/%s\" alt=\"%s\">", html.EscapeString(url.PathEscape(r.ImageName)), html.EscapeString(r.Title))
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</article>")
		return err
	})
}

// IngredientItem renders one sub-ingredient as a list item.
func IngredientItem(i Ingredient) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<li>%s <small>%s</small></li>", html.EscapeString(i.Name), html.EscapeString(i.Quantity))
		return err
	})
}

// DirectionItem renders one step as a list item.
func DirectionItem(d Direction) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<li value=\"%d\">%s</li>", d.Number, html.EscapeString(d.Text))
		return err
	})
}

// RecipePage renders a recipe with its sub-ingredients and directions.
func RecipePage(r Recipe, ingredients []Ingredient, directions []Direction) templ.Component {
	return Layout("Recipe Box - "+r.Title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := RecipeCard(r).Render(ctx, w); err != nil {
			return err
		}

		_, err := io.WriteString(w, "<section><h3>Ingredients</h3>")
		if err != nil {
			return err
		}
		if len(ingredients) == 0 {
			_, err = io.WriteString(w, "<p>No ingredients yet.</p>")
		} else {
			err = list(ctx, w, "ul", len(ingredients), func(i int) templ.Component { return IngredientItem(ingredients[i]) })
		}
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "</section><section><h3>Directions</h3>")
		if err != nil {
			return err
		}
		if len(directions) == 0 {
			_, err = io.WriteString(w, "<p>No directions yet.</p>")
		} else {
			err = list(ctx, w, "ol", len(directions), func(i int) templ.Component { return DirectionItem(directions[i]) })
		}
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "</section>")
		return err
	}))
}

func list(ctx context.Context, w io.Writer, tag string, n int, item func(int) templ.Component) error {
	if _, err := fmt.Fprintf(w, "<%s>", tag); err != nil {
		return err
	}
	for i := range n {
		if err := item(i).Render(ctx, w); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "</%s>", tag)
	return err
}
