package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"recipebox/internal/coordinator"
	"recipebox/internal/storage"
	"recipebox/internal/store"
	"recipebox/internal/ui"
	"recipebox/internal/upload"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is enough of a file for mimetype to recognise image formats.
const sniffLen = 3072

// parseForm reads a multipart or urlencoded body, capping its size at the
// upload limit plus room for the other fields.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.policy.MaxSizeBytes()+formOverhead)

	err := r.ParseMultipartForm(maxFormMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

// formImage returns the "image" part as an upload candidate. A missing part
// yields a nil candidate.
func formImage(r *http.Request) (*upload.Candidate, io.Closer, error) {
	if r.MultipartForm == nil {
		return nil, nil, nil
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	return &upload.Candidate{
		Size:     header.Size,
		FileName: header.Filename,
		Content:  file,
	}, file, nil
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil {
		slog.Debug("Failed to remove multipart temp files", "err", err)
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// ownedRecipe loads a recipe the user may change. Recipes owned by someone
// else are reported as missing.
func ownedRecipe(ctx context.Context, db store.Execer, id int64, userID string) (store.Recipe, error) {
	rec, err := store.GetRecipe(ctx, db, id)
	if err != nil {
		return store.Recipe{}, err
	}
	if rec.UserID != userID {
		return store.Recipe{}, store.ErrNotFound
	}
	return rec, nil
}

// ownedRecipeAt is ownedRecipe for a write the client made against version.
// Image paths are chosen from this read, so a recipe that has moved on is a
// conflict even if the client already holds the newer version.
func ownedRecipeAt(ctx context.Context, db store.Execer, id int64, userID string, version int64) (store.Recipe, error) {
	rec, err := ownedRecipe(ctx, db, id, userID)
	if err != nil {
		return store.Recipe{}, err
	}
	if rec.Version != version {
		return store.Recipe{}, store.ErrConcurrencyConflict
	}
	return rec, nil
}

// writeLookupError reports a failed ownedRecipe call made outside the
// coordinator.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindNotFound})
		return
	case errors.Is(err, store.ErrConcurrencyConflict):
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindConcurrencyConflict})
		return
	}

	slog.Error("Failed to load recipe", "url", r.URL.Path, "err", err)
	writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindInternal, Err: err})
}

func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get(UserHeader)

	if err := s.parseForm(w, r); err != nil {
		s.writeFormError(w, r, err)
		return
	}
	defer cleanupForm(r)

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeMessage(w, r, http.StatusBadRequest, "A title is required.")
		return
	}

	candidate, closer, err := formImage(r)
	if err != nil {
		s.writeFormError(w, r, err)
		return
	}

	req := coordinator.FileCommit{}
	imageName := ""
	if candidate != nil {
		defer closer.Close()
		imageName = newImageName(candidate.FileName)
		req.Upload = candidate
		req.TempPath = newTempPath()
		req.FinalPath = imagePath(imageName)
	}

	var id int64
	req.Mutation = func(ctx context.Context, tx *sql.Tx) error {
		var err error
		id, err = store.InsertRecipe(ctx, tx, userID, title, imageName, time.Now().UTC())
		return err
	}

	out := s.coord.CommitWithFile(ctx, req)
	if !out.OK() {
		writeOutcome(w, r, out)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/recipes/%d", id))
	render(w, r, http.StatusCreated, ui.RecipeCard(ui.Recipe{
		ID:        id,
		Title:     title,
		ImageName: imageName,
		Version:   1,
	}))
}

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pathID(r)
	if !ok {
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindNotFound})
		return
	}

	rec, err := ownedRecipe(ctx, s.Db, id, r.Header.Get(UserHeader))
	if err != nil {
		writeLookupError(w, r, err)
		return
	}

	subIngredients, err := store.ListSubIngredients(ctx, s.Db, id)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}

	steps, err := store.ListDirections(ctx, s.Db, id)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}

	ingredients := make([]ui.Ingredient, 0, len(subIngredients))
	for _, si := range subIngredients {
		ingredients = append(ingredients, ui.Ingredient{Name: si.Name, Quantity: si.Quantity})
	}

	directions := make([]ui.Direction, 0, len(steps))
	for _, d := range steps {
		directions = append(directions, ui.Direction{Number: d.Number, Text: d.Text})
	}

	render(w, r, http.StatusOK, ui.RecipePage(toUIRecipe(rec), ingredients, directions))
}

// handleReplaceImage stores a new image for a recipe. An image with the
// same extension is overwritten in place; otherwise the recipe moves to a
// new name and the old file is removed once the change has committed.
func (s *Server) handleReplaceImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get(UserHeader)

	id, ok := pathID(r)
	if !ok {
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindNotFound})
		return
	}

	if err := s.parseForm(w, r); err != nil {
		s.writeFormError(w, r, err)
		return
	}
	defer cleanupForm(r)

	version, err := strconv.ParseInt(r.FormValue("version"), 10, 64)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "A valid version is required.")
		return
	}

	candidate, closer, err := formImage(r)
	if err != nil {
		s.writeFormError(w, r, err)
		return
	}
	if candidate == nil {
		writeMessage(w, r, http.StatusBadRequest, "An image is required.")
		return
	}
	defer closer.Close()

	rec, err := ownedRecipeAt(ctx, s.Db, id, userID, version)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}

	// The update below only applies at rec.Version, so the name chosen here
	// is still the recipe's image when it commits.
	imageName := rec.ImageName
	overwrite := imageName != "" && strings.EqualFold(filepath.Ext(imageName), filepath.Ext(candidate.FileName))
	if !overwrite {
		imageName = newImageName(candidate.FileName)
	}

	out := s.coord.CommitWithFile(ctx, coordinator.FileCommit{
		Mutation: func(ctx context.Context, tx *sql.Tx) error {
			return store.SetRecipeImage(ctx, tx, id, version, imageName, time.Now().UTC())
		},
		Upload:    candidate,
		TempPath:  newTempPath(),
		FinalPath: imagePath(imageName),
		Overwrite: overwrite,
	})
	if !out.OK() {
		writeOutcome(w, r, out)
		return
	}

	if rec.ImageName != "" && rec.ImageName != imageName {
		if err := s.files.Remove(context.WithoutCancel(ctx), imagePath(rec.ImageName)); err != nil {
			slog.Warn("Failed to remove replaced image", "recipe", id, "image", rec.ImageName, "err", err)
		}
	}

	rec.ImageName = imageName
	rec.Version = version + 1
	render(w, r, http.StatusOK, ui.RecipeCard(toUIRecipe(rec)))
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pathID(r)
	if !ok {
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindNotFound})
		return
	}

	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "A valid version is required.")
		return
	}

	rec, err := ownedRecipeAt(ctx, s.Db, id, r.Header.Get(UserHeader), version)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}

	finalPath := ""
	if rec.ImageName != "" {
		finalPath = imagePath(rec.ImageName)
	}

	out := s.coord.CommitWithFileDeletion(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return store.SetRecipeImage(ctx, tx, id, version, "", time.Now().UTC())
	}, finalPath)
	if !out.OK() {
		writeOutcome(w, r, out)
		return
	}

	rec.ImageName = ""
	rec.Version = version + 1
	render(w, r, http.StatusOK, ui.RecipeCard(toUIRecipe(rec)))
}

func (s *Server) handleRenameRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindNotFound})
		return
	}

	if err := s.parseForm(w, r); err != nil {
		s.writeFormError(w, r, err)
		return
	}
	defer cleanupForm(r)

	version, err := strconv.ParseInt(r.FormValue("version"), 10, 64)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "A valid version is required.")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeMessage(w, r, http.StatusBadRequest, "A title is required.")
		return
	}

	userID := r.Header.Get(UserHeader)
	var rec store.Recipe
	out := s.coord.CommitWithFile(r.Context(), coordinator.FileCommit{
		Mutation: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := ownedRecipe(ctx, tx, id, userID); err != nil {
				return err
			}
			if err := store.RenameRecipe(ctx, tx, id, version, title, time.Now().UTC()); err != nil {
				return err
			}
			var err error
			rec, err = store.GetRecipe(ctx, tx, id)
			return err
		},
	})
	if !out.OK() {
		writeOutcome(w, r, out)
		return
	}

	render(w, r, http.StatusOK, ui.RecipeCard(toUIRecipe(rec)))
}

func (s *Server) handleAddIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindNotFound})
		return
	}

	if err := s.parseForm(w, r); err != nil {
		s.writeFormError(w, r, err)
		return
	}
	defer cleanupForm(r)

	item := ui.Ingredient{
		Name:     strings.TrimSpace(r.FormValue("name")),
		Quantity: strings.TrimSpace(r.FormValue("quantity")),
	}
	if item.Name == "" {
		writeMessage(w, r, http.StatusBadRequest, "A name is required.")
		return
	}

	userID := r.Header.Get(UserHeader)
	out := s.coord.CommitWithFile(r.Context(), coordinator.FileCommit{
		Mutation: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := ownedRecipe(ctx, tx, id, userID); err != nil {
				return err
			}
			return store.AddSubIngredient(ctx, tx, id, item.Name, item.Quantity)
		},
	})
	if !out.OK() {
		writeOutcome(w, r, out)
		return
	}

	render(w, r, http.StatusCreated, ui.IngredientItem(item))
}

func (s *Server) handleAddDirection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeOutcome(w, r, coordinator.Outcome{Kind: coordinator.KindNotFound})
		return
	}

	if err := s.parseForm(w, r); err != nil {
		s.writeFormError(w, r, err)
		return
	}
	defer cleanupForm(r)

	number, err := strconv.Atoi(r.FormValue("number"))
	if err != nil || number < 1 {
		writeMessage(w, r, http.StatusBadRequest, "A step number of 1 or more is required.")
		return
	}

	item := ui.Direction{Number: number, Text: strings.TrimSpace(r.FormValue("text"))}
	if item.Text == "" {
		writeMessage(w, r, http.StatusBadRequest, "A direction is required.")
		return
	}

	userID := r.Header.Get(UserHeader)
	out := s.coord.CommitWithFile(r.Context(), coordinator.FileCommit{
		Mutation: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := ownedRecipe(ctx, tx, id, userID); err != nil {
				return err
			}
			return store.AddDirection(ctx, tx, id, item.Number, item.Text)
		},
	})
	if !out.OK() {
		writeOutcome(w, r, out)
		return
	}

	render(w, r, http.StatusCreated, ui.DirectionItem(item))
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !validImageName(name) {
		http.NotFound(w, r)
		return
	}

	rc, err := s.files.Store().Open(r.Context(), imagePath(name))
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidPath) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("Failed to open image", "name", name, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		slog.Error("Failed to read image", "name", name, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	head = head[:n]

	w.Header().Set("Content-Type", mimetype.Detect(head).String())
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(head); err != nil {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("Image copy interrupted", "name", name, "err", err)
	}
}

func toUIRecipe(rec store.Recipe) ui.Recipe {
	return ui.Recipe{
		ID:        rec.ID,
		Title:     rec.Title,
		ImageName: rec.ImageName,
		Version:   rec.Version,
	}
}
