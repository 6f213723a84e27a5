package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"recipebox/internal/coordinator"
	"recipebox/internal/storage"
	"recipebox/internal/store"
	"recipebox/internal/upload"
)

// Server exposes recipes and their images over HTTP. Every write goes
// through a single Coordinator so the database row and the image file are
// committed together.
type Server struct {
	Config Config
	Db     *sql.DB

	coord  *coordinator.Coordinator
	files  *storage.StagedWriter
	policy upload.Policy
}

// NewServer opens the recipe database under cfg.DataDir and returns a new
// Server.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {

	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.Open(ctx, filepath.Join(cfg.DataDir, "recipes.sqlite"))
	if err != nil {
		return nil, err
	}

	if cfg.Files == nil {
		cfg.Files = storage.NewLocalFileStore(cfg.DataDir)
	}

	if cfg.Policy == nil {
		policy := upload.DefaultPolicy()
		cfg.Policy = &policy
	}

	if cfg.Rules == nil {
		cfg.Rules = store.DefaultRules()
	}

	files := storage.NewStagedWriter(cfg.Files)
	coord := coordinator.New(
		db,
		files,
		upload.NewValidator(*cfg.Policy),
		store.NewClassifier(cfg.Rules),
	)

	return &Server{
		Config: cfg,
		Db:     db,
		coord:  coord,
		files:  files,
		policy: *cfg.Policy,
	}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.Db.Close()
}

// Handler returns the http.Handler serving the recipe API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	recipes := http.NewServeMux()
	recipes.HandleFunc("POST /recipes", s.handleCreateRecipe)
	recipes.HandleFunc("GET /recipes/{id}", s.handleGetRecipe)
	recipes.HandleFunc("PUT /recipes/{id}/title", s.handleRenameRecipe)
	recipes.HandleFunc("PUT /recipes/{id}/image", s.handleReplaceImage)
	recipes.HandleFunc("DELETE /recipes/{id}/image", s.handleDeleteImage)
	recipes.HandleFunc("POST /recipes/{id}/ingredients", s.handleAddIngredient)
	recipes.HandleFunc("POST /recipes/{id}/directions", s.handleAddDirection)

	mux.Handle("/recipes", RequireUser(recipes))
	mux.Handle("/recipes/", RequireUser(recipes))
	mux.HandleFunc("GET /images/{name}", s.handleGetImage)

	// Add middleware
	handler := SlashFix(mux)
	handler = LogRequest(handler)
	handler = Recoverer(handler)
	return handler
}
