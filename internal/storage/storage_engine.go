package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrExists is returned by Move when the destination is already taken and
	// overwriting was not requested.
	ErrExists = errors.New("destination already exists")

	// ErrInvalidPath is returned for paths that escape the store root.
	ErrInvalidPath = errors.New("invalid storage path")
)

// FileStore is the durable storage behind recipe images. Paths are slash
// separated and relative to the store root.
type FileStore interface {
	// Write creates path and streams r into it, returning the number of
	// bytes written. It must fail with fs.ErrExist rather than replace an
	// existing file, including one created concurrently.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)

	// Move makes the file at src visible at dst. When overwrite is false and
	// dst already exists, Move returns ErrExists and leaves both untouched.
	// The existence check and the move are a single step.
	Move(ctx context.Context, src string, dst string, overwrite bool) error

	// Delete removes path. A missing file is not an error.
	Delete(ctx context.Context, path string) error

	// Open returns the content stored at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}
