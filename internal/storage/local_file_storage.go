package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileStore is a FileStore rooted at a directory on the local
// filesystem. Temporary and final files should live under the same root so
// that moves are plain renames.
type LocalFileStore struct {
	dataDir string
}

// NewLocalFileStore creates a new LocalFileStore rooted at dataDir.
func NewLocalFileStore(dataDir string) *LocalFileStore {
	return &LocalFileStore{dataDir: dataDir}
}

// FullPath resolves a store-relative path to a filesystem path, rejecting
// anything that would leave the root.
func (s *LocalFileStore) FullPath(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if path == "" || clean == "." || filepath.IsAbs(clean) ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(s.dataDir, clean), nil
}

func (s *LocalFileStore) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	full, err := s.FullPath(path)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(f, &contextReader{ctx: ctx, r: r})
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return written, err
}

func (s *LocalFileStore) Move(ctx context.Context, src string, dst string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcPath, err := s.FullPath(src)
	if err != nil {
		return err
	}
	dstPath, err := s.FullPath(dst)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}

	if overwrite {
		return MoveFile(srcPath, dstPath)
	}
	return MoveFileNoReplace(srcPath, dstPath)
}

func (s *LocalFileStore) Delete(_ context.Context, path string) error {
	full, err := s.FullPath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalFileStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.FullPath(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
