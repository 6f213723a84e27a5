package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
)

// StagedFile is an upload written to a temporary path and waiting to be
// promoted to its final path. Each commit attempt owns exactly one.
type StagedFile struct {
	TempPath  string
	FinalPath string
	Overwrite bool
	Size      int64

	// created is true while the temporary file exists on the store.
	created  bool
	promoted bool
}

// Promoted reports whether the file has been moved to its final path.
func (f *StagedFile) Promoted() bool {
	return f.promoted
}

// StagedWriter stages uploads on a FileStore and later promotes or
// discards them.
type StagedWriter struct {
	store FileStore
}

// NewStagedWriter returns a StagedWriter backed by store.
func NewStagedWriter(store FileStore) *StagedWriter {
	return &StagedWriter{store: store}
}

// Store returns the underlying FileStore.
func (w *StagedWriter) Store() FileStore {
	return w.store
}

// Stage writes content to tempPath. If the write fails part way the partial
// temporary file is removed before the error is returned.
func (w *StagedWriter) Stage(ctx context.Context, content io.Reader, tempPath string, finalPath string, overwrite bool) (*StagedFile, error) {
	staged := &StagedFile{
		TempPath:  tempPath,
		FinalPath: finalPath,
		Overwrite: overwrite,
	}

	size, err := w.store.Write(ctx, tempPath, content)
	if err != nil {
		// A pre-existing file at tempPath belongs to another attempt.
		if !errors.Is(err, fs.ErrExist) && !errors.Is(err, ErrInvalidPath) {
			staged.created = true
			w.Discard(context.WithoutCancel(ctx), staged)
		}
		return nil, fmt.Errorf("stage %s: %w", tempPath, err)
	}

	staged.created = true
	staged.Size = size
	return staged, nil
}

// Promote moves the staged file to its final path.
func (w *StagedWriter) Promote(ctx context.Context, staged *StagedFile) error {
	if staged == nil || !staged.created {
		return errors.New("promote: file is not staged")
	}

	if err := w.store.Move(ctx, staged.TempPath, staged.FinalPath, staged.Overwrite); err != nil {
		return fmt.Errorf("promote %s to %s: %w", staged.TempPath, staged.FinalPath, err)
	}

	staged.created = false
	staged.promoted = true
	return nil
}

// Discard removes the temporary file if this writer created it. Errors are
// logged and dropped; calling Discard again is harmless.
func (w *StagedWriter) Discard(ctx context.Context, staged *StagedFile) {
	if staged == nil || !staged.created {
		return
	}

	if err := w.store.Delete(ctx, staged.TempPath); err != nil {
		slog.Debug("Failed to remove staged file", "path", staged.TempPath, "err", err)
		return
	}
	staged.created = false
}

// Remove deletes a promoted file. A missing file is not an error.
func (w *StagedWriter) Remove(ctx context.Context, finalPath string) error {
	if err := w.store.Delete(ctx, finalPath); err != nil {
		return fmt.Errorf("remove %s: %w", finalPath, err)
	}
	return nil
}
