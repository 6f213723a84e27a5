package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"recipebox/internal/storage"
	"testing"

	"github.com/stretchr/testify/require"
)

var jpegPayload = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("jpeg body bytes")...)

func newWriter(t *testing.T) (*storage.StagedWriter, string) {
	t.Helper()

	dataDir := t.TempDir()
	return storage.NewStagedWriter(storage.NewLocalFileStore(dataDir)), dataDir
}

// failingReader yields some bytes and then an error, like a dropped upload.
type failingReader struct {
	data []byte
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, errors.New("connection reset")
	}
	r.done = true
	return copy(p, r.data), nil
}

func TestStagePromoteRoundTrip(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)

	staged, err := w.Stage(t.Context(), bytes.NewReader(jpegPayload), "uploads/a.tmp", "images/a.jpg", false)
	require.NoError(t, err, "Stage error")
	require.Equal(t, int64(len(jpegPayload)), staged.Size, "staged size")
	require.FileExists(t, filepath.Join(dataDir, "uploads", "a.tmp"), "temp file after Stage")
	require.NoFileExists(t, filepath.Join(dataDir, "images", "a.jpg"), "final file before Promote")

	require.NoError(t, w.Promote(t.Context(), staged), "Promote error")
	require.True(t, staged.Promoted(), "Promoted flag")

	got, err := os.ReadFile(filepath.Join(dataDir, "images", "a.jpg"))
	require.NoError(t, err, "reading promoted file")
	require.Equal(t, jpegPayload, got, "promoted content")
	require.NoFileExists(t, filepath.Join(dataDir, "uploads", "a.tmp"), "temp file after Promote")

	// Discarding after promotion must not touch the final file.
	w.Discard(t.Context(), staged)
	require.FileExists(t, filepath.Join(dataDir, "images", "a.jpg"), "final file after Discard")
}

func TestStageRemovesPartialFile(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)

	_, err := w.Stage(t.Context(), &failingReader{data: jpegPayload}, "uploads/partial.tmp", "images/p.jpg", false)
	require.Error(t, err, "expected Stage to fail")
	require.NoFileExists(t, filepath.Join(dataDir, "uploads", "partial.tmp"), "partial temp file left behind")
}

func TestStageRefusesExistingTempPath(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)
	other := filepath.Join(dataDir, "uploads", "shared.tmp")
	require.NoError(t, os.MkdirAll(filepath.Dir(other), 0o755), "mkdir")
	require.NoError(t, os.WriteFile(other, []byte("someone else"), 0o644), "seed temp file")

	_, err := w.Stage(t.Context(), bytes.NewReader(jpegPayload), "uploads/shared.tmp", "images/s.jpg", false)
	require.ErrorIs(t, err, os.ErrExist, "expected exclusive create failure")

	got, err := os.ReadFile(other)
	require.NoError(t, err, "other attempt's file must survive")
	require.Equal(t, "someone else", string(got), "other attempt's content")
}

func TestStageCancelled(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := w.Stage(ctx, bytes.NewReader(jpegPayload), "uploads/c.tmp", "images/c.jpg", false)
	require.ErrorIs(t, err, context.Canceled, "expected cancellation")
	require.NoFileExists(t, filepath.Join(dataDir, "uploads", "c.tmp"), "temp file after cancellation")
}

func TestDiscardIsIdempotent(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)

	staged, err := w.Stage(t.Context(), bytes.NewReader(jpegPayload), "uploads/d.tmp", "images/d.jpg", false)
	require.NoError(t, err, "Stage error")

	w.Discard(t.Context(), staged)
	require.NoFileExists(t, filepath.Join(dataDir, "uploads", "d.tmp"), "temp file after first Discard")

	entriesAfterFirst, err := os.ReadDir(filepath.Join(dataDir, "uploads"))
	require.NoError(t, err, "ReadDir")

	require.NotPanics(t, func() { w.Discard(t.Context(), staged) }, "second Discard")
	entriesAfterSecond, err := os.ReadDir(filepath.Join(dataDir, "uploads"))
	require.NoError(t, err, "ReadDir")
	require.Equal(t, entriesAfterFirst, entriesAfterSecond, "filesystem changed on second Discard")

	// Discard also tolerates nil and files removed behind its back.
	w.Discard(t.Context(), nil)
}

func TestPromoteWithoutOverwriteRefusesExisting(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)
	final := filepath.Join(dataDir, "images", "taken.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(final), 0o755), "mkdir")
	require.NoError(t, os.WriteFile(final, []byte("original"), 0o644), "seed final file")

	staged, err := w.Stage(t.Context(), bytes.NewReader(jpegPayload), "uploads/t.tmp", "images/taken.jpg", false)
	require.NoError(t, err, "Stage error")

	err = w.Promote(t.Context(), staged)
	require.ErrorIs(t, err, storage.ErrExists, "expected conflict")

	got, err := os.ReadFile(final)
	require.NoError(t, err, "reading final file")
	require.Equal(t, "original", string(got), "existing final file was replaced")

	w.Discard(t.Context(), staged)
	require.NoFileExists(t, filepath.Join(dataDir, "uploads", "t.tmp"), "temp file after Discard")
}

func TestPromoteWithOverwriteReplaces(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)
	final := filepath.Join(dataDir, "images", "r.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(final), 0o755), "mkdir")
	require.NoError(t, os.WriteFile(final, []byte("old image"), 0o644), "seed final file")

	staged, err := w.Stage(t.Context(), bytes.NewReader(jpegPayload), "uploads/r.tmp", "images/r.jpg", true)
	require.NoError(t, err, "Stage error")
	require.NoError(t, w.Promote(t.Context(), staged), "Promote error")

	got, err := os.ReadFile(final)
	require.NoError(t, err, "reading final file")
	require.Equal(t, jpegPayload, got, "final file not replaced")
}

func TestPromoteUnstaged(t *testing.T) {
	t.Parallel()

	w, _ := newWriter(t)
	require.Error(t, w.Promote(t.Context(), &storage.StagedFile{TempPath: "x", FinalPath: "y"}), "promote of unstaged file")
}

func TestRemove(t *testing.T) {
	t.Parallel()

	w, dataDir := newWriter(t)
	final := filepath.Join(dataDir, "images", "gone.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(final), 0o755), "mkdir")
	require.NoError(t, os.WriteFile(final, jpegPayload, 0o644), "seed final file")

	require.NoError(t, w.Remove(t.Context(), "images/gone.jpg"), "Remove error")
	require.NoFileExists(t, final, "file after Remove")
	require.NoError(t, w.Remove(t.Context(), "images/gone.jpg"), "Remove of missing file")
}

func TestLocalFileStoreRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := storage.NewLocalFileStore(root)

	for _, p := range []string{"", ".", "..", "../etc/passwd", "images/../../x", "/abs/path"} {
		_, err := store.FullPath(p)
		require.ErrorIsf(t, err, storage.ErrInvalidPath, "path %q", p)
	}

	full, err := store.FullPath("images/../images/a.jpg")
	require.NoError(t, err, "path that stays inside the root")
	require.Equal(t, filepath.Join(root, "images", "a.jpg"), full, "resolved path")
}

func TestLocalFileStoreOpen(t *testing.T) {
	t.Parallel()

	store := storage.NewLocalFileStore(t.TempDir())
	_, err := store.Write(t.Context(), "images/o.jpg", bytes.NewReader(jpegPayload))
	require.NoError(t, err, "Write error")

	rc, err := store.Open(t.Context(), "images/o.jpg")
	require.NoError(t, err, "Open error")
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err, "ReadAll error")
	require.Equal(t, jpegPayload, got, "content")
}

func TestMoveFileNoReplace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644), "seed src")

	require.NoError(t, storage.MoveFileNoReplace(src, dst), "first move")
	require.NoFileExists(t, src, "src after move")

	require.NoError(t, os.WriteFile(src, []byte("second"), 0o644), "seed src again")
	require.ErrorIs(t, storage.MoveFileNoReplace(src, dst), storage.ErrExists, "second move")
	require.FileExists(t, src, "src must survive a refused move")

	got, err := os.ReadFile(dst)
	require.NoError(t, err, "reading dst")
	require.Equal(t, "payload", string(got), "dst content")
}
