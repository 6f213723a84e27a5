package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("RECIPEBOX_STORAGE", "minio")

	opts, err := parseFlags([]string{"--listen", "9999", "--minio-bucket", "images"})
	require.NoError(t, err, "parseFlags error")
	require.Equal(t, "9999", opts.listen, "listen")
	require.Equal(t, "minio", opts.backend, "backend from environment")
	require.Equal(t, "images", opts.minioBucket, "bucket")
	require.Equal(t, "./data", opts.dataDir, "default data dir")

	_, err = parseFlags([]string{"extra"})
	require.Error(t, err, "positional argument accepted")
}

func TestNewFileStoreRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := newFileStore(t.Context(), options{backend: "tape"}, t.TempDir())
	require.ErrorContains(t, err, `unknown storage backend "tape"`, "backend error")
}
