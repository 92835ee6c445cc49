package fallback

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func TestStore_Store(t *testing.T) {
	store := newTestStore(t)

	content := []byte("not really an mp4 but close enough")
	desc, err := store.Store(bytes.NewReader(content), "intro.mp4")
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), desc.Size)
	assert.True(t, strings.HasSuffix(desc.ID, ".mp4"))
	assert.Equal(t, "/fallback/"+desc.ID, desc.ServingURL)

	onDisk, err := os.ReadFile(desc.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)
}

func TestStore_Store_IgnoresSuspiciousNames(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name          string
		suggestedName string
	}{
		{name: "path traversal in name", suggestedName: "../../etc/passwd"},
		{name: "no extension", suggestedName: "README"},
		{name: "oversized extension", suggestedName: "movie.averylongext"},
		{name: "extension with odd characters", suggestedName: "movie.m p4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := store.Store(strings.NewReader("data"), tt.suggestedName)
			require.NoError(t, err)

			assert.Equal(t, desc.ID, filepath.Base(desc.ID))
			assert.NotContains(t, desc.ID, "..")
			assert.Equal(t, filepath.Join(store.root, desc.ID), desc.LocalPath)
		})
	}
}

func TestStore_Stat(t *testing.T) {
	store := newTestStore(t)

	desc, err := store.Store(strings.NewReader("0123456789"), "clip.mp4")
	require.NoError(t, err)

	size, contentType, err := store.Stat(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, "video/mp4", contentType)
}

func TestStore_Stat_UnknownExtension(t *testing.T) {
	store := newTestStore(t)

	desc, err := store.Store(strings.NewReader("data"), "blob")
	require.NoError(t, err)

	_, contentType, err := store.Stat(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", contentType)
}

func TestStore_Stat_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Stat("missing.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Open(t *testing.T) {
	store := newTestStore(t)

	desc, err := store.Store(strings.NewReader("0123456789"), "clip.mp4")
	require.NoError(t, err)

	tests := []struct {
		name   string
		offset int64
		length int64
		want   string
	}{
		{name: "full read", offset: 0, length: -1, want: "0123456789"},
		{name: "window", offset: 2, length: 5, want: "23456"},
		{name: "offset to end", offset: 7, length: -1, want: "789"},
		{name: "window past end is truncated", offset: 8, length: 100, want: "89"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := store.Open(desc.ID, tt.offset, tt.length)
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestStore_Open_RejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	// A real file outside the root must stay unreachable through the store.
	outside := filepath.Join(filepath.Dir(store.root), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	tests := []string{
		"../secret.txt",
		"..\\secret.txt",
		"sub/../../secret.txt",
		".",
		"..",
		".hidden",
		"",
	}

	for _, id := range tests {
		t.Run("id "+id, func(t *testing.T) {
			_, err := store.Open(id, 0, -1)
			assert.ErrorIs(t, err, ErrNotFound)

			_, _, err = store.Stat(id)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Store_WriteFailure(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Store(iotest{}, "clip.mp4")
	require.ErrorIs(t, err, ErrWriteFailed)

	// The partial file must not linger.
	entries, err := os.ReadDir(store.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type iotest struct{}

func (iotest) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
