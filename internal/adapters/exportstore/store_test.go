package exportstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/config"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "exports/acme-widgets-1.md", want: "exports/acme-widgets-1.md"},
		{key: "/exports/a.md", want: "exports/a.md"},
		{key: "notes..md", want: "notes..md"},
		{key: "", wantErr: true},
		{key: "../etc/passwd", wantErr: true},
		{key: "exports/../../x", wantErr: true},
		{key: "exports//a.md", wantErr: true},
		{key: "exports/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cleanKey(tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalStore_PutWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(LocalOptions{Dir: dir, PublicBaseURL: "https://files.example.com/"})
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "exports/acme-widgets-1.md", "text/markdown", []byte("# Notes"))
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/exports/acme-widgets-1.md", url)

	data, err := os.ReadFile(filepath.Join(dir, "exports", "acme-widgets-1.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Notes", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "exports"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStore_OverwritesAndFileURL(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(LocalOptions{Dir: dir})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "a.md", "text/markdown", []byte("one"))
	require.NoError(t, err)
	url, err := s.Put(context.Background(), "a.md", "text/markdown", []byte("two"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"), url)
	assert.True(t, strings.HasSuffix(url, "/a.md"), url)

	data, err := os.ReadFile(filepath.Join(dir, "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestLocalStore_RejectsTraversalAndCanceledContext(t *testing.T) {
	s, err := NewLocalStore(LocalOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "../escape.md", "text/markdown", nil)
	require.ErrorIs(t, err, ErrInvalidKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "a.md", "text/markdown", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGCSStore_PutUsesWriterAndBuildsPublicURL(t *testing.T) {
	s := newGCSStore("brief-exports", nil)
	var gotKey, gotType string
	s.write = func(_ context.Context, key, contentType string, body []byte) error {
		gotKey, gotType = key, contentType
		assert.Equal(t, "body", string(body))
		return nil
	}

	url, err := s.Put(context.Background(), "exports/release notes.md", "text/markdown", []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/brief-exports/exports/release%20notes.md", url)
	assert.Equal(t, "exports/release notes.md", gotKey)
	assert.Equal(t, "text/markdown", gotType)
	assert.NoError(t, s.Close())
}

func TestGCSStore_WrapsUploadError(t *testing.T) {
	s := newGCSStore("b", nil)
	s.write = func(context.Context, string, string, []byte) error { return errors.New("googleapi: 503") }

	_, err := s.Put(context.Background(), "exports/x.md", "text/markdown", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gs://b/exports/x.md")
	assert.Contains(t, err.Error(), "503")
}

func TestNew_SelectsLocalWhenBucketMissing(t *testing.T) {
	store, err := New(context.Background(), Options{Config: config.ExportConfig{
		Backend:  "gcs",
		LocalDir: t.TempDir(),
	}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)
}

func TestNewGCSStore_RequiresBucket(t *testing.T) {
	_, err := NewGCSStore(context.Background(), GCSOptions{})
	require.Error(t, err)
}
