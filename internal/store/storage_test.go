package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns one fresh instance of every Storage implementation
// that runs without external services.
func backends(t *testing.T) map[string]Storage {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	sealed, err := NewSealed(NewMemoryStore(), "correct horse")
	require.NoError(t, err)

	return map[string]Storage{
		"memory":     NewMemoryStore(),
		"sqlite":     createTestStore(t),
		"file":       fileStore,
		"s3":         &S3Store{client: newFakeS3(), cfg: S3Config{Bucket: "b", Prefix: "snapshots/"}},
		"compressed": NewCompressed(NewMemoryStore()),
		"sealed":     sealed,
	}
}

func TestStorage_Contract(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "tasks", []byte(`{"v":1}`)))
			got, err := s.Get(ctx, "tasks")
			require.NoError(t, err)
			assert.Equal(t, `{"v":1}`, string(got))

			require.NoError(t, s.Put(ctx, "tasks", []byte(`{"v":2}`)))
			got, err = s.Get(ctx, "tasks")
			require.NoError(t, err)
			assert.Equal(t, `{"v":2}`, string(got))

			// Ids with separators must not escape or collide.
			require.NoError(t, s.Put(ctx, "a/b", []byte("slash")))
			got, err = s.Get(ctx, "a/b")
			require.NoError(t, err)
			assert.Equal(t, "slash", string(got))

			got, err = s.Get(ctx, "tasks")
			require.NoError(t, err)
			assert.Equal(t, `{"v":2}`, string(got))
		})
	}
}

func TestMemoryStore_CopiesContent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	buf := []byte("abc")
	require.NoError(t, m.Put(ctx, "x", buf))
	buf[0] = 'z'

	got, err := m.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'z'
	again, err := m.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemoryStore()
	assert.ErrorIs(t, m.Put(ctx, "x", nil), context.Canceled)
	_, err := m.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompressed_StoresSnappyBlocks(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	c := NewCompressed(inner)

	content := []byte(`{"records":"` + string(make([]byte, 512)) + `"}`)
	require.NoError(t, c.Put(ctx, "tasks", content))

	raw, err := inner.Get(ctx, "tasks")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(content))

	require.NoError(t, inner.Put(ctx, "broken", []byte{0xff, 0xff, 0xff}))
	_, err = c.Get(ctx, "broken")
	require.Error(t, err)
}

func TestSealed_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()

	writer, err := NewSealed(inner, "right")
	require.NoError(t, err)
	require.NoError(t, writer.Put(ctx, "tasks", []byte("secret")))

	raw, err := inner.Get(ctx, "tasks")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	reader, err := NewSealed(inner, "wrong")
	require.NoError(t, err)
	_, err = reader.Get(ctx, "tasks")
	assert.ErrorIs(t, err, ErrSealedAuth)
}

func TestSealed_ReadsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()

	first, err := NewSealed(inner, "pass")
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "tasks", []byte("payload")))

	second, err := NewSealed(inner, "pass")
	require.NoError(t, err)
	got, err := second.Get(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestSealed_BoundToDatasetID(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s, err := NewSealed(inner, "pass")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "tasks", []byte("payload")))
	raw, err := inner.Get(ctx, "tasks")
	require.NoError(t, err)
	require.NoError(t, inner.Put(ctx, "notes", raw))

	_, err = s.Get(ctx, "notes")
	assert.ErrorIs(t, err, ErrSealedAuth)
}

func TestSealed_RejectsPlainContent(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "tasks", []byte("plain")))

	s, err := NewSealed(inner, "pass")
	require.NoError(t, err)
	_, err = s.Get(ctx, "tasks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not sealed")

	_, err = NewSealed(inner, "")
	require.Error(t, err)
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore("")
	require.Error(t, err)
}

func TestListDatasets(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "tasks", []byte("t")))
			require.NoError(t, s.Put(ctx, "a/b", []byte("s")))
			require.NoError(t, s.Put(ctx, "notes", []byte("n")))
			require.NoError(t, s.Put(ctx, ".hidden", []byte("h")))

			ids, err := ListDatasets(ctx, s)
			if name == "s3" {
				assert.ErrorIs(t, err, ErrListUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{".hidden", "a/b", "notes", "tasks"}, ids)
		})
	}
}

func TestFileStore_DatasetsSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, f.Put(ctx, ".config", []byte("c")))
	// Left behind by a write interrupted before its rename.
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"123.snapshot"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"456"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.snapshot"), 0o700))

	ids, err := f.Datasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{".config"}, ids)
}
