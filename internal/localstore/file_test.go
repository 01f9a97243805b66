package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "store.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.PutAll(ctx, Cache, []story.Story{sampleStory("1", "one"), sampleStory("2", "two")}))
	require.NoError(t, s.Put(ctx, Bookmarks, sampleStory("2", "two")))
	require.NoError(t, s.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	cache, err := reopened.GetAll(ctx, Cache)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, ids(cache))

	_, ok, err := reopened.Get(ctx, Bookmarks, "2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFileStoreIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = OpenFileStore(path)
	require.ErrorIs(t, err, backend.ErrLocked)
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := OpenFileStore(path)
	require.Error(t, err)

	// the failed open must not leave the lock held
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestFileStoreFailedWriteKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(ctx, Bookmarks, sampleStory("1", "one")))

	require.ErrorIs(t, s.PutAll(ctx, Bookmarks, []story.Story{{}}), story.ErrInvalidEntity)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"id": "1"`)
}
