package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViniZap4/ytnotes-server/domain"
)

// runBucketSuite checks the contract every backend must honor.
func runBucketSuite(t *testing.T, newBucket func(t *testing.T) Bucket) {
	ctx := context.Background()

	t.Run("absent keys read as nil", func(t *testing.T) {
		b := newBucket(t)
		snap, err := b.Get(ctx, KeyNotes, KeyFolders)
		require.NoError(t, err)
		assert.Nil(t, snap.Notes)
		assert.Nil(t, snap.Folders)
		assert.Equal(t, int64(0), snap.Version)
	})

	t.Run("set then get round trip", func(t *testing.T) {
		b := newBucket(t)
		created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		patch := Patch{
			Notes: map[string][]domain.Note{
				domain.DefaultFolder: {},
				"Lectures":           {{ID: "n1", Timestamp: 90, Description: "intro", CreatedAt: created}},
			},
			Folders: []string{domain.DefaultFolder, "Lectures"},
		}

		v, err := b.Set(ctx, patch, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		snap, err := b.Get(ctx, KeyNotes, KeyFolders)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Version)
		assert.Equal(t, []string{domain.DefaultFolder, "Lectures"}, snap.Folders)
		require.Len(t, snap.Notes["Lectures"], 1)
		assert.Equal(t, "intro", snap.Notes["Lectures"][0].Description)
		assert.True(t, created.Equal(snap.Notes["Lectures"][0].CreatedAt))
		assert.NotNil(t, snap.Notes[domain.DefaultFolder])
		assert.Empty(t, snap.Notes[domain.DefaultFolder])
	})

	t.Run("get returns only requested keys", func(t *testing.T) {
		b := newBucket(t)
		_, err := b.Set(ctx, Patch{
			Notes:   map[string][]domain.Note{domain.DefaultFolder: {}},
			Folders: []string{domain.DefaultFolder},
		}, AnyVersion)
		require.NoError(t, err)

		snap, err := b.Get(ctx, KeyFolders)
		require.NoError(t, err)
		assert.Nil(t, snap.Notes)
		assert.Equal(t, []string{domain.DefaultFolder}, snap.Folders)
	})

	t.Run("partial patch leaves other keys untouched", func(t *testing.T) {
		b := newBucket(t)
		_, err := b.Set(ctx, Patch{
			Notes:   map[string][]domain.Note{domain.DefaultFolder: {}},
			Folders: []string{domain.DefaultFolder},
		}, AnyVersion)
		require.NoError(t, err)

		_, err = b.Set(ctx, Patch{Notes: map[string][]domain.Note{
			domain.DefaultFolder: {{ID: "x", Timestamp: 1, Description: "d"}},
		}}, AnyVersion)
		require.NoError(t, err)

		snap, err := b.Get(ctx, KeyNotes, KeyFolders)
		require.NoError(t, err)
		assert.Equal(t, []string{domain.DefaultFolder}, snap.Folders)
		assert.Len(t, snap.Notes[domain.DefaultFolder], 1)
	})

	t.Run("stale version conflicts and leaves bucket unchanged", func(t *testing.T) {
		b := newBucket(t)
		v, err := b.Set(ctx, Patch{Folders: []string{domain.DefaultFolder}}, 0)
		require.NoError(t, err)

		_, err = b.Set(ctx, Patch{Folders: []string{domain.DefaultFolder, "Late"}}, v-1)
		require.ErrorIs(t, err, ErrVersionConflict)

		snap, err := b.Get(ctx, KeyFolders)
		require.NoError(t, err)
		assert.Equal(t, []string{domain.DefaultFolder}, snap.Folders)
		assert.Equal(t, v, snap.Version)
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		b := newBucket(t)
		_, err := b.Get(ctx, Key("settings"))
		assert.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("concurrent writers at the same version: one wins", func(t *testing.T) {
		b := newBucket(t)
		const writers = 8

		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.Set(ctx, Patch{Folders: []string{domain.DefaultFolder}}, 0)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, ErrVersionConflict)
		}
		assert.Equal(t, 1, wins)
	})
}

func TestMemoryBucket(t *testing.T) {
	runBucketSuite(t, func(t *testing.T) Bucket {
		return NewMemoryBucket()
	})
}

func TestMemoryBucketCopiesValues(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket()

	folders := []string{domain.DefaultFolder}
	_, err := b.Set(ctx, Patch{Folders: folders}, AnyVersion)
	require.NoError(t, err)
	folders[0] = "mutated"

	snap, err := b.Get(ctx, KeyFolders)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.DefaultFolder}, snap.Folders)
}

func TestFileBucket(t *testing.T) {
	runBucketSuite(t, func(t *testing.T) Bucket {
		b, err := NewFileBucket(filepath.Join(t.TempDir(), "data", "ytnotes.yaml"))
		require.NoError(t, err)
		return b
	})
}

func TestFileBucketSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ytnotes.yaml")

	first, err := NewFileBucket(path)
	require.NoError(t, err)
	second, err := NewFileBucket(path)
	require.NoError(t, err)

	v, err := first.Set(ctx, Patch{Folders: []string{domain.DefaultFolder}}, 0)
	require.NoError(t, err)

	_, err = second.Set(ctx, Patch{Folders: []string{domain.DefaultFolder, "B"}}, 0)
	require.ErrorIs(t, err, ErrVersionConflict)

	_, err = second.Set(ctx, Patch{Folders: []string{domain.DefaultFolder, "B"}}, v)
	require.NoError(t, err)

	snap, err := first.Get(ctx, KeyFolders)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.DefaultFolder, "B"}, snap.Folders)
}

func TestFileBucketEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ytnotes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0644))

	b, err := NewFileBucket(path)
	require.NoError(t, err)

	snap, err := b.Get(context.Background(), KeyNotes, KeyFolders)
	require.NoError(t, err)
	assert.Nil(t, snap.Folders)
}

func TestPostgresBucket(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	require.NoError(t, Migrate(dsn))

	runBucketSuite(t, func(t *testing.T) Bucket {
		ctx := context.Background()
		b, err := NewPostgresBucket(ctx, dsn)
		require.NoError(t, err)
		_, err = b.pool.Exec(ctx, `TRUNCATE bucket_entries, bucket_meta`)
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestRedisBucket(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}

	runBucketSuite(t, func(t *testing.T) Bucket {
		ctx := context.Background()
		prefix := "ytnotes-test:" + t.Name() + ":"
		b, err := NewRedisBucket(ctx, url, prefix)
		require.NoError(t, err)
		require.NoError(t, b.rdb.Del(ctx, prefix+"version", prefix+"notes", prefix+"folders").Err())
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h/db", migrateURL("postgres://u:p@h/db"))
	assert.Equal(t, "pgx5://u:p@h/db", migrateURL("postgresql://u:p@h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Options{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBucket{}, b)

	path := filepath.Join(t.TempDir(), "s.yaml")
	b, err = Open(ctx, Options{Driver: DriverFile, FilePath: path})
	require.NoError(t, err)
	require.IsType(t, &FileBucket{}, b)
	assert.Equal(t, path, b.(*FileBucket).Path())

	_, err = Open(ctx, Options{Driver: DriverPostgres})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: "etcd"})
	assert.Error(t, err)
}

func TestFileBucketFailedWriteKeepsPreviousDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ytnotes.yaml")
	b, err := NewFileBucket(path)
	require.NoError(t, err)

	v, err := b.Set(ctx, Patch{Folders: []string{domain.DefaultFolder}}, 0)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	// The temp file cannot be created over a directory.
	require.NoError(t, os.Mkdir(path+".tmp", 0755))
	_, err = b.Set(ctx, Patch{Folders: []string{domain.DefaultFolder, "Lost"}}, v)
	require.Error(t, err)

	snap, err := b.Get(ctx, KeyFolders)
	require.NoError(t, err)
	assert.Equal(t, v, snap.Version)
	assert.Equal(t, []string{domain.DefaultFolder}, snap.Folders)
}
