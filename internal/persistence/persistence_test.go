package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...OptionFunc) *Store {
	t.Helper()
	store, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newObject(key Key, contentType string) metadata.Object {
	return metadata.New(key.Bucket, key.Name, metadata.Declared{
		ContentType:    contentType,
		CustomMetadata: map[string]string{"foo": "bar"},
		DownloadTokens: []string{"token123"},
	}, nil, time.Now())
}

func TestStoreAndRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := Key{Bucket: "bucket", Name: "dir/object"}

	stored, err := store.Store(ctx, key, newObject(key, "mime/type"), []byte("Hello, World!"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), stored.Size)
	assert.NotZero(t, stored.Generation)
	assert.Equal(t, "ZajifYh5KDgxtmS9i38K1A==", stored.MD5Hash)

	obj, content, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, stored, obj)
	assert.Equal(t, "Hello, World!", string(content))

	meta, err := store.ReadMetadata(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, stored, meta)

	content, err = store.ReadContent(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(content))
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := Key{Bucket: "bucket", Name: "missing"}

	_, _, err := store.Read(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ReadMetadata(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Delete(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.UpdateMetadata(ctx, key, func(o metadata.Object) (metadata.Object, error) { return o, nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	key := Key{Bucket: "bucket", Name: "persisted.txt"}

	first, err := New(root)
	require.NoError(t, err)
	stored, err := first.Store(ctx, key, newObject(key, "text/plain"), []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(root)
	require.NoError(t, err)
	defer second.Close()

	obj, content, err := second.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, stored, obj)
	assert.Equal(t, "durable", string(content))
}

func TestOverwriteBumpsGenerationAndRemovesOldContent(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time { return fixed }))
	key := Key{Bucket: "bucket", Name: "obj"}

	first, err := store.Store(ctx, key, newObject(key, "text/plain"), []byte("v1"))
	require.NoError(t, err)
	second, err := store.Store(ctx, key, newObject(key, "text/plain"), []byte("v2"))
	require.NoError(t, err)

	assert.Greater(t, second.Generation, first.Generation)

	_, content, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	dir, _ := store.objectDir(key)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "expected meta.json and one content file")
}

func TestCompressedContentStaysReadable(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	key := Key{Bucket: "bucket", Name: "zipped"}
	payload := []byte(fmt.Sprintf("%0100d", 7))

	compressed, err := New(root, WithCompression(true))
	require.NoError(t, err)
	stored, err := compressed.Store(ctx, key, newObject(key, "text/plain"), payload)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), stored.Size)

	_, content, err := compressed.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, content)
	require.NoError(t, compressed.Close())

	plain, err := New(root)
	require.NoError(t, err)
	defer plain.Close()

	_, content, err = plain.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestUpdateMetadataKeepsContentProperties(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := Key{Bucket: "bucket", Name: "obj"}

	stored, err := store.Store(ctx, key, newObject(key, "text/plain"), []byte("abc"))
	require.NoError(t, err)

	updated, err := store.UpdateMetadata(ctx, key, func(o metadata.Object) (metadata.Object, error) {
		o = o.ApplyPatch(metadata.Declared{ContentType: "application/json"})
		o.Size = 999
		return o, nil
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", updated.ContentType)
	assert.Equal(t, stored.Size, updated.Size)
	assert.Equal(t, stored.Generation, updated.Generation)
	assert.Equal(t, stored.Metageneration+1, updated.Metageneration)

	meta, err := store.ReadMetadata(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, updated, meta)
}

func TestDeleteRemovesObjectAndDirectories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := Key{Bucket: "bucket", Name: "gone"}

	stored, err := store.Store(ctx, key, newObject(key, "text/plain"), []byte("x"))
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, stored, deleted)

	_, _, err = store.Read(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = os.Stat(filepath.Join(store.Root(), blobDirName, "bucket"))
	assert.True(t, os.IsNotExist(err), "expected empty bucket directory to be removed")
}

func TestInvalidKeysAreRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, key := range []Key{
		{Bucket: "", Name: "x"},
		{Bucket: "bad/bucket", Name: "x"},
		{Bucket: "..", Name: "x"},
		{Bucket: "bucket", Name: ""},
		{Bucket: "bucket", Name: "nul\x00byte"},
	} {
		_, err := store.Store(ctx, key, metadata.Object{}, nil)
		assert.ErrorIs(t, err, ErrInvalidKey, key.String())
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, name := range []string{"dir/b", "dir/a", "dir/sub/c", "other", "dir0"} {
		key := Key{Bucket: "bucket", Name: name}
		_, err := store.Store(ctx, key, newObject(key, "text/plain"), []byte(name))
		require.NoError(t, err)
	}
	other := Key{Bucket: "elsewhere", Name: "dir/z"}
	_, err := store.Store(ctx, other, newObject(other, "text/plain"), nil)
	require.NoError(t, err)

	collect := func(opts ListOptions) []string {
		iter := store.List(ctx, "bucket", opts)
		defer iter.Close()

		var names []string
		for iter.Next() {
			names = append(names, iter.Key().Name)
		}
		require.NoError(t, iter.Err())
		return names
	}

	assert.Equal(t, []string{"dir/a", "dir/b", "dir/sub/c"}, collect(ListOptions{Prefix: "dir/"}))
	assert.Equal(t, []string{"dir/b", "dir/sub/c"}, collect(ListOptions{Prefix: "dir/", StartAfter: "dir/a"}))
	assert.Equal(t, []string{"dir/a", "dir/b", "dir/sub/c", "dir0", "other"}, collect(ListOptions{}))
}

func TestListEmptyBucket(t *testing.T) {
	store := newTestStore(t)

	iter := store.List(context.Background(), "nothing-here", ListOptions{})
	assert.False(t, iter.Next())
	assert.NoError(t, iter.Err())
}

func TestListStopsAfterClose(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := Key{Bucket: "bucket", Name: "a"}
	_, err := store.Store(ctx, key, newObject(key, "text/plain"), nil)
	require.NoError(t, err)

	iter := store.List(ctx, "bucket", ListOptions{})
	require.NoError(t, iter.Close())
	assert.False(t, iter.Next())
}

func TestConcurrentOverwritesLeaveOneConsistentObject(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := Key{Bucket: "bucket", Name: "contended"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("writer-%02d", i))
			_, err := store.Store(ctx, key, newObject(key, "text/plain"), payload)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	obj, content, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, obj.Size, int64(len(content)))
	assert.Equal(t, metadata.Object{}.WithContent(content).MD5Hash, obj.MD5Hash)
}

func TestCanceledContextIsRejected(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Store(ctx, Key{Bucket: "bucket", Name: "x"}, metadata.Object{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
