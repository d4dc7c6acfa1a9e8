// Package persistence stores objects and their metadata on the local filesystem.
//
// # Layout
//
//	<root>/.tmp/                                  staging area for atomic writes
//	<root>/blobs/<bucket>/<h0h1>/<h2h3>/<hash>/   one directory per object name
//	    meta.json                                 metadata.Record of the live generation
//	    data-<generation>[.zst]                   content of that generation
//
// Writes go to a temporary file under .tmp and are renamed into place, so a
// reader never observes partially written bytes. Content is written before
// meta.json is swapped; the previous generation's content is removed last.
// A reader that loses the race against that removal re-reads meta.json.
//
// The root directory is always injected by the caller so that several stores
// can coexist in one process.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/klauspost/compress/zstd"
)

const (
	tempDirName   = ".tmp"
	blobDirName   = "blobs"
	metaFileName  = "meta.json"
	contentPrefix = "data-"
	zstdSuffix    = ".zst"

	lockStripes  = 64
	readAttempts = 3
)

// Store is a durable mapping from (bucket, object name) to metadata and content.
// It is safe for concurrent use.
type Store struct {
	root string
	opts *Options

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	locks [lockStripes]sync.Mutex
}

// New opens (creating if needed) a store rooted at root.
func New(root string, opts ...OptionFunc) (*Store, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if root == "" {
		return nil, errors.New("persistence root must not be empty")
	}
	root = filepath.Clean(root)

	for _, dir := range []string{filepath.Join(root, blobDirName), filepath.Join(root, tempDirName)} {
		if err := os.MkdirAll(dir, options.DirMode); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Store{
		root:    root,
		opts:    options,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Root returns the directory the store was opened on.
func (s *Store) Root() string {
	return s.root
}

// Close releases the compression codecs. Files stay on disk.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// Store writes content and obj under key, replacing any previous generation.
// The returned metadata carries the size, checksums and generation computed here.
func (s *Store) Store(ctx context.Context, key Key, obj metadata.Object, content []byte) (metadata.Object, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Object{}, err
	}
	if err := validateKey(key); err != nil {
		return metadata.Object{}, err
	}

	dir, stripe := s.objectDir(key)
	mu := &s.locks[stripe]
	mu.Lock()
	defer mu.Unlock()

	prev, err := s.readMeta(dir)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return metadata.Object{}, fmt.Errorf("store %s: %w", key, err)
	}

	generation := s.opts.Now().UnixMicro()
	if prev != nil && generation <= prev.Generation {
		generation = prev.Generation + 1
	}

	stored := obj.WithContent(content)
	stored.Bucket = key.Bucket
	stored.Name = key.Name
	stored.Generation = generation
	if stored.Metageneration == 0 {
		stored.Metageneration = 1
	}

	if err := os.MkdirAll(dir, s.opts.DirMode); err != nil {
		return metadata.Object{}, fmt.Errorf("store %s: %w", key, err)
	}

	payload, name := content, contentFileName(generation, false)
	if s.opts.Compress {
		payload, name = s.encoder.EncodeAll(content, nil), contentFileName(generation, true)
	}
	if err := s.writeAtomic(filepath.Join(dir, name), payload); err != nil {
		return metadata.Object{}, fmt.Errorf("store %s content: %w", key, err)
	}

	if err := s.writeMeta(dir, stored); err != nil {
		_ = os.Remove(filepath.Join(dir, name))
		return metadata.Object{}, fmt.Errorf("store %s metadata: %w", key, err)
	}

	if prev != nil && prev.Generation != generation {
		s.removeContent(dir, prev.Generation)
	}

	return stored.Clone(), nil
}

// Read returns the metadata and content of the live generation under key.
func (s *Store) Read(ctx context.Context, key Key) (metadata.Object, []byte, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Object{}, nil, err
	}
	if err := validateKey(key); err != nil {
		return metadata.Object{}, nil, err
	}

	dir, _ := s.objectDir(key)
	for attempt := 0; attempt < readAttempts; attempt++ {
		obj, err := s.readMeta(dir)
		if err != nil {
			return metadata.Object{}, nil, fmt.Errorf("read %s: %w", key, err)
		}

		content, err := s.readContent(dir, obj.Generation)
		if errors.Is(err, os.ErrNotExist) {
			// Overwritten or deleted between the two reads.
			continue
		}
		if err != nil {
			return metadata.Object{}, nil, fmt.Errorf("read %s content: %w", key, err)
		}
		return *obj, content, nil
	}

	return metadata.Object{}, nil, fmt.Errorf("read %s: content missing after %d attempts: %w", key, readAttempts, ErrCorruptObject)
}

// ReadMetadata returns the metadata stored under key.
func (s *Store) ReadMetadata(ctx context.Context, key Key) (metadata.Object, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Object{}, err
	}
	if err := validateKey(key); err != nil {
		return metadata.Object{}, err
	}

	dir, _ := s.objectDir(key)
	obj, err := s.readMeta(dir)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("read %s metadata: %w", key, err)
	}
	return *obj, nil
}

// ReadContent returns the content stored under key.
func (s *Store) ReadContent(ctx context.Context, key Key) ([]byte, error) {
	_, content, err := s.Read(ctx, key)
	return content, err
}

// UpdateMetadata rewrites the metadata under key with the result of fn. Content
// properties and identity cannot be changed this way; the metageneration is
// bumped and the update time refreshed.
func (s *Store) UpdateMetadata(ctx context.Context, key Key, fn func(metadata.Object) (metadata.Object, error)) (metadata.Object, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Object{}, err
	}
	if err := validateKey(key); err != nil {
		return metadata.Object{}, err
	}

	dir, stripe := s.objectDir(key)
	mu := &s.locks[stripe]
	mu.Lock()
	defer mu.Unlock()

	current, err := s.readMeta(dir)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("update %s metadata: %w", key, err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return metadata.Object{}, err
	}

	next.Bucket = current.Bucket
	next.Name = current.Name
	next.Generation = current.Generation
	next.Size = current.Size
	next.MD5Hash = current.MD5Hash
	next.CRC32C = current.CRC32C
	next.TimeCreated = current.TimeCreated
	next.Metageneration = current.Metageneration + 1
	next.Updated = s.opts.Now().UTC()

	if err := s.writeMeta(dir, next); err != nil {
		return metadata.Object{}, fmt.Errorf("update %s metadata: %w", key, err)
	}
	return next.Clone(), nil
}

// Delete removes metadata and content under key and returns the metadata that
// was removed.
func (s *Store) Delete(ctx context.Context, key Key) (metadata.Object, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Object{}, err
	}
	if err := validateKey(key); err != nil {
		return metadata.Object{}, err
	}

	dir, stripe := s.objectDir(key)
	mu := &s.locks[stripe]
	mu.Lock()
	defer mu.Unlock()

	obj, err := s.readMeta(dir)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("delete %s: %w", key, err)
	}

	// Removing meta.json first makes the object disappear in one step.
	if err := os.Remove(filepath.Join(dir, metaFileName)); err != nil {
		return metadata.Object{}, fmt.Errorf("delete %s metadata: %w", key, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return metadata.Object{}, fmt.Errorf("delete %s content: %w", key, err)
	}
	s.cleanupEmptyDirs(dir)

	return *obj, nil
}

func (s *Store) bucketDir(bucket string) string {
	return filepath.Join(s.root, blobDirName, bucket)
}

func (s *Store) objectDir(key Key) (string, int) {
	shard, sum := shardPath(key.Name)
	stripe := int(sum[0]^sum[1]) % lockStripes
	return filepath.Join(s.bucketDir(key.Bucket), shard), stripe
}

func contentFileName(generation int64, compressed bool) string {
	name := contentPrefix + strconv.FormatInt(generation, 10)
	if compressed {
		name += zstdSuffix
	}
	return name
}

func (s *Store) readMeta(dir string) (*metadata.Object, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeMeta(raw)
}

func decodeMeta(raw []byte) (*metadata.Object, error) {
	var rec metadata.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	obj, err := metadata.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (s *Store) writeMeta(dir string, obj metadata.Object) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(metadata.ToRecord(obj)); err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return s.writeAtomic(filepath.Join(dir, metaFileName), buf.Bytes())
}

// readContent loads the content of generation, whichever compression it was
// written with.
func (s *Store) readContent(dir string, generation int64) ([]byte, error) {
	order := []bool{false, true}
	if s.opts.Compress {
		order = []bool{true, false}
	}

	for _, compressed := range order {
		raw, err := os.ReadFile(filepath.Join(dir, contentFileName(generation, compressed)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !compressed {
			return raw, nil
		}
		content, err := s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing content: %w", err)
		}
		return content, nil
	}
	return nil, os.ErrNotExist
}

func (s *Store) removeContent(dir string, generation int64) {
	for _, compressed := range []bool{false, true} {
		_ = os.Remove(filepath.Join(dir, contentFileName(generation, compressed)))
	}
}

// writeAtomic writes data to a temp file under the store's staging directory,
// syncs it and renames it over path.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, tempDirName), "write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(s.opts.FileMode); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	committed = true
	return nil
}

// cleanupEmptyDirs walks up from path removing empty directories until it
// reaches the blobs directory or a directory that still has entries.
func (s *Store) cleanupEmptyDirs(path string) {
	blobsDir := filepath.Join(s.root, blobDirName)
	parent := filepath.Dir(path)

	for parent != blobsDir && parent != s.root && parent != "." && parent != "/" {
		entries, err := os.ReadDir(parent)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(parent); err != nil {
			break
		}
		parent = filepath.Dir(parent)
	}
}
