package persistence

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListOptions narrows a listing.
type ListOptions struct {
	Prefix     string // Only names starting with Prefix
	StartAfter string // Resume after this name, exclusive
}

// ListResult iterates over the keys of a bucket in lexicographic name order.
// Nothing is read from disk until the first call to Next.
//
//	iter := store.List(ctx, "bucket", ListOptions{Prefix: "dir/"})
//	defer iter.Close()
//	for iter.Next() {
//		key := iter.Key()
//	}
//	if err := iter.Err(); err != nil {
//		// handle error
//	}
type ListResult struct {
	ctx    context.Context
	store  *Store
	bucket string
	opts   ListOptions

	loaded  bool
	names   []string
	pos     int
	current Key
	err     error
	closed  bool
}

// List returns an iterator over keys in bucket matching opts. A listing can be
// resumed later by passing the last returned name as StartAfter.
func (s *Store) List(ctx context.Context, bucket string, opts ListOptions) *ListResult {
	return &ListResult{
		ctx:    ctx,
		store:  s,
		bucket: bucket,
		opts:   opts,
	}
}

// Next advances to the next key. It returns false when the listing is
// exhausted, closed or failed.
func (r *ListResult) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return false
	}

	if !r.loaded {
		r.loaded = true
		names, err := r.store.scanBucket(r.ctx, r.bucket, r.opts)
		if err != nil {
			r.err = err
			return false
		}
		r.names = names
	}

	if r.pos >= len(r.names) {
		return false
	}
	r.current = Key{Bucket: r.bucket, Name: r.names[r.pos]}
	r.pos++
	return true
}

// Key returns the current key. Only valid after Next returns true.
func (r *ListResult) Key() Key {
	return r.current
}

// Err returns the error that stopped the iteration, if any.
func (r *ListResult) Err() error {
	return r.err
}

// Close stops the iteration. It is safe to call multiple times.
func (r *ListResult) Close() error {
	r.closed = true
	r.names = nil
	return nil
}

// scanBucket collects the names stored in bucket that match opts, sorted.
func (s *Store) scanBucket(ctx context.Context, bucket string, opts ListOptions) ([]string, error) {
	if err := validateBucket(bucket); err != nil {
		return nil, err
	}

	var names []string
	err := filepath.WalkDir(s.bucketDir(bucket), func(path string, d fs.DirEntry, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			// Directories vanish under concurrent deletes.
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != metaFileName {
			return nil
		}

		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		obj, err := decodeMeta(raw)
		if err != nil {
			return err
		}

		if !strings.HasPrefix(obj.Name, opts.Prefix) {
			return nil
		}
		if opts.StartAfter != "" && obj.Name <= opts.StartAfter {
			return nil
		}
		names = append(names, obj.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}
