// Package archive keeps noncurrent object generations in a MinIO bucket.
//
// Each archived generation is stored as two objects: the content under
// "<bucket>/<name>#<generation>" and its metadata record next to it with a
// ".metadata.json" suffix.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/minio/minio-go/v7"
)

const (
	archiveTimeout  = 30 * time.Second
	metadataSuffix  = ".metadata.json"
	recordMediaType = "application/json"
)

// MinIOArchiver writes replaced and deleted generations to a MinIO bucket.
type MinIOArchiver struct {
	bucket bucket
}

// NewMinIOArchiver archives into b.
func NewMinIOArchiver(b bucket) *MinIOArchiver {
	return &MinIOArchiver{bucket: b}
}

// ObjectKey returns the archive key for one generation of an object.
func ObjectKey(bucket, name string, generation int64) string {
	return fmt.Sprintf("%s/%s#%d", bucket, name, generation)
}

// Archive stores obj and its content as a noncurrent generation.
func (a *MinIOArchiver) Archive(ctx context.Context, obj metadata.Object, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	key := ObjectKey(obj.Bucket, obj.Name, obj.Generation)
	err := a.bucket.Put(ctx, key, content, Attributes{
		ContentType:  obj.ContentType,
		CacheControl: obj.CacheControl,
		UserMetadata: map[string]string{
			"generation":     strconv.FormatInt(obj.Generation, 10),
			"metageneration": strconv.FormatInt(obj.Metageneration, 10),
			"md5-hash":       obj.MD5Hash,
			"crc32c":         obj.CRC32C,
		},
	})
	if err != nil {
		return fmt.Errorf("archive content %s: %w", key, err)
	}

	record, err := json.Marshal(metadata.ToRecord(obj))
	if err != nil {
		return fmt.Errorf("encode archived metadata %s: %w", key, err)
	}
	err = a.bucket.Put(ctx, key+metadataSuffix, record, Attributes{ContentType: recordMediaType})
	if err != nil {
		return fmt.Errorf("archive metadata %s: %w", key, err)
	}
	return nil
}

// Fetch loads an archived generation.
func (a *MinIOArchiver) Fetch(ctx context.Context, bucket, name string, generation int64) (metadata.Object, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	key := ObjectKey(bucket, name, generation)

	raw, err := a.get(ctx, key+metadataSuffix)
	if err != nil {
		return metadata.Object{}, nil, err
	}
	var rec metadata.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return metadata.Object{}, nil, fmt.Errorf("decode archived metadata %s: %w", key, err)
	}
	obj, err := metadata.FromRecord(rec)
	if err != nil {
		return metadata.Object{}, nil, fmt.Errorf("decode archived metadata %s: %w", key, err)
	}

	content, err := a.get(ctx, key)
	if err != nil {
		return metadata.Object{}, nil, err
	}
	return obj, content, nil
}

func (a *MinIOArchiver) get(ctx context.Context, key string) ([]byte, error) {
	data, err := a.bucket.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil, fmt.Errorf("%s: %w", key, ErrNotArchived)
	}
	return nil, fmt.Errorf("read archive %s: %w", key, err)
}
