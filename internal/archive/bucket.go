package archive

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
)

// Attributes are the object headers an archived body is stored with.
type Attributes struct {
	ContentType  string
	CacheControl string
	UserMetadata map[string]string
}

// bucket is the slice of an object store the archiver needs: whole-object
// writes and reads inside one bucket.
type bucket interface {
	Put(ctx context.Context, key string, data []byte, attrs Attributes) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// MinIOBucket binds a MinIO client to the archive bucket.
type MinIOBucket struct {
	client *minio.Client
	name   string
}

// NewMinIOBucket binds client to the bucket called name.
func NewMinIOBucket(client *minio.Client, name string) *MinIOBucket {
	return &MinIOBucket{client: client, name: name}
}

func (b *MinIOBucket) Put(ctx context.Context, key string, data []byte, attrs Attributes) error {
	_, err := b.client.PutObject(ctx, b.name, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  attrs.ContentType,
		CacheControl: attrs.CacheControl,
		UserMetadata: attrs.UserMetadata,
	})
	return err
}

// Get reads the whole object. A missing key surfaces as a minio.ErrorResponse
// with code NoSuchKey, either from GetObject or from the first read.
func (b *MinIOBucket) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
