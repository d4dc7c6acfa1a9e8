package storage

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/abduss/storage-emulator/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	archiveSetupTimeout = 5 * time.Second
	defaultMinIOPort    = "9000"
)

// NewArchiveClient connects to the MinIO server that keeps noncurrent
// generations. The endpoint may be given as host, host:port or a URL; an
// https URL turns on TLS.
func NewArchiveClient(cfg config.MinIOConfig) (*minio.Client, error) {
	endpoint, secure, err := archiveEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	return client, nil
}

func archiveEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("archive endpoint is empty")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return "", false, fmt.Errorf("archive endpoint %q is not a valid URL", raw)
		}
		switch u.Scheme {
		case "https":
			useSSL = true
		case "http":
			useSSL = false
		default:
			return "", false, fmt.Errorf("archive endpoint %q: unsupported scheme %q", raw, u.Scheme)
		}
		raw = u.Host
	}

	if _, _, err := net.SplitHostPort(raw); err != nil {
		raw = net.JoinHostPort(raw, defaultMinIOPort)
	}
	return raw, useSSL, nil
}

// EnsureArchiveBucket creates the archive bucket on first start.
func EnsureArchiveBucket(ctx context.Context, client *minio.Client, cfg config.MinIOConfig) error {
	ctx, cancel := context.WithTimeout(ctx, archiveSetupTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket %q: %w", cfg.Bucket, err)
	}
	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("create archive bucket %q: %w", cfg.Bucket, err)
	}
	return nil
}

// ArchiveCheck reports whether the archive bucket is reachable.
func ArchiveCheck(client *minio.Client, bucket string) Check {
	return func(ctx context.Context) error {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("reach archive bucket: %w", err)
		}
		if !exists {
			return fmt.Errorf("archive bucket %q does not exist", bucket)
		}
		return nil
	}
}
