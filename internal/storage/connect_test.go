package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abduss/storage-emulator/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		useSSL   bool
		endpoint string
		secure   bool
	}{
		{raw: "minio", endpoint: "minio:9000"},
		{raw: "minio:9100", endpoint: "minio:9100"},
		{raw: "minio:9100", useSSL: true, endpoint: "minio:9100", secure: true},
		{raw: "http://minio:9000", useSSL: true, endpoint: "minio:9000"},
		{raw: "https://archive.example.com", endpoint: "archive.example.com:9000", secure: true},
	}
	for _, tc := range cases {
		endpoint, secure, err := archiveEndpoint(tc.raw, tc.useSSL)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.endpoint, endpoint, tc.raw)
		assert.Equal(t, tc.secure, secure, tc.raw)
	}

	for _, raw := range []string{"", "ftp://minio", "http://"} {
		_, _, err := archiveEndpoint(raw, false)
		assert.Error(t, err, raw)
	}
}

func TestNewArchiveClient(t *testing.T) {
	client, err := NewArchiveClient(config.MinIOConfig{
		Endpoint:        "https://archive.local:9443",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "archive.local:9443", client.EndpointURL().Host)
	assert.Equal(t, "https", client.EndpointURL().Scheme)
}

func TestOutboxPoolConfig(t *testing.T) {
	poolCfg, err := outboxPoolConfig(config.PostgresConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Database: "events", SSLMode: "disable", MaxConns: 2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, poolCfg.MaxConns)
	assert.Equal(t, 5*time.Minute, poolCfg.MaxConnIdleTime)
	assert.Equal(t, outboxAppName, poolCfg.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "events", poolCfg.ConnConfig.Database)
}

type fakeRow struct {
	exists bool
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.exists
	return nil
}

type fakeQuerier struct {
	row fakeRow
	sql string
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.sql = sql
	return q.row
}

func TestOutboxCheck(t *testing.T) {
	db := &fakeQuerier{row: fakeRow{exists: true}}
	assert.NoError(t, outboxCheck(db)(context.Background()))
	assert.Equal(t, outboxTableQuery, db.sql)

	db.row = fakeRow{exists: false}
	assert.ErrorContains(t, outboxCheck(db)(context.Background()), "storage_events")

	db.row = fakeRow{err: errors.New("connection reset")}
	assert.ErrorContains(t, outboxCheck(db)(context.Background()), "connection reset")
}
