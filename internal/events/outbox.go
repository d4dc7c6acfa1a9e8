package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const outboxTimeout = 5 * time.Second

const outboxSchema = `
CREATE TABLE IF NOT EXISTS storage_events (
    id          UUID PRIMARY KEY,
    project_id  TEXT NOT NULL,
    kind        TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    bucket      TEXT NOT NULL,
    object_name TEXT NOT NULL,
    generation  BIGINT NOT NULL,
    metadata    JSONB NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// OutboxDispatcher appends events to the storage_events table so other
// processes can consume them. *pgxpool.Pool satisfies its database dependency.
type OutboxDispatcher struct {
	db execer
}

// NewOutboxDispatcher builds an outbox writer over db.
func NewOutboxDispatcher(db execer) *OutboxDispatcher {
	return &OutboxDispatcher{db: db}
}

// EnsureSchema creates the outbox table when it does not exist.
func (d *OutboxDispatcher) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, outboxTimeout)
	defer cancel()

	if _, err := d.db.Exec(ctx, outboxSchema); err != nil {
		return fmt.Errorf("create storage_events table: %w", err)
	}
	return nil
}

// Dispatch implements Dispatcher.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, event Event) error {
	eventType, err := event.Kind.CloudEventType()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	payload, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %w", ErrDispatch, err)
	}

	ctx, cancel := context.WithTimeout(ctx, outboxTimeout)
	defer cancel()

	query := `
INSERT INTO storage_events (id, project_id, kind, event_type, bucket, object_name, generation, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	if _, err := d.db.Exec(ctx, query,
		event.ID,
		event.ProjectID,
		string(event.Kind),
		eventType,
		event.Bucket,
		event.Name,
		event.Metadata.Generation,
		payload,
		event.Time,
	); err != nil {
		return fmt.Errorf("%w: insert outbox row: %w", ErrDispatch, err)
	}
	return nil
}
