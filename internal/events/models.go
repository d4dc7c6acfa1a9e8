package events

import (
	"fmt"
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
)

// Kind is the mutation an event reports.
type Kind string

const (
	KindFinalized       Kind = "finalized"
	KindDeleted         Kind = "deleted"
	KindMetadataUpdated Kind = "metadataUpdated"
	KindArchived        Kind = "archived"
)

const (
	legacyTypePrefix = "google.storage.object."
	cloudTypePrefix  = "google.cloud.storage.object.v1."
	storageService   = "storage.googleapis.com"
)

var kindSuffixes = map[Kind]string{
	KindFinalized:       "finalize",
	KindDeleted:         "delete",
	KindMetadataUpdated: "metadataUpdate",
	KindArchived:        "archive",
}

// LegacyType returns the background-function event type, for example
// google.storage.object.finalize.
func (k Kind) LegacyType() (string, error) {
	suffix, ok := kindSuffixes[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return legacyTypePrefix + suffix, nil
}

// CloudEventType returns the CloudEvents type, for example
// google.cloud.storage.object.v1.finalized.
func (k Kind) CloudEventType() (string, error) {
	if _, ok := kindSuffixes[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return cloudTypePrefix + string(k), nil
}

// Event describes one object mutation within a project.
type Event struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	Kind      Kind            `json:"kind"`
	Bucket    string          `json:"bucket"`
	Name      string          `json:"name"`
	Metadata  metadata.Record `json:"metadata"`
	Time      time.Time       `json:"time"`
}

// Resource is the fully qualified object resource name.
func (e Event) Resource() string {
	return fmt.Sprintf("projects/_/buckets/%s/objects/%s", e.Bucket, e.Name)
}
