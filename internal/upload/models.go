package upload

import (
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// Type distinguishes single-shot uploads from resumable ones.
type Type string

const (
	TypeMultipart Type = "multipart"
	TypeResumable Type = "resumable"
)

// Upload is a snapshot of an upload session. Accumulated content stays inside
// the Service; Size reports how many bytes were received.
type Upload struct {
	ID           string
	Bucket       string
	Name         string
	Type         Type
	Status       Status
	MetadataRaw  []byte
	Declared     metadata.Declared
	Size         int64
	ExpectedSize int64 // -1 when the uploader did not announce a total size
	CreatedAt    time.Time
}

// InitiateOptions carries optional parameters of a resumable upload.
type InitiateOptions struct {
	// ExpectedSize is the announced total content length; negative means unknown.
	ExpectedSize int64
}
