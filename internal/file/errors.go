package file

import (
	"errors"
	"fmt"

	"github.com/abduss/storage-emulator/internal/archive"
	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/abduss/storage-emulator/internal/persistence"
	"github.com/abduss/storage-emulator/internal/upload"
)

var (
	// ErrForbidden is returned when the authorization capability denies a
	// request or fails to decide.
	ErrForbidden = errors.New("permission denied")
	// ErrNotFound signals that the object or upload session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks requests the caller got wrong.
	ErrValidation = errors.New("invalid request")
	// ErrConflict marks state transitions that already happened.
	ErrConflict = errors.New("conflict")
)

// translate maps lower-level errors onto the exported taxonomy. The original
// error stays in the chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, persistence.ErrNotFound),
		errors.Is(err, upload.ErrSessionNotFound),
		errors.Is(err, archive.ErrNotArchived):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, persistence.ErrInvalidKey),
		errors.Is(err, metadata.ErrInvalidMetadata),
		errors.Is(err, upload.ErrNotFinished),
		errors.Is(err, upload.ErrChunkOutOfOrder),
		errors.Is(err, upload.ErrIncompleteUpload):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, upload.ErrSessionClosed),
		errors.Is(err, upload.ErrAlreadyCommitted):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}
