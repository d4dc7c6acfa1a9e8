package upload

import "errors"

var (
	// ErrSessionNotFound signals an unknown upload id.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrSessionClosed is returned when a session cannot make the requested
	// transition because it was already finalized, cancelled or committed.
	ErrSessionClosed = errors.New("upload session is no longer pending")
	// ErrChunkOutOfOrder indicates a chunk whose offset does not continue the
	// bytes received so far.
	ErrChunkOutOfOrder = errors.New("upload chunk out of order")
	// ErrIncompleteUpload is returned when finalizing before the declared size arrived.
	ErrIncompleteUpload = errors.New("upload is incomplete")
	// ErrNotFinished is returned when committing a session that was not finalized.
	ErrNotFinished = errors.New("upload session is not finished")
	// ErrAlreadyCommitted signals a second commit of the same finished session.
	ErrAlreadyCommitted = errors.New("upload session already committed")
)
