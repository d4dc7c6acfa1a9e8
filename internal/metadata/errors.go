package metadata

import "errors"

var (
	// ErrInvalidMetadata indicates declared metadata could not be parsed or validated.
	ErrInvalidMetadata = errors.New("invalid metadata")
	// ErrInvalidRecord signals a persisted record that cannot be decoded back into an Object.
	ErrInvalidRecord = errors.New("invalid metadata record")
)
