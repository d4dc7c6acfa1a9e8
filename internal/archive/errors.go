package archive

import "errors"

var (
	// ErrNotArchived is returned when no noncurrent copy exists for a generation.
	ErrNotArchived = errors.New("generation not archived")
)
