package persistence

import "errors"

var (
	// ErrNotFound signals that no object is stored under the key.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for bucket or object names that cannot be stored.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrCorruptObject indicates metadata that points at content which cannot be read back.
	ErrCorruptObject = errors.New("corrupt object")
)
