package events

import "errors"

var (
	// ErrDispatch wraps failures reported by a dispatch target.
	ErrDispatch = errors.New("event dispatch failed")
	// ErrUnknownKind is returned for an event kind with no type mapping.
	ErrUnknownKind = errors.New("unknown event kind")
)
