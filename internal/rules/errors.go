package rules

import "errors"

var (
	// ErrUnknownMode is returned by FromMode for an unrecognized validator mode.
	ErrUnknownMode = errors.New("unknown rules mode")
	// ErrEvaluation wraps failures of a remote rules runtime.
	ErrEvaluation = errors.New("rules evaluation failed")
)
