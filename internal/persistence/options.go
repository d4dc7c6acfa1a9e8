package persistence

import (
	"os"
	"time"
)

// Options configures a Store.
type Options struct {
	FileMode os.FileMode      // Permission bits for content and metadata files
	DirMode  os.FileMode      // Permission bits for directories
	Compress bool             // Store content zstd-compressed
	Now      func() time.Time // Clock used for generations and update timestamps
}

// OptionFunc is a functional option for configuring a Store.
type OptionFunc func(opts *Options)

// WithFileMode sets the permission mode for files written by the store.
func WithFileMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.FileMode = mode
	}
}

// WithDirMode sets the permission mode for directories created by the store.
func WithDirMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.DirMode = mode
	}
}

// WithCompression toggles zstd compression of content files. Objects written
// with either setting stay readable when the setting changes.
func WithCompression(enabled bool) OptionFunc {
	return func(opts *Options) {
		opts.Compress = enabled
	}
}

// WithClock overrides the clock, mostly for tests.
func WithClock(now func() time.Time) OptionFunc {
	return func(opts *Options) {
		opts.Now = now
	}
}

func defaultOptions() *Options {
	return &Options{
		FileMode: 0o644,
		DirMode:  0o755,
		Now:      time.Now,
	}
}
