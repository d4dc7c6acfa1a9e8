// Package storage connects to the external systems the emulator can use and
// checks them, together with the local persistence root, for readiness.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Check tests one dependency.
type Check func(ctx context.Context) error

// DiskCheck verifies that root exists and accepts writes.
func DiskCheck(root string) Check {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}

		scratch, err := os.CreateTemp(filepath.Join(root, ".tmp"), "ready-*")
		if err != nil {
			return fmt.Errorf("write scratch file: %w", err)
		}
		name := scratch.Name()
		_ = scratch.Close()
		return os.Remove(name)
	}
}
