// Package fs contains the filesystem-backed pieces of the updater: a thin
// FileIO abstraction over os with retry semantics for whole-file operations,
// an optional direct I/O path for block-aligned destinations, and the block
// writer that streams archive payloads into destination regions.
package fs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fwbank/swupdate"
	retry "github.com/sethvargo/go-retry"
)

// FileIO defines the whole-file filesystem operations used by the updater
// (bank configuration, PEM key, staged archives). The default implementation
// delegates to the standard library's os package with retry semantics for
// transient errors.
type FileIO interface {
	WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
	Exists(ctx context.Context, path string) bool
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
}

type defaultFileIO struct{}

// NewFileIO returns a FileIO that performs I/O via the os package with basic
// retry handling for transient errors (e.g., NFS hiccups). Directories are
// created on-demand for writes.
func NewFileIO() FileIO {
	return &defaultFileIO{}
}

// WriteFile writes data to a file, creating parent directories if needed, and
// retries on transient errors.
func (dio defaultFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(name, data, perm); err != nil {
		dirPath := filepath.Dir(name)
		// Ensure parent directories exist with sensible directory permissions.
		if derr := dio.MkdirAll(ctx, dirPath, 0o755); derr == nil {
			// Parent created (or already existed): retry write on transient errors.
			return retryIO(ctx, func(context.Context) error { return os.WriteFile(name, data, perm) })
		}
		// Parent creation failed: surface the original write error to the caller.
		return err
	}
	return nil
}

// ReadFile reads an entire file into memory with retry on transient errors.
func (dio defaultFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	var ba []byte
	err := retryIO(ctx, func(context.Context) error {
		var e error
		ba, e = os.ReadFile(name)
		return e
	})
	return ba, err
}

// Remove deletes a file with retry on transient errors.
func (dio defaultFileIO) Remove(ctx context.Context, name string) error {
	return retryIO(ctx, func(context.Context) error { return os.Remove(name) })
}

// MkdirAll creates a directory tree with retry on transient errors.
func (dio defaultFileIO) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return retryIO(ctx, func(context.Context) error { return os.MkdirAll(path, perm) })
}

// Exists returns true if the given path exists (file or directory).
func (dio defaultFileIO) Exists(ctx context.Context, path string) bool {
	// Treat any error other than os.ErrNotExist as an "exists" signal.
	// Permission or transient I/O errors should not be interpreted as missing path.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return true
	}
	return false
}

// retryIO is a package-local retry helper for filesystem operations. It
// retries retryable errors per swupdate.ShouldRetry; permanent errors are
// surfaced immediately.
func retryIO(ctx context.Context, task func(ctx context.Context) error) error {
	b := retry.NewFibonacci(1 * time.Second)
	var lastErr error
	err := retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			if swupdate.ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			lastErr = err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return lastErr
}
