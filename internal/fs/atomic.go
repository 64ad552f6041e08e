// Package fs holds the filesystem write primitives shared by the stores.
package fs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic copies r to destPath through a temp file created in the same
// directory, then renames it into place. Parent directories are created.
// The temp file is removed on any failure. Returns the bytes written.
func WriteAtomic(destPath string, r io.Reader) (int64, error) {
	return writeAtomic(destPath, r, -1)
}

// WriteAtomicSized is WriteAtomic that refuses to rename unless exactly
// size bytes were read from r.
func WriteAtomicSized(destPath string, r io.Reader, size int64) error {
	_, err := writeAtomic(destPath, r, size)
	return err
}

func writeAtomic(destPath string, r io.Reader, expectedSize int64) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("writing data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if expectedSize >= 0 && written != expectedSize {
		return 0, fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return written, nil
}

// WriteFileAtomic is WriteAtomic for an in-memory buffer.
func WriteFileAtomic(destPath string, data []byte) error {
	_, err := WriteAtomic(destPath, bytes.NewReader(data))
	return err
}

// MoveFile renames src to dst, creating dst's directory.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving file: %w", err)
	}
	return nil
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
