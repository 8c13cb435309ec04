// Package atomicfile writes files through a temporary sibling that is
// renamed into place, so readers such as the recordings watcher never see
// a half-written file.
package atomicfile

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrCommitFailed = errors.New("atomicfile: commit failed")

// Writer buffers a file's content in <path>.tmp.<random> until Commit.
type Writer struct {
	path     string
	tempFile *os.File
	tempPath string
	done     bool
}

// New creates the parent directory if needed and opens the temporary file
// with perm.
func New(path string, perm os.FileMode) (*Writer, error) {
	if path == "" {
		return nil, errors.New("atomicfile: empty path")
	}
	clean := filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(clean), 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tempPath := clean + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &Writer{path: clean, tempFile: f, tempPath: tempPath}, nil
}

// Path returns the final path.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.tempFile.Write(p)
}

// Commit syncs the temporary file and renames it over the final path.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("%w: writer already closed", ErrCommitFailed)
	}
	w.done = true

	if err := w.tempFile.Sync(); err != nil {
		w.tempFile.Close()
		os.Remove(w.tempPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteFile replaces path with data atomically.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	w, err := New(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}
