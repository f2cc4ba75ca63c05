// Package filestore is a filesystem-backed store.Factory: one directory
// per run, one file per (section, key) pair, grounded on the teacher's
// keyed-document file layout.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lightflow-run/lightflow/internal/store"
)

// ErrAlreadyExists is returned by Create when runID's directory already exists.
var ErrAlreadyExists = errors.New("filestore: run already exists")

// ErrInvalidID is returned for a runID that cannot be safely mapped to a
// filesystem path (empty, or escaping the base directory).
var ErrInvalidID = errors.New("filestore: invalid run id")

// Factory is a filesystem-backed store.Factory rooted at baseDir.
type Factory struct {
	baseDir string
}

var _ store.Factory = (*Factory)(nil)

// New builds a Factory rooted at baseDir. baseDir is created on demand.
func New(baseDir string) *Factory {
	return &Factory{baseDir: baseDir}
}

func (f *Factory) runDir(runID string) (string, error) {
	if runID == "" || strings.Contains(runID, "..") || strings.ContainsAny(runID, "/\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, runID)
	}
	return filepath.Join(f.baseDir, runID), nil
}

// Create implements store.Factory.
func (f *Factory) Create(_ context.Context, runID string) (store.Handle, error) {
	dir, err := f.runDir(runID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err == nil {
		return nil, ErrAlreadyExists
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create run dir: %w", err)
	}
	return &Handle{dir: dir}, nil
}

// Open implements store.Factory.
func (f *Factory) Open(_ context.Context, runID string) (store.Handle, error) {
	dir, err := f.runDir(runID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	return &Handle{dir: dir}, nil
}

// Remove implements store.Factory.
func (f *Factory) Remove(_ context.Context, runID string) error {
	dir, err := f.runDir(runID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Handle is the filesystem-backed store.Handle implementation.
type Handle struct {
	dir string
}

var _ store.Handle = (*Handle)(nil)

func (h *Handle) keyPath(section store.Section, key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: key %q", ErrInvalidID, key)
	}
	sectionDir := filepath.Join(h.dir, filepath.FromSlash(string(section)))
	return filepath.Join(sectionDir, key), nil
}

// Get implements store.Handle.
func (h *Handle) Get(_ context.Context, section store.Section, key string) ([]byte, error) {
	path, err := h.keyPath(section, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, section, key)
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s/%s: %w", section, key, err)
	}
	return data, nil
}

// Set implements store.Handle.
func (h *Handle) Set(_ context.Context, section store.Section, key string, value []byte) error {
	path, err := h.keyPath(section, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir: %w", err)
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return fmt.Errorf("filestore: write %s/%s: %w", section, key, err)
	}
	return nil
}

// Push implements store.Handle by appending a newline-delimited record.
func (h *Handle) Push(_ context.Context, section store.Section, key string, value []byte) error {
	path, err := h.keyPath(section, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open %s/%s: %w", section, key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("filestore: stat %s/%s: %w", section, key, err)
	}
	if info.Size() > 0 {
		if _, err := f.Write([]byte("\n")); err != nil {
			return fmt.Errorf("filestore: append newline: %w", err)
		}
	}
	if _, err := f.Write(value); err != nil {
		return fmt.Errorf("filestore: append %s/%s: %w", section, key, err)
	}
	return nil
}

// Exists implements store.Handle.
func (h *Handle) Exists(_ context.Context, section store.Section, key string) (bool, error) {
	path, err := h.keyPath(section, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("filestore: stat %s/%s: %w", section, key, err)
	}
	return true, nil
}

// Delete implements store.Handle.
func (h *Handle) Delete(_ context.Context, section store.Section, key string) error {
	path, err := h.keyPath(section, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: delete %s/%s: %w", section, key, err)
	}
	return nil
}
