// Package storage provides durable, atomically replaceable file artifacts.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// AtomicWriter replaces files by writing a temp file in the target directory
// and renaming it over the target. Readers see either the old or the new
// content, never a partial write.
type AtomicWriter struct {
	// BeforeRename runs after the temp file is synced and before the rename.
	// A non-nil error aborts the write and removes the temp file.
	BeforeRename func(tmpPath string) error
}

// Write atomically replaces path with data
func (w *AtomicWriter) Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if w != nil && w.BeforeRename != nil {
		if err := w.BeforeRename(tmpPath); err != nil {
			return fmt.Errorf("write interrupted before rename: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	committed = true

	return SyncDir(dir)
}

// WriteFileAtomic replaces path with data using a default writer
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return (&AtomicWriter{}).Write(path, data, perm)
}

// WriteJSONAtomic encodes v as indented JSON and replaces path with it
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// ReadJSON decodes the file at path into v. A missing file yields models.ErrNotFound.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, models.ErrNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// SyncDir flushes directory metadata so a completed rename survives a crash
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}

// CopyExclusive copies src to dst, failing with models.ErrBackupCollision if
// dst already exists. dst is synced before returning.
func CopyExclusive(src, dst string) (int64, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%s: %w", filepath.Base(dst), models.ErrBackupCollision)
		}
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	n, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("failed to write %s: %w", dst, werr)
	}
	return int64(n), SyncDir(filepath.Dir(dst))
}
