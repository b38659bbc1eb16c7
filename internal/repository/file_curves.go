package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/yourusername/goal-calibrator/internal/calibration"
	"github.com/yourusername/goal-calibrator/internal/storage"
)

const (
	curvesFile   = "curves.json"
	manifestFile = "manifest.json"
)

// FileCurveRepository stores the curve set and its manifest as JSON files in a directory
type FileCurveRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewFileCurveRepository creates a file-backed curve repository
func NewFileCurveRepository(dir string) *FileCurveRepository {
	return &FileCurveRepository{dir: dir}
}

// ReplaceAll writes the manifest first and the curves last, so a reader that
// sees new curves always finds a matching manifest
func (r *FileCurveRepository) ReplaceAll(ctx context.Context, set *calibration.CurveSet, manifest *calibration.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if manifest == nil {
		manifest = calibration.NewManifest(set, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := storage.WriteJSONAtomic(filepath.Join(r.dir, manifestFile), manifest); err != nil {
		return fmt.Errorf("failed to write curve manifest: %w", err)
	}
	if err := storage.WriteJSONAtomic(filepath.Join(r.dir, curvesFile), set); err != nil {
		return fmt.Errorf("failed to write curves: %w", err)
	}
	return nil
}

// Load reads the stored set
func (r *FileCurveRepository) Load(ctx context.Context) (*calibration.CurveSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var set calibration.CurveSet
	if err := storage.ReadJSON(filepath.Join(r.dir, curvesFile), &set); err != nil {
		return nil, err
	}
	set.Reindex()
	return &set, nil
}

// Manifest reads the stored manifest
func (r *FileCurveRepository) Manifest(ctx context.Context) (*calibration.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m calibration.Manifest
	if err := storage.ReadJSON(filepath.Join(r.dir, manifestFile), &m); err != nil {
		return nil, err
	}
	return &m, nil
}
