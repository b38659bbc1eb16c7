package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/storage"
)

// FileHistoryRepository keeps the history table as one JSON array on disk
type FileHistoryRepository struct {
	path string
	mu   sync.Mutex
}

// NewFileHistoryRepository creates a file-backed history repository
func NewFileHistoryRepository(path string) *FileHistoryRepository {
	return &FileHistoryRepository{path: path}
}

func (r *FileHistoryRepository) load() ([]models.HistoricalOutcomeRecord, error) {
	var records []models.HistoricalOutcomeRecord
	if err := storage.ReadJSON(r.path, &records); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// ReplaceRange rewrites the file with the range swapped out
func (r *FileHistoryRepository) ReplaceRange(ctx context.Context, from, to time.Time, records []models.HistoricalOutcomeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.load()
	if err != nil {
		return err
	}

	start, end := dayRange(from, to)
	kept := make([]models.HistoricalOutcomeRecord, 0, len(existing)+len(records))
	for _, rec := range existing {
		if !inRange(rec.Date, start, end) {
			kept = append(kept, rec)
		}
	}
	kept = append(kept, records...)
	sortRecords(kept)

	if err := storage.WriteJSONAtomic(r.path, kept); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// List returns records dated within [from, to]. Zero bounds mean unbounded.
func (r *FileHistoryRepository) List(ctx context.Context, from, to time.Time) ([]models.HistoricalOutcomeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return nil, err
	}
	if from.IsZero() && to.IsZero() {
		return records, nil
	}
	start, end := openRange(from, to)
	out := make([]models.HistoricalOutcomeRecord, 0, len(records))
	for _, rec := range records {
		if inRange(rec.Date, start, end) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns the number of stored records
func (r *FileHistoryRepository) Count(ctx context.Context) (int, error) {
	records, err := r.List(ctx, time.Time{}, time.Time{})
	return len(records), err
}

func sortRecords(records []models.HistoricalOutcomeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.LeagueID != b.LeagueID {
			return a.LeagueID < b.LeagueID
		}
		return a.MatchID < b.MatchID
	})
}

// openRange is dayRange with zero bounds widened to cover all time
func openRange(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Date(9999, 12, 30, 0, 0, 0, 0, time.UTC)
	}
	return dayRange(from, to)
}
