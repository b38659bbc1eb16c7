// Package promotion replaces the live prediction artifact with a backup first
// and an atomic rename second, and restores earlier artifacts on request.
package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/logger"
	"github.com/yourusername/goal-calibrator/internal/metrics"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/storage"
)

const (
	backupTimeLayout = "20060102T150405Z"
	listenerTimeout  = 10 * time.Second
)

// Event kinds passed to listeners
const (
	EventPromotion = "promotion"
	EventRollback  = "rollback"
)

// Config locates the live artifact, its backups and the lock file
type Config struct {
	LivePath      string
	BackupsDir    string
	LockFile      string
	RetainBackups int
}

// Event describes a completed change of the live artifact
type Event struct {
	Kind      string    `json:"kind"`
	AttemptID string    `json:"attempt_id"`
	BackupID  string    `json:"backup_id,omitempty"`
	Restored  string    `json:"restored,omitempty"`
	Matches   int       `json:"matches"`
	At        time.Time `json:"at"`
}

// Listener is told about every change of the live artifact. Errors are logged
// and never undo the change.
type Listener interface {
	LiveUpdated(ctx context.Context, event Event) error
}

// Result reports one promotion or rollback attempt
type Result struct {
	AttemptID   string               `json:"attempt_id"`
	Kind        string               `json:"kind"`
	State       State                `json:"state"`
	Transitions []State              `json:"transitions"`
	Backup      *models.BackupRecord `json:"backup,omitempty"`
	Restored    string               `json:"restored,omitempty"`
	Matches     int                  `json:"matches"`
	LivePath    string               `json:"live_path"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
	Pruned      []string             `json:"pruned,omitempty"`
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces the wall clock used for backup names
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBeforeRename installs a hook run between the temp write and the rename
// of the live artifact
func WithBeforeRename(hook func(tmpPath string) error) Option {
	return func(m *Manager) { m.writer.BeforeRename = hook }
}

// WithListeners registers listeners notified after the live artifact changes
func WithListeners(listeners ...Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, listeners...) }
}

// Manager owns the live artifact. Only one promotion or rollback runs at a time.
type Manager struct {
	cfg       Config
	logger    logrus.FieldLogger
	audit     *logger.AuditLogger
	writer    *storage.AtomicWriter
	listeners []Listener
	now       func() time.Time
	mu        sync.Mutex
}

// NewManager creates a promotion manager
func NewManager(cfg Config, log logrus.FieldLogger, opts ...Option) *Manager {
	if cfg.LockFile == "" {
		cfg.LockFile = cfg.LivePath + ".lock"
	}
	if cfg.BackupsDir == "" {
		cfg.BackupsDir = filepath.Dir(cfg.LivePath)
	}
	m := &Manager{
		cfg:    cfg,
		logger: log.WithField("component", "promotion"),
		audit:  logger.NewAuditLogger(log),
		writer: &storage.AtomicWriter{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LivePath returns the path of the live artifact
func (m *Manager) LivePath() string {
	return m.cfg.LivePath
}

// Live reads the current live batch. models.ErrNotFound means nothing is live yet.
func (m *Manager) Live() (models.PredictionBatch, error) {
	var batch models.PredictionBatch
	if err := storage.ReadJSON(m.cfg.LivePath, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// Promote makes the candidate file live. The live file receives the
// candidate's exact bytes.
func (m *Manager) Promote(ctx context.Context, candidatePath string) (*Result, error) {
	data, err := os.ReadFile(candidatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate: %w", err)
	}
	var batch models.PredictionBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("candidate %s: %v: %w", candidatePath, err, models.ErrInvalidBatch)
	}
	return m.install(ctx, EventPromotion, data, len(batch), "")
}

// PromoteBatch encodes batch and makes it live
func (m *Manager) PromoteBatch(ctx context.Context, batch models.PredictionBatch) (*Result, error) {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return m.install(ctx, EventPromotion, append(data, '\n'), len(batch), "")
}

// Rollback reinstalls a backup as live. The current live artifact is backed up
// first so the rollback itself can be undone.
func (m *Manager) Rollback(ctx context.Context, backupID string) (*Result, error) {
	path, err := m.backupPath(backupID)
	if err != nil {
		metrics.RecordRollback(false, m.now())
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.RecordRollback(false, m.now())
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", backupID, models.ErrBackupNotFound)
		}
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	var batch models.PredictionBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		metrics.RecordRollback(false, m.now())
		return nil, fmt.Errorf("backup %s: %v: %w", backupID, err, models.ErrInvalidBatch)
	}

	res, err := m.install(ctx, EventRollback, data, len(batch), backupID)
	metrics.RecordRollback(err == nil, m.now())
	return res, err
}

func (m *Manager) install(ctx context.Context, kind string, data []byte, matches int, restored string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	now := m.now().UTC()
	res := &Result{
		AttemptID:   uuid.New().String(),
		Kind:        kind,
		State:       StateEvaluatedAccepted,
		Transitions: []State{StateEvaluatedAccepted},
		Restored:    restored,
		Matches:     matches,
		LivePath:    m.cfg.LivePath,
	}

	reason := models.BackupReasonPromotion
	if kind == EventRollback {
		reason = models.BackupReasonRollback
	}
	backup, err := m.backupLive(now, reason)
	if err != nil {
		m.transition(res, StateBackupFailed, logrus.Fields{"error": err.Error()})
		if errors.Is(err, models.ErrBackupCollision) {
			metrics.RecordBackupCollision()
		}
		m.fail(res, kind, now, err)
		return res, err
	}
	if backup != nil {
		res.Backup = backup
		m.audit.LogBackupCreated(res.AttemptID, backup.ID, reason, backup.SizeBytes)
		m.transition(res, StateBackedUp, logrus.Fields{"backup_id": backup.ID})
	}

	if err := m.writer.Write(m.cfg.LivePath, data, 0o644); err != nil {
		m.transition(res, StateReplaceFailed, logrus.Fields{"error": err.Error()})
		m.fail(res, kind, now, err)
		return res, fmt.Errorf("failed to replace live artifact: %w", err)
	}
	res.CompletedAt = now
	m.transition(res, StatePromoted, logrus.Fields{"matches": matches})

	backupID := ""
	if backup != nil {
		backupID = backup.ID
	}
	if kind == EventRollback {
		m.audit.LogRollback(res.AttemptID, restored, backupID, now)
	} else {
		m.audit.LogPromotion(res.AttemptID, m.cfg.LivePath, backupID, matches, now)
		metrics.RecordPromotion(res.State.String(), now)
	}

	if m.cfg.RetainBackups > 0 {
		pruned, err := m.retain(m.cfg.RetainBackups)
		if err != nil {
			m.logger.WithError(err).Warn("Failed to prune old backups")
		}
		res.Pruned = pruned
	}

	m.notify(ctx, Event{
		Kind:      kind,
		AttemptID: res.AttemptID,
		BackupID:  backupID,
		Restored:  restored,
		Matches:   matches,
		At:        now,
	})
	return res, nil
}

func (m *Manager) fail(res *Result, kind string, now time.Time, err error) {
	m.audit.LogPromotionFailure(res.AttemptID, res.State.String(), err.Error())
	if kind == EventPromotion {
		metrics.RecordPromotion(res.State.String(), now)
	}
}

func (m *Manager) transition(res *Result, to State, details logrus.Fields) {
	m.audit.LogStateTransition(res.AttemptID, res.State.String(), to.String(), details)
	res.State = to
	res.Transitions = append(res.Transitions, to)
}

// acquire takes the in-process lock and then the lock file
func (m *Manager) acquire() (func(), error) {
	if !m.mu.TryLock() {
		return nil, models.ErrPromotionInProgress
	}
	fl, err := acquireFileLock(m.cfg.LockFile, m.now())
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	return func() {
		if err := fl.release(); err != nil {
			m.logger.WithError(err).Error("Failed to release promotion lock")
		}
		m.mu.Unlock()
	}, nil
}

// backupLive copies the live artifact aside. It returns nil when nothing is live.
func (m *Manager) backupLive(now time.Time, reason string) (*models.BackupRecord, error) {
	if _, err := os.Stat(m.cfg.LivePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat live artifact: %w", err)
	}

	id := m.backupPrefix() + now.Format(backupTimeLayout)
	path := filepath.Join(m.cfg.BackupsDir, id)
	size, err := storage.CopyExclusive(m.cfg.LivePath, path)
	if err != nil {
		return nil, err
	}
	return &models.BackupRecord{
		ID:        id,
		Path:      path,
		CreatedAt: now,
		SizeBytes: size,
		Reason:    reason,
	}, nil
}

func (m *Manager) backupPrefix() string {
	return filepath.Base(m.cfg.LivePath) + ".bak."
}

func (m *Manager) backupPath(id string) (string, error) {
	if id == "" || filepath.Base(id) != id || !strings.HasPrefix(id, m.backupPrefix()) {
		return "", fmt.Errorf("%q: %w", id, models.ErrBackupNotFound)
	}
	return filepath.Join(m.cfg.BackupsDir, id), nil
}

// ListBackups returns the available backups, newest first
func (m *Manager) ListBackups() ([]models.BackupRecord, error) {
	entries, err := os.ReadDir(m.cfg.BackupsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	prefix := m.backupPrefix()
	var out []models.BackupRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		created, err := time.Parse(backupTimeLayout, strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, models.BackupRecord{
			ID:        name,
			Path:      filepath.Join(m.cfg.BackupsDir, name),
			CreatedAt: created,
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Retain removes all but the newest keep backups and returns the removed ids
func (m *Manager) Retain(keep int) ([]string, error) {
	release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return m.retain(keep)
}

func (m *Manager) retain(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	backups, err := m.ListBackups()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, b := range backups[min(keep, len(backups)):] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove backup %s: %w", b.ID, err)
		}
		removed = append(removed, b.ID)
	}
	if len(removed) > 0 {
		m.logger.WithFields(logrus.Fields{
			"removed": len(removed),
			"kept":    keep,
		}).Info("Pruned old backups")
	}
	return removed, nil
}

func (m *Manager) notify(ctx context.Context, event Event) {
	if len(m.listeners) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listenerTimeout)
	defer cancel()
	for _, l := range m.listeners {
		if err := l.LiveUpdated(nctx, event); err != nil {
			m.logger.WithError(err).WithField("kind", event.Kind).Warn("Live update listener failed")
		}
	}
}
