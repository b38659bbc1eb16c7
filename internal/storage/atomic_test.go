package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/goal-calibrator/internal/models"
)

func TestWriteFileAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "live.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestAtomicWriterInterruptedKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.json")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	var seenTmp string
	w := &AtomicWriter{BeforeRename: func(tmp string) error {
		seenTmp = tmp
		return errors.New("power loss")
	}}
	err := w.Write(path, []byte("replacement"), 0o644)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.NoFileExists(t, seenTmp)
}

func TestReadJSONMissing(t *testing.T) {
	var v map[string]int
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"min_samples": 150}))

	var got map[string]int
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, 150, got["min_samples"])
}

func TestCopyExclusive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "live.json")
	dst := filepath.Join(dir, "backups", "live.json.bak.20260101T000000Z")
	require.NoError(t, os.WriteFile(src, []byte("[1,2,3]"), 0o644))

	n, err := CopyExclusive(src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.NoError(t, os.WriteFile(src, []byte("[4]"), 0o644))
	_, err = CopyExclusive(src, dst)
	assert.ErrorIs(t, err, models.ErrBackupCollision)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", string(data), "existing backup must never be overwritten")
}
