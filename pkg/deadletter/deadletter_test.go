package deadletter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/tables"
)

func TestWriter_CaptureAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	fixed := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	id := tables.ScholarshipsIdentity()
	failure := models.BatchFailure{
		Index: 2,
		Size:  2,
		Err:   errors.New(errors.ErrorTypeRemote, "upsert beasiswa failed after 3 attempts"),
		Records: []models.Record{
			{"source_url": "https://a", "deadline_date": time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
			{"source_url": "https://b", "deadline_date": nil},
		},
	}
	require.NoError(t, w.Capture(context.Background(), "run-1", id, failure))
	require.NoError(t, w.Capture(context.Background(), "run-1", id, models.BatchFailure{Index: 3, Size: 0}))

	files := w.Files()
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "scholarships-run-1"+Extension), files[0])
	require.NoError(t, w.Close())

	entries, err := ReadFile(files[0])
	require.NoError(t, err)
	require.Len(t, entries, 2)

	e := entries[0]
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, tables.Scholarships, e.Kind)
	assert.Equal(t, "beasiswa", e.Table)
	assert.Equal(t, "source_url", e.ConflictKey)
	assert.Equal(t, 2, e.BatchIndex)
	assert.Contains(t, e.Error, "after 3 attempts")
	assert.True(t, fixed.Equal(e.FailedAt))
	require.Len(t, e.Records, 2)
	assert.Equal(t, "2025-08-01", e.Records[0]["deadline_date"])
	assert.Nil(t, e.Records[1]["deadline_date"])

	assert.Equal(t, 3, entries[1].BatchIndex)
	assert.Empty(t, entries[1].Error)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	paths, err := List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, paths)

	w, err := NewWriter(dir, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(Entry{RunID: "b", Kind: tables.Competitions}))
	require.NoError(t, w.Write(Entry{RunID: "a", Kind: tables.Competitions}))
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	paths, err = List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "competitions-a"+Extension),
		filepath.Join(dir, "competitions-b"+Extension),
	}, paths)
}

func TestReadFile_Errors(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing"+Extension))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	path := filepath.Join(t.TempDir(), "plain"+Extension)
	require.NoError(t, os.WriteFile(path, []byte("not zstd at all"), 0o600))
	_, err = ReadFile(path)
	assert.Error(t, err)
}

func TestNewWriter_EmptyDir(t *testing.T) {
	_, err := NewWriter("", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
