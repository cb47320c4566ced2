// Package deadletter persists batches that exhausted their retries so they
// can be replayed later. Files are zstd-compressed JSON lines, one entry per
// failed batch.
package deadletter

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/tables"
)

// Extension is the suffix of dead-letter files.
const Extension = ".jsonl.zst"

// maxEntrySize bounds one decoded entry line.
const maxEntrySize = 64 << 20

// Entry is one failed batch.
type Entry struct {
	RunID       string          `json:"run_id"`
	Kind        tables.Kind     `json:"kind"`
	Table       string          `json:"table"`
	ConflictKey string          `json:"conflict_key"`
	BatchIndex  int             `json:"batch_index"`
	Error       string          `json:"error"`
	FailedAt    time.Time       `json:"failed_at"`
	Records     []models.Record `json:"records"`
}

// Writer appends entries to one file per run and kind.
type Writer struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	files map[string]*file
}

type file struct {
	path string
	f    *os.File
	enc  *zstd.Encoder
	n    int
}

// NewWriter creates a writer below dir, creating it if needed.
func NewWriter(dir string, logger *zap.Logger) (*Writer, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "dead-letter directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create dead-letter directory").
			WithDetail("dir", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		dir:    dir,
		logger: logger.With(zap.String("component", "deadletter")),
		now:    time.Now,
		files:  make(map[string]*file),
	}, nil
}

// Capture records a failed batch of a run.
func (w *Writer) Capture(ctx context.Context, runID string, id tables.Identity, failure models.BatchFailure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := Entry{
		RunID:       runID,
		Kind:        id.Kind,
		Table:       id.Table,
		ConflictKey: id.ConflictKey,
		BatchIndex:  failure.Index,
		FailedAt:    w.now().UTC(),
		Records:     encodeRecords(failure.Records),
	}
	if failure.Err != nil {
		entry.Error = failure.Err.Error()
	}
	return w.Write(entry)
}

// Write appends entry and flushes it to disk.
func (w *Writer) Write(entry Entry) error {
	line, err := gojson.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode dead-letter entry")
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open(entry)
	if err != nil {
		return err
	}
	if _, err := f.enc.Write(line); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write dead-letter entry").
			WithDetail("path", f.path)
	}
	if err := f.enc.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to flush dead-letter entry").
			WithDetail("path", f.path)
	}
	f.n++

	w.logger.Warn("batch dead-lettered",
		zap.String("path", f.path),
		zap.String("table", entry.Table),
		zap.Int("batch", entry.BatchIndex),
		zap.Int("records", len(entry.Records)))
	return nil
}

// Files lists the paths written so far.
func (w *Writer) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files))
	for _, f := range w.files {
		paths = append(paths, f.path)
	}
	sort.Strings(paths)
	return paths
}

// Close finishes every open file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for name, f := range w.files {
		if err := f.enc.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish dead-letter file").
				WithDetail("path", f.path)
		}
		if err := f.f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeInternal, "failed to close dead-letter file").
				WithDetail("path", f.path)
		}
		delete(w.files, name)
	}
	return firstErr
}

func (w *Writer) open(entry Entry) (*file, error) {
	name := fileName(entry.Kind, entry.RunID)
	if f, ok := w.files[name]; ok {
		return f, nil
	}
	path := filepath.Join(w.dir, name)
	osFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open dead-letter file").
			WithDetail("path", path)
	}
	enc, err := zstd.NewWriter(osFile, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = osFile.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd encoder")
	}
	f := &file{path: path, f: osFile, enc: enc}
	w.files[name] = f
	return f, nil
}

func fileName(kind tables.Kind, runID string) string {
	if runID == "" {
		runID = "unknown"
	}
	return string(kind) + "-" + runID + Extension
}

// ReadFile decodes every entry of a dead-letter file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open dead-letter file").
			WithDetail("path", path)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to create zstd decoder").
			WithDetail("path", path)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEntrySize)

	var entries []Entry
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := gojson.Unmarshal(line, &e); err != nil {
			return entries, errors.Wrap(err, errors.ErrorTypeValidation, "failed to decode dead-letter entry").
				WithDetail("path", path).
				WithDetail("line", lineNum)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, errors.Wrap(err, errors.ErrorTypeValidation, "failed to read dead-letter file").
			WithDetail("path", path)
	}
	return entries, nil
}

// List returns the dead-letter files in dir, oldest name first.
func List(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to list dead-letter directory").
			WithDetail("dir", dir)
	}
	var paths []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), Extension) {
			continue
		}
		paths = append(paths, filepath.Join(dir, de.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// encodeRecords renders dates in the date-only layout so replayed rows
// normalise back to the same values.
func encodeRecords(records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	for i, r := range records {
		row := make(models.Record, len(r))
		for k, v := range r {
			if t, ok := v.(time.Time); ok {
				row[k] = t.Format(models.DateLayout)
				continue
			}
			row[k] = v
		}
		out[i] = row
	}
	return out
}
