package source

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// FileSource reads records from a local JSON, JSON lines or CSV export.
type FileSource struct {
	path    string
	format  Format
	logger  *zap.Logger
	skipped int
}

// NewFileSource creates a file producer. FormatAuto infers the format from
// the file extension and content.
func NewFileSource(path string, format Format, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if format == FormatAuto {
		format = formatFromName(path)
	}
	return &FileSource{
		path:   path,
		format: format,
		logger: logger.With(zap.String("source", filepath.Base(path))),
	}
}

// Name implements Producer.
func (s *FileSource) Name() string { return "file:" + s.path }

// Records implements Producer.
func (s *FileSource) Records(ctx context.Context) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open input file").
			WithDetail("path", s.path)
	}
	defer f.Close()

	d := &decoder{format: s.format, logger: s.logger}
	records, err := d.decode(f)
	s.skipped = d.skipped
	if err != nil {
		return nil, err
	}

	s.logger.Info("records read",
		zap.Int("records", len(records)),
		zap.Int("skipped", d.skipped))
	return records, nil
}

// Skipped is the number of malformed items dropped by the last read.
func (s *FileSource) Skipped() int { return s.skipped }
