package source

import (
	"bytes"
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// URLSource fetches a JSON, JSON lines or CSV export over HTTP.
type URLSource struct {
	url     string
	format  Format
	session SessionConfig
	logger  *zap.Logger
	skipped int
}

// NewURLSource creates an HTTP producer.
func NewURLSource(rawURL string, format Format, session SessionConfig, logger *zap.Logger) (*URLSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "source url must be an absolute http(s) URL").
			WithDetail("url", rawURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if format == FormatAuto {
		format = formatFromName(u.Path)
	}
	return &URLSource{
		url:     rawURL,
		format:  format,
		session: session,
		logger:  logger.With(zap.String("source", u.Redacted())),
	}, nil
}

// Name implements Producer.
func (s *URLSource) Name() string { return "url:" + s.url }

// Records implements Producer.
func (s *URLSource) Records(ctx context.Context) ([]models.Record, error) {
	var records []models.Record
	err := WithHTTPSession(ctx, s.session, s.logger, func(ctx context.Context, session *HTTPSession) error {
		body, err := session.Get(ctx, s.url)
		if err != nil {
			return err
		}
		d := &decoder{format: s.format, logger: s.logger}
		records, err = d.decode(bytes.NewReader(body))
		s.skipped = d.skipped
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("records fetched",
		zap.Int("records", len(records)),
		zap.Int("skipped", s.skipped))
	return records, nil
}

// Skipped is the number of malformed items dropped by the last fetch.
func (s *URLSource) Skipped() int { return s.skipped }
