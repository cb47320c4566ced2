package source

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/clients"
	"github.com/infortic/infortic/pkg/errors"
)

// maxBodySize bounds a fetched export.
const maxBodySize = 256 << 20

// SessionConfig configures an HTTP session.
type SessionConfig struct {
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	UserAgent string
	Headers   map[string]string
}

// HTTPSession is a scoped HTTP client handed to a callback by
// WithHTTPSession. It must not be used after the callback returns.
type HTTPSession struct {
	client  *clients.HTTPClient
	headers map[string]string
	closed  bool
}

// WithHTTPSession acquires an HTTP session, runs fn with it and releases
// the session afterwards, whether fn succeeds, fails or panics.
func WithHTTPSession(ctx context.Context, cfg SessionConfig, logger *zap.Logger, fn func(ctx context.Context, s *HTTPSession) error) error {
	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeout > 0 {
		httpCfg.RequestTimeout = cfg.Timeout
	}
	httpCfg.RateLimit = cfg.RateLimit
	httpCfg.RateBurst = cfg.RateBurst
	if cfg.UserAgent != "" {
		httpCfg.UserAgent = cfg.UserAgent
	}

	s := &HTTPSession{
		client:  clients.NewHTTPClient(httpCfg, logger),
		headers: cfg.Headers,
	}
	defer s.release()

	return fn(ctx, s)
}

// Get fetches url and returns the body of a 2xx response.
func (s *HTTPSession) Get(ctx context.Context, url string) ([]byte, error) {
	if s.closed {
		return nil, errors.New(errors.ErrorTypeInternal, "http session used after release")
	}
	req, err := s.client.NewRequest(ctx, http.MethodGet, url, nil, s.headers)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf(errors.ErrorTypeTransport, "unexpected status %d", resp.StatusCode).
			WithDetail("url", req.URL.Redacted()).
			WithDetail("status", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to read response body").
			WithDetail("url", req.URL.Redacted())
	}
	return body, nil
}

// Released reports whether the session has been released.
func (s *HTTPSession) Released() bool { return s.closed }

func (s *HTTPSession) release() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.client.Close()
}
