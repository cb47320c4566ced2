// Package postgrest implements the remote store over the Supabase
// PostgREST HTTP API.
package postgrest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/clients"
	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Store talks to /rest/v1 of a Supabase project.
type Store struct {
	baseURL string
	apiKey  string
	schema  string
	client  *clients.HTTPClient
	logger  *zap.Logger
}

// apiError is the PostgREST error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// New creates a PostgREST store.
func New(cfg config.PostgRESTConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store.rest.url must be an absolute URL").
			WithDetail("url", cfg.URL)
	}
	if cfg.APIKey == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store.rest.api_key is required")
	}

	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeout > 0 {
		httpCfg.RequestTimeout = cfg.Timeout
	}
	httpCfg.RateLimit = cfg.RateLimitPerSec
	httpCfg.RateBurst = cfg.RateBurst

	return &Store{
		baseURL: u.String() + "/rest/v1",
		apiKey:  cfg.APIKey,
		schema:  cfg.Schema,
		client:  clients.NewHTTPClient(httpCfg, logger),
		logger:  logger.With(zap.String("component", "postgrest")),
	}, nil
}

// Upsert implements store.Upserter with
// POST /rest/v1/{table}?on_conflict={key} and merge-duplicates resolution.
func (s *Store) Upsert(ctx context.Context, table string, rows []models.Record, conflictKey string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(encodeRows(rows))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeValidation, "failed to encode rows").
			WithDetail("table", table)
	}

	endpoint := s.baseURL + "/" + url.PathEscape(table) + "?on_conflict=" + url.QueryEscape(conflictKey)
	resp, err := s.do(ctx, http.MethodPost, endpoint, body, map[string]string{
		"Prefer": "resolution=merge-duplicates,return=representation",
	})
	if err != nil {
		return 0, err
	}

	var written []json.RawMessage
	if err := json.Unmarshal(resp, &written); err != nil {
		if e := envelopeError(resp); e != nil {
			return 0, e.WithDetail("table", table)
		}
		return 0, errors.Wrap(err, errors.ErrorTypeLogical, "unexpected upsert response").
			WithDetail("table", table)
	}
	return len(written), nil
}

// CallProcedure implements store.ProcedureCaller with POST /rest/v1/rpc/{name}.
// An error envelope in a successful response is reported as a logical error.
func (s *Store) CallProcedure(ctx context.Context, name string) error {
	endpoint := s.baseURL + "/rpc/" + url.PathEscape(name)
	resp, err := s.do(ctx, http.MethodPost, endpoint, []byte("{}"), nil)
	if err != nil {
		return err
	}
	if e := envelopeError(resp); e != nil {
		return e.WithDetail("procedure", name)
	}
	return nil
}

// Count implements store.Counter with an exact count read from the
// Content-Range header.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	endpoint := s.baseURL + "/" + url.PathEscape(table) + "?select=*"
	req, err := s.newRequest(ctx, http.MethodHead, endpoint, nil, map[string]string{
		"Prefer": "count=exact",
	})
	if err != nil {
		return 0, err
	}
	httpResp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode/100 != 2 {
		return 0, statusError(httpResp.StatusCode, nil).WithDetail("table", table)
	}
	n, rangeErr := parseContentRange(httpResp.Header.Get("Content-Range"))
	if rangeErr != nil {
		return 0, rangeErr.WithDetail("table", table)
	}
	return n, nil
}

// Close releases idle connections.
func (s *Store) Close() {
	_ = s.client.Close()
}

func (s *Store) newRequest(ctx context.Context, method, endpoint string, body []byte, headers map[string]string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	h := map[string]string{
		"apikey":        s.apiKey,
		"Authorization": "Bearer " + s.apiKey,
		"Accept":        "application/json",
	}
	if body != nil {
		h["Content-Type"] = "application/json"
	}
	if s.schema != "" {
		h["Accept-Profile"] = s.schema
		h["Content-Profile"] = s.schema
	}
	for k, v := range headers {
		h[k] = v
	}
	return s.client.NewRequest(ctx, method, endpoint, r, h)
}

// do performs the request and returns the body of a 2xx response.
func (s *Store) do(ctx context.Context, method, endpoint string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := s.newRequest(ctx, method, endpoint, body, headers)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to read response body")
	}
	if resp.StatusCode/100 != 2 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, statusError(resp.StatusCode, data)
	}
	s.logger.Debug("postgrest call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}

// statusError converts a non-2xx response into a logical error carrying
// the PostgREST envelope fields when present.
func statusError(status int, body []byte) *errors.Error {
	var env apiError
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && env.Message != "" {
		return errors.Newf(errors.ErrorTypeLogical, "%s", env.Message).
			WithDetail("status", status).
			WithDetail("code", env.Code).
			WithDetail("details", env.Details).
			WithDetail("hint", env.Hint)
	}
	e := errors.Newf(errors.ErrorTypeLogical, "unexpected status %d", status).
		WithDetail("status", status)
	if len(body) > 0 {
		e = e.WithDetail("body", string(body))
	}
	return e
}

// envelopeError reports an error envelope returned with a 2xx status.
func envelopeError(body []byte) *errors.Error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env map[string]json.RawMessage
	if json.Unmarshal(trimmed, &env) != nil {
		return nil
	}
	_, hasCode := env["code"]
	rawMsg, hasMessage := env["message"]
	if !hasCode || !hasMessage {
		if rawErr, ok := env["error"]; ok && string(rawErr) != "null" {
			return errors.Newf(errors.ErrorTypeLogical, "remote call reported an error: %s", string(rawErr))
		}
		return nil
	}
	var msg string
	_ = json.Unmarshal(rawMsg, &msg)
	var code string
	_ = json.Unmarshal(env["code"], &code)
	return errors.Newf(errors.ErrorTypeLogical, "remote call reported an error: %s", msg).
		WithDetail("code", code)
}

// parseContentRange extracts the total from "0-9/120" or "*/0".
func parseContentRange(h string) (int64, *errors.Error) {
	slash := strings.LastIndex(h, "/")
	if slash < 0 || slash == len(h)-1 {
		return 0, errors.New(errors.ErrorTypeLogical, "missing count in Content-Range").
			WithDetail("content_range", h)
	}
	total := h[slash+1:]
	if total == "*" {
		return 0, errors.New(errors.ErrorTypeLogical, "store did not return an exact count").
			WithDetail("content_range", h)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeLogical, fmt.Sprintf("invalid Content-Range %q", h))
	}
	return n, nil
}

// encodeRows renders date values in the date-only wire format.
func encodeRows(rows []models.Record) []models.Record {
	out := make([]models.Record, len(rows))
	for i, r := range rows {
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
