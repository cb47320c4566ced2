package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infortic/infortic/pkg/errors"
)

func TestHTTPClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "infortic/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "abc", r.Header.Get("apikey"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewHTTPClient(nil, zaptest.NewLogger(t))
	defer client.Close()

	req, err := client.NewRequest(context.Background(), http.MethodGet, server.URL, nil, map[string]string{"apikey": "abc"})
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestHTTPClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewHTTPClient(nil, nil)
	req, err := client.NewRequest(context.Background(), http.MethodGet, url, nil, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestHTTPClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 20
	cfg.RateBurst = 1
	client := NewHTTPClient(cfg, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		req, err := client.NewRequest(context.Background(), http.MethodGet, server.URL, nil, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	// burst of one: the second and third requests wait 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestHTTPClient_RateLimitCancelled(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0.001
	client := NewHTTPClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	// consume the single token
	req, err := client.NewRequest(ctx, http.MethodGet, "http://127.0.0.1:1", nil, nil)
	require.NoError(t, err)
	_, _ = client.Do(req)

	req, err = client.NewRequest(ctx, http.MethodGet, "http://127.0.0.1:1", nil, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}
