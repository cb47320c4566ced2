package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

var (
	_ Producer = (*Static)(nil)
	_ Producer = (*FileSource)(nil)
	_ Producer = (*URLSource)(nil)
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatAuto},
		{"auto", FormatAuto},
		{"JSON", FormatJSON},
		{"ndjson", FormatJSONLines},
		{"csv", FormatCSV},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFormat("xml")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestFileSource_JSONArray(t *testing.T) {
	path := writeFile(t, "lomba.json", `[
		{"title": "Lomba A", "registration_url": "https://a", "fee": 50000, "tags": ["x"]},
		"not an object",
		{"title": "Lomba B", "registration_url": null}
	]`)

	src := NewFileSource(path, FormatAuto, zaptest.NewLogger(t))
	records, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Lomba A", records[0]["title"])
	assert.Equal(t, "50000", records[0]["fee"])
	assert.Equal(t, `["x"]`, records[0]["tags"])
	assert.Nil(t, records[1]["registration_url"])
	assert.Equal(t, 1, src.Skipped())
}

func TestFileSource_JSONLines(t *testing.T) {
	path := writeFile(t, "beasiswa.jsonl", strings.Join([]string{
		`{"title": "A", "source_url": "https://a"}`,
		``,
		`{broken`,
		`{"title": "B", "source_url": "https://b"}`,
	}, "\n"))

	src := NewFileSource(path, FormatAuto, zaptest.NewLogger(t))
	records, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0]["title"])
	assert.Equal(t, "B", records[1]["title"])
	assert.Equal(t, 1, src.Skipped())
}

func TestFileSource_SniffsJSONLinesInJSONFile(t *testing.T) {
	path := writeFile(t, "magang.json", "\n  {\"title\": \"A\"}\n{\"title\": \"B\"}\n")

	records, err := NewFileSource(path, FormatAuto, nil).Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFileSource_CSV(t *testing.T) {
	path := writeFile(t, "magang.csv", "title,company,source_url\n"+
		"Intern A,Acme,https://a\n"+
		"Intern B,Acme\n"+
		"\"Intern, C\",Beta,https://c\n")

	src := NewFileSource(path, FormatAuto, zaptest.NewLogger(t))
	records, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.Record{"title": "Intern A", "company": "Acme", "source_url": "https://a"}, records[0])
	assert.Equal(t, "Intern, C", records[1]["title"])
	assert.Equal(t, 1, src.Skipped())
}

func TestFileSource_Errors(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.json"), FormatAuto, nil).
		Records(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	path := writeFile(t, "bad.json", `[{"title": "A"}, {"title": `)
	_, err = NewFileSource(path, FormatJSON, nil).Records(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	path = writeFile(t, "scalar.json", `42`)
	_, err = NewFileSource(path, FormatJSON, nil).Records(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestFileSource_Empty(t *testing.T) {
	path := writeFile(t, "empty.json", "")
	records, err := NewFileSource(path, FormatAuto, nil).Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWithHTTPSession_ReleasesOnError(t *testing.T) {
	var session *HTTPSession
	boom := errors.New(errors.ErrorTypeInternal, "boom")

	err := WithHTTPSession(context.Background(), SessionConfig{}, nil, func(ctx context.Context, s *HTTPSession) error {
		session = s
		assert.False(t, s.Released())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, session)
	assert.True(t, session.Released())

	_, err = session.Get(context.Background(), "http://localhost")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestWithHTTPSession_ReleasesOnPanic(t *testing.T) {
	var session *HTTPSession
	assert.Panics(t, func() {
		_ = WithHTTPSession(context.Background(), SessionConfig{}, nil, func(ctx context.Context, s *HTTPSession) error {
			session = s
			panic("scraper crashed")
		})
	})
	require.NotNil(t, session)
	assert.True(t, session.Released())
}

func TestURLSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Export-Token"))
		switch r.URL.Path {
		case "/export.json":
			_, _ = w.Write([]byte(`[{"title": "A", "source_url": "https://a"}]`))
		case "/export.csv":
			_, _ = w.Write([]byte("title,source_url\nB,https://b\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := SessionConfig{Headers: map[string]string{"X-Export-Token": "token"}}

	src, err := NewURLSource(server.URL+"/export.json", FormatAuto, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	records, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0]["title"])

	src, err = NewURLSource(server.URL+"/export.csv", FormatAuto, cfg, nil)
	require.NoError(t, err)
	records, err = src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "B", records[0]["title"])

	src, err = NewURLSource(server.URL+"/missing", FormatJSON, cfg, nil)
	require.NoError(t, err)
	_, err = src.Records(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestNewURLSource_Invalid(t *testing.T) {
	_, err := NewURLSource("ftp://example.com/x.json", FormatAuto, SessionConfig{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestStatic(t *testing.T) {
	recs := []models.Record{{"title": "A"}}
	s := NewStatic("fixture", recs)
	assert.Equal(t, "fixture", s.Name())

	got, err := s.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Records(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
