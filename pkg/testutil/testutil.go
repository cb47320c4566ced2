// Package testutil provides fixtures shared by the infortic tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/store/memstore"
	"github.com/infortic/infortic/pkg/tables"
)

// TestContext returns a context with a 30-second timeout that is cancelled
// when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Sleeper records requested waits instead of sleeping. It satisfies
// retry.Sleeper through its Sleep method.
type Sleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

// Sleep records d and returns ctx's error.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Waits returns the recorded waits in order.
func (s *Sleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// NewMemStore returns an in-memory store with the clean procedure of every
// identity registered. No identities means the built-in ones.
func NewMemStore(ids ...tables.Identity) *memstore.Store {
	if len(ids) == 0 {
		ids = tables.Builtin(nil)
	}
	st := memstore.New()
	for _, id := range ids {
		st.RegisterCleanProcedure(id.CleanProcedure, id.Table)
	}
	return st
}

// Records returns n distinct scraped records of kind, shaped the way the
// scrapers emit them, including a field no table stores.
func Records(kind tables.Kind, n int) []models.Record {
	out := make([]models.Record, n)
	for i := range out {
		var r models.Record
		switch kind {
		case tables.Competitions:
			r = models.Record{
				"title":            fmt.Sprintf("Lomba %d", i),
				"organizer":        "Himpunan Mahasiswa",
				"registration_url": fmt.Sprintf("https://forms.example.com/lomba/%d", i),
				"source_url":       fmt.Sprintf("https://example.com/lomba/%d", i),
				"date_text":        "1 - 15 Agustus 2025",
				"price_text":       "Gratis",
			}
		case tables.Internships:
			r = models.Record{
				"title":         fmt.Sprintf("Magang %d", i),
				"company":       "PT Contoh",
				"location":      "Jakarta",
				"deadline_date": "31 Agt 2025",
				"source_url":    fmt.Sprintf("https://example.com/magang/%d", i),
			}
		default:
			r = models.Record{
				"title":           fmt.Sprintf("Beasiswa %d", i),
				"education_level": "S1",
				"deadline_date":   "01 Agt 2025",
				"source_url":      fmt.Sprintf("https://example.com/beasiswa/%d", i),
			}
		}
		r["scraped_at"] = "2025-07-01T08:00:00Z"
		out[i] = r
	}
	return out
}

// WriteJSON writes records as a JSON array to a file in a temporary
// directory and returns its path.
func WriteJSON(t *testing.T, name string, records []models.Record) string {
	t.Helper()
	data, err := gojson.Marshal(records)
	if err != nil {
		t.Fatalf("marshal records: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
