// Package memstore is an in-process store with the same upsert semantics as
// the remote ones. It backs dry runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// Store keeps tables in memory. Rows with a usable conflict-key value are
// unique per table; rows without one are appended, as a NULL key never
// conflicts.
type Store struct {
	mu         sync.Mutex
	tables     map[string]*table
	procedures map[string]func() error

	// Hooks let tests inject failures; nil means success.
	UpsertHook    func(table string, rows []models.Record) error
	ProcedureHook func(name string) error
}

type table struct {
	keyed   map[string]models.Record
	order   []string
	keyless []models.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables:     make(map[string]*table),
		procedures: make(map[string]func() error),
	}
}

// RegisterCleanProcedure makes name empty tableName when called.
func (s *Store) RegisterCleanProcedure(name, tableName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[name] = func() error {
		delete(s.tables, tableName)
		return nil
	}
}

// Upsert implements store.Upserter.
func (s *Store) Upsert(ctx context.Context, tableName string, rows []models.Record, conflictKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeTransport, "upsert cancelled")
	}
	if s.UpsertHook != nil {
		if err := s.UpsertHook(tableName, rows); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		key, ok := r.Key(conflictKey)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			return 0, errors.New(errors.ErrorTypeLogical,
				"ON CONFLICT DO UPDATE command cannot affect row a second time").
				WithDetail("table", tableName).
				WithDetail("conflict_key", conflictKey).
				WithDetail("key", key)
		}
		seen[key] = struct{}{}
	}

	t := s.table(tableName)
	for _, r := range rows {
		row := r.Clone()
		key, ok := row.Key(conflictKey)
		if !ok {
			t.keyless = append(t.keyless, row)
			continue
		}
		if existing, found := t.keyed[key]; found {
			for k, v := range row {
				existing[k] = v
			}
			continue
		}
		t.keyed[key] = row
		t.order = append(t.order, key)
	}
	return len(rows), nil
}

// CallProcedure implements store.ProcedureCaller. Unknown procedures are
// logical errors, as a remote store would report them.
func (s *Store) CallProcedure(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "procedure call cancelled")
	}
	if s.ProcedureHook != nil {
		if err := s.ProcedureHook(name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.procedures[name]
	if !ok {
		return errors.Newf(errors.ErrorTypeLogical, "function %s() does not exist", name).
			WithDetail("code", "PGRST202")
	}
	return proc()
}

// Count implements store.Counter.
func (s *Store) Count(ctx context.Context, tableName string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeTransport, "count cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return 0, nil
	}
	return int64(len(t.keyed) + len(t.keyless)), nil
}

// Rows returns a copy of the table's rows: keyed rows in first-insert
// order, then keyless rows.
func (s *Store) Rows(tableName string) []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return nil
	}
	out := make([]models.Record, 0, len(t.keyed)+len(t.keyless))
	for _, k := range t.order {
		out = append(out, t.keyed[k].Clone())
	}
	for _, r := range t.keyless {
		out = append(out, r.Clone())
	}
	return out
}

// Tables lists the tables holding rows.
func (s *Store) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close implements store.Store.
func (s *Store) Close() {}

func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{keyed: make(map[string]models.Record)}
		s.tables[name] = t
	}
	return t
}
