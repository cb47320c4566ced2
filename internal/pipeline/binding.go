package pipeline

import (
	"context"
	"sort"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/store"
	"github.com/infortic/infortic/pkg/tables"
)

// Binding ties a record kind to its table identity and the remote
// operations on that table.
type Binding struct {
	Identity tables.Identity
	Upsert   func(ctx context.Context, rows []models.Record) (int, error)
	Clean    func(ctx context.Context) error
	Count    func(ctx context.Context) (int64, error)
}

// Bindings is the static kind to binding map of a process.
type Bindings map[tables.Kind]Binding

// Bind builds a binding for every registered identity. Clean runs the
// cleaner and its post-clean check.
func Bind(registry *tables.Registry, st store.Store, cleaner *TableCleaner) Bindings {
	ids := registry.All()
	bindings := make(Bindings, len(ids))
	for _, id := range ids {
		id := id
		bindings[id.Kind] = Binding{
			Identity: id,
			Upsert: func(ctx context.Context, rows []models.Record) (int, error) {
				return st.Upsert(ctx, id.Table, rows, id.ConflictKey)
			},
			Clean: func(ctx context.Context) error {
				if err := cleaner.Clean(ctx, id); err != nil {
					return err
				}
				return cleaner.Verify(ctx, id)
			},
			Count: func(ctx context.Context) (int64, error) {
				return st.Count(ctx, id.Table)
			},
		}
	}
	return bindings
}

// Lookup returns the binding for kind.
func (b Bindings) Lookup(kind tables.Kind) (Binding, error) {
	binding, ok := b[kind]
	if !ok {
		return Binding{}, errors.Newf(errors.ErrorTypeConfig, "no table binding for kind %q", kind)
	}
	return binding, nil
}

// Kinds lists the bound kinds in order.
func (b Bindings) Kinds() []tables.Kind {
	kinds := make([]tables.Kind, 0, len(b))
	for k := range b {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
