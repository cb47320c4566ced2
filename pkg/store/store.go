// Package store defines the boundary to the remote relational store the
// pipeline writes to. Implementations live in the postgres, postgrest and
// memstore subpackages.
//
// Failures are reported with the pkg/errors taxonomy: ErrorTypeTransport
// when the store could not be reached, ErrorTypeLogical when it answered
// with an application-level error.
package store

import (
	"context"

	"github.com/infortic/infortic/pkg/models"
)

// Upserter inserts rows, updating existing rows whose conflict-key value
// matches.
type Upserter interface {
	// Upsert writes rows into table and returns the number of rows the
	// store reports as affected.
	Upsert(ctx context.Context, table string, rows []models.Record, conflictKey string) (int, error)
}

// ProcedureCaller invokes a parameterless stored procedure.
type ProcedureCaller interface {
	CallProcedure(ctx context.Context, name string) error
}

// Counter counts the rows of a table.
type Counter interface {
	Count(ctx context.Context, table string) (int64, error)
}

// Store is the full remote store surface the pipeline needs.
type Store interface {
	Upserter
	ProcedureCaller
	Counter
	Close()
}
