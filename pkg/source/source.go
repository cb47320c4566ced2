// Package source is the producer boundary of the ingestion pipeline.
// Producers hand the pipeline an ordered sequence of loosely typed records;
// how they obtain them (files, HTTP exports, scrapers) is their own concern.
package source

import (
	"context"

	"github.com/infortic/infortic/pkg/models"
)

// Producer yields records for one record kind.
type Producer interface {
	// Name identifies the producer in logs.
	Name() string
	// Records returns the producer's records in order. Malformed items are
	// skipped and logged; only failures that make the whole input unusable
	// are returned as errors.
	Records(ctx context.Context) ([]models.Record, error)
}

// Static is a Producer over an in-memory slice.
type Static struct {
	name    string
	records []models.Record
}

// NewStatic creates a producer returning records.
func NewStatic(name string, records []models.Record) *Static {
	return &Static{name: name, records: records}
}

// Name implements Producer.
func (s *Static) Name() string { return s.name }

// Records implements Producer.
func (s *Static) Records(ctx context.Context) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.records, nil
}
