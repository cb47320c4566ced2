package pipeline

import (
	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/models"
)

// KeyFunc extracts a record's conflict-key value and reports whether it is
// usable.
type KeyFunc func(models.Record) (string, bool)

// FieldKey keys records by the trimmed text of field.
func FieldKey(field string) KeyFunc {
	return func(r models.Record) (string, bool) { return r.Key(field) }
}

// DedupeStats describes one deduplication pass.
type DedupeStats struct {
	Input             int `json:"input"`
	Kept              int `json:"kept"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	// MissingKey counts records without a usable key, kept or not.
	MissingKey int `json:"missing_key"`
}

// Dedupe keeps the first record for every key value, preserving input
// order. Records without a usable key are kept or dropped according to
// policy.
func Dedupe(records []models.Record, key KeyFunc, policy config.MissingKeyPolicy) ([]models.Record, DedupeStats) {
	stats := DedupeStats{Input: len(records)}
	kept := make([]models.Record, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, r := range records {
		k, ok := key(r)
		if !ok {
			stats.MissingKey++
			if policy == config.MissingKeyDrop {
				continue
			}
			kept = append(kept, r)
			continue
		}
		if _, dup := seen[k]; dup {
			stats.DuplicatesRemoved++
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, r)
	}

	stats.Kept = len(kept)
	return kept, stats
}
