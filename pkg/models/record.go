// Package models provides the data shapes that flow through the ingestion
// pipeline: loosely typed scraped records and the outcome of loading them.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format for date-only values.
const DateLayout = "2006-01-02"

// Record is one scraped entity (a competition, a scholarship, an internship)
// as a mapping from field name to a scalar value. Values are expected to be
// string, time.Time or nil; other scalars are tolerated and rendered as text
// when used as a key.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Key returns the textual value of field and whether it is usable as a
// deduplication key: present, non-nil and not blank.
func (r Record) Key(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	s := strings.TrimSpace(Text(v))
	if s == "" {
		return "", false
	}
	return s, true
}

// Text renders a scalar value as text. nil renders as "".
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case *string:
		if val == nil {
			return ""
		}
		return *val
	case time.Time:
		return val.Format(DateLayout)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format(DateLayout)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// BatchFailure describes a batch whose upsert exhausted its retries.
type BatchFailure struct {
	// Index is the zero-based position of the batch in the run.
	Index int `json:"index"`
	// Size is the number of records in the batch.
	Size int `json:"size"`
	// Err is the final error reported by the retry policy.
	Err error `json:"-"`
	// Records are the projected rows that were not loaded.
	Records []Record `json:"-"`
}

// Error returns the failure's error text.
func (f BatchFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("batch %d failed", f.Index)
	}
	return fmt.Sprintf("batch %d failed: %v", f.Index, f.Err)
}

// Outcome aggregates a pipeline run's upsert results.
type Outcome struct {
	// Attempted is the number of records handed to the remote upsert.
	Attempted int `json:"attempted"`
	// Succeeded is the number of rows the store reported as affected.
	Succeeded int `json:"succeeded"`
	// Failures lists batches that were dropped after exhausting retries.
	Failures []BatchFailure `json:"failures,omitempty"`
}

// Failed reports whether any batch failed.
func (o Outcome) Failed() bool {
	return len(o.Failures) > 0
}

// FailedRecords is the number of records in failed batches.
func (o Outcome) FailedRecords() int {
	n := 0
	for _, f := range o.Failures {
		n += f.Size
	}
	return n
}
