package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_Key(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   string
		ok     bool
	}{
		{"present", Record{"url": "https://a"}, "https://a", true},
		{"trimmed", Record{"url": "  https://a  "}, "https://a", true},
		{"missing", Record{"title": "x"}, "", false},
		{"nil", Record{"url": nil}, "", false},
		{"blank", Record{"url": "   "}, "", false},
		{"number", Record{"url": 42}, "42", true},
		{"date", Record{"url": time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)}, "2025-08-01", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.record.Key("url")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	r := Record{"title": "a"}
	c := r.Clone()
	c["title"] = "b"
	assert.Equal(t, "a", r["title"])
}

func TestOutcome(t *testing.T) {
	o := Outcome{Attempted: 30, Succeeded: 20}
	assert.False(t, o.Failed())

	o.Failures = append(o.Failures, BatchFailure{Index: 1, Size: 10, Err: errors.New("boom")})
	assert.True(t, o.Failed())
	assert.Equal(t, 10, o.FailedRecords())
	assert.Equal(t, "batch 1 failed: boom", o.Failures[0].Error())
}
