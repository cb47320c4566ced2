package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	assert.Equal(t, "Lomba Coding Nasional", Text("  Lomba \n Coding\tNasional "))
	assert.Nil(t, Text("   "))
	assert.Nil(t, Text(nil))
}

func TestURL(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"HTTPS://LuarKampus.ID/beasiswa/12/#top", "https://luarkampus.id/beasiswa/12"},
		{" https://example.com/lomba1 ", "https://example.com/lomba1"},
		{"https://example.com/", "https://example.com/"},
		{"not a url", "not a url"},
		{"", nil},
		{nil, nil},
		{time.Date(2025, 8, 1, 9, 30, 0, 0, time.UTC), "2025-08-01"},
	}
	for _, tt := range tests {
		assert.NotPanics(t, func() { URL(tt.in) }, "input %v", tt.in)
		assert.Equal(t, tt.want, URL(tt.in), "input %v", tt.in)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2025-08-01", want: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{in: "01 Agt 2025", want: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{in: "Deadline: 15 Des 2024", want: time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)},
		{in: "3 Mei 2026", want: time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)},
		{in: "2024-11-30T10:00:00+07:00", want: time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC)},
		{in: "31 Feb 2025", wantErr: true},
		{in: "01 Foo 2025", wantErr: true},
		{in: "No Deadline Provided", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestDate(t *testing.T) {
	assert.Nil(t, Date("No Deadline Provided"))
	assert.Nil(t, Date(nil))

	local := time.Date(2025, 1, 2, 23, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Date(local))
}
