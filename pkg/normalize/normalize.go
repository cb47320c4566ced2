// Package normalize cleans up scraped field values before they are keyed and
// stored: whitespace, canonical URLs and the date formats used by the
// Indonesian listing sites.
package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/infortic/infortic/pkg/models"
)

// indonesianMonths maps the month names and abbreviations the listing sites
// print to month numbers.
var indonesianMonths = map[string]time.Month{
	"jan": time.January, "januari": time.January,
	"feb": time.February, "februari": time.February,
	"mar": time.March, "maret": time.March,
	"apr": time.April, "april": time.April,
	"mei": time.May,
	"jun": time.June, "juni": time.June,
	"jul": time.July, "juli": time.July,
	"agt": time.August, "agu": time.August, "agustus": time.August, "aug": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"okt": time.October, "oktober": time.October, "oct": time.October,
	"nov": time.November, "november": time.November,
	"des": time.December, "desember": time.December, "dec": time.December,
}

var dateLayouts = []string{
	models.DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// Text collapses runs of whitespace and trims the ends. Empty results
// become nil so that the store receives NULL rather than "".
func Text(v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(time.Time); ok {
		return v
	}
	s := strings.Join(strings.Fields(models.Text(v)), " ")
	if s == "" {
		return nil
	}
	return s
}

// URL canonicalises an absolute URL: scheme and host are lower-cased, the
// fragment is dropped and a trailing slash on a non-root path is removed.
// Values that do not parse as absolute URLs are returned trimmed; non-string
// values are rendered as text first.
func URL(v any) any {
	t := Text(v)
	if t == nil {
		return nil
	}
	raw, ok := t.(string)
	if !ok {
		raw = models.Text(t)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// Date converts v into a time.Time at midnight UTC. It accepts time.Time,
// ISO dates and the "01 Agt 2025" style, optionally prefixed by
// "Deadline:". Unparseable or empty values become nil.
func Date(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		y, m, d := val.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	t, err := ParseDate(models.Text(v))
	if err != nil {
		return nil
	}
	return t
}

// ParseDate parses a date string in any of the accepted formats.
func ParseDate(s string) (time.Time, error) {
	clean := strings.TrimSpace(s)
	if i := strings.Index(strings.ToLower(clean), "deadline:"); i >= 0 {
		clean = strings.TrimSpace(clean[i+len("deadline:"):])
	}
	if clean == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, clean); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}

	parts := strings.Fields(clean)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)
	}
	month, ok := indonesianMonths[strings.ToLower(strings.TrimSuffix(parts[1], "."))]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month %q in %q", parts[1], s)
	}
	var day, year int
	if _, err := fmt.Sscanf(parts[0]+" "+parts[2], "%d %d", &day, &year); err != nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q: %w", s, err)
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", s)
	}
	return t, nil
}
