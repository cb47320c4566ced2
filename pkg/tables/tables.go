// Package tables defines the fixed table identities the ingestion pipeline
// writes to. Each record kind maps to exactly one identity: a table name, the
// conflict key used for deduplication and upsert, the stored procedure that
// empties the table, and the column shape rows are projected into.
package tables

import (
	"fmt"
	"sort"
	"strings"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/normalize"
)

// Kind identifies a record kind.
type Kind string

const (
	// Competitions are lomba listings.
	Competitions Kind = "competitions"
	// Scholarships are beasiswa listings.
	Scholarships Kind = "scholarships"
	// Internships are magang listings.
	Internships Kind = "internships"
)

// Kinds lists every built-in kind in a stable order.
func Kinds() []Kind {
	return []Kind{Competitions, Scholarships, Internships}
}

// ParseKind resolves a kind name. The Indonesian table names are accepted
// as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "competitions", "competition", "lomba":
		return Competitions, nil
	case "scholarships", "scholarship", "beasiswa":
		return Scholarships, nil
	case "internships", "internship", "magang":
		return Internships, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown record kind %q", s)
}

// ColumnType selects the normaliser applied to a column.
type ColumnType string

const (
	// TypeText is free text.
	TypeText ColumnType = "text"
	// TypeURL is a canonicalised absolute URL.
	TypeURL ColumnType = "url"
	// TypeDate is a calendar date.
	TypeDate ColumnType = "date"
)

// Column is one column of a table's row shape.
type Column struct {
	Name    string     `mapstructure:"name" yaml:"name"`
	Type    ColumnType `mapstructure:"type" yaml:"type"`
	Aliases []string   `mapstructure:"aliases" yaml:"aliases,omitempty"` // alternative producer field names
}

// Identity is the fixed description of a target table.
type Identity struct {
	Kind           Kind     `mapstructure:"kind" yaml:"kind"`
	Table          string   `mapstructure:"table" yaml:"table"`
	ConflictKey    string   `mapstructure:"conflict_key" yaml:"conflict_key"`
	CleanProcedure string   `mapstructure:"clean_procedure" yaml:"clean_procedure"`
	Columns        []Column `mapstructure:"columns" yaml:"columns"`
}

// Validate checks that the identity can be used by the pipeline.
func (id Identity) Validate() error {
	if id.Table == "" {
		return errors.New(errors.ErrorTypeConfig, "table identity is missing a table name").
			WithDetail("kind", string(id.Kind))
	}
	if id.ConflictKey == "" {
		return errors.New(errors.ErrorTypeConfig, "table identity is missing a conflict key").
			WithDetail("table", id.Table)
	}
	if len(id.Columns) == 0 {
		return errors.New(errors.ErrorTypeConfig, "table identity has no columns").
			WithDetail("table", id.Table)
	}
	seen := make(map[string]struct{}, len(id.Columns))
	hasKey := false
	for _, c := range id.Columns {
		if c.Name == "" {
			return errors.New(errors.ErrorTypeConfig, "column with empty name").
				WithDetail("table", id.Table)
		}
		if _, dup := seen[c.Name]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate column %q", c.Name).
				WithDetail("table", id.Table)
		}
		seen[c.Name] = struct{}{}
		if c.Name == id.ConflictKey {
			hasKey = true
		}
	}
	if !hasKey {
		return errors.Newf(errors.ErrorTypeConfig, "conflict key %q is not a column", id.ConflictKey).
			WithDetail("table", id.Table)
	}
	return nil
}

// ColumnNames returns the column names in declaration order.
func (id Identity) ColumnNames() []string {
	names := make([]string, len(id.Columns))
	for i, c := range id.Columns {
		names[i] = c.Name
	}
	return names
}

// Project maps a scraped record onto the table's row shape. Unknown fields
// are dropped, missing columns are sent as nil, and each value is passed
// through its column's normaliser.
func (id Identity) Project(r models.Record) models.Record {
	row := make(models.Record, len(id.Columns))
	for _, c := range id.Columns {
		v, ok := r[c.Name]
		if !ok {
			for _, alias := range c.Aliases {
				if v, ok = r[alias]; ok {
					break
				}
			}
		}
		row[c.Name] = normalizeValue(c.Type, v)
	}
	return row
}

// KeyOf returns the normalised conflict-key value of r as the store will
// see it after projection, and whether it is usable as a key.
func (id Identity) KeyOf(r models.Record) (string, bool) {
	for _, c := range id.Columns {
		if c.Name != id.ConflictKey {
			continue
		}
		v, ok := r[c.Name]
		if !ok {
			for _, alias := range c.Aliases {
				if v, ok = r[alias]; ok {
					break
				}
			}
		}
		if !ok {
			return "", false
		}
		return models.Record{c.Name: normalizeValue(c.Type, v)}.Key(c.Name)
	}
	return r.Key(id.ConflictKey)
}

func normalizeValue(t ColumnType, v any) any {
	switch t {
	case TypeURL:
		return normalize.URL(v)
	case TypeDate:
		return normalize.Date(v)
	default:
		return normalize.Text(v)
	}
}

// Registry holds the identities known to a process, keyed by kind.
type Registry struct {
	identities map[Kind]Identity
}

// NewRegistry validates and indexes identities.
func NewRegistry(ids ...Identity) (*Registry, error) {
	r := &Registry{identities: make(map[Kind]Identity, len(ids))}
	for _, id := range ids {
		if id.Kind == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "table identity is missing a kind").
				WithDetail("table", id.Table)
		}
		if err := id.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.identities[id.Kind]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "kind %q registered twice", id.Kind)
		}
		r.identities[id.Kind] = id
	}
	return r, nil
}

// Lookup returns the identity for kind.
func (r *Registry) Lookup(kind Kind) (Identity, error) {
	id, ok := r.identities[kind]
	if !ok {
		return Identity{}, errors.Newf(errors.ErrorTypeConfig, "no table identity for kind %q", kind)
	}
	return id, nil
}

// All returns the registered identities sorted by kind.
func (r *Registry) All() []Identity {
	out := make([]Identity, 0, len(r.identities))
	for _, id := range r.identities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Override describes configuration-supplied changes to a built-in identity.
type Override struct {
	Table          string `mapstructure:"table" yaml:"table,omitempty"`
	ConflictKey    string `mapstructure:"conflict_key" yaml:"conflict_key,omitempty"`
	CleanProcedure string `mapstructure:"clean_procedure" yaml:"clean_procedure,omitempty"`
}

// Apply returns id with the non-empty fields of o applied.
func (o Override) Apply(id Identity) Identity {
	if o.Table != "" {
		id.Table = o.Table
	}
	if o.ConflictKey != "" {
		id.ConflictKey = o.ConflictKey
	}
	if o.CleanProcedure != "" {
		id.CleanProcedure = o.CleanProcedure
	}
	return id
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return fmt.Sprintf("%s(%s on %s)", id.Kind, id.Table, id.ConflictKey)
}
