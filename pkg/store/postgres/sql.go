package postgres

import (
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// maxParams is the bind parameter limit of the Postgres wire protocol.
const maxParams = 65535

// quoteIdent quotes a possibly schema-qualified identifier.
func quoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// columnsOf returns the sorted union of the rows' field names.
func columnsOf(rows []models.Record) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// buildUpsert renders one multi-row INSERT ... ON CONFLICT DO UPDATE
// statement and its arguments. Rows missing a column bind NULL.
func buildUpsert(table string, rows []models.Record, conflictKey string) (string, []any, error) {
	if len(rows) == 0 {
		return "", nil, errors.New(errors.ErrorTypeInternal, "no rows to upsert")
	}
	cols := columnsOf(rows)
	hasKey := false
	for _, c := range cols {
		if c == conflictKey {
			hasKey = true
			break
		}
	}
	if !hasKey {
		return "", nil, errors.Newf(errors.ErrorTypeConfig, "conflict key %q is not among the row columns", conflictKey).
			WithDetail("table", table)
	}
	if len(cols)*len(rows) > maxParams {
		return "", nil, errors.New(errors.ErrorTypeConfig, "batch exceeds the bind parameter limit; lower pipeline.batch_size").
			WithDetail("rows", len(rows)).
			WithDetail("columns", len(cols))
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoteIdent(table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(cols)*len(rows))
	n := 1
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, c := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			n++
			args = append(args, r[c])
		}
		sb.WriteByte(')')
	}

	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(quoteIdent(conflictKey))
	sb.WriteString(")")

	updates := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		if c == conflictKey {
			continue
		}
		updates = append(updates, quoted[i]+" = EXCLUDED."+quoted[i])
	}
	if len(updates) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		sb.WriteString(" DO UPDATE SET ")
		sb.WriteString(strings.Join(updates, ", "))
	}
	return sb.String(), args, nil
}
