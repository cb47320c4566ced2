package postgres

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls   []execCall
	tag     pgconn.CommandTag
	execErr error
	count   int64
	rowErr  error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return f.tag, f.execErr
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return fakeRow{n: f.count, err: f.rowErr}
}

type fakeRow struct {
	n   int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.n
	return nil
}

func TestBuildUpsert(t *testing.T) {
	deadline := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	sql, args, err := buildUpsert("beasiswa", []models.Record{
		{"title": "A", "source_url": "https://x/1", "deadline_date": deadline},
		{"title": "B", "source_url": "https://x/2"},
	}, "source_url")
	require.NoError(t, err)

	assert.Equal(t,
		`INSERT INTO "beasiswa" ("deadline_date", "source_url", "title") VALUES ($1, $2, $3), ($4, $5, $6)`+
			` ON CONFLICT ("source_url") DO UPDATE SET "deadline_date" = EXCLUDED."deadline_date", "title" = EXCLUDED."title"`,
		sql)
	assert.Equal(t, []any{deadline, "https://x/1", "A", nil, "https://x/2", "B"}, args)
}

func TestBuildUpsert_SchemaQualifiedAndKeyOnly(t *testing.T) {
	sql, _, err := buildUpsert("public.lomba", []models.Record{{"registration_url": "u"}}, "registration_url")
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "public"."lomba" ("registration_url") VALUES ($1) ON CONFLICT ("registration_url") DO NOTHING`, sql)
}

func TestBuildUpsert_Errors(t *testing.T) {
	_, _, err := buildUpsert("lomba", []models.Record{{"title": "x"}}, "registration_url")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, _, err = buildUpsert("lomba", nil, "registration_url")
	assert.Error(t, err)

	wide := make(models.Record, 100)
	for i := 0; i < 100; i++ {
		wide[string(rune('a'+i%26))+string(rune('a'+i/26))] = i
	}
	wide["k"] = "key"
	rows := make([]models.Record, 700)
	for i := range rows {
		rows[i] = wide
	}
	_, _, err = buildUpsert("t", rows, "k")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestStore_Upsert(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("INSERT 0 2")}
	s := newStore(db, zaptest.NewLogger(t))

	n, err := s.Upsert(context.Background(), "lomba", []models.Record{
		{"registration_url": "https://a"},
		{"registration_url": "https://b"},
	}, "registration_url")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, db.calls, 1)

	n, err = s.Upsert(context.Background(), "lomba", nil, "registration_url")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, db.calls, 1)
}

func TestStore_ErrorClassification(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: "42P01", Message: `relation "lomba" does not exist`}}
	s := newStore(db, nil)

	_, err := s.Upsert(context.Background(), "lomba", []models.Record{{"registration_url": "u"}}, "registration_url")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLogical))

	db.execErr = stderrors.New("connection reset by peer")
	err = s.CallProcedure(context.Background(), "clean_lomba_simple")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestStore_CallProcedureAndCount(t *testing.T) {
	db := &fakeDB{count: 7}
	s := newStore(db, nil)

	require.NoError(t, s.CallProcedure(context.Background(), "clean_lomba_simple"))
	n, err := s.Count(context.Background(), "lomba")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.Len(t, db.calls, 2)
	assert.Equal(t, `SELECT "clean_lomba_simple"()`, db.calls[0].sql)
	assert.Equal(t, `SELECT count(*) FROM "lomba"`, db.calls[1].sql)

	db.rowErr = stderrors.New("timeout")
	_, err = s.Count(context.Background(), "lomba")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}
