package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/retry"
	"github.com/infortic/infortic/pkg/store/memstore"
	"github.com/infortic/infortic/pkg/tables"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func seeded(t *testing.T, table string) *memstore.Store {
	t.Helper()
	st := memstore.New()
	_, err := st.Upsert(context.Background(), table, []models.Record{
		{"registration_url": "https://a"},
		{"registration_url": "https://b"},
	}, "registration_url")
	require.NoError(t, err)
	return st
}

func TestTableCleaner_Clean(t *testing.T) {
	id := tables.CompetitionsIdentity()
	st := seeded(t, id.Table)
	st.RegisterCleanProcedure(id.CleanProcedure, id.Table)

	c := NewTableCleaner(st, st, retry.DefaultPolicy(nil).WithSleeper(noSleep), config.PostCleanFail, nil)
	require.NoError(t, c.Clean(context.Background(), id))
	require.NoError(t, c.Verify(context.Background(), id))

	n, err := st.Count(context.Background(), id.Table)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTableCleaner_UnknownProcedure(t *testing.T) {
	id := tables.CompetitionsIdentity()
	st := memstore.New()
	c := NewTableCleaner(st, st, retry.DefaultPolicy(nil).WithSleeper(noSleep), "", nil)

	err := c.Clean(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCleaning))
	assert.True(t, errors.IsType(err, errors.ErrorTypeLogical))

	id.CleanProcedure = ""
	err = c.Clean(context.Background(), id)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCleaning))
}

func TestTableCleaner_Verify(t *testing.T) {
	id := tables.CompetitionsIdentity()

	tests := []struct {
		check    config.PostCleanCheck
		wantErr  bool
		wantWarn bool
	}{
		{check: config.PostCleanWarn, wantWarn: true},
		{check: config.PostCleanFail, wantErr: true},
		{check: config.PostCleanSkip},
	}
	for _, tt := range tests {
		t.Run(string(tt.check), func(t *testing.T) {
			st := seeded(t, id.Table)
			// the procedure empties some other table, leaving rows behind
			st.RegisterCleanProcedure(id.CleanProcedure, "elsewhere")
			core, logs := observer.New(zap.WarnLevel)

			c := NewTableCleaner(st, st, retry.DefaultPolicy(nil).WithSleeper(noSleep), tt.check, zap.New(core))
			require.NoError(t, c.Clean(context.Background(), id))

			err := c.Verify(context.Background(), id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeCleaning))
			} else {
				assert.NoError(t, err)
			}
			warned := logs.FilterMessage("table not empty after cleaning").Len() == 1
			assert.Equal(t, tt.wantWarn, warned)
		})
	}
}

func TestBindings(t *testing.T) {
	registry, err := tables.NewRegistry(tables.Builtin(map[tables.Kind]tables.Override{
		tables.Competitions: {Table: "lomba_v2"},
	})...)
	require.NoError(t, err)
	st := memstore.New()
	cleaner := NewTableCleaner(st, st, retry.DefaultPolicy(nil).WithSleeper(noSleep), config.PostCleanSkip, nil)
	bindings := Bind(registry, st, cleaner)

	assert.Equal(t, []tables.Kind{tables.Competitions, tables.Internships, tables.Scholarships}, bindings.Kinds())

	b, err := bindings.Lookup(tables.Competitions)
	require.NoError(t, err)
	n, err := b.Upsert(context.Background(), []models.Record{{"registration_url": "https://a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := b.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Len(t, st.Rows("lomba_v2"), 1)

	_, err = bindings.Lookup(tables.Kind("events"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
