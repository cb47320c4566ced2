package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/store"
)

var _ store.Store = (*Store)(nil)

func TestStore_UpsertHonoursConflictKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	n, err := s.Upsert(ctx, "lomba", []models.Record{
		{"registration_url": "https://a", "title": "A"},
		{"registration_url": "https://b", "title": "B"},
		{"registration_url": nil, "title": "keyless"},
	}, "registration_url")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.Upsert(ctx, "lomba", []models.Record{
		{"registration_url": "https://a", "title": "A v2"},
	}, "registration_url")
	require.NoError(t, err)

	count, err := s.Count(ctx, "lomba")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	rows := s.Rows("lomba")
	require.Len(t, rows, 3)
	assert.Equal(t, "A v2", rows[0]["title"])
	assert.Equal(t, "B", rows[1]["title"])
	assert.Equal(t, "keyless", rows[2]["title"])
}

func TestStore_UpsertRejectsDuplicateKeysInBatch(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Upsert(ctx, "lomba", []models.Record{{"registration_url": "https://a", "title": "A"}}, "registration_url")
	require.NoError(t, err)

	n, err := s.Upsert(ctx, "lomba", []models.Record{
		{"registration_url": "https://b", "title": "B"},
		{"registration_url": "https://a", "title": "A v2"},
		{"registration_url": "https://b", "title": "B again"},
	}, "registration_url")
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLogical))
	assert.Contains(t, err.Error(), "cannot affect row a second time")

	rows := s.Rows("lomba")
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["title"])
}

func TestStore_CleanProcedure(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.RegisterCleanProcedure("clean_lomba_simple", "lomba")

	_, err := s.Upsert(ctx, "lomba", []models.Record{{"registration_url": "https://a"}}, "registration_url")
	require.NoError(t, err)
	assert.Equal(t, []string{"lomba"}, s.Tables())

	require.NoError(t, s.CallProcedure(ctx, "clean_lomba_simple"))
	count, err := s.Count(ctx, "lomba")
	require.NoError(t, err)
	assert.Zero(t, count)

	err = s.CallProcedure(ctx, "clean_unknown")
	assert.True(t, errors.IsType(err, errors.ErrorTypeLogical))
}

func TestStore_Hooks(t *testing.T) {
	s := New()
	s.UpsertHook = func(table string, rows []models.Record) error {
		return errors.New(errors.ErrorTypeTransport, "unavailable")
	}
	_, err := s.Upsert(context.Background(), "lomba", []models.Record{{"registration_url": "x"}}, "registration_url")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	assert.Empty(t, s.Tables())
}

func TestStore_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Count(ctx, "lomba")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}
