package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresStorage, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func TestPostgresStorage_Migrate(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_Get(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT value FROM kv_entries WHERE key").
		WithArgs("kueccha:k").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(`{"data":1,"created":0,"expiry":null}`))

	v, ok, err := st.Get(context.Background(), "kueccha:k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"data":1,"created":0,"expiry":null}`, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_GetMissing(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT value FROM kv_entries WHERE key").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := st.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_GetError(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT value FROM kv_entries WHERE key").
		WithArgs("k").
		WillReturnError(errors.New("connection reset"))

	_, _, err := st.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStorage_Set(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO kv_entries").
		WithArgs("k", "v").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.Set(context.Background(), "k", "v"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_RemoveAndClear(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec("DELETE FROM kv_entries WHERE key").
		WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM kv_entries").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	ctx := context.Background()
	require.NoError(t, st.Remove(ctx, "k"))
	require.NoError(t, st.Clear(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_Keys(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT key FROM kv_entries ORDER BY key").
		WillReturnRows(pgxmock.NewRows([]string{"key"}).AddRow("a").AddRow("b"))

	keys, err := st.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_ThroughStore(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO kv_entries").
		WithArgs("kueccha:k", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := New(st, nil)
	assert.True(t, s.Set(context.Background(), "k", "v"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
