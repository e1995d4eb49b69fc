package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestMergeConfig_Validation(t *testing.T) {
	rows := [][]any{{1, "a"}}

	_, err := BulkUpsert(context.Background(), nil, MergeConfig{Table: "t", KeyColumns: []string{"id"}}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = BulkUpdate(context.Background(), nil, MergeConfig{Table: "t", Columns: []string{"id", "name"}}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key columns specified")

	_, err = BulkUpdate(context.Background(), nil, MergeConfig{Table: "t", Columns: []string{"id"}, KeyColumns: []string{"id"}}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")
}

func TestBulkMerge_EmptyRows(t *testing.T) {
	cfg := MergeConfig{Table: "t", Columns: []string{"id"}, KeyColumns: []string{"id"}}

	n, err := BulkUpsert(context.Background(), nil, cfg, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	n, err = BulkUpdate(context.Background(), nil, cfg, [][]any{})
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkUpdate_Success(t *testing.T) {
	mock := newMock(t)
	cfg := MergeConfig{
		Table:      "change_records",
		Columns:    []string{"id", "status", "reason"},
		KeyColumns: []string{"id"},
	}

	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_merge_change_records" ON COMMIT DROP AS SELECT "id", "status", "reason" FROM "change_records" WITH NO DATA`).
		WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_merge_change_records"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`UPDATE "change_records" AS t SET "status" = s."status", "reason" = s."reason" FROM "_tmp_merge_change_records" AS s WHERE t."id" = s."id"`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := BulkUpdate(context.Background(), mock, cfg, [][]any{{"a", "accepted", ""}, {"b", "rejected", "bad"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Success(t *testing.T) {
	mock := newMock(t)
	cfg := MergeConfig{
		Table:      "snapshot_rows",
		Columns:    []string{"ref", "row_index", "data"},
		KeyColumns: []string{"ref", "row_index"},
	}

	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_merge_snapshot_rows"`).
		WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_merge_snapshot_rows"}, cfg.Columns).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("ref", "row_index"\) DO UPDATE SET "data" = EXCLUDED."data"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{{"s", 0, []byte(`{}`)}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_KeysOnlyDoesNothing(t *testing.T) {
	mock := newMock(t)
	cfg := MergeConfig{Table: "tags", Columns: []string{"id"}, KeyColumns: []string{"id"}}

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_merge_tags"}, cfg.Columns).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("id"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err := BulkUpsert(context.Background(), mock, cfg, [][]any{{1}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpdate_StageError(t *testing.T) {
	mock := newMock(t)
	cfg := MergeConfig{Table: "change_records", Columns: []string{"id", "status"}, KeyColumns: []string{"id"}}

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnError(fmt.Errorf("permission denied"))

	_, err := BulkUpdate(context.Background(), mock, cfg, [][]any{{"a", "accepted"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp table for change_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "va""l"`, quoteAndJoin([]string{"id", "name", `va"l`}))
	assert.Equal(t, pgx.Identifier{"a", "b"}, identifier("a.b"))
}
