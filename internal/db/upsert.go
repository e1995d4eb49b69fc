package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// MergeConfig defines the parameters for a staged bulk merge.
type MergeConfig struct {
	Table      string   // target table (e.g., "change_records")
	Columns    []string // all columns being staged
	KeyColumns []string // columns identifying a target row
	UpdateCols []string // columns to write on match; nil = all non-key columns
}

func (cfg MergeConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: merge: no columns specified")
	}
	if len(cfg.KeyColumns) == 0 {
		return eris.New("db: merge: no key columns specified")
	}
	return nil
}

func (cfg MergeConfig) updateCols() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	keys := make(map[string]bool, len(cfg.KeyColumns))
	for _, k := range cfg.KeyColumns {
		keys[k] = true
	}
	var out []string
	for _, c := range cfg.Columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// BulkUpsert stages rows in a temp table and runs
// INSERT ... SELECT ... ON CONFLICT (keys) DO UPDATE. The caller owns the
// transaction; the temp table is dropped on commit.
func BulkUpsert(ctx context.Context, conn Conn, cfg MergeConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	temp, err := stage(ctx, conn, cfg, rows)
	if err != nil {
		return 0, err
	}

	var set []string
	for _, col := range cfg.updateCols() {
		q := quote(col)
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	colList := quoteAndJoin(cfg.Columns)
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		identifier(cfg.Table).Sanitize(), colList, colList, quote(temp),
		quoteAndJoin(cfg.KeyColumns), action,
	)
	tag, err := conn.Exec(ctx, sql)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// BulkUpdate stages rows in a temp table and runs
// UPDATE target SET ... FROM temp WHERE keys match. Rows with no matching
// target are ignored; the returned count says how many matched.
func BulkUpdate(ctx context.Context, conn Conn, cfg MergeConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}
	cols := cfg.updateCols()
	if len(cols) == 0 {
		return 0, eris.New("db: merge: nothing to update")
	}

	temp, err := stage(ctx, conn, cfg, rows)
	if err != nil {
		return 0, err
	}

	set := make([]string, len(cols))
	for i, col := range cols {
		set[i] = fmt.Sprintf("%s = s.%s", quote(col), quote(col))
	}
	where := make([]string, len(cfg.KeyColumns))
	for i, k := range cfg.KeyColumns {
		where[i] = fmt.Sprintf("t.%s = s.%s", quote(k), quote(k))
	}

	sql := fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM %s AS s WHERE %s",
		identifier(cfg.Table).Sanitize(), strings.Join(set, ", "), quote(temp),
		strings.Join(where, " AND "),
	)
	tag, err := conn.Exec(ctx, sql)
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: UPDATE FROM for %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// stage creates a constraint-free temp copy of the target's columns and
// COPYs rows into it.
func stage(ctx context.Context, conn Conn, cfg MergeConfig, rows [][]any) (string, error) {
	temp := "_tmp_merge_" + strings.ReplaceAll(cfg.Table, ".", "_")

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		quote(temp), quoteAndJoin(cfg.Columns), identifier(cfg.Table).Sanitize(),
	)
	if _, err := conn.Exec(ctx, createSQL); err != nil {
		return "", eris.Wrapf(err, "db: merge: create temp table for %s", cfg.Table)
	}
	if _, err := CopyFrom(ctx, conn, temp, cfg.Columns, rows); err != nil {
		return "", eris.Wrapf(err, "db: merge: stage rows for %s", cfg.Table)
	}
	return temp, nil
}

func quote(col string) string {
	return `"` + strings.ReplaceAll(col, `"`, `""`) + `"`
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}
