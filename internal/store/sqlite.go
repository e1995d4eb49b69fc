package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS review_sessions (
	id           TEXT PRIMARY KEY,
	source_ref   TEXT NOT NULL,
	finalized    INTEGER NOT NULL DEFAULT 0,
	finalized_at DATETIME,
	cleaned_ref  TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS change_records (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES review_sessions(id),
	row_index       INTEGER NOT NULL,
	column_name     TEXT NOT NULL,
	category        TEXT NOT NULL,
	original_value  TEXT NOT NULL DEFAULT '',
	suggested_value TEXT NOT NULL DEFAULT '',
	confidence      REAL NOT NULL,
	status          TEXT NOT NULL,
	override_value  TEXT,
	reason          TEXT NOT NULL DEFAULT '',
	decided_by      TEXT NOT NULL DEFAULT '',
	decided_at      DATETIME,
	UNIQUE (session_id, row_index, column_name)
);

CREATE TABLE IF NOT EXISTS changelog (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES review_sessions(id),
	change_id      TEXT NOT NULL,
	row_index      INTEGER NOT NULL,
	column_name    TEXT NOT NULL,
	category       TEXT NOT NULL,
	action         TEXT NOT NULL,
	original_value TEXT NOT NULL DEFAULT '',
	applied_value  TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	modified_by    TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS finalize_results (
	session_id TEXT PRIMARY KEY REFERENCES review_sessions(id),
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS snapshots (
	ref        TEXT PRIMARY KEY,
	columns    TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS snapshot_rows (
	ref       TEXT NOT NULL REFERENCES snapshots(ref) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (ref, row_index)
);

CREATE INDEX IF NOT EXISTS idx_sessions_source_ref ON review_sessions(source_ref);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON review_sessions(created_at);
CREATE INDEX IF NOT EXISTS idx_change_records_session ON change_records(session_id, row_index, column_name);
CREATE INDEX IF NOT EXISTS idx_changelog_session ON changelog(session_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.ReviewSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create session")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_sessions (id, source_ref, finalized, cleaned_ref, created_at, updated_at) VALUES (?, ?, 0, '', ?, ?)`,
		sess.ID, sess.SourceRef, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert session %s", sess.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO change_records (id, session_id, row_index, column_name, category, original_value, suggested_value, confidence, status, override_value, reason, decided_by, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert change")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range sess.Changes {
		c := &sess.Changes[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.SessionID = sess.ID
		_, err := stmt.ExecContext(ctx,
			c.ID, c.SessionID, c.RowIndex, c.Column, string(c.Category), c.OriginalValue, c.SuggestedValue,
			c.Confidence, string(c.Status), nullable(c.OverrideValue), c.Reason, c.DecidedBy, nullable(c.DecidedAt),
		)
		if isUniqueViolation(err) {
			return eris.Wrapf(model.ErrDuplicateCell, "row %d column %q", c.RowIndex, c.Column)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert change %s", c.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_ref, finalized, finalized_at, cleaned_ref, created_at, updated_at FROM review_sessions WHERE id = ?`,
		sessionID,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+changeColumns+` FROM change_records WHERE session_id = ? ORDER BY row_index, column_name`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list changes for %s", sessionID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		sess.Changes = append(sess.Changes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list changes iterate")
	}
	if len(sess.Changes) == 0 {
		return nil, eris.Wrapf(model.ErrNotFound, "session %s has no suggestions", sessionID)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error) {
	query := `SELECT s.id, s.source_ref, s.finalized, s.finalized_at, s.cleaned_ref, s.created_at, s.updated_at,
		COUNT(c.id), COALESCE(SUM(CASE WHEN c.status = 'needs_review' THEN 1 ELSE 0 END), 0)
		FROM review_sessions s LEFT JOIN change_records c ON c.session_id = s.id WHERE 1=1`
	var args []any

	if filter.SourceRef != "" {
		query += ` AND s.source_ref = ?`
		args = append(args, filter.SourceRef)
	}
	if filter.Finalized != nil {
		query += ` AND s.finalized = ?`
		args = append(args, boolInt(*filter.Finalized))
	}
	query += ` GROUP BY s.id ORDER BY s.created_at DESC, s.id LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var finalizedAt sql.NullTime
		if err := rows.Scan(&sum.ID, &sum.SourceRef, &sum.Finalized, &finalizedAt, &sum.CleanedRef,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.TotalChanges, &sum.PendingChanges); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session summary")
		}
		if finalizedAt.Valid {
			t := finalizedAt.Time
			sum.FinalizedAt = &t
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) SaveDecisions(ctx context.Context, sessionID string, changes []model.ChangeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save decisions")
	}
	defer tx.Rollback() //nolint:errcheck

	finalized, err := sessionFinalized(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if finalized {
		return eris.Wrapf(model.ErrSessionFinalized, "session %s", sessionID)
	}

	if err := updateDecisions(ctx, tx, sessionID, changes); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE review_sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: touch session %s", sessionID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit decisions")
}

func (s *SQLiteStore) CommitFinalize(ctx context.Context, commit FinalizeCommit) error {
	if err := validateCommit(commit); err != nil {
		return err
	}
	sess := commit.Session

	resultJSON, err := json.Marshal(commit.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal finalize result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin finalize")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE review_sessions SET finalized = 1, finalized_at = ?, cleaned_ref = ?, updated_at = ? WHERE id = ? AND finalized = 0`,
		commit.Result.FinalizedAt, sess.CleanedRef, commit.Result.FinalizedAt, sess.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark session %s finalized", sess.ID)
	}
	if n, err := res.RowsAffected(); err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	} else if n == 0 {
		if _, err := sessionFinalized(ctx, tx, sess.ID); err != nil {
			return err
		}
		return eris.Wrapf(model.ErrSessionFinalized, "session %s", sess.ID)
	}

	if err := updateDecisions(ctx, tx, sess.ID, sess.Changes); err != nil {
		return err
	}
	if err := saveSnapshotTx(ctx, tx, commit.Cleaned); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO changelog (id, session_id, change_id, row_index, column_name, category, action, original_value, applied_value, reason, modified_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare changelog insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, e := range commit.Result.Changelog {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.SessionID, e.ChangeID, e.RowIndex, e.Column, string(e.Category), string(e.Action),
			e.OriginalValue, e.AppliedValue, e.Reason, e.ModifiedBy, e.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert changelog %s", e.ID)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO finalize_results (session_id, result, created_at) VALUES (?, ?, ?)`,
		sess.ID, string(resultJSON), commit.Result.FinalizedAt,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert finalize result %s", sess.ID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit finalize")
}

func (s *SQLiteStore) GetFinalizeResult(ctx context.Context, sessionID string) (*model.FinalizeResult, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM finalize_results WHERE session_id = ?`, sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "finalize result %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get finalize result %s", sessionID)
	}

	var res model.FinalizeResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal finalize result")
	}
	return &res, nil
}

func (s *SQLiteStore) ListChangelog(ctx context.Context, sessionID string) ([]model.ChangelogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, change_id, row_index, column_name, category, action, original_value, applied_value, reason, modified_by, created_at
		 FROM changelog WHERE session_id = ? ORDER BY row_index, column_name`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list changelog %s", sessionID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ChangelogEntry
	for rows.Next() {
		var e model.ChangelogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ChangeID, &e.RowIndex, &e.Column, &e.Category, &e.Action,
			&e.OriginalValue, &e.AppliedValue, &e.Reason, &e.ModifiedBy, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan changelog")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list changelog iterate")
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := saveSnapshotTx(ctx, tx, snap); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot")
}

func (s *SQLiteStore) GetSnapshotPage(ctx context.Context, ref string, offset, limit int) (*model.SnapshotPage, error) {
	var columnsJSON string
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT columns, row_count FROM snapshots WHERE ref = ?`, ref,
	).Scan(&columnsJSON, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "snapshot %s", ref)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", ref)
	}

	page := &model.SnapshotPage{Ref: ref, Total: total}
	if err := json.Unmarshal([]byte(columnsJSON), &page.Columns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot columns")
	}
	page.Offset, page.Limit = pageBounds(offset, limit, total)
	if page.Limit == 0 {
		return page, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM snapshot_rows WHERE ref = ? AND row_index >= ? ORDER BY row_index LIMIT ?`,
		ref, page.Offset, page.Limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: page snapshot %s", ref)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot row")
		}
		row, err := decodeRow([]byte(data))
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, row)
	}
	return page, eris.Wrap(rows.Err(), "sqlite: page snapshot iterate")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]model.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ref, columns, row_count FROM snapshots ORDER BY ref`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SnapshotInfo
	for rows.Next() {
		var info model.SnapshotInfo
		var columnsJSON string
		if err := rows.Scan(&info.Ref, &columnsJSON, &info.RowCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot info")
		}
		if err := json.Unmarshal([]byte(columnsJSON), &info.Columns); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal snapshot columns")
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

// helpers

const changeColumns = `id, session_id, row_index, column_name, category, original_value, suggested_value, confidence, status, override_value, reason, decided_by, decided_at`

func sessionFinalized(ctx context.Context, tx *sql.Tx, sessionID string) (bool, error) {
	var finalized bool
	err := tx.QueryRowContext(ctx,
		`SELECT finalized FROM review_sessions WHERE id = ?`, sessionID,
	).Scan(&finalized)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(model.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check session %s", sessionID)
	}
	return finalized, nil
}

func updateDecisions(ctx context.Context, tx *sql.Tx, sessionID string, changes []model.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE change_records SET status = ?, override_value = ?, reason = ?, decided_by = ?, decided_at = ?
		 WHERE id = ? AND session_id = ?`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare decision update")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range changes {
		c := &changes[i]
		res, err := stmt.ExecContext(ctx,
			string(c.Status), nullable(c.OverrideValue), c.Reason, c.DecidedBy, nullable(c.DecidedAt), c.ID, sessionID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update change %s", c.ID)
		}
		if err := checkRowsAffected(res, "change", c.ID); err != nil {
			return err
		}
	}
	return nil
}

func saveSnapshotTx(ctx context.Context, tx *sql.Tx, snap *model.Snapshot) error {
	columnsJSON, err := json.Marshal(snap.Columns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot columns")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (ref, columns, row_count, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (ref) DO UPDATE SET columns = excluded.columns, row_count = excluded.row_count, created_at = excluded.created_at`,
		snap.Ref, string(columnsJSON), len(snap.Rows), time.Now().UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert snapshot %s", snap.Ref)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_rows WHERE ref = ?`, snap.Ref); err != nil {
		return eris.Wrapf(err, "sqlite: clear snapshot rows %s", snap.Ref)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_rows (ref, row_index, data) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare snapshot row insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, row := range snap.Rows {
		data, err := encodeRow(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, snap.Ref, i, string(data)); err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot row %d", i)
		}
	}
	return nil
}

func scanSession(row scannable) (*model.ReviewSession, error) {
	var sess model.ReviewSession
	var finalizedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.SourceRef, &sess.Finalized, &finalizedAt, &sess.CleanedRef, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(model.ErrNotFound, "session")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan session")
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		sess.FinalizedAt = &t
	}
	return &sess, nil
}

func scanChange(row scannable) (*model.ChangeRecord, error) {
	var c model.ChangeRecord
	var override sql.NullString
	var decidedAt sql.NullTime

	if err := row.Scan(&c.ID, &c.SessionID, &c.RowIndex, &c.Column, &c.Category, &c.OriginalValue,
		&c.SuggestedValue, &c.Confidence, &c.Status, &override, &c.Reason, &c.DecidedBy, &decidedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan change")
	}
	c.OverrideValue = stringPtr(override)
	if decidedAt.Valid {
		t := decidedAt.Time
		c.DecidedAt = &t
	}
	return &c, nil
}
