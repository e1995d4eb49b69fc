package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/db"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgSelectSession = `SELECT id, source_ref, finalized, finalized_at, cleaned_ref, created_at, updated_at FROM review_sessions WHERE id = $1`
	pgSelectChanges = `SELECT id, session_id, row_index, column_name, category, original_value, suggested_value, confidence, status, override_value, reason, decided_by, decided_at
		FROM change_records WHERE session_id = $1 ORDER BY row_index, column_name`
	pgLockSession    = `SELECT finalized FROM review_sessions WHERE id = $1 FOR UPDATE`
	pgSelectResult   = `SELECT result FROM finalize_results WHERE session_id = $1`
	pgSelectSnapshot = `SELECT columns, row_count FROM snapshots WHERE ref = $1`
	pgPageSnapshot   = `SELECT data FROM snapshot_rows WHERE ref = $1 AND row_index >= $2 ORDER BY row_index LIMIT $3`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_session":   pgSelectSession,
	"get_changes":   pgSelectChanges,
	"get_result":    pgSelectResult,
	"get_snapshot":  pgSelectSnapshot,
	"page_snapshot": pgPageSnapshot,
}

var changeCopyColumns = []string{
	"id", "session_id", "row_index", "column_name", "category", "original_value", "suggested_value",
	"confidence", "status", "override_value", "reason", "decided_by", "decided_at",
}

var decisionMerge = db.MergeConfig{
	Table:      "change_records",
	Columns:    []string{"id", "session_id", "status", "override_value", "reason", "decided_by", "decided_at"},
	KeyColumns: []string{"id", "session_id"},
}

var snapshotRowMerge = db.MergeConfig{
	Table:      "snapshot_rows",
	Columns:    []string{"ref", "row_index", "data"},
	KeyColumns: []string{"ref", "row_index"},
}

var changelogColumns = []string{
	"id", "session_id", "change_id", "row_index", "column_name", "category", "action",
	"original_value", "applied_value", "reason", "modified_by", "created_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			// Tables may not exist before the first migrate.
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				zap.L().Debug("postgres: prepare skipped", zap.String("statement", name), zap.Error(err))
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS review_sessions (
	id           TEXT PRIMARY KEY,
	source_ref   TEXT NOT NULL,
	finalized    BOOLEAN NOT NULL DEFAULT false,
	finalized_at TIMESTAMPTZ,
	cleaned_ref  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS change_records (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES review_sessions(id),
	row_index       INTEGER NOT NULL,
	column_name     TEXT NOT NULL,
	category        TEXT NOT NULL,
	original_value  TEXT NOT NULL DEFAULT '',
	suggested_value TEXT NOT NULL DEFAULT '',
	confidence      DOUBLE PRECISION NOT NULL,
	status          TEXT NOT NULL,
	override_value  TEXT,
	reason          TEXT NOT NULL DEFAULT '',
	decided_by      TEXT NOT NULL DEFAULT '',
	decided_at      TIMESTAMPTZ,
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
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS finalize_results (
	session_id TEXT PRIMARY KEY REFERENCES review_sessions(id),
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS snapshots (
	ref        TEXT PRIMARY KEY,
	columns    JSONB NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS snapshot_rows (
	ref       TEXT NOT NULL REFERENCES snapshots(ref) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	data      JSONB NOT NULL,
	PRIMARY KEY (ref, row_index)
);

CREATE INDEX IF NOT EXISTS idx_sessions_source_ref ON review_sessions(source_ref);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON review_sessions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_changelog_session ON changelog(session_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.ReviewSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	rows := make([][]any, len(sess.Changes))
	for i := range sess.Changes {
		c := &sess.Changes[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.SessionID = sess.ID
		rows[i] = []any{
			c.ID, c.SessionID, c.RowIndex, c.Column, string(c.Category), c.OriginalValue, c.SuggestedValue,
			c.Confidence, string(c.Status), c.OverrideValue, c.Reason, c.DecidedBy, c.DecidedAt,
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create session")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO review_sessions (id, source_ref, finalized, cleaned_ref, created_at, updated_at) VALUES ($1, $2, false, '', $3, $4)`,
		sess.ID, sess.SourceRef, sess.CreatedAt, sess.UpdatedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert session %s", sess.ID)
	}

	if _, err := db.CopyFrom(ctx, tx, "change_records", changeCopyColumns, rows); err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(model.ErrDuplicateCell, "session %s", sess.ID)
		}
		return eris.Wrapf(err, "postgres: copy changes for %s", sess.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create session")
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.ReviewSession, error) {
	var sess model.ReviewSession
	err := s.pool.QueryRow(ctx, pgSelectSession, sessionID).
		Scan(&sess.ID, &sess.SourceRef, &sess.Finalized, &sess.FinalizedAt, &sess.CleanedRef, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}

	rows, err := s.pool.Query(ctx, pgSelectChanges, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list changes for %s", sessionID)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.ChangeRecord
		var category, status string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.RowIndex, &c.Column, &category, &c.OriginalValue,
			&c.SuggestedValue, &c.Confidence, &status, &c.OverrideValue, &c.Reason, &c.DecidedBy, &c.DecidedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan change")
		}
		c.Category = model.Category(category)
		c.Status = model.Status(status)
		sess.Changes = append(sess.Changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list changes iterate")
	}
	if len(sess.Changes) == 0 {
		return nil, eris.Wrapf(model.ErrNotFound, "session %s has no suggestions", sessionID)
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error) {
	query := `SELECT s.id, s.source_ref, s.finalized, s.finalized_at, s.cleaned_ref, s.created_at, s.updated_at,
		COUNT(c.id), COUNT(c.id) FILTER (WHERE c.status = 'needs_review')
		FROM review_sessions s LEFT JOIN change_records c ON c.session_id = s.id WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SourceRef != "" {
		query += fmt.Sprintf(` AND s.source_ref = $%d`, argIdx)
		args = append(args, filter.SourceRef)
		argIdx++
	}
	if filter.Finalized != nil {
		query += fmt.Sprintf(` AND s.finalized = $%d`, argIdx)
		args = append(args, *filter.Finalized)
		argIdx++
	}
	query += fmt.Sprintf(` GROUP BY s.id ORDER BY s.created_at DESC, s.id LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.SourceRef, &sum.Finalized, &sum.FinalizedAt, &sum.CleanedRef,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.TotalChanges, &sum.PendingChanges); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session summary")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) SaveDecisions(ctx context.Context, sessionID string, changes []model.ChangeRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save decisions")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	finalized, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if finalized {
		return eris.Wrapf(model.ErrSessionFinalized, "session %s", sessionID)
	}

	if err := mergeDecisions(ctx, tx, sessionID, changes); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE review_sessions SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), sessionID,
	); err != nil {
		return eris.Wrapf(err, "postgres: touch session %s", sessionID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit decisions")
}

func (s *PostgresStore) CommitFinalize(ctx context.Context, commit FinalizeCommit) error {
	if err := validateCommit(commit); err != nil {
		return err
	}
	sess := commit.Session

	resultJSON, err := json.Marshal(commit.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal finalize result")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin finalize")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE review_sessions SET finalized = true, finalized_at = $1, cleaned_ref = $2, updated_at = $1 WHERE id = $3 AND finalized = false`,
		commit.Result.FinalizedAt, sess.CleanedRef, sess.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark session %s finalized", sess.ID)
	}
	if tag.RowsAffected() == 0 {
		if _, err := lockSession(ctx, tx, sess.ID); err != nil {
			return err
		}
		return eris.Wrapf(model.ErrSessionFinalized, "session %s", sess.ID)
	}

	if err := mergeDecisions(ctx, tx, sess.ID, sess.Changes); err != nil {
		return err
	}
	if err := saveSnapshotPg(ctx, tx, commit.Cleaned); err != nil {
		return err
	}

	entries := make([][]any, len(commit.Result.Changelog))
	for i, e := range commit.Result.Changelog {
		entries[i] = []any{
			e.ID, e.SessionID, e.ChangeID, e.RowIndex, e.Column, string(e.Category), string(e.Action),
			e.OriginalValue, e.AppliedValue, e.Reason, e.ModifiedBy, e.CreatedAt,
		}
	}
	if _, err := db.CopyFrom(ctx, tx, "changelog", changelogColumns, entries); err != nil {
		return eris.Wrapf(err, "postgres: copy changelog for %s", sess.ID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO finalize_results (session_id, result, created_at) VALUES ($1, $2, $3)`,
		sess.ID, resultJSON, commit.Result.FinalizedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert finalize result %s", sess.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit finalize")
}

func (s *PostgresStore) GetFinalizeResult(ctx context.Context, sessionID string) (*model.FinalizeResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, pgSelectResult, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "finalize result %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get finalize result %s", sessionID)
	}

	var res model.FinalizeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal finalize result")
	}
	return &res, nil
}

func (s *PostgresStore) ListChangelog(ctx context.Context, sessionID string) ([]model.ChangelogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, change_id, row_index, column_name, category, action, original_value, applied_value, reason, modified_by, created_at
		 FROM changelog WHERE session_id = $1 ORDER BY row_index, column_name`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list changelog %s", sessionID)
	}
	defer rows.Close()

	var out []model.ChangelogEntry
	for rows.Next() {
		var e model.ChangelogEntry
		var category, action string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ChangeID, &e.RowIndex, &e.Column, &category, &action,
			&e.OriginalValue, &e.AppliedValue, &e.Reason, &e.ModifiedBy, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan changelog")
		}
		e.Category = model.Category(category)
		e.Action = model.Action(action)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list changelog iterate")
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save snapshot")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := saveSnapshotPg(ctx, tx, snap); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit snapshot")
}

func (s *PostgresStore) GetSnapshotPage(ctx context.Context, ref string, offset, limit int) (*model.SnapshotPage, error) {
	var columnsJSON []byte
	var total int
	err := s.pool.QueryRow(ctx, pgSelectSnapshot, ref).Scan(&columnsJSON, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "snapshot %s", ref)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", ref)
	}

	page := &model.SnapshotPage{Ref: ref, Total: total}
	if err := json.Unmarshal(columnsJSON, &page.Columns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot columns")
	}
	page.Offset, page.Limit = pageBounds(offset, limit, total)
	if page.Limit == 0 {
		return page, nil
	}

	rows, err := s.pool.Query(ctx, pgPageSnapshot, ref, page.Offset, page.Limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: page snapshot %s", ref)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot row")
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, row)
	}
	return page, eris.Wrap(rows.Err(), "postgres: page snapshot iterate")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context) ([]model.SnapshotInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT ref, columns, row_count FROM snapshots ORDER BY ref`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []model.SnapshotInfo
	for rows.Next() {
		var info model.SnapshotInfo
		var columnsJSON []byte
		if err := rows.Scan(&info.Ref, &columnsJSON, &info.RowCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot info")
		}
		if err := json.Unmarshal(columnsJSON, &info.Columns); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal snapshot columns")
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) (bool, error) {
	var finalized bool
	err := tx.QueryRow(ctx, pgLockSession, sessionID).Scan(&finalized)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(model.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: lock session %s", sessionID)
	}
	return finalized, nil
}

func mergeDecisions(ctx context.Context, tx pgx.Tx, sessionID string, changes []model.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}
	rows := make([][]any, len(changes))
	for i := range changes {
		c := &changes[i]
		rows[i] = []any{c.ID, sessionID, string(c.Status), c.OverrideValue, c.Reason, c.DecidedBy, c.DecidedAt}
	}

	n, err := db.BulkUpdate(ctx, tx, decisionMerge, rows)
	if err != nil {
		return eris.Wrapf(err, "postgres: save decisions for %s", sessionID)
	}
	if n != int64(len(rows)) {
		return eris.Wrapf(model.ErrNotFound, "%d of %d changes in session %s", int64(len(rows))-n, len(rows), sessionID)
	}
	return nil
}

func saveSnapshotPg(ctx context.Context, tx pgx.Tx, snap *model.Snapshot) error {
	columnsJSON, err := json.Marshal(snap.Columns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot columns")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (ref, columns, row_count, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (ref) DO UPDATE SET columns = EXCLUDED.columns, row_count = EXCLUDED.row_count, created_at = EXCLUDED.created_at`,
		snap.Ref, columnsJSON, len(snap.Rows), time.Now().UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert snapshot %s", snap.Ref)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM snapshot_rows WHERE ref = $1 AND row_index >= $2`, snap.Ref, len(snap.Rows),
	); err != nil {
		return eris.Wrapf(err, "postgres: trim snapshot rows %s", snap.Ref)
	}

	rows := make([][]any, len(snap.Rows))
	for i, row := range snap.Rows {
		data, err := encodeRow(row)
		if err != nil {
			return err
		}
		rows[i] = []any{snap.Ref, i, string(data)}
	}
	if _, err := db.BulkUpsert(ctx, tx, snapshotRowMerge, rows); err != nil {
		return eris.Wrapf(err, "postgres: upsert snapshot rows %s", snap.Ref)
	}
	return nil
}
