package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reconcile-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func strPtr(s string) *string { return &s }

func testSession() *model.ReviewSession {
	return &model.ReviewSession{
		SourceRef: "contacts.csv",
		Changes: []model.ChangeRecord{
			{RowIndex: 1, Column: "phone", Category: model.CategoryPhone, OriginalValue: "555 0100", SuggestedValue: "+1-555-0100", Confidence: 0.97, Status: model.StatusAutoAccepted},
			{RowIndex: 0, Column: "email", Category: model.CategoryEmail, OriginalValue: "bob[at]x.com", SuggestedValue: "bob@x.com", Confidence: 0.62, Status: model.StatusNeedsReview},
			{RowIndex: 0, Column: "company", Category: model.CategoryCompany, OriginalValue: "acme", SuggestedValue: "Acme Inc", Confidence: 0.70, Status: model.StatusNeedsReview},
		},
	}
}

func testSnapshot(ref string) *model.Snapshot {
	return &model.Snapshot{
		Ref:     ref,
		Columns: []string{"email", "company", "phone"},
		Rows: []model.Row{
			{"email": "bob[at]x.com", "company": "acme", "phone": ""},
			{"email": "amy@y.com", "company": "Y Corp", "phone": "555 0100"},
			{"email": "", "company": "", "phone": ""},
		},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetSession", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sess := testSession()
		require.NoError(t, s.CreateSession(ctx, sess))
		assert.NotEmpty(t, sess.ID)
		for _, c := range sess.Changes {
			assert.NotEmpty(t, c.ID)
			assert.Equal(t, sess.ID, c.SessionID)
		}

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "contacts.csv", got.SourceRef)
		assert.False(t, got.Finalized)
		require.Len(t, got.Changes, 3)

		// Stable order: row_index, then column.
		assert.Equal(t, "company", got.Changes[0].Column)
		assert.Equal(t, "email", got.Changes[1].Column)
		assert.Equal(t, "phone", got.Changes[2].Column)
		assert.Equal(t, model.StatusAutoAccepted, got.Changes[2].Status)
		assert.InDelta(t, 0.97, got.Changes[2].Confidence, 1e-9)
		assert.Nil(t, got.Changes[0].OverrideValue)
		assert.Nil(t, got.Changes[0].DecidedAt)
	})

	t.Run("GetSessionNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSession(context.Background(), "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("DuplicateCellRejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sess := testSession()
		sess.Changes = append(sess.Changes, model.ChangeRecord{
			RowIndex: 0, Column: "email", Category: model.CategoryEmail, SuggestedValue: "other", Confidence: 0.5, Status: model.StatusNeedsReview,
		})
		err := s.CreateSession(ctx, sess)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrDuplicateCell)

		_, err = s.GetSession(ctx, sess.ID)
		assert.ErrorIs(t, err, model.ErrNotFound, "failed create must not leave a partial session")
	})

	t.Run("ListSessions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := testSession()
		a.CreatedAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, s.CreateSession(ctx, a))

		b := testSession()
		b.SourceRef = "leads.xlsx"
		require.NoError(t, s.CreateSession(ctx, b))

		all, err := s.ListSessions(ctx, SessionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, b.ID, all[0].ID, "newest first")
		assert.Equal(t, 3, all[0].TotalChanges)
		assert.Equal(t, 2, all[0].PendingChanges)
		assert.Empty(t, all[0].Changes)

		bySource, err := s.ListSessions(ctx, SessionFilter{SourceRef: "contacts.csv"})
		require.NoError(t, err)
		require.Len(t, bySource, 1)
		assert.Equal(t, a.ID, bySource[0].ID)

		paged, err := s.ListSessions(ctx, SessionFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, a.ID, paged[0].ID)

		yes := true
		finalized, err := s.ListSessions(ctx, SessionFilter{Finalized: &yes})
		require.NoError(t, err)
		assert.Empty(t, finalized)
	})

	t.Run("SaveDecisions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sess := testSession()
		require.NoError(t, s.CreateSession(ctx, sess))

		now := time.Now().UTC().Truncate(time.Second)
		c := sess.Changes[1]
		c.Status = model.StatusOverridden
		c.OverrideValue = strPtr("bob@example.com")
		c.Reason = "client request"
		c.DecidedBy = "alice"
		c.DecidedAt = &now
		require.NoError(t, s.SaveDecisions(ctx, sess.ID, []model.ChangeRecord{c}))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		email := got.Changes[1]
		assert.Equal(t, model.StatusOverridden, email.Status)
		require.NotNil(t, email.OverrideValue)
		assert.Equal(t, "bob@example.com", *email.OverrideValue)
		assert.Equal(t, "client request", email.Reason)
		assert.Equal(t, "alice", email.DecidedBy)
		require.NotNil(t, email.DecidedAt)
		assert.True(t, now.Equal(*email.DecidedAt))

		// Unknown change ids fail the whole batch.
		err = s.SaveDecisions(ctx, sess.ID, []model.ChangeRecord{{ID: "missing", Status: model.StatusAccepted}})
		assert.ErrorIs(t, err, model.ErrNotFound)

		err = s.SaveDecisions(ctx, "no-session", nil)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("CommitFinalize", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		src := testSnapshot("contacts.csv")
		require.NoError(t, s.SaveSnapshot(ctx, src))

		sess := testSession()
		require.NoError(t, s.CreateSession(ctx, sess))

		commit := finalizeCommitFor(sess)
		require.NoError(t, s.CommitFinalize(ctx, commit))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, got.Finalized)
		require.NotNil(t, got.FinalizedAt)
		assert.Equal(t, commit.Session.CleanedRef, got.CleanedRef)
		assert.Equal(t, model.StatusAccepted, got.Changes[1].Status)

		page, err := s.GetSnapshotPage(ctx, commit.Session.CleanedRef, 0, 10)
		require.NoError(t, err)
		require.Len(t, page.Rows, 1)
		assert.Equal(t, "bob@x.com", page.Rows[0]["email"])

		res, err := s.GetFinalizeResult(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, commit.Result.CleanedRef, res.CleanedRef)
		assert.Equal(t, 1, res.CellsModified)

		log, err := s.ListChangelog(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, model.ActionAccept, log[0].Action)
		assert.Equal(t, "bob@x.com", log[0].AppliedValue)
		assert.Equal(t, model.CategoryEmail, log[0].Category)

		// Optimistic check: a second commit loses.
		err = s.CommitFinalize(ctx, finalizeCommitFor(sess))
		assert.ErrorIs(t, err, model.ErrSessionFinalized)

		err = s.SaveDecisions(ctx, sess.ID, nil)
		assert.ErrorIs(t, err, model.ErrSessionFinalized)
	})

	t.Run("CommitFinalizeRollsBack", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sess := testSession()
		require.NoError(t, s.CreateSession(ctx, sess))

		commit := finalizeCommitFor(sess)
		// Duplicate changelog ids violate the primary key mid-transaction.
		commit.Result.Changelog = append(commit.Result.Changelog, commit.Result.Changelog[0])
		require.Error(t, s.CommitFinalize(ctx, commit))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, got.Finalized)
		assert.Equal(t, model.StatusNeedsReview, got.Changes[1].Status)

		_, err = s.GetSnapshotPage(ctx, commit.Session.CleanedRef, 0, 10)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.GetFinalizeResult(ctx, sess.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)

		log, err := s.ListChangelog(ctx, sess.ID)
		require.NoError(t, err)
		assert.Empty(t, log)
	})

	t.Run("CommitFinalizeValidates", func(t *testing.T) {
		s := newStore(t)
		err := s.CommitFinalize(context.Background(), FinalizeCommit{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing session")
	})

	t.Run("SnapshotPaging", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		snap := testSnapshot("contacts.csv")
		require.NoError(t, s.SaveSnapshot(ctx, snap))

		page, err := s.GetSnapshotPage(ctx, "contacts.csv", 1, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 1, page.Offset)
		assert.Equal(t, 1, page.Limit)
		assert.Equal(t, snap.Columns, page.Columns)
		require.Len(t, page.Rows, 1)
		assert.Equal(t, "amy@y.com", page.Rows[0]["email"])

		tail, err := s.GetSnapshotPage(ctx, "contacts.csv", 2, 50)
		require.NoError(t, err)
		assert.Len(t, tail.Rows, 1)

		past, err := s.GetSnapshotPage(ctx, "contacts.csv", 10, 5)
		require.NoError(t, err)
		assert.Empty(t, past.Rows)

		// Re-saving replaces rows.
		snap.Rows = snap.Rows[:1]
		require.NoError(t, s.SaveSnapshot(ctx, snap))
		page, err = s.GetSnapshotPage(ctx, "contacts.csv", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		assert.Len(t, page.Rows, 1)

		infos, err := s.ListSnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, 1, infos[0].RowCount)

		_, err = s.GetSnapshotPage(ctx, "missing", 0, 10)
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

// finalizeCommitFor accepts the email change and builds a one-row cleaned snapshot.
func finalizeCommitFor(sess *model.ReviewSession) FinalizeCommit {
	now := time.Now().UTC().Truncate(time.Second)
	final := *sess
	final.Changes = append([]model.ChangeRecord(nil), sess.Changes...)
	final.Changes[1].Status = model.StatusAccepted
	final.Changes[1].DecidedBy = "bob"
	final.Changes[1].DecidedAt = &now
	final.Changes[2].Status = model.StatusRejected
	final.Finalized = true
	final.FinalizedAt = &now
	final.CleanedRef = sess.SourceRef + "@cleaned/" + sess.ID

	entry := model.ChangelogEntry{
		ID:            "log-" + sess.ID,
		SessionID:     sess.ID,
		ChangeID:      final.Changes[1].ID,
		RowIndex:      0,
		Column:        "email",
		Category:      model.CategoryEmail,
		Action:        model.ActionAccept,
		OriginalValue: "bob[at]x.com",
		AppliedValue:  "bob@x.com",
		ModifiedBy:    "bob",
		CreatedAt:     now,
	}
	return FinalizeCommit{
		Session: &final,
		Cleaned: &model.Snapshot{
			Ref:     final.CleanedRef,
			Columns: []string{"email"},
			Rows:    []model.Row{{"email": "bob@x.com"}},
		},
		Result: &model.FinalizeResult{
			SessionID:     sess.ID,
			CleanedRef:    final.CleanedRef,
			FinalizedAt:   now,
			RowsTotal:     1,
			RowsModified:  1,
			CellsModified: 1,
			Accepted:      1,
			Rejected:      1,
			AutoAccepted:  1,
			Changelog:     []model.ChangelogEntry{entry},
		},
	}
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
