// Package finalize materializes a fully reviewed session into a cleaned
// snapshot and an append-only changelog in one durable write.
package finalize

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/resilience"
	"github.com/sells-group/reconcile-cli/internal/snapshot"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// Store is the persistence a Transaction needs.
type Store interface {
	snapshot.Provider
	CommitFinalize(ctx context.Context, commit store.FinalizeCommit) error
	GetFinalizeResult(ctx context.Context, sessionID string) (*model.FinalizeResult, error)
}

// Options configures a Transaction.
type Options struct {
	// PageSize is the number of source rows read per page.
	PageSize int
	// Retry governs replays of the durable write on transient failures.
	Retry resilience.RetryConfig
}

// Transaction finalizes review sessions.
type Transaction struct {
	store Store
	opts  Options
	now   func() time.Time
}

// New creates a Transaction over st.
func New(st Store, opts Options) *Transaction {
	if opts.PageSize <= 0 {
		opts.PageSize = snapshot.DefaultPageSize
	}
	return &Transaction{
		store: st,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CleanedRef is the snapshot ref a finalized session's output is stored under.
func CleanedRef(sess *model.ReviewSession) string {
	return sess.SourceRef + "@cleaned/" + sess.ID
}

// Finalize reconciles sess against its source snapshot and commits the
// cleaned rows, final record states and changelog atomically. A finalized
// session returns its stored result. While records need review it fails
// with *model.PendingReviewsError and writes nothing. Once the write starts
// it ignores cancellation; a failed write returns *model.PersistenceError and
// leaves sess mutable. sess is marked finalized only after commit.
func (t *Transaction) Finalize(ctx context.Context, sess *model.ReviewSession, actor string) (*model.FinalizeResult, error) {
	log := zap.L().With(zap.String("session_id", sess.ID))

	if sess.Finalized {
		res, err := t.store.GetFinalizeResult(ctx, sess.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "finalize: load result for %s", sess.ID)
		}
		finalizeTotal.WithLabelValues("cached").Inc()
		return res, nil
	}

	if n := sess.PendingCount(); n > 0 {
		finalizeTotal.WithLabelValues("pending").Inc()
		return nil, &model.PendingReviewsError{Count: n}
	}

	start := time.Now()
	log.Info("finalize started", zap.Int("changes", len(sess.Changes)), zap.String("actor", actor))

	source, err := snapshot.ReadAll(ctx, t.store, sess.SourceRef, t.opts.PageSize)
	if err != nil {
		finalizeTotal.WithLabelValues("error").Inc()
		return nil, eris.Wrapf(err, "finalize: read source %s", sess.SourceRef)
	}

	cleanedRef := CleanedRef(sess)
	cleaned, stats, err := Apply(source, sess.Changes, cleanedRef)
	if err != nil {
		finalizeTotal.WithLabelValues("error").Inc()
		return nil, eris.Wrapf(err, "finalize: reconcile session %s", sess.ID)
	}

	finalizedAt := t.now()
	result := &model.FinalizeResult{
		SessionID:     sess.ID,
		CleanedRef:    cleanedRef,
		FinalizedAt:   finalizedAt,
		RowsTotal:     stats.RowsTotal,
		RowsModified:  stats.RowsModified,
		CellsModified: stats.CellsModified,
		Accepted:      stats.Accepted,
		AutoAccepted:  stats.AutoAccepted,
		Rejected:      stats.Rejected,
		Overridden:    stats.Overridden,
		Changelog:     Changelog(sess, actor, finalizedAt),
	}

	committed := *sess
	committed.Finalized = true
	committed.FinalizedAt = &finalizedAt
	committed.CleanedRef = cleanedRef
	committed.UpdatedAt = finalizedAt

	// Last cancellation point; the write below runs to completion or rolls back.
	if err := ctx.Err(); err != nil {
		finalizeTotal.WithLabelValues("cancelled").Inc()
		return nil, eris.Wrapf(err, "finalize: session %s", sess.ID)
	}

	if err := t.commit(context.WithoutCancel(ctx), store.FinalizeCommit{
		Session: &committed,
		Cleaned: cleaned,
		Result:  result,
	}); err != nil {
		if errors.Is(err, model.ErrSessionFinalized) {
			finalizeTotal.WithLabelValues("conflict").Inc()
			return nil, eris.Wrapf(err, "finalize: session %s", sess.ID)
		}
		finalizeTotal.WithLabelValues("error").Inc()
		log.Error("finalize write failed", zap.Error(err))
		return nil, &model.PersistenceError{Err: err}
	}

	sess.Finalized = true
	sess.FinalizedAt = &finalizedAt
	sess.CleanedRef = cleanedRef
	sess.UpdatedAt = finalizedAt

	finalizeTotal.WithLabelValues("success").Inc()
	finalizeDuration.Observe(time.Since(start).Seconds())
	log.Info("finalize committed",
		zap.String("cleaned_ref", cleanedRef),
		zap.Int("rows_modified", stats.RowsModified),
		zap.Int("cells_modified", stats.CellsModified),
		zap.Int("changelog", len(result.Changelog)),
	)
	return result, nil
}

func (t *Transaction) commit(ctx context.Context, c store.FinalizeCommit) error {
	cfg := t.opts.Retry
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, model.ErrSessionFinalized) && resilience.IsTransient(err)
	}
	cfg.OnRetry = resilience.RetryLogger("finalize commit", zap.String("session_id", c.Session.ID))
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return t.store.CommitFinalize(ctx, c)
	})
}

// Changelog builds one entry per decided record in session order. An entry
// is attributed to the record's decider, or to actor for records nobody
// decided explicitly.
func Changelog(sess *model.ReviewSession, actor string, at time.Time) []model.ChangelogEntry {
	out := make([]model.ChangelogEntry, 0, len(sess.Changes))
	for i := range sess.Changes {
		rec := &sess.Changes[i]
		action, ok := model.ActionFor(rec.Status)
		if !ok {
			continue
		}
		by := rec.DecidedBy
		if by == "" {
			by = actor
		}
		out = append(out, model.ChangelogEntry{
			ID:            uuid.NewString(),
			SessionID:     sess.ID,
			ChangeID:      rec.ID,
			RowIndex:      rec.RowIndex,
			Column:        rec.Column,
			Category:      rec.Category,
			Action:        action,
			OriginalValue: rec.OriginalValue,
			AppliedValue:  AppliedValue(rec),
			Reason:        rec.Reason,
			ModifiedBy:    by,
			CreatedAt:     at,
		})
	}
	return out
}
