package store

import (
	"context"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// SessionFilter specifies criteria for listing review sessions.
type SessionFilter struct {
	SourceRef string `json:"source_ref,omitempty"`
	Finalized *bool  `json:"finalized,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// SessionSummary is a session header with record counts but without records.
type SessionSummary struct {
	model.ReviewSession
	TotalChanges   int `json:"total_changes"`
	PendingChanges int `json:"pending_changes"`
}

// FinalizeCommit is everything a finalize transaction writes at once.
type FinalizeCommit struct {
	// Session carries final record states plus Finalized, FinalizedAt and CleanedRef.
	Session *model.ReviewSession
	Cleaned *model.Snapshot
	Result  *model.FinalizeResult
}

// Store defines the persistence interface for review sessions and snapshots.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *model.ReviewSession) error
	GetSession(ctx context.Context, sessionID string) (*model.ReviewSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error)
	SaveDecisions(ctx context.Context, sessionID string, changes []model.ChangeRecord) error

	// Finalize
	CommitFinalize(ctx context.Context, commit FinalizeCommit) error
	GetFinalizeResult(ctx context.Context, sessionID string) (*model.FinalizeResult, error)
	ListChangelog(ctx context.Context, sessionID string) ([]model.ChangelogEntry, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	GetSnapshotPage(ctx context.Context, ref string, offset, limit int) (*model.SnapshotPage, error)
	ListSnapshots(ctx context.Context) ([]model.SnapshotInfo, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func (f SessionFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func validateCommit(commit FinalizeCommit) error {
	switch {
	case commit.Session == nil:
		return errMissing("session")
	case commit.Cleaned == nil:
		return errMissing("cleaned snapshot")
	case commit.Result == nil:
		return errMissing("finalize result")
	}
	return nil
}
