// Package monitoring summarizes review progress for a session and across
// the store.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// SessionStats is a point-in-time view of one session's review progress.
type SessionStats struct {
	SessionID  string `json:"session_id"`
	SourceRef  string `json:"source_ref"`
	Finalized  bool   `json:"finalized"`
	CleanedRef string `json:"cleaned_ref,omitempty"`

	Total   int `json:"total"`
	Pending int `json:"pending"`
	// Decided counts records a reviewer acted on explicitly.
	Decided int `json:"decided"`

	ByStatus          map[model.Status]int   `json:"by_status"`
	ByCategory        map[model.Category]int `json:"by_category"`
	PendingByCategory map[model.Category]int `json:"pending_by_category"`

	AvgConfidence float64   `json:"avg_confidence"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Ready reports whether finalize would pass its pending check.
func (s *SessionStats) Ready() bool {
	return !s.Finalized && s.Pending == 0
}

// ForSession tallies sess.
func ForSession(sess *model.ReviewSession) *SessionStats {
	st := &SessionStats{
		SessionID:         sess.ID,
		SourceRef:         sess.SourceRef,
		Finalized:         sess.Finalized,
		CleanedRef:        sess.CleanedRef,
		Total:             len(sess.Changes),
		ByStatus:          make(map[model.Status]int),
		ByCategory:        make(map[model.Category]int),
		PendingByCategory: make(map[model.Category]int),
		CollectedAt:       time.Now().UTC(),
	}

	var conf float64
	for i := range sess.Changes {
		c := &sess.Changes[i]
		st.ByStatus[c.Status]++
		st.ByCategory[c.Category]++
		conf += c.Confidence
		switch c.Status {
		case model.StatusNeedsReview:
			st.Pending++
			st.PendingByCategory[c.Category]++
		case model.StatusAccepted, model.StatusRejected, model.StatusOverridden:
			st.Decided++
		}
	}
	if st.Total > 0 {
		st.AvgConfidence = conf / float64(st.Total)
	}
	return st
}

// Overview aggregates sessions in the store.
type Overview struct {
	Sessions       int       `json:"sessions"`
	Finalized      int       `json:"finalized"`
	Open           int       `json:"open"`
	TotalChanges   int       `json:"total_changes"`
	PendingChanges int       `json:"pending_changes"`
	Snapshots      int       `json:"snapshots"`
	CollectedAt    time.Time `json:"collected_at"`
}

// Collector gathers store-wide review metrics.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect pages through every session summary and snapshot.
func (c *Collector) Collect(ctx context.Context) (*Overview, error) {
	ov := &Overview{CollectedAt: time.Now().UTC()}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		page, err := c.store.ListSessions(ctx, store.SessionFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list sessions")
		}
		for _, s := range page {
			ov.Sessions++
			if s.Finalized {
				ov.Finalized++
			} else {
				ov.Open++
				ov.PendingChanges += s.PendingChanges
			}
			ov.TotalChanges += s.TotalChanges
		}
		if len(page) < pageSize {
			break
		}
	}

	snaps, err := c.store.ListSnapshots(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list snapshots")
	}
	ov.Snapshots = len(snaps)

	return ov, nil
}
