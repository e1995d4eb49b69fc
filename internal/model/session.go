package model

import "time"

// ReviewSession is one review pass over one dataset version.
type ReviewSession struct {
	ID          string         `json:"id"`
	SourceRef   string         `json:"source_ref"`
	Changes     []ChangeRecord `json:"changes,omitempty"`
	Finalized   bool           `json:"finalized"`
	FinalizedAt *time.Time     `json:"finalized_at,omitempty"`
	CleanedRef  string         `json:"cleaned_ref,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PendingCount returns the number of records still in needs_review.
func (s *ReviewSession) PendingCount() int {
	n := 0
	for i := range s.Changes {
		if s.Changes[i].Status == StatusNeedsReview {
			n++
		}
	}
	return n
}

// Action is what a changelog entry records was done to a cell.
type Action string

const (
	ActionAccept     Action = "accept"
	ActionAutoAccept Action = "auto_accept"
	ActionReject     Action = "reject"
	ActionOverride   Action = "override"
)

// ActionFor maps a decided status to its changelog action. ok is false for
// needs_review, which never produces an entry.
func ActionFor(s Status) (Action, bool) {
	switch s {
	case StatusAccepted:
		return ActionAccept, true
	case StatusAutoAccepted:
		return ActionAutoAccept, true
	case StatusRejected:
		return ActionReject, true
	case StatusOverridden:
		return ActionOverride, true
	default:
		return "", false
	}
}

// ChangelogEntry is an append-only audit record written at finalize.
type ChangelogEntry struct {
	ID            string    `json:"id" yaml:"id"`
	SessionID     string    `json:"session_id" yaml:"session_id"`
	ChangeID      string    `json:"change_id" yaml:"change_id"`
	RowIndex      int       `json:"row_index" yaml:"row"`
	Column        string    `json:"column" yaml:"column"`
	Category      Category  `json:"category" yaml:"category"`
	Action        Action    `json:"action" yaml:"action"`
	OriginalValue string    `json:"original_value" yaml:"original_value"`
	AppliedValue  string    `json:"applied_value" yaml:"applied_value"`
	Reason        string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	ModifiedBy    string    `json:"modified_by" yaml:"modified_by"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

// FinalizeResult summarizes a committed finalize transaction.
type FinalizeResult struct {
	SessionID     string           `json:"session_id"`
	CleanedRef    string           `json:"cleaned_ref"`
	FinalizedAt   time.Time        `json:"finalized_at"`
	RowsTotal     int              `json:"rows_total"`
	RowsModified  int              `json:"rows_modified"`
	CellsModified int              `json:"cells_modified"`
	Accepted      int              `json:"accepted"`
	AutoAccepted  int              `json:"auto_accepted"`
	Rejected      int              `json:"rejected"`
	Overridden    int              `json:"overridden"`
	Changelog     []ChangelogEntry `json:"changelog"`
}

// Suggestion is one raw change proposal from the upstream cleaning stage.
type Suggestion struct {
	RowIndex       int      `json:"row_index" validate:"gte=0"`
	Column         string   `json:"column" validate:"required"`
	Category       Category `json:"category" validate:"required"`
	OriginalValue  string   `json:"original_value"`
	SuggestedValue string   `json:"suggested_value"`
	Confidence     float64  `json:"confidence" validate:"gte=0,lte=1"`
	Status         Status   `json:"status,omitempty" validate:"omitempty,oneof=auto_accepted needs_review"`
}
