package model

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the review state of a ChangeRecord.
type Status string

const (
	StatusAutoAccepted Status = "auto_accepted"
	StatusNeedsReview  Status = "needs_review"
	StatusAccepted     Status = "accepted"
	StatusRejected     Status = "rejected"
	StatusOverridden   Status = "overridden"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAutoAccepted, StatusNeedsReview, StatusAccepted, StatusRejected, StatusOverridden:
		return true
	default:
		return false
	}
}

// Initial reports whether s may be assigned by the suggestion generator.
func (s Status) Initial() bool {
	return s == StatusAutoAccepted || s == StatusNeedsReview
}

// ParseStatus converts a user-supplied status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", eris.Errorf("unknown status %q", s)
	}
	return st, nil
}

// ChangeRecord is one suggested edit to one cell together with its review decision.
type ChangeRecord struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	RowIndex       int        `json:"row_index"`
	Column         string     `json:"column"`
	Category       Category   `json:"category"`
	OriginalValue  string     `json:"original_value"`
	SuggestedValue string     `json:"suggested_value"`
	Confidence     float64    `json:"confidence"`
	Status         Status     `json:"status"`
	OverrideValue  *string    `json:"override_value,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	DecidedBy      string     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
}

// EffectiveValue is the value the cell takes if the record is applied:
// the override when present, the suggestion otherwise.
func (c *ChangeRecord) EffectiveValue() string {
	if c.OverrideValue != nil {
		return *c.OverrideValue
	}
	return c.SuggestedValue
}

// CellKey identifies the addressed cell within a session.
func (c *ChangeRecord) CellKey() string {
	return CellKey(c.RowIndex, c.Column)
}

// CellKey formats a (row, column) pair as a map key.
func CellKey(row int, column string) string {
	return strconv.Itoa(row) + ":" + column
}

// Validate checks the per-record invariants.
func (c *ChangeRecord) Validate() error {
	if c.RowIndex < 0 {
		return eris.Errorf("change %s: negative row index %d", c.ID, c.RowIndex)
	}
	if c.Column == "" {
		return eris.Errorf("change %s: empty column", c.ID)
	}
	if !c.Category.Valid() {
		return eris.Errorf("change %s: unknown category %q", c.ID, c.Category)
	}
	if !c.Status.Valid() {
		return eris.Errorf("change %s: unknown status %q", c.ID, c.Status)
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return eris.Errorf("change %s: confidence %v outside [0,1]", c.ID, c.Confidence)
	}
	if (c.Status == StatusOverridden) != (c.OverrideValue != nil) {
		return eris.Errorf("change %s: override value inconsistent with status %s", c.ID, c.Status)
	}
	return nil
}

// SortChanges orders records by row index, then column.
func SortChanges(changes []ChangeRecord) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].RowIndex != changes[j].RowIndex {
			return changes[i].RowIndex < changes[j].RowIndex
		}
		return changes[i].Column < changes[j].Column
	})
}
