package review

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// DefaultAutoAcceptThreshold is the confidence at or above which an
// unstated suggestion starts as auto_accepted.
const DefaultAutoAcceptThreshold = 0.95

// NewSession builds an unsaved session from upstream suggestions. A
// suggestion without a status is auto-accepted when its confidence reaches
// threshold and needs review otherwise. Two suggestions for the same cell
// fail with model.ErrDuplicateCell.
func NewSession(sourceRef string, suggestions []model.Suggestion, threshold float64) (*model.ReviewSession, error) {
	if sourceRef == "" {
		return nil, eris.New("review: source ref is required")
	}
	if len(suggestions) == 0 {
		return nil, eris.New("review: no suggestions to review")
	}

	now := time.Now().UTC()
	sess := &model.ReviewSession{
		ID:        uuid.NewString(),
		SourceRef: sourceRef,
		Changes:   make([]model.ChangeRecord, 0, len(suggestions)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	seen := make(map[string]bool, len(suggestions))
	for i := range suggestions {
		s := &suggestions[i]
		if err := s.Validate(); err != nil {
			return nil, eris.Wrapf(err, "review: suggestion %d", i)
		}

		key := model.CellKey(s.RowIndex, s.Column)
		if seen[key] {
			return nil, eris.Wrapf(model.ErrDuplicateCell, "review: row %d column %q", s.RowIndex, s.Column)
		}
		seen[key] = true

		status := s.Status
		if status == "" {
			status = model.StatusNeedsReview
			if s.Confidence >= threshold {
				status = model.StatusAutoAccepted
			}
		}

		sess.Changes = append(sess.Changes, model.ChangeRecord{
			ID:             uuid.NewString(),
			SessionID:      sess.ID,
			RowIndex:       s.RowIndex,
			Column:         s.Column,
			Category:       s.Category,
			OriginalValue:  s.OriginalValue,
			SuggestedValue: s.SuggestedValue,
			Confidence:     s.Confidence,
			Status:         status,
		})
	}

	model.SortChanges(sess.Changes)
	return sess, nil
}
