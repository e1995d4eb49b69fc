package finalize

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// ErrRowOutOfRange is returned when a change addresses a row the source
// snapshot does not have.
var ErrRowOutOfRange = eris.New("change addresses a row outside the source snapshot")

// Stats counts what Apply did.
type Stats struct {
	RowsTotal     int
	RowsModified  int
	CellsModified int
	Accepted      int
	AutoAccepted  int
	Rejected      int
	Overridden    int
}

// Apply reconciles decided changes against source and returns the cleaned
// snapshot. Accepted and auto-accepted records take the suggestion,
// overridden records take the override and rejected records keep the
// source value. Rows without records are copied unchanged. Columns a record
// addresses but source lacks are appended in first-seen order. source is not
// modified. A needs_review record is an error.
func Apply(source *model.Snapshot, changes []model.ChangeRecord, ref string) (*model.Snapshot, Stats, error) {
	out := &model.Snapshot{
		Ref:     ref,
		Columns: append([]string(nil), source.Columns...),
		Rows:    make([]model.Row, len(source.Rows)),
	}
	for i, row := range source.Rows {
		out.Rows[i] = row.Clone()
	}

	stats := Stats{RowsTotal: len(source.Rows)}
	modifiedRows := make(map[int]bool)

	for i := range changes {
		rec := &changes[i]
		if rec.RowIndex < 0 || rec.RowIndex >= len(out.Rows) {
			return nil, Stats{}, eris.Wrapf(ErrRowOutOfRange, "change %s row %d (snapshot has %d rows)", rec.ID, rec.RowIndex, len(out.Rows))
		}
		if !out.HasColumn(rec.Column) {
			out.Columns = append(out.Columns, rec.Column)
		}

		current := source.Rows[rec.RowIndex][rec.Column]
		if current != rec.OriginalValue {
			zap.L().Warn("source value drifted from change original",
				zap.String("change_id", rec.ID),
				zap.Int("row", rec.RowIndex),
				zap.String("column", rec.Column),
			)
		}

		var applied string
		switch rec.Status {
		case model.StatusAccepted:
			stats.Accepted++
			applied = rec.SuggestedValue
		case model.StatusAutoAccepted:
			stats.AutoAccepted++
			applied = rec.SuggestedValue
		case model.StatusOverridden:
			stats.Overridden++
			applied = rec.EffectiveValue()
		case model.StatusRejected:
			stats.Rejected++
			applied = rec.OriginalValue
		default:
			return nil, Stats{}, eris.Errorf("change %s is still %s", rec.ID, rec.Status)
		}

		if applied == current {
			continue
		}
		setCell(out.Rows[rec.RowIndex], rec.Column, applied)
		stats.CellsModified++
		modifiedRows[rec.RowIndex] = true
	}

	stats.RowsModified = len(modifiedRows)
	return out, stats, nil
}

func setCell(row model.Row, column, value string) {
	if value == "" {
		delete(row, column)
		return
	}
	row[column] = value
}

// AppliedValue is the value a decided record leaves in its cell.
func AppliedValue(rec *model.ChangeRecord) string {
	switch rec.Status {
	case model.StatusAccepted, model.StatusAutoAccepted:
		return rec.SuggestedValue
	case model.StatusOverridden:
		return rec.EffectiveValue()
	default:
		return rec.OriginalValue
	}
}
