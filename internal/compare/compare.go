// Package compare aligns two tabular snapshots and classifies every shared
// cell as equal or changed.
package compare

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/reconcile-cli/internal/filter"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/snapshot"
)

var cellsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reconcile_compare_cells_total",
	Help: "Compared cells by result",
}, []string{"result"})

// Options restricts a comparison.
type Options struct {
	// Filter limits rows to those touched by one of its categories. Other
	// predicates are ignored.
	Filter *filter.Set
	// Changes supplies the records used for category restriction. Without
	// them, changed cells are classified by column mapping.
	Changes []model.ChangeRecord
	// Engine resolves categories; nil uses the default mapping.
	Engine *filter.Engine
}

// Compare aligns rows by position up to the shorter snapshot and columns by
// name. Columns present on one side only are reported as added or removed
// and never compared. Missing and empty cells are equal; whitespace is
// significant.
func Compare(original, cleaned *model.Snapshot, opts Options) *model.ComparisonResult {
	engine := opts.Engine
	if engine == nil {
		engine = filter.NewEngine(nil)
	}

	res := &model.ComparisonResult{
		Rows:         []model.RowDiff{},
		OriginalRows: len(original.Rows),
		CleanedRows:  len(cleaned.Rows),
	}
	res.Columns, res.AddedColumns, res.RemovedColumns = alignColumns(original.Columns, cleaned.Columns)

	n := len(original.Rows)
	if len(cleaned.Rows) < n {
		n = len(cleaned.Rows)
	}
	res.Truncated = len(original.Rows) != len(cleaned.Rows)

	restrict := newRestriction(engine, opts)

	for i := 0; i < n; i++ {
		diff := model.RowDiff{RowIndex: i, Cells: make(map[string]model.CellDiff, len(res.Columns))}
		changed := 0
		for _, col := range res.Columns {
			o, c := original.Rows[i][col], cleaned.Rows[i][col]
			cell := model.CellDiff{Equal: o == c, Original: o, Cleaned: c}
			if !cell.Equal {
				changed++
			}
			diff.Cells[col] = cell
		}

		if restrict != nil && !restrict.include(&diff) {
			continue
		}

		res.Rows = append(res.Rows, diff)
		res.TotalCellsCompared += len(res.Columns)
		res.TotalCellsChanged += changed
		if changed > 0 {
			res.RowsChanged++
		}
	}

	cellsTotal.WithLabelValues("changed").Add(float64(res.TotalCellsChanged))
	cellsTotal.WithLabelValues("equal").Add(float64(res.TotalCellsCompared - res.TotalCellsChanged))
	return res
}

func alignColumns(orig, cleaned []string) (common, added, removed []string) {
	inCleaned := make(map[string]bool, len(cleaned))
	for _, c := range cleaned {
		inCleaned[c] = true
	}
	inOrig := make(map[string]bool, len(orig))
	common = []string{}
	for _, c := range orig {
		inOrig[c] = true
		if inCleaned[c] {
			common = append(common, c)
		} else {
			removed = append(removed, c)
		}
	}
	for _, c := range cleaned {
		if !inOrig[c] {
			added = append(added, c)
		}
	}
	return common, added, removed
}

// restriction decides which rows survive a category filter.
type restriction struct {
	engine *filter.Engine
	set    filter.Set
	byRow  map[int][]*model.ChangeRecord
}

func newRestriction(engine *filter.Engine, opts Options) *restriction {
	if opts.Filter == nil {
		return nil
	}
	set := opts.Filter.Normalize()
	if len(set.Categories) == 0 {
		return nil
	}
	r := &restriction{engine: engine, set: set}
	if opts.Changes != nil {
		r.byRow = make(map[int][]*model.ChangeRecord)
		for i := range opts.Changes {
			rec := &opts.Changes[i]
			r.byRow[rec.RowIndex] = append(r.byRow[rec.RowIndex], rec)
		}
	}
	return r
}

func (r *restriction) include(diff *model.RowDiff) bool {
	if r.byRow != nil {
		for _, rec := range r.byRow[diff.RowIndex] {
			if r.matches(rec) {
				return true
			}
		}
		return false
	}
	for col, cell := range diff.Cells {
		if cell.Equal {
			continue
		}
		rec := &model.ChangeRecord{
			RowIndex:       diff.RowIndex,
			Column:         col,
			OriginalValue:  cell.Original,
			SuggestedValue: cell.Cleaned,
		}
		if r.matches(rec) {
			return true
		}
	}
	return false
}

func (r *restriction) matches(rec *model.ChangeRecord) bool {
	for _, cat := range r.set.Categories {
		if r.engine.MatchCategory(rec, cat, r.set.Params[cat]) {
			return true
		}
	}
	return false
}

// Refs loads two stored snapshots concurrently and compares them.
func Refs(ctx context.Context, p snapshot.Provider, originalRef, cleanedRef string, pageSize int, opts Options) (*model.ComparisonResult, error) {
	var original, cleaned *model.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		original, err = snapshot.ReadAll(gctx, p, originalRef, pageSize)
		return err
	})
	g.Go(func() error {
		var err error
		cleaned, err = snapshot.ReadAll(gctx, p, cleanedRef, pageSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "compare: load snapshots")
	}
	return Compare(original, cleaned, opts), nil
}
