package model

// CellDiff is the comparison outcome for one cell.
type CellDiff struct {
	Equal    bool   `json:"equal"`
	Original string `json:"original"`
	Cleaned  string `json:"cleaned"`
}

// RowDiff holds the per-column outcome for one aligned row.
type RowDiff struct {
	RowIndex int                 `json:"row_index"`
	Cells    map[string]CellDiff `json:"cells"`
}

// Changed reports whether any cell in the row differs.
func (r *RowDiff) Changed() bool {
	for _, c := range r.Cells {
		if !c.Equal {
			return true
		}
	}
	return false
}

// ComparisonResult is the read-only output of comparing two snapshots.
type ComparisonResult struct {
	Rows               []RowDiff `json:"rows"`
	Columns            []string  `json:"columns"`
	AddedColumns       []string  `json:"added_columns,omitempty"`
	RemovedColumns     []string  `json:"removed_columns,omitempty"`
	OriginalRows       int       `json:"original_rows"`
	CleanedRows        int       `json:"cleaned_rows"`
	Truncated          bool      `json:"truncated"`
	RowsChanged        int       `json:"rows_changed"`
	TotalCellsCompared int       `json:"total_cells_compared"`
	TotalCellsChanged  int       `json:"total_cells_changed"`
}
