package model

// Row is one record of a tabular snapshot keyed by column name.
// An absent key and an empty string both mean "missing".
type Row map[string]string

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Snapshot is a fully materialized table.
type Snapshot struct {
	Ref     string   `json:"ref"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// HasColumn reports whether name is one of the snapshot columns.
func (s *Snapshot) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// SnapshotPage is a window of rows from a stored snapshot.
type SnapshotPage struct {
	Ref     string   `json:"ref"`
	Columns []string `json:"columns"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
	Total   int      `json:"total"`
	Rows    []Row    `json:"rows"`
}

// SnapshotInfo describes a stored snapshot without its rows.
type SnapshotInfo struct {
	Ref      string   `json:"ref"`
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
}
