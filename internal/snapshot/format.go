// Package snapshot reads and writes tabular dataset snapshots in CSV, XLSX
// and JSON form and pages stored snapshots back into memory.
package snapshot

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/fetcher"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// Format is a serialized snapshot encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat converts a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); f {
	case FormatCSV, FormatTSV, FormatXLSX, FormatJSON:
		return f, nil
	default:
		return "", eris.Errorf("snapshot: unsupported format %q", s)
	}
}

// DetectFormat infers the format from the file extension of uri.
func DetectFormat(uri string) (Format, error) {
	ext := filepath.Ext(fetcher.BaseName(uri))
	if ext == "" {
		return "", eris.Errorf("snapshot: cannot detect format of %q", uri)
	}
	return ParseFormat(ext)
}

// normalizeHeader trims header names, fills blanks with column_N and makes
// repeated names unique by suffixing _2, _3, ...
func normalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, name := range raw {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		base := name
		for seen[name] > 0 {
			seen[base]++
			name = base + "_" + strconv.Itoa(seen[base])
		}
		seen[name]++
		out[i] = name
	}
	return out
}

// rowFromValues zips header and values. Extra values beyond the header are
// dropped; missing trailing values stay absent.
func rowFromValues(header, values []string) model.Row {
	row := make(model.Row, len(header))
	for i, col := range header {
		if i < len(values) && values[i] != "" {
			row[col] = values[i]
		}
	}
	return row
}
