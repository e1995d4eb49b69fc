package filter

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// Query parameter names understood by ParseQuery.
const (
	ParamCategory      = "category"
	ParamStatus        = "status"
	ParamQuery         = "q"
	ParamMinConfidence = "min_confidence"
	ParamDupColumns    = "dup_columns"
)

// ParseQuery builds a Set from URL query values. Categories may repeat or be
// comma separated. Values that fail to parse are dropped rather than reported.
func ParseQuery(v url.Values) Set {
	s, _ := parseQuery(v)
	return s.Normalize()
}

// ParseQueryStrict is ParseQuery for operations that change state: a value
// ParseQuery would drop is returned as an error instead.
func ParseQueryStrict(v url.Values) (Set, error) {
	s, err := parseQuery(v)
	if err != nil {
		return Set{}, err
	}
	return s.Canonical()
}

// parseQuery collects every recognizable value and reports the first one
// that could not be parsed.
func parseQuery(v url.Values) (Set, error) {
	var s Set
	var firstErr error

	for _, raw := range v[ParamCategory] {
		for _, part := range splitList(raw) {
			c, err := model.ParseCategory(part)
			if err != nil {
				if firstErr == nil {
					firstErr = eris.Wrap(err, "filter")
				}
				continue
			}
			s.Categories = append(s.Categories, c)
		}
	}

	s.Status = v.Get(ParamStatus)
	s.TextQuery = v.Get(ParamQuery)

	if raw := strings.TrimSpace(v.Get(ParamMinConfidence)); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			if firstErr == nil {
				firstErr = eris.Errorf("filter: invalid %s %q", ParamMinConfidence, raw)
			}
		} else {
			s.MinConfidence = &f
		}
	}

	if cols := splitList(v.Get(ParamDupColumns)); len(cols) > 0 {
		s.Params = map[model.Category]Params{
			model.CategoryDuplicate: {Columns: cols},
		}
	}

	return s, firstErr
}

// Encode renders s as URL query values; the inverse of ParseQuery.
func (s Set) Encode() url.Values {
	n := s.Normalize()
	v := url.Values{}
	for _, c := range n.Categories {
		v.Add(ParamCategory, string(c))
	}
	if n.Status != "" {
		v.Set(ParamStatus, n.Status)
	}
	if n.TextQuery != "" {
		v.Set(ParamQuery, n.TextQuery)
	}
	if n.MinConfidence != nil {
		v.Set(ParamMinConfidence, strconv.FormatFloat(*n.MinConfidence, 'f', -1, 64))
	}
	if p, ok := n.Params[model.CategoryDuplicate]; ok && len(p.Columns) > 0 {
		v.Set(ParamDupColumns, strings.Join(p.Columns, ","))
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
