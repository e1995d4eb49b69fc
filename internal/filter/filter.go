// Package filter evaluates composite review filters over change records.
package filter

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// StatusAll disables the status predicate.
const StatusAll = "all"

// Params holds category-specific filter parameters.
type Params struct {
	// Columns restricts a category to records addressing these columns.
	// Used by the duplicate category to pick the columns checked for duplicates.
	Columns []string `json:"columns,omitempty"`
}

// Set describes the active view over a session's change records.
// The zero value passes everything.
type Set struct {
	Categories    []model.Category          `json:"categories,omitempty"`
	Status        string                    `json:"status,omitempty"`
	MinConfidence *float64                  `json:"min_confidence,omitempty"`
	TextQuery     string                    `json:"text_query,omitempty"`
	Params        map[model.Category]Params `json:"params,omitempty"`
}

// Normalize returns a copy of s with invalid predicates degraded to "no filter":
// unknown categories and statuses are dropped, NaN or out-of-range confidences
// are ignored, and blank queries are cleared.
func (s Set) Normalize() Set {
	out := Set{Params: s.Params}

	seen := make(map[model.Category]bool, len(s.Categories))
	for _, c := range s.Categories {
		if c.Valid() && !seen[c] {
			seen[c] = true
			out.Categories = append(out.Categories, c)
		}
	}

	if st := strings.ToLower(strings.TrimSpace(s.Status)); st != "" && st != StatusAll {
		if model.Status(st).Valid() {
			out.Status = st
		}
	}

	if s.MinConfidence != nil {
		v := *s.MinConfidence
		if !math.IsNaN(v) && v >= 0 && v <= 1 {
			out.MinConfidence = &v
		}
	}

	out.TextQuery = strings.TrimSpace(s.TextQuery)
	return out
}

// Canonical validates s and returns it normalized. Where Normalize degrades
// an unknown category, unknown status or out-of-range confidence to "no
// filter", Canonical reports it, so a mistyped predicate never widens a bulk
// decision to the whole session.
func (s Set) Canonical() (Set, error) {
	out := s
	out.Categories = nil
	for _, c := range s.Categories {
		pc, err := model.ParseCategory(string(c))
		if err != nil {
			return Set{}, eris.Wrap(err, "filter")
		}
		out.Categories = append(out.Categories, pc)
	}

	if st := strings.TrimSpace(s.Status); st != "" && !strings.EqualFold(st, StatusAll) {
		if _, err := model.ParseStatus(st); err != nil {
			return Set{}, eris.Wrap(err, "filter")
		}
	}

	if s.MinConfidence != nil {
		if v := *s.MinConfidence; math.IsNaN(v) || v < 0 || v > 1 {
			return Set{}, eris.Errorf("filter: min_confidence %v outside [0,1]", v)
		}
	}

	for c := range s.Params {
		if !c.Valid() {
			return Set{}, eris.Errorf("filter: params for unknown category %q", c)
		}
	}

	return out.Normalize(), nil
}

// IsEmpty reports whether s, once normalized, has no active predicate.
func (s Set) IsEmpty() bool {
	n := s.Normalize()
	return len(n.Categories) == 0 && n.Status == "" && n.MinConfidence == nil && n.TextQuery == ""
}

// HasCategories reports whether a valid category restriction is active.
func (s Set) HasCategories() bool {
	return len(s.Normalize().Categories) > 0
}

// Mapping is the fixed category→column mapping used to decide which
// records belong to field-backed categories.
type Mapping map[model.Category][]string

// DefaultMapping returns the column names each field-backed category covers.
func DefaultMapping() Mapping {
	return Mapping{
		model.CategoryEmail:    {"email"},
		model.CategoryPhone:    {"phone"},
		model.CategoryCompany:  {"company", "company_name"},
		model.CategoryDomain:   {"domain", "website"},
		model.CategoryJobTitle: {"job_title", "title"},
	}
}

// ParseMapping builds a Mapping from category names to column lists, as read
// from configuration. Only field-backed categories may be mapped.
func ParseMapping(raw map[string][]string) (Mapping, error) {
	m := DefaultMapping()
	for name, cols := range raw {
		c, err := model.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		if _, ok := m[c]; !ok {
			return nil, eris.Errorf("category %s does not map to columns", c)
		}
		m[c] = cols
	}
	return m, nil
}

func (m Mapping) covers(c model.Category, column string) bool {
	for _, col := range m[c] {
		if strings.EqualFold(col, column) {
			return true
		}
	}
	return false
}

// Engine evaluates filter sets against change records. It is safe for
// concurrent use; case folders are created per evaluation.
type Engine struct {
	mapping Mapping
}

// NewEngine creates an Engine. A nil mapping uses DefaultMapping.
func NewEngine(mapping Mapping) *Engine {
	if mapping == nil {
		mapping = DefaultMapping()
	}
	return &Engine{mapping: mapping}
}

// Mapping returns the engine's category mapping.
func (e *Engine) Mapping() Mapping {
	return e.mapping
}

// Evaluate returns the records that pass every active predicate, in input
// order. An empty filter returns changes itself.
func (e *Engine) Evaluate(changes []model.ChangeRecord, s Set) []model.ChangeRecord {
	n := s.Normalize()
	if len(n.Categories) == 0 && n.Status == "" && n.MinConfidence == nil && n.TextQuery == "" {
		return changes
	}

	m := newMatcher(n)
	out := make([]model.ChangeRecord, 0, len(changes))
	for i := range changes {
		if e.match(&changes[i], m) {
			out = append(out, changes[i])
		}
	}
	return out
}

// Matches reports whether a single record passes s.
func (e *Engine) Matches(c *model.ChangeRecord, s Set) bool {
	return e.match(c, newMatcher(s.Normalize()))
}

// matcher carries a normalized set and its folded query through one evaluation.
type matcher struct {
	set   Set
	query string
	fold  cases.Caser
}

func newMatcher(n Set) *matcher {
	m := &matcher{set: n, fold: cases.Fold()}
	if n.TextQuery != "" {
		m.query = m.fold.String(n.TextQuery)
	}
	return m
}

func (e *Engine) match(c *model.ChangeRecord, m *matcher) bool {
	n := m.set
	if len(n.Categories) > 0 && !e.matchAnyCategory(c, n) {
		return false
	}
	if n.Status != "" && string(c.Status) != n.Status {
		return false
	}
	if n.MinConfidence != nil && c.Confidence < *n.MinConfidence {
		return false
	}
	if m.query != "" && !m.matchText(c) {
		return false
	}
	return true
}

func (e *Engine) matchAnyCategory(c *model.ChangeRecord, n Set) bool {
	for _, cat := range n.Categories {
		if e.MatchCategory(c, cat, n.Params[cat]) {
			return true
		}
	}
	return false
}

// MatchCategory reports whether record c belongs to category cat.
func (e *Engine) MatchCategory(c *model.ChangeRecord, cat model.Category, p Params) bool {
	switch cat {
	case model.CategoryEmail, model.CategoryPhone, model.CategoryCompany,
		model.CategoryDomain, model.CategoryJobTitle:
		return c.Category == cat || e.mapping.covers(cat, c.Column)
	case model.CategoryDuplicate:
		if c.Category != model.CategoryDuplicate {
			return false
		}
		if len(p.Columns) == 0 {
			return true
		}
		for _, col := range p.Columns {
			if strings.EqualFold(col, c.Column) {
				return true
			}
		}
		return false
	case model.CategoryMissingField:
		return c.Category == model.CategoryMissingField || strings.TrimSpace(c.OriginalValue) == ""
	default:
		return false
	}
}

// ColumnCategories returns the field-backed categories that cover column.
func (e *Engine) ColumnCategories(column string) []model.Category {
	var out []model.Category
	for _, cat := range model.Categories() {
		if e.mapping.covers(cat, column) {
			out = append(out, cat)
		}
	}
	return out
}

func (m *matcher) matchText(c *model.ChangeRecord) bool {
	for _, field := range []string{c.OriginalValue, c.EffectiveValue(), c.Column} {
		if strings.Contains(m.fold.String(field), m.query) {
			return true
		}
	}
	return false
}

// CountByStatus tallies records per status.
func CountByStatus(changes []model.ChangeRecord) map[model.Status]int {
	out := make(map[model.Status]int)
	for i := range changes {
		out[changes[i].Status]++
	}
	return out
}
