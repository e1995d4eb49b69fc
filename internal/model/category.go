package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Category identifies the kind of data-quality issue a change addresses.
type Category string

const (
	CategoryDuplicate    Category = "duplicate"
	CategoryEmail        Category = "email"
	CategoryPhone        Category = "phone"
	CategoryCompany      Category = "company"
	CategoryDomain       Category = "domain"
	CategoryJobTitle     Category = "job_title"
	CategoryMissingField Category = "missing_field"
)

var allCategories = []Category{
	CategoryDuplicate,
	CategoryEmail,
	CategoryPhone,
	CategoryCompany,
	CategoryDomain,
	CategoryJobTitle,
	CategoryMissingField,
}

// Categories returns the closed category taxonomy in display order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is part of the taxonomy.
func (c Category) Valid() bool {
	switch c {
	case CategoryDuplicate, CategoryEmail, CategoryPhone, CategoryCompany,
		CategoryDomain, CategoryJobTitle, CategoryMissingField:
		return true
	default:
		return false
	}
}

// ParseCategory converts a user-supplied tag to a Category. Matching is
// case-insensitive and accepts "job-title" style separators.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !c.Valid() {
		return "", eris.Errorf("unknown category %q", s)
	}
	return c, nil
}
