package model

import (
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a suggestion's tags and its category against the taxonomy.
func (s *Suggestion) Validate() error {
	if err := validate.Struct(s); err != nil {
		return eris.Wrapf(err, "suggestion row %d column %q", s.RowIndex, s.Column)
	}
	if !s.Category.Valid() {
		return eris.Errorf("suggestion row %d column %q: unknown category %q", s.RowIndex, s.Column, s.Category)
	}
	return nil
}

// ValidateStruct runs tag validation on any request or model struct.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}
