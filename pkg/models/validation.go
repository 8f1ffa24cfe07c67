package models

import "encoding/json"

// FieldError is a validation failure that makes a record invalid.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// FieldNote is an observation that does not affect validity.
type FieldNote struct {
	Field string `json:"field"`
	Note  string `json:"note"`
}

// ValidationResult is the outcome of validating a record.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
	Notes  []FieldNote  `json:"notes"`
}

// NewValidationResult returns a valid result with empty, non-nil lists.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: []FieldError{},
		Notes:  []FieldNote{},
	}
}

// AddError records an error and marks the result invalid.
func (r *ValidationResult) AddError(field, msg string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Error: msg})
	r.Valid = false
}

// AddNote records a note.
func (r *ValidationResult) AddNote(field, note string) {
	r.Notes = append(r.Notes, FieldNote{Field: field, Note: note})
}

// MarshalJSON keeps errors and notes arrays even when empty.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	type alias ValidationResult
	a := alias(r)
	if a.Errors == nil {
		a.Errors = []FieldError{}
	}
	if a.Notes == nil {
		a.Notes = []FieldNote{}
	}
	return json.Marshal(a)
}
