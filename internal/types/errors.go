package types

import "strings"

// FieldError is a validation failure for one request field.
type FieldError struct {
	Field   string `json:"field"`   // JSON name of the field, e.g. "limit"
	Message string `json:"message"` // Human-readable reason
	Value   any    `json:"value"`   // Rejected value
}

// ValidationError collects field errors for one request.
// It implements error so it can travel through normal error returns.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates a new empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{
		Errors: make([]FieldError, 0),
	}
}

// Add adds a field error to the collection.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// Empty reports whether no field errors were collected.
func (v *ValidationError) Empty() bool {
	return v == nil || len(v.Errors) == 0
}

// Error joins the field errors as "field message" pairs.
func (v *ValidationError) Error() string {
	if v.Empty() {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		if e.Field == "" {
			parts = append(parts, e.Message)
			continue
		}
		parts = append(parts, e.Field+" "+e.Message)
	}
	return strings.Join(parts, "; ")
}
