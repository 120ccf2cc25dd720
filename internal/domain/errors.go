package domain

import "strings"

// Machine-readable validation codes surfaced to API callers.
const (
	CodeMissingFields      = "missing_fields"
	CodeInvalidJSON        = "invalid_json"
	CodeInvalidCoordinates = "invalid_coordinates"
	CodeInvalidBounds      = "invalid_bounds"
	CodeInvalidParameter   = "invalid_parameter"
)

// ValidationError reports caller-supplied input that failed a required-field
// or type check.
type ValidationError struct {
	Code    string
	Message string
	Fields  []string
}

// NewValidationError creates a ValidationError with an optional list of
// offending fields.
func NewValidationError(code, message string, fields ...string) *ValidationError {
	return &ValidationError{Code: code, Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + " (" + strings.Join(e.Fields, ", ") + ")"
}
