package models

import (
	"fmt"
	"strings"
)

// FieldError names a single invalid field and why it failed.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates definition-time validation failures.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
	causes []error
}

// Add records a failure for the named field.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Addf records a formatted failure for the named field.
func (e *ValidationError) Addf(field, format string, args ...interface{}) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// AddErr records err against the named field and keeps it reachable through
// errors.Is and errors.As.
func (e *ValidationError) AddErr(field string, err error) {
	e.Add(field, err.Error())
	e.causes = append(e.causes, err)
}

// Unwrap returns the errors recorded with AddErr.
func (e *ValidationError) Unwrap() []error {
	return e.causes
}

// OrNil returns nil when no failures were recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+" "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func questionField(index int) string {
	return fmt.Sprintf("questions[%d]", index)
}
