package model

import (
	"fmt"
	"strings"
)

// FieldError is used to indicate an error with a specific field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError rejects an operation before anything is persisted.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

// NewValidationError wraps err with the offending fields.
func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a reference that does not resolve.
// Key names references that are not numeric, such as usernames.
type NotFoundError struct {
	Resource string
	ID       int64
	Key      string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// GradingError reports a failed AI grading call for one prompt.
// It is recovered inside scoring and never fails a submission.
type GradingError struct {
	Skill    Skill
	PromptID int64
	Err      error
}

func (e *GradingError) Error() string {
	return fmt.Sprintf("grade %s prompt %d: %v", e.Skill, e.PromptID, e.Err)
}

func (e *GradingError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write. The whole operation may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
