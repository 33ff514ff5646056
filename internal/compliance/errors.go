package compliance

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Error carries a client-facing message for one of the sentinel kinds above.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds an ErrNotFound error naming the missing entity. Store
// implementations use it so messages stay uniform.
func NotFound(entity string) error {
	return &Error{Kind: ErrNotFound, Message: entity + " not found"}
}

// Conflict builds an ErrConflict error. Store implementations use it when the
// database rejects a uniqueness constraint.
func Conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func missingIDs(entity string, ids []string) error {
	return validationf("%s not found: %s", entity, strings.Join(ids, ", "))
}
