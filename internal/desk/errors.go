package desk

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrBusy indicates a fetch or decision submit is still outstanding for the desk.
	ErrBusy = errors.New("desk: another operation is still running")
	// ErrNotFound indicates the row is not part of the current result set.
	ErrNotFound = errors.New("desk: row not found")
	// ErrRowNotExpanded indicates a form operation targeted a row that is not expanded.
	ErrRowNotExpanded = errors.New("desk: row is not expanded")
	// ErrUnknownField indicates an unknown filter or form field.
	ErrUnknownField = errors.New("desk: unknown field")
	// ErrInvalidOption indicates a dropdown value outside the option catalog.
	ErrInvalidOption = errors.New("desk: invalid option")
	// ErrInvalidAction indicates a decision tag other than approve or deny.
	ErrInvalidAction = errors.New("desk: invalid action")
	// ErrRefresh indicates the decision was submitted but reloading the rows failed.
	ErrRefresh = errors.New("desk: refresh rows after decision")
	// ErrStoreContention indicates an optimistic state update kept losing races.
	ErrStoreContention = errors.New("desk: state update contention")
)

// ValidationError reports decision form fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "desk: invalid decision form: " + strings.Join(names, ", ")
}
