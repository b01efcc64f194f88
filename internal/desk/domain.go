package desk

import (
	"fmt"
	"time"
)

// Filter field names as posted by the filter bar.
const (
	FieldDropdown1 = "dropdown1"
	FieldDropdown2 = "dropdown2"
	FieldDropdown3 = "dropdown3"
	FieldStartDate = "startDate"
	FieldEndDate   = "endDate"
)

// Decision form field names.
const (
	FieldQuestion1 = "question1"
	FieldQuestion2 = "question2"
)

// RequiredMessage is shown next to an empty required decision field.
const RequiredMessage = "This field is required"

// DecisionFields lists the decision form fields in display order. All of them are required.
var DecisionFields = []string{FieldQuestion1, FieldQuestion2}

// FilterSelection holds the filter bar values. Dates are kept as entered.
type FilterSelection struct {
	Dropdown1 string `json:"dropdown1"`
	Dropdown2 string `json:"dropdown2"`
	Dropdown3 string `json:"dropdown3"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Get returns the value of a filter field by its form name.
func (f FilterSelection) Get(field string) (string, bool) {
	switch field {
	case FieldDropdown1:
		return f.Dropdown1, true
	case FieldDropdown2:
		return f.Dropdown2, true
	case FieldDropdown3:
		return f.Dropdown3, true
	case FieldStartDate:
		return f.StartDate, true
	case FieldEndDate:
		return f.EndDate, true
	default:
		return "", false
	}
}

// Set updates a single filter field by its form name.
func (f *FilterSelection) Set(field, value string) error {
	switch field {
	case FieldDropdown1:
		f.Dropdown1 = value
	case FieldDropdown2:
		f.Dropdown2 = value
	case FieldDropdown3:
		f.Dropdown3 = value
	case FieldStartDate:
		f.StartDate = value
	case FieldEndDate:
		f.EndDate = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}

// IsZero reports whether every filter field is empty.
func (f FilterSelection) IsZero() bool {
	return f == FilterSelection{}
}

func isDropdownField(field string) bool {
	return field == FieldDropdown1 || field == FieldDropdown2 || field == FieldDropdown3
}

// Row is one record displayed in the result table.
type Row struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Action tags a decision.
type Action string

const (
	// ActionApprove approves the row.
	ActionApprove Action = "approve"
	// ActionDeny denies the row.
	ActionDeny Action = "deny"
)

// Valid reports whether the action is a known decision tag.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionDeny
}

// ParseAction converts a posted action value.
func ParseAction(value string) (Action, error) {
	action := Action(value)
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, value)
	}
	return action, nil
}

// Decision is the payload handed to the submit collaborator: the form fields plus the action tag.
type Decision struct {
	Question1 string `json:"question1"`
	Question2 string `json:"question2"`
	Action    Action `json:"action"`
}

// Fields flattens the decision into the field mapping sent over the wire.
func (d Decision) Fields() map[string]string {
	return map[string]string{
		FieldQuestion1: d.Question1,
		FieldQuestion2: d.Question2,
		"action":       string(d.Action),
	}
}

// DecisionForm holds the inline form values and per-field errors of the expanded row.
type DecisionForm struct {
	Values map[string]string `json:"values,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Value returns the current value of a field.
func (f DecisionForm) Value(field string) string {
	return f.Values[field]
}

// Error returns the error message for a field, if any.
func (f DecisionForm) Error(field string) string {
	return f.Errors[field]
}

// Edit stores a field value and clears that field's error only.
func (f *DecisionForm) Edit(field, value string) {
	if f.Values == nil {
		f.Values = make(map[string]string)
	}
	f.Values[field] = value
	delete(f.Errors, field)
}

// Reset empties values and errors.
func (f *DecisionForm) Reset() {
	f.Values = nil
	f.Errors = nil
}

func isDecisionField(field string) bool {
	for _, name := range DecisionFields {
		if name == field {
			return true
		}
	}
	return false
}

// State is the complete view model of one desk.
type State struct {
	Filters  FilterSelection `json:"filters"`
	Rows     []Row           `json:"rows"`
	Expanded *int64          `json:"expandedRowId"`
	Form     DecisionForm    `json:"form"`
	Loading  bool            `json:"loading"`

	// LoadingSince is when the outstanding call started. Zero when idle.
	LoadingSince time.Time `json:"loadingSince"`
}

// NewState returns the state of a freshly mounted desk.
func NewState() State {
	return State{Rows: []Row{}}
}

// HasRow reports whether the row is part of the current result set.
func (s State) HasRow(id int64) bool {
	for _, row := range s.Rows {
		if row.ID == id {
			return true
		}
	}
	return false
}

// IsExpanded reports whether the given row shows its decision form.
func (s State) IsExpanded(id int64) bool {
	return s.Expanded != nil && *s.Expanded == id
}

// ExpandedRow returns the expanded row id, if any.
func (s State) ExpandedRow() (int64, bool) {
	if s.Expanded == nil {
		return 0, false
	}
	return *s.Expanded, true
}

func (s *State) startLoading(at time.Time) {
	s.Loading = true
	s.LoadingSince = at
}

func (s *State) stopLoading() {
	s.Loading = false
	s.LoadingSince = time.Time{}
}

// loadingStale reports whether Loading outlived timeout, which happens when the
// process died mid-call. A flag without a start time is always stale.
func (s State) loadingStale(now time.Time, timeout time.Duration) bool {
	if !s.Loading {
		return false
	}
	return s.LoadingSince.IsZero() || now.Sub(s.LoadingSince) > timeout
}

// Clone returns a deep copy that shares no maps or slices with s.
func (s State) Clone() State {
	out := s
	out.Rows = append([]Row{}, s.Rows...)
	if s.Expanded != nil {
		id := *s.Expanded
		out.Expanded = &id
	}
	out.Form = DecisionForm{Values: copyMap(s.Form.Values), Errors: copyMap(s.Form.Errors)}
	return out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
