package desk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// RowFetcher loads the result table. Filter values are not forwarded.
type RowFetcher interface {
	FetchRows(ctx context.Context) ([]Row, error)
}

// DecisionSubmitter records an approve/deny decision for a row.
type DecisionSubmitter interface {
	SubmitDecision(ctx context.Context, rowID int64, decision Decision) error
}

// Recorder observes operation outcomes.
type Recorder interface {
	DeskOperation(operation, outcome string)
	DeskDecision(action string, outcome string)
}

// Operation names reported to the Recorder.
const (
	OpSetFilter = "set_filter"
	OpSearch    = "search"
	OpClear     = "clear"
	OpToggle    = "toggle"
	OpEditField = "edit_field"
	OpDecide    = "decide"
)

// DefaultLoadingTimeout bounds how long a Loading flag blocks new operations.
const DefaultLoadingTimeout = 2 * time.Minute

// ServiceConfig carries optional collaborators of the Service.
type ServiceConfig struct {
	Catalog  Catalog
	Logger   *slog.Logger
	Recorder Recorder

	// LoadingTimeout after which a Loading flag is considered abandoned.
	LoadingTimeout time.Duration
}

// Service implements the desk operations on top of a Store.
type Service struct {
	store     Store
	fetcher   RowFetcher
	submitter DecisionSubmitter
	catalog   Catalog
	logger    *slog.Logger
	recorder  Recorder
	validate  *validator.Validate

	loadingTimeout time.Duration
	now            func() time.Time
}

// NewService wires a Service. A zero Catalog falls back to DefaultCatalog.
func NewService(store Store, fetcher RowFetcher, submitter DecisionSubmitter, cfg ServiceConfig) *Service {
	catalog := cfg.Catalog
	if len(catalog.Options) == 0 {
		catalog = DefaultCatalog()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.LoadingTimeout
	if timeout <= 0 {
		timeout = DefaultLoadingTimeout
	}
	return &Service{
		store:          store,
		fetcher:        fetcher,
		submitter:      submitter,
		catalog:        catalog,
		logger:         logger,
		recorder:       cfg.Recorder,
		validate:       newValidator(),
		loadingTimeout: timeout,
		now:            time.Now,
	}
}

// Catalog exposes the option catalog used for filter validation.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// State returns the current desk state. An abandoned Loading flag reads as idle.
func (s *Service) State(ctx context.Context, id string) (State, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return State{}, err
	}
	if st.loadingStale(s.now(), s.loadingTimeout) {
		st.stopLoading()
	}
	return st, nil
}

// SetFilter changes one filter field without touching the others.
func (s *Service) SetFilter(ctx context.Context, id, field, value string) (State, error) {
	if err := checkFilter(s.validate, s.catalog, field, value); err != nil {
		s.record(OpSetFilter, err)
		return State{}, err
	}
	st, err := s.store.Update(ctx, id, func(st *State) error {
		return st.Filters.Set(field, value)
	})
	s.record(OpSetFilter, err)
	return st, err
}

// ApplyFilters replaces all filter fields at once.
func (s *Service) ApplyFilters(ctx context.Context, id string, filters FilterSelection) (State, error) {
	if err := checkFilters(s.validate, s.catalog, filters); err != nil {
		s.record(OpSetFilter, err)
		return State{}, err
	}
	st, err := s.store.Update(ctx, id, func(st *State) error {
		st.Filters = filters
		return nil
	})
	s.record(OpSetFilter, err)
	return st, err
}

// Search loads rows from the fetcher and replaces the table. It fails with ErrBusy
// while another operation is outstanding. On fetch failure the previous rows stay.
func (s *Service) Search(ctx context.Context, id string) (State, error) {
	started := s.now().UTC()
	if _, err := s.store.Update(ctx, id, s.beginOperation(started)); err != nil {
		s.record(OpSearch, err)
		return State{}, err
	}
	// Once started the call always runs to completion and its result is applied.
	ctx = context.WithoutCancel(ctx)
	finished := false
	defer func() {
		if !finished {
			s.releaseLoading(ctx, id, started)
		}
	}()

	rows, fetchErr := s.fetcher.FetchRows(ctx)
	st, err := s.store.Update(ctx, id, func(st *State) error {
		st.stopLoading()
		if fetchErr == nil {
			st.Rows = normalizeRows(rows)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("finish search", slog.String("desk", id), slog.Any("error", err))
		s.record(OpSearch, err)
		return State{}, err
	}
	finished = true
	if fetchErr != nil {
		s.logger.Warn("fetch rows", slog.String("desk", id), slog.Any("error", fetchErr))
		err = fmt.Errorf("desk: fetch rows: %w", fetchErr)
		s.record(OpSearch, err)
		return st, err
	}
	s.record(OpSearch, nil)
	return st, nil
}

// Clear resets filters, rows, expansion and the decision form. It never contacts a collaborator.
func (s *Service) Clear(ctx context.Context, id string) (State, error) {
	st, err := s.store.Update(ctx, id, func(st *State) error {
		st.Filters = FilterSelection{}
		st.Rows = []Row{}
		st.Expanded = nil
		st.Form.Reset()
		return nil
	})
	s.record(OpClear, err)
	return st, err
}

// Toggle expands the row, or collapses it when it is already expanded. The decision
// form is reset either way.
func (s *Service) Toggle(ctx context.Context, id string, rowID int64) (State, error) {
	st, err := s.store.Update(ctx, id, func(st *State) error {
		if !st.HasRow(rowID) {
			return fmt.Errorf("%w: %d", ErrNotFound, rowID)
		}
		if st.IsExpanded(rowID) {
			st.Expanded = nil
		} else {
			expanded := rowID
			st.Expanded = &expanded
		}
		st.Form.Reset()
		return nil
	})
	s.record(OpToggle, err)
	return st, err
}

// EditField stores a decision field value and clears that field's error only.
func (s *Service) EditField(ctx context.Context, id, field, value string) (State, error) {
	if !isDecisionField(field) {
		err := fmt.Errorf("%w: %s", ErrUnknownField, field)
		s.record(OpEditField, err)
		return State{}, err
	}
	st, err := s.store.Update(ctx, id, func(st *State) error {
		if st.Expanded == nil {
			return ErrRowNotExpanded
		}
		st.Form.Edit(field, value)
		return nil
	})
	s.record(OpEditField, err)
	return st, err
}

// Decide applies the posted field values, validates the form and, when valid,
// submits the decision, reloads the rows and collapses the row. Validation failures
// are returned as *ValidationError with the errors stored on the form; no
// collaborator is called in that case.
func (s *Service) Decide(ctx context.Context, id string, rowID int64, action Action, values map[string]string) (State, error) {
	if !action.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidAction, action)
		s.recordDecision(action, err)
		return State{}, err
	}
	var (
		invalid  map[string]string
		decision Decision
	)
	started := s.now().UTC()
	st, err := s.store.Update(ctx, id, func(st *State) error {
		invalid = nil
		if s.busy(st) {
			return ErrBusy
		}
		if !st.IsExpanded(rowID) {
			return fmt.Errorf("%w: %d", ErrRowNotExpanded, rowID)
		}
		for _, field := range DecisionFields {
			if value, ok := values[field]; ok && value != st.Form.Value(field) {
				st.Form.Edit(field, value)
			}
		}
		if errs := validateDecision(s.validate, st.Form); len(errs) > 0 {
			invalid = errs
			st.Form.Errors = errs
			return nil
		}
		st.Form.Errors = nil
		st.startLoading(started)
		decision = Decision{
			Question1: st.Form.Value(FieldQuestion1),
			Question2: st.Form.Value(FieldQuestion2),
			Action:    action,
		}
		return nil
	})
	if err != nil {
		s.recordDecision(action, err)
		return State{}, err
	}
	if len(invalid) > 0 {
		err := &ValidationError{Fields: invalid}
		s.recordDecision(action, err)
		return st, err
	}

	ctx = context.WithoutCancel(ctx)
	finished := false
	defer func() {
		if !finished {
			s.releaseLoading(ctx, id, started)
		}
	}()

	logger := s.logger.With(slog.String("desk", id), slog.Int64("row_id", rowID), slog.String("action", string(action)))
	if submitErr := s.submitter.SubmitDecision(ctx, rowID, decision); submitErr != nil {
		logger.Warn("submit decision", slog.Any("error", submitErr))
		st, err := s.store.Update(ctx, id, func(st *State) error {
			st.stopLoading()
			return nil
		})
		if err != nil {
			logger.Error("release loading", slog.Any("error", err))
			return State{}, err
		}
		finished = true
		err = fmt.Errorf("desk: submit decision for row %d: %w", rowID, submitErr)
		s.recordDecision(action, err)
		return st, err
	}

	rows, fetchErr := s.fetcher.FetchRows(ctx)
	st, err = s.store.Update(ctx, id, func(st *State) error {
		st.stopLoading()
		st.Expanded = nil
		st.Form.Reset()
		if fetchErr == nil {
			st.Rows = normalizeRows(rows)
		}
		return nil
	})
	if err != nil {
		logger.Error("finish decision", slog.Any("error", err))
		return State{}, err
	}
	finished = true
	if fetchErr != nil {
		logger.Warn("refresh rows after decision", slog.Any("error", fetchErr))
		err = fmt.Errorf("%w: %w", ErrRefresh, fetchErr)
		s.recordDecision(action, err)
		return st, err
	}
	logger.Info("decision submitted")
	s.recordDecision(action, nil)
	return st, nil
}

// beginOperation claims the Loading flag for a call started at the given time.
func (s *Service) beginOperation(started time.Time) func(*State) error {
	return func(st *State) error {
		if s.busy(st) {
			return ErrBusy
		}
		st.startLoading(started)
		return nil
	}
}

// busy reports whether another call holds the Loading flag. An abandoned flag is
// dropped so the desk cannot stay blocked after a crash.
func (s *Service) busy(st *State) bool {
	if !st.Loading {
		return false
	}
	if st.loadingStale(s.now(), s.loadingTimeout) {
		s.logger.Warn("dropping abandoned loading flag", slog.Time("since", st.LoadingSince))
		st.stopLoading()
		return false
	}
	return true
}

// releaseLoading clears the flag claimed at started when a call exits early or
// panics. A flag claimed by a later call is left alone.
func (s *Service) releaseLoading(ctx context.Context, id string, started time.Time) {
	_, err := s.store.Update(ctx, id, func(st *State) error {
		if st.Loading && st.LoadingSince.Equal(started) {
			st.stopLoading()
		}
		return nil
	})
	if err != nil {
		s.logger.Error("release loading", slog.String("desk", id), slog.Any("error", err))
	}
}

func normalizeRows(rows []Row) []Row {
	return append([]Row{}, rows...)
}

func (s *Service) record(operation string, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.DeskOperation(operation, Outcome(err))
}

func (s *Service) recordDecision(action Action, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.DeskOperation(OpDecide, Outcome(err))
	if action.Valid() {
		s.recorder.DeskDecision(string(action), Outcome(err))
	}
}

// Outcome classifies an operation error for metrics and logs.
func Outcome(err error) string {
	var validationErr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRowNotExpanded):
		return "rejected"
	case errors.As(err, &validationErr),
		errors.Is(err, ErrUnknownField),
		errors.Is(err, ErrInvalidOption),
		errors.Is(err, ErrInvalidAction):
		return "invalid"
	default:
		return "error"
	}
}
