package deskhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/reviewdesk/internal/desk"
	"github.com/odyssey-erp/reviewdesk/internal/platform/httpx"
	"github.com/odyssey-erp/reviewdesk/internal/shared"
	"github.com/odyssey-erp/reviewdesk/internal/view"
)

const deskPath = "/desk"

// loadingRefreshSeconds is how often a page rendered mid-call polls for the result.
const loadingRefreshSeconds = 1

type deskService interface {
	State(ctx context.Context, id string) (desk.State, error)
	SetFilter(ctx context.Context, id, field, value string) (desk.State, error)
	ApplyFilters(ctx context.Context, id string, filters desk.FilterSelection) (desk.State, error)
	Search(ctx context.Context, id string) (desk.State, error)
	Clear(ctx context.Context, id string) (desk.State, error)
	Toggle(ctx context.Context, id string, rowID int64) (desk.State, error)
	EditField(ctx context.Context, id, field, value string) (desk.State, error)
	Decide(ctx context.Context, id string, rowID int64, action desk.Action, values map[string]string) (desk.State, error)
}

// Handler serves the review desk page and its form endpoints.
type Handler struct {
	logger    *slog.Logger
	service   deskService
	catalog   desk.Catalog
	templates *view.Engine
	csrf      *shared.CSRFManager
}

type deskPageData struct {
	CSRFToken string
	Selectors []selectorView
	StartDate string
	EndDate   string
	Loading   bool
	Rows      []rowView
}

type selectorView struct {
	Field       string
	Placeholder string
	Options     []optionView
}

type optionView struct {
	Value    string
	Label    string
	Tooltip  string
	Selected bool
}

type rowView struct {
	ID          int64
	Name        string
	Description string
	Expanded    bool
	Form        *formView
}

type formView struct {
	CSRFToken string
	RowID     int64
	Loading   bool
	Fields    []fieldView
}

type fieldView struct {
	Name  string
	Label string
	Value string
	Error string
}

var fieldLabels = map[string]string{
	desk.FieldQuestion1: "Question 1",
	desk.FieldQuestion2: "Question 2",
}

// NewHandler constructs the desk HTTP handler.
func NewHandler(logger *slog.Logger, service deskService, catalog desk.Catalog, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		catalog:   catalog,
		templates: templates,
		csrf:      csrf,
	}
}

// MountRoutes registers the desk routes on a router mounted at /desk.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showDesk)
	r.Get("/state", h.showState)
	r.Post("/filters", h.applyFilters)
	r.Post("/search", h.search)
	r.Post("/clear", h.clear)
	r.Post("/form", h.editField)
	r.Route("/rows/{id}", func(r chi.Router) {
		r.Post("/toggle", h.toggle)
		r.Post("/decision", h.decide)
	})
}

func (h *Handler) showDesk(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	st, err := h.service.State(r.Context(), id)
	if err != nil {
		h.logger.Error("load desk state", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, st, http.StatusOK, nil)
}

func (h *Handler) showState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	st, err := h.service.State(r.Context(), id)
	if err != nil {
		h.logger.Error("load desk state", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) applyFilters(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var err error
	if field := strings.TrimSpace(r.PostFormValue("field")); field != "" {
		_, err = h.service.SetFilter(r.Context(), id, field, r.PostFormValue("value"))
	} else {
		_, err = h.service.ApplyFilters(r.Context(), id, filtersFromForm(r))
	}
	if err != nil {
		h.fail(w, r, id, err)
		return
	}
	http.Redirect(w, r, deskPath, http.StatusSeeOther)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if _, err := h.service.ApplyFilters(r.Context(), id, filtersFromForm(r)); err != nil {
		h.fail(w, r, id, err)
		return
	}
	if _, err := h.service.Search(r.Context(), id); err != nil {
		h.fail(w, r, id, err)
		return
	}
	http.Redirect(w, r, deskPath, http.StatusSeeOther)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Clear(r.Context(), id); err != nil {
		h.fail(w, r, id, err)
		return
	}
	http.Redirect(w, r, deskPath, http.StatusSeeOther)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	rowID, ok := parseRowID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Toggle(r.Context(), id, rowID); err != nil {
		h.fail(w, r, id, err)
		return
	}
	http.Redirect(w, r, deskPath, http.StatusSeeOther)
}

func (h *Handler) editField(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed form body")
		return
	}
	field := strings.TrimSpace(r.PostFormValue("field"))
	if _, err := h.service.EditField(r.Context(), id, field, r.PostFormValue("value")); err != nil {
		switch {
		case errors.Is(err, desk.ErrUnknownField):
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
		case errors.Is(err, desk.ErrRowNotExpanded), errors.Is(err, desk.ErrBusy):
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
		default:
			h.logger.Error("edit decision field", slog.String("desk", id), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deskID(w, r)
	if !ok {
		return
	}
	rowID, ok := parseRowID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	action, err := desk.ParseAction(r.PostFormValue("action"))
	if err != nil {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	values := make(map[string]string, len(desk.DecisionFields))
	for _, field := range desk.DecisionFields {
		if posted, ok := r.PostForm[field]; ok && len(posted) > 0 {
			values[field] = posted[0]
		}
	}

	st, err := h.service.Decide(r.Context(), id, rowID, action, values)
	var validationErr *desk.ValidationError
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, "success", fmt.Sprintf("%s decision recorded for row %d", actionLabel(action), rowID))
	case errors.As(err, &validationErr):
		h.render(w, r, st, http.StatusBadRequest, nil)
	default:
		h.fail(w, r, id, err)
	}
}

// fail maps a desk error onto the page flow: conflicts and collaborator failures
// become flash messages, unknown rows are 404 and bad filter values re-render with 400.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, desk.ErrBusy):
		h.redirectWithFlash(w, r, "warning", "Another operation is still running")
	case errors.Is(err, desk.ErrRowNotExpanded):
		h.redirectWithFlash(w, r, "warning", "Expand the row before deciding")
	case errors.Is(err, desk.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, desk.ErrInvalidOption), errors.Is(err, desk.ErrUnknownField):
		st, loadErr := h.service.State(r.Context(), id)
		if loadErr != nil {
			h.logger.Error("load desk state", slog.Any("error", loadErr))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.render(w, r, st, http.StatusBadRequest, &shared.FlashMessage{Kind: "danger", Message: "Invalid filter value"})
	case errors.Is(err, desk.ErrRefresh):
		h.logger.Warn("refresh after decision", slog.String("desk", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, "warning", "Decision recorded, but the table could not be refreshed")
	default:
		h.logger.Error("desk operation", slog.String("desk", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, "danger", "The request could not be completed. Please try again.")
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, st desk.State, status int, flash *shared.FlashMessage) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	if flash == nil && sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Review Desk",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        newDeskPage(h.catalog, st, csrfToken),
	}
	if st.Loading {
		viewData.RefreshURL = deskPath
		viewData.RefreshAfter = loadingRefreshSeconds
	}
	if err := h.templates.Render(w, status, "desk", viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, deskPath, http.StatusSeeOther)
}

func (h *Handler) deskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := shared.DeskIDFromContext(r.Context())
	if !ok {
		h.logger.Error("desk request without session", slog.String("path", r.URL.Path))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	return id, true
}

func parseRowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	rowID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return 0, false
	}
	return rowID, true
}

// actionLabel title-cases an action name. Casers are stateful, so one is built per call.
func actionLabel(action desk.Action) string {
	return cases.Title(language.English).String(string(action))
}

func filtersFromForm(r *http.Request) desk.FilterSelection {
	return desk.FilterSelection{
		Dropdown1: strings.TrimSpace(r.PostFormValue(desk.FieldDropdown1)),
		Dropdown2: strings.TrimSpace(r.PostFormValue(desk.FieldDropdown2)),
		Dropdown3: strings.TrimSpace(r.PostFormValue(desk.FieldDropdown3)),
		StartDate: r.PostFormValue(desk.FieldStartDate),
		EndDate:   r.PostFormValue(desk.FieldEndDate),
	}
}

func newDeskPage(catalog desk.Catalog, st desk.State, csrfToken string) deskPageData {
	page := deskPageData{
		CSRFToken: csrfToken,
		StartDate: st.Filters.StartDate,
		EndDate:   st.Filters.EndDate,
		Loading:   st.Loading,
		Rows:      make([]rowView, 0, len(st.Rows)),
	}
	for _, selector := range catalog.Selectors {
		current, _ := st.Filters.Get(selector.Field)
		sv := selectorView{Field: selector.Field, Placeholder: selector.Placeholder}
		for _, opt := range catalog.Options {
			sv.Options = append(sv.Options, optionView{
				Value:    opt.Value,
				Label:    opt.Label,
				Tooltip:  opt.Tooltip,
				Selected: opt.Value == current,
			})
		}
		page.Selectors = append(page.Selectors, sv)
	}
	for _, row := range st.Rows {
		rv := rowView{ID: row.ID, Name: row.Name, Description: row.Description, Expanded: st.IsExpanded(row.ID)}
		if rv.Expanded {
			form := &formView{CSRFToken: csrfToken, RowID: row.ID, Loading: st.Loading}
			for _, field := range desk.DecisionFields {
				form.Fields = append(form.Fields, fieldView{
					Name:  field,
					Label: fieldLabels[field],
					Value: st.Form.Value(field),
					Error: st.Form.Error(field),
				})
			}
			rv.Form = form
		}
		page.Rows = append(page.Rows, rv)
	}
	return page
}
