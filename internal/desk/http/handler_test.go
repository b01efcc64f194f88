package deskhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reviewdesk/internal/desk"
	"github.com/odyssey-erp/reviewdesk/internal/platform/httpx"
	"github.com/odyssey-erp/reviewdesk/internal/shared"
	"github.com/odyssey-erp/reviewdesk/internal/view"
)

const testCookie = "test_session"

type testClient struct {
	t        *testing.T
	router   chi.Router
	sessions *shared.SessionManager
	deskID   string
}

func newTestClient(t *testing.T, svc deskService) *testClient {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessions := shared.NewSessionManager(redisClient, testCookie, time.Hour, false)
	templates, err := view.NewEngine()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, svc, desk.DefaultCatalog(), templates, shared.NewCSRFManager("csrfsecret"))

	router := chi.NewRouter()
	router.Route("/desk", handler.MountRoutes)
	return &testClient{t: t, router: router, sessions: sessions, deskID: uuid.NewString()}
}

// do serves one request inside the client's session and persists the session afterwards.
func (c *testClient) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.AddCookie(&http.Cookie{Name: testCookie, Value: c.deskID})

	sess, err := c.sessions.Load(context.Background(), req)
	require.NoError(c.t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rr := httptest.NewRecorder()
	c.router.ServeHTTP(rr, req)
	require.NoError(c.t, c.sessions.Commit(context.Background(), httptest.NewRecorder(), req, sess))
	return rr
}

func (c *testClient) state() desk.State {
	c.t.Helper()
	rr := c.do(http.MethodGet, "/desk/state", nil)
	require.Equal(c.t, http.StatusOK, rr.Code)
	var st desk.State
	require.NoError(c.t, json.Unmarshal(rr.Body.Bytes(), &st))
	return st
}

type stubDeskService struct {
	stateFn        func(context.Context, string) (desk.State, error)
	setFilterFn    func(context.Context, string, string, string) (desk.State, error)
	applyFiltersFn func(context.Context, string, desk.FilterSelection) (desk.State, error)
	searchFn       func(context.Context, string) (desk.State, error)
	clearFn        func(context.Context, string) (desk.State, error)
	toggleFn       func(context.Context, string, int64) (desk.State, error)
	editFieldFn    func(context.Context, string, string, string) (desk.State, error)
	decideFn       func(context.Context, string, int64, desk.Action, map[string]string) (desk.State, error)
}

func (s *stubDeskService) State(ctx context.Context, id string) (desk.State, error) {
	if s.stateFn != nil {
		return s.stateFn(ctx, id)
	}
	return desk.NewState(), nil
}

func (s *stubDeskService) SetFilter(ctx context.Context, id, field, value string) (desk.State, error) {
	if s.setFilterFn != nil {
		return s.setFilterFn(ctx, id, field, value)
	}
	return desk.NewState(), nil
}

func (s *stubDeskService) ApplyFilters(ctx context.Context, id string, filters desk.FilterSelection) (desk.State, error) {
	if s.applyFiltersFn != nil {
		return s.applyFiltersFn(ctx, id, filters)
	}
	return desk.NewState(), nil
}

func (s *stubDeskService) Search(ctx context.Context, id string) (desk.State, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, id)
	}
	return desk.NewState(), nil
}

func (s *stubDeskService) Clear(ctx context.Context, id string) (desk.State, error) {
	if s.clearFn != nil {
		return s.clearFn(ctx, id)
	}
	return desk.NewState(), nil
}

func (s *stubDeskService) Toggle(ctx context.Context, id string, rowID int64) (desk.State, error) {
	if s.toggleFn != nil {
		return s.toggleFn(ctx, id, rowID)
	}
	return desk.NewState(), nil
}

func (s *stubDeskService) EditField(ctx context.Context, id, field, value string) (desk.State, error) {
	if s.editFieldFn != nil {
		return s.editFieldFn(ctx, id, field, value)
	}
	return desk.NewState(), nil
}

func (s *stubDeskService) Decide(ctx context.Context, id string, rowID int64, action desk.Action, values map[string]string) (desk.State, error) {
	if s.decideFn != nil {
		return s.decideFn(ctx, id, rowID, action, values)
	}
	return desk.NewState(), nil
}

type capturedDecision struct {
	rowID    int64
	decision desk.Decision
}

type capturingSubmitter struct {
	mu    sync.Mutex
	calls []capturedDecision
}

func (s *capturingSubmitter) SubmitDecision(ctx context.Context, rowID int64, decision desk.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, capturedDecision{rowID: rowID, decision: decision})
	return nil
}

func TestShowDeskRendersHeaderOnlyTableOnMount(t *testing.T) {
	client := newTestClient(t, &stubDeskService{})

	rr := client.do(http.MethodGet, "/desk", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "<th>Expand</th><th>Name</th><th>Description</th>")
	assert.NotContains(t, body, "data-row-id")
	assert.Contains(t, body, ">Submit</button>")
	assert.Contains(t, body, `title="Info about Option 1"`)
	assert.Contains(t, body, `title="Info about Option 3"`)
	assert.NotContains(t, body, "Info about Option 2")
	assert.Contains(t, body, `name="csrf_token"`)
	assert.NotContains(t, body, "http-equiv")
}

func TestShowDeskRendersLoadingAndExpandedRow(t *testing.T) {
	expanded := int64(2)
	svc := &stubDeskService{
		stateFn: func(ctx context.Context, id string) (desk.State, error) {
			return desk.State{
				Filters:  desk.FilterSelection{Dropdown2: "option3", StartDate: "2024-01-01"},
				Rows:     desk.SampleRows(),
				Expanded: &expanded,
				Form: desk.DecisionForm{
					Values: map[string]string{desk.FieldQuestion2: "x"},
					Errors: map[string]string{desk.FieldQuestion1: desk.RequiredMessage},
				},
				Loading: true,
			}, nil
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodGet, "/desk", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Loading...")
	assert.Contains(t, body, `<meta http-equiv="refresh" content="1;url=/desk">`, "a page rendered mid-call polls for the result")
	assert.Equal(t, 3, strings.Count(body, " disabled>"), "submit, approve and deny are disabled")
	assert.Equal(t, 1, strings.Count(body, "▾"))
	assert.Equal(t, 2, strings.Count(body, "▸"))
	assert.Contains(t, body, `action="/desk/rows/2/decision"`)
	assert.Contains(t, body, desk.RequiredMessage)
	assert.Contains(t, body, `value="x"`)
	assert.Contains(t, body, `value="option3" selected`)
	assert.Contains(t, body, `value="2024-01-01"`)
}

func TestSearchAppliesFiltersThenFetches(t *testing.T) {
	var calls []string
	var applied desk.FilterSelection
	svc := &stubDeskService{
		applyFiltersFn: func(ctx context.Context, id string, filters desk.FilterSelection) (desk.State, error) {
			calls = append(calls, "apply")
			applied = filters
			return desk.NewState(), nil
		},
		searchFn: func(ctx context.Context, id string) (desk.State, error) {
			calls = append(calls, "search")
			return desk.NewState(), nil
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/search", url.Values{
		"dropdown1": {"option1"},
		"startDate": {"2024-02-01"},
	})

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/desk", rr.Header().Get("Location"))
	assert.Equal(t, []string{"apply", "search"}, calls)
	assert.Equal(t, desk.FilterSelection{Dropdown1: "option1", StartDate: "2024-02-01"}, applied)
}

func TestSearchWhileBusyFlashesWarning(t *testing.T) {
	svc := &stubDeskService{
		searchFn: func(ctx context.Context, id string) (desk.State, error) {
			return desk.State{}, desk.ErrBusy
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/search", url.Values{})
	require.Equal(t, http.StatusSeeOther, rr.Code)

	page := client.do(http.MethodGet, "/desk", nil)
	assert.Contains(t, page.Body.String(), "Another operation is still running")
	assert.Contains(t, page.Body.String(), "flash-warning")

	again := client.do(http.MethodGet, "/desk", nil)
	assert.NotContains(t, again.Body.String(), "Another operation is still running")
}

func TestSearchFailureFlashesDanger(t *testing.T) {
	svc := &stubDeskService{
		searchFn: func(ctx context.Context, id string) (desk.State, error) {
			return desk.NewState(), errors.New("backend down")
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/search", url.Values{})
	require.Equal(t, http.StatusSeeOther, rr.Code)

	page := client.do(http.MethodGet, "/desk", nil)
	assert.Contains(t, page.Body.String(), "flash-danger")
	assert.NotContains(t, page.Body.String(), "backend down")
}

func TestApplyFiltersRejectsUnknownOption(t *testing.T) {
	svc := &stubDeskService{
		applyFiltersFn: func(ctx context.Context, id string, filters desk.FilterSelection) (desk.State, error) {
			return desk.State{}, desk.ErrInvalidOption
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/filters", url.Values{"dropdown1": {"option9"}})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid filter value")
}

func TestApplyFiltersSingleFieldUsesSetFilter(t *testing.T) {
	var gotField, gotValue string
	applied := false
	svc := &stubDeskService{
		setFilterFn: func(ctx context.Context, id, field, value string) (desk.State, error) {
			gotField, gotValue = field, value
			return desk.NewState(), nil
		},
		applyFiltersFn: func(ctx context.Context, id string, filters desk.FilterSelection) (desk.State, error) {
			applied = true
			return desk.NewState(), nil
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/filters", url.Values{"field": {"endDate"}, "value": {"2024-05-31"}})

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "endDate", gotField)
	assert.Equal(t, "2024-05-31", gotValue)
	assert.False(t, applied)
}

func TestToggleUnknownRowIsNotFound(t *testing.T) {
	svc := &stubDeskService{
		toggleFn: func(ctx context.Context, id string, rowID int64) (desk.State, error) {
			return desk.State{}, desk.ErrNotFound
		},
	}
	client := newTestClient(t, svc)

	assert.Equal(t, http.StatusNotFound, client.do(http.MethodPost, "/desk/rows/42/toggle", url.Values{}).Code)
	assert.Equal(t, http.StatusNotFound, client.do(http.MethodPost, "/desk/rows/abc/toggle", url.Values{}).Code)
}

func TestEditFieldResponses(t *testing.T) {
	var gotField, gotValue string
	svc := &stubDeskService{
		editFieldFn: func(ctx context.Context, id, field, value string) (desk.State, error) {
			switch field {
			case "question9":
				return desk.State{}, desk.ErrUnknownField
			case "":
				return desk.State{}, desk.ErrRowNotExpanded
			}
			gotField, gotValue = field, value
			return desk.NewState(), nil
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/form", url.Values{"field": {"question1"}, "value": {"a"}})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "question1", gotField)
	assert.Equal(t, "a", gotValue)

	rr = client.do(http.MethodPost, "/desk/form", url.Values{"field": {"question9"}, "value": {"a"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusBadRequest, problem.Status)

	rr = client.do(http.MethodPost, "/desk/form", url.Values{"value": {"a"}})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestDecideRejectsUnknownAction(t *testing.T) {
	called := false
	svc := &stubDeskService{
		decideFn: func(ctx context.Context, id string, rowID int64, action desk.Action, values map[string]string) (desk.State, error) {
			called = true
			return desk.NewState(), nil
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/rows/1/decision", url.Values{"action": {"escalate"}})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, called)
}

func TestDecidePassesOnlyPostedFields(t *testing.T) {
	var gotValues map[string]string
	var gotAction desk.Action
	svc := &stubDeskService{
		decideFn: func(ctx context.Context, id string, rowID int64, action desk.Action, values map[string]string) (desk.State, error) {
			gotValues, gotAction = values, action
			return desk.NewState(), nil
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/rows/1/decision", url.Values{"action": {"approve"}, "question1": {"a"}})

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, desk.ActionApprove, gotAction)
	assert.Equal(t, map[string]string{"question1": "a"}, gotValues)

	page := client.do(http.MethodGet, "/desk", nil)
	assert.Contains(t, page.Body.String(), "Approve decision recorded for row 1")
}

func TestDecideRefreshFailureFlashesWarning(t *testing.T) {
	svc := &stubDeskService{
		decideFn: func(ctx context.Context, id string, rowID int64, action desk.Action, values map[string]string) (desk.State, error) {
			return desk.NewState(), desk.ErrRefresh
		},
	}
	client := newTestClient(t, svc)

	rr := client.do(http.MethodPost, "/desk/rows/1/decision", url.Values{"action": {"deny"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)

	page := client.do(http.MethodGet, "/desk", nil)
	assert.Contains(t, page.Body.String(), "the table could not be refreshed")
}

func TestEndToEndReviewFlow(t *testing.T) {
	backend := desk.NewMockBackend(0, nil)
	submitter := &capturingSubmitter{}
	svc := desk.NewService(desk.NewMemoryStore(), backend, submitter, desk.ServiceConfig{})
	client := newTestClient(t, svc)

	st := client.state()
	assert.Empty(t, st.Rows)
	assert.Nil(t, st.Expanded)

	rr := client.do(http.MethodPost, "/desk/search", url.Values{"dropdown1": {"option2"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	st = client.state()
	assert.Equal(t, desk.SampleRows(), st.Rows)
	assert.False(t, st.Loading)
	assert.Equal(t, "option2", st.Filters.Dropdown1)

	rr = client.do(http.MethodPost, "/desk/rows/2/toggle", url.Values{})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	page := client.do(http.MethodGet, "/desk", nil)
	assert.Contains(t, page.Body.String(), `action="/desk/rows/2/decision"`)

	rr = client.do(http.MethodPost, "/desk/rows/2/decision", url.Values{
		"action":    {"deny"},
		"question1": {""},
		"question2": {"x"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), desk.RequiredMessage)
	assert.Empty(t, submitter.calls)

	rr = client.do(http.MethodPost, "/desk/form", url.Values{"field": {"question1"}, "value": {"a"}})
	require.Equal(t, http.StatusNoContent, rr.Code)
	st = client.state()
	assert.Empty(t, st.Form.Errors)

	rr = client.do(http.MethodPost, "/desk/rows/2/decision", url.Values{
		"action":    {"deny"},
		"question1": {"a"},
		"question2": {"b"},
	})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Len(t, submitter.calls, 1)
	assert.Equal(t, int64(2), submitter.calls[0].rowID)
	assert.Equal(t, map[string]string{"question1": "a", "question2": "b", "action": "deny"}, submitter.calls[0].decision.Fields())

	st = client.state()
	assert.Equal(t, desk.SampleRows(), st.Rows)
	assert.Nil(t, st.Expanded)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Form.Values)

	rr = client.do(http.MethodPost, "/desk/clear", url.Values{})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	st = client.state()
	assert.Empty(t, st.Rows)
	assert.True(t, st.Filters.IsZero())
}
