package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reviewdesk/internal/desk"
	deskhttp "github.com/odyssey-erp/reviewdesk/internal/desk/http"
	"github.com/odyssey-erp/reviewdesk/internal/observability"
	"github.com/odyssey-erp/reviewdesk/internal/shared"
	"github.com/odyssey-erp/reviewdesk/internal/view"
)

var csrfMeta = regexp.MustCompile(`name="csrf-token" content="([^"]+)"`)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, AppRateLimit: 1000}
	sessions := shared.NewSessionManager(client, "reviewdesk_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	backend := desk.NewMockBackend(0, logger)
	service := desk.NewService(desk.NewRedisStore(client, time.Hour), backend, backend, desk.ServiceConfig{
		Logger:   logger,
		Recorder: metrics,
	})

	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		CSRFManager:    csrf,
		DeskHandler:    deskhttp.NewHandler(logger, service, desk.DefaultCatalog(), templates, csrf),
		Metrics:        metrics,
	})
}

func TestRouterRedirectsRootToDesk(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/desk", rr.Header().Get("Location"))
}

func TestRouterServesHealthAndStatic(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/css/desk.css", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))
}

func TestRouterDeskFlowWithSessionAndCSRF(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/desk", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)
	match := csrfMeta.FindStringSubmatch(rr.Body.String())
	require.Len(t, match, 2)
	token := match[1]

	post := func(path string, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rr = post("/desk/search", url.Values{})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = post("/desk/search", url.Values{"csrf_token": {token}})
	assert.Equal(t, http.StatusSeeOther, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/desk", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Item 3")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `reviewdesk_desk_operations_total{operation="search",outcome="ok"} 1`)
}
