package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/wxbridge/internal/auth"
	"github.com/memohai/wxbridge/internal/config"
	"github.com/memohai/wxbridge/internal/metrics"
)

type routeHandler struct {
	path string
	fn   echo.HandlerFunc
}

func (h routeHandler) Register(e *echo.Echo) {
	e.GET(h.path, h.fn)
}

func TestNewServerDefaults(t *testing.T) {
	srv := NewServer(config.ServerConfig{}, nil)
	assert.Equal(t, config.DefaultHTTPAddr, srv.Addr())
}

func TestServerRegistersHandlersAndSkipsNil(t *testing.T) {
	srv := NewServer(config.ServerConfig{Addr: ":0"}, nil,
		routeHandler{path: "/hello", fn: func(c echo.Context) error { return c.String(http.StatusOK, "hi") }},
		nil,
	)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
}

func TestServerRecoversPanics(t *testing.T) {
	srv := NewServer(config.ServerConfig{Addr: ":0"}, nil,
		routeHandler{path: "/boom", fn: func(echo.Context) error { panic("boom") }},
	)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerCountsRequests(t *testing.T) {
	srv := NewServer(config.ServerConfig{Addr: ":0"}, nil,
		routeHandler{path: "/teapot", fn: func(c echo.Context) error { return c.NoContent(http.StatusTeapot) }},
		routeHandler{path: "/denied", fn: func(echo.Context) error { return echo.NewHTTPError(http.StatusForbidden) }},
	)

	okBefore := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "418"))
	deniedBefore := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "403"))

	for _, path := range []string{"/teapot", "/denied"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "418")))
	assert.Equal(t, deniedBefore+1, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "403")))
}

func TestServerRequiresTokenForOperatorRoutes(t *testing.T) {
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	srv := NewServer(config.ServerConfig{Addr: ":0", JWTSecret: "s3cret"}, nil,
		routeHandler{path: "/sessions", fn: ok},
		routeHandler{path: "/metrics", fn: ok},
		routeHandler{path: "/health", fn: ok},
	)
	token, _, err := auth.GenerateToken("ops", "s3cret", time.Minute)
	require.NoError(t, err)

	for _, path := range []string{"/sessions", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerWithoutSecretLocksOperatorRoutes(t *testing.T) {
	srv := NewServer(config.ServerConfig{Addr: ":0"}, nil,
		routeHandler{path: "/sessions", fn: func(c echo.Context) error { return c.NoContent(http.StatusOK) }},
	)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
