package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abduss/storage-emulator/internal/auth"
	"github.com/abduss/storage-emulator/internal/config"
	"github.com/abduss/storage-emulator/internal/events"
	"github.com/abduss/storage-emulator/internal/file"
	"github.com/abduss/storage-emulator/internal/logger"
	"github.com/abduss/storage-emulator/internal/persistence"
	"github.com/abduss/storage-emulator/internal/rules"
	"github.com/abduss/storage-emulator/internal/storage"
	"github.com/abduss/storage-emulator/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDependencies(t *testing.T, validator rules.Validator) Dependencies {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	store, err := persistence.New(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	notifier := events.NewNotifier("demo-project", nil, nil)
	cfg := config.Config{
		Server:  config.ServerConfig{MaxBodyBytes: 16},
		Metrics: config.MetricsConfig{PrometheusPath: "/metrics"},
	}

	return Dependencies{
		Config:      cfg,
		FileService: file.NewService(validator, store, upload.NewService(), notifier),
		Verifier:    auth.NewVerifier(config.AuthConfig{OwnerToken: "owner"}),
		Checks:      map[string]storage.Check{"disk": storage.DiskCheck(root)},
	}
}

func TestHealthRoutes(t *testing.T) {
	deps := newTestDependencies(t, rules.AlwaysAllow())
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(logger.CorrelationIDHeader))
}

func TestReadinessReportsFailingComponent(t *testing.T) {
	deps := newTestDependencies(t, rules.AlwaysAllow())
	deps.Checks["postgres"] = func(context.Context) error { return errors.New("connection refused") }
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "postgres", body["component"])
	assert.Equal(t, "connection refused", body["error"])
}

func TestStorageRoutesUseAuthenticatedCaller(t *testing.T) {
	deps := newTestDependencies(t, rules.AllowAdmin(rules.AlwaysDeny()))
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/v0/b/bucket/o?name=obj", strings.NewReader("data"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v0/b/bucket/o?name=obj", strings.NewReader("data"))
	req.Header.Set("Authorization", "Bearer owner")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v0/b/bucket/o/obj", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	deps := newTestDependencies(t, rules.AlwaysAllow())
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/v0/b/bucket/o?name=big", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(newTestDependencies(t, rules.AlwaysAllow()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
