package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
)

// =============================================================================
// Test Helpers
// =============================================================================

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// RequireToken Tests
// =============================================================================

func TestRequireToken_EmptyTokenDisablesCheck(t *testing.T) {
	h := RequireToken(TokenConfig{})(okHandler())

	rec := serve(h, httptest.NewRequest("POST", "/api/v1/deployments", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireToken_Bearer(t *testing.T) {
	h := RequireToken(TokenConfig{Token: "s3cret"})(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/deployments", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestRequireToken_Header(t *testing.T) {
	h := RequireToken(TokenConfig{Token: "s3cret"})(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/deployments", nil)
	req.Header.Set(HeaderToken, "s3cret")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestRequireToken_Missing(t *testing.T) {
	h := RequireToken(TokenConfig{Token: "s3cret"})(okHandler())

	rec := serve(h, httptest.NewRequest("POST", "/api/v1/deployments", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body.Code)
}

func TestRequireToken_Wrong(t *testing.T) {
	h := RequireToken(TokenConfig{Token: "s3cret"})(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/deployments", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := serve(h, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRequireToken_NonBearerAuthorizationIgnored(t *testing.T) {
	h := RequireToken(TokenConfig{Token: "s3cret"})(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/deployments", nil)
	req.Header.Set("Authorization", "Basic s3cret")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/deployments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	serve(r, httptest.NewRequest("GET", "/deployments/abc", nil))
	serve(r, httptest.NewRequest("GET", "/deployments/def", nil))

	count, err := testutil.GatherAndCount(reg, "geodeploy_api_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "both requests share one route series")
}

func TestMetrics_NilIsPassthrough(t *testing.T) {
	h := Metrics(nil)(okHandler())
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest("GET", "/", nil)).Code)
}
