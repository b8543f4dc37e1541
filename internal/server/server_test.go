package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/risk"
)

type stubRegimeSource struct {
	regime domain.MarketRegime
}

func (s stubRegimeSource) CurrentRegime() domain.MarketRegime { return s.regime }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{HTTPPort: 8080}
	riskCore := risk.New(&config.Config{CircuitBreakerPct: 0.05}, zerolog.Nop())
	engine := stubRegimeSource{regime: domain.MarketRegime{Tag: domain.RegimeBullTrending, Confidence: 0.7}}
	return New(cfg, zerolog.Nop(), engine, riskCore)
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStatus_ReturnsRegimeAndHaltedState(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.RegimeBullTrending, body.Regime.Tag)
	assert.False(t, body.Halted)
}

func TestRoutes_OnlyExposeGET(t *testing.T) {
	s := newTestServer(t)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/status", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.NotEqual(t, http.StatusOK, rec.Code, "the status endpoint must never accept a mutating method")
	}
}

func TestCORS_RestrictsToGETOnly(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.NotContains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}
