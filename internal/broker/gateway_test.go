package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
)

func testGatewayConfig(baseURL string) *config.Config {
	return &config.Config{
		BrokerBaseURL:         baseURL,
		APIKeyID:              "key",
		APISecretKey:          "secret",
		RateLimitPerMinute:    200,
		RateLimitUtilization:  0.8,
		EmergencyReserve:      10,
		StaleQuoteMaxMinutes:  15,
		RequestTimeoutSeconds: 5,
		MaxRetries:            2,
	}
}

func TestGateway_GetAccount_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"equity":"10000.00","cash":"5000.00","buying_power":"20000.00","daytrade_count":1,"pattern_day_trader":false}`))
	}))
	defer srv.Close()

	g := NewGateway(testGatewayConfig(srv.URL), zerolog.Nop())
	resp := g.GetAccount(context.Background())
	require.True(t, resp.Success)
	assert.Equal(t, 10000.0, resp.Data.Equity)
}

func TestGateway_GetAccount_CachesWithinValidityWindow(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"equity":"10000.00"}`))
	}))
	defer srv.Close()

	g := NewGateway(testGatewayConfig(srv.URL), zerolog.Nop())
	g.GetAccount(context.Background())
	g.GetAccount(context.Background())
	assert.Equal(t, 1, hits, "the second call within the validity window must be served from cache")
}

func TestGateway_GetAccount_PropagatesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGateway(testGatewayConfig(srv.URL), zerolog.Nop())
	resp := g.GetAccount(context.Background())
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrAuth, resp.ErrorKind)
	assert.False(t, resp.Retryable)
}

func TestGateway_SubmitOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"o-1","symbol":"AAPL","side":"buy","qty":"10","status":"new"}`))
	}))
	defer srv.Close()

	g := NewGateway(testGatewayConfig(srv.URL), zerolog.Nop())
	resp := g.SubmitOrder(context.Background(), OrderSpec{Symbol: "AAPL", Qty: 10, Side: domain.SideBuy, Type: domain.OrderMarket, TimeInForce: domain.TIFDay, ClientOrderID: "co-1"})
	require.True(t, resp.Success)
	assert.Equal(t, "o-1", resp.Data.BrokerID)
}

func TestGateway_SubmitOrder_PDTRejectionIsNotRetryable(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":"40310000","message":"pdt check failed"}`))
	}))
	defer srv.Close()

	g := NewGateway(testGatewayConfig(srv.URL), zerolog.Nop())
	resp := g.SubmitOrder(context.Background(), OrderSpec{Symbol: "AAPL", Qty: 10, Side: domain.SideBuy, Type: domain.OrderMarket, TimeInForce: domain.TIFDay})
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrPDTViolation, resp.ErrorKind)
	assert.Equal(t, 1, attempts, "a non-retryable classification must not be retried")
}

func TestGateway_RoundTrip_RetriesOnServerErrorThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := testGatewayConfig(srv.URL)
	g := NewGateway(cfg, zerolog.Nop())
	g.retry = retryPolicy{maxAttempts: 3, base: 0}
	resp := g.GetPositions(context.Background())
	require.True(t, resp.Success)
	assert.Equal(t, 2, attempts)
}

func TestGateway_CancelOrder_IsEmergencyClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewGateway(testGatewayConfig(srv.URL), zerolog.Nop())
	resp := g.CancelOrder(context.Background(), "o-1")
	assert.True(t, resp.Success)
}

func TestGateway_GetLatestQuote_RejectsStaleData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"symbol":"AAPL","bid_price":100,"ask_price":100.1,"timestamp":"2020-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	cfg := testGatewayConfig(srv.URL)
	cfg.StaleQuoteMaxMinutes = 15
	g := NewGateway(cfg, zerolog.Nop())
	resp := g.GetLatestQuote(context.Background(), "AAPL")
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrStaleData, resp.ErrorKind)
}

func TestGateway_CancelAllFor_OnlyCancelsMatchingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`[{"id":"1","symbol":"AAPL","status":"new"},{"id":"2","symbol":"MSFT","status":"new"}]`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	g := NewGateway(testGatewayConfig(srv.URL), zerolog.Nop())
	resp := g.CancelAllFor(context.Background(), "AAPL")
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "AAPL", resp.Data[0].Symbol)
}
