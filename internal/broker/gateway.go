// Package broker implements the Resilient Broker Gateway: a
// rate-limited, retry-aware HTTP envelope over the brokerage REST API
// with uniform response classification.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
)

const (
	pdtErrorCode  = "40310000"
	qtyHeldPhrase = "insufficient qty available"
)

// Gateway is the single authenticated entry point for every broker
// call. It is constructed once at startup and passed by reference to
// every consumer — there are no process-wide singletons.
type Gateway struct {
	cfg     *config.Config
	http    *http.Client
	limiter *RateLimiter
	retry   retryPolicy
	log     zerolog.Logger

	acctCache  *accountCache
	quoteCache *quoteCache

	stream *OrderStream
}

// NewGateway builds a Gateway against cfg's broker base URL and
// credentials, with a rate limiter sized to the configured utilization
// fraction of the documented per-minute limit plus an emergency
// reserve.
func NewGateway(cfg *config.Config, log zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:  cfg,
		http: &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second},
		limiter: NewRateLimiter(
			cfg.UsableRateLimit(),
			cfg.EmergencyReserve,
		),
		retry:      defaultRetryPolicy(cfg.MaxRetries),
		log:        log.With().Str("component", "broker_gateway").Logger(),
		acctCache:  &accountCache{},
		quoteCache: newQuoteCache(),
	}
}

// roundTrip performs one rate-limited, retried HTTP call and returns
// the raw status code and body, plus the classification applied to it.
// Cancellation: ctx governs both the rate-limit wait and every attempt,
// satisfying the "ambient deadline aborts rate_limited and in_flight
// cleanly" requirement.
func (g *Gateway) roundTrip(ctx context.Context, method, path string, body []byte, emergency bool) (int, []byte, classification, error) {
	var (
		status int
		resp   []byte
		cls    classification
	)

	err := g.retry.do(ctx, func(attempt int) (bool, error) {
		if err := g.limiter.Acquire(ctx, emergency); err != nil {
			return false, err
		}

		req, err := http.NewRequestWithContext(ctx, method, g.cfg.BrokerBaseURL+path, bytes.NewReader(body))
		if err != nil {
			return false, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("APCA-API-KEY-ID", g.cfg.APIKeyID)
		req.Header.Set("APCA-API-SECRET-KEY", g.cfg.APISecretKey)

		httpResp, err := g.http.Do(req)
		if err != nil {
			g.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("broker request failed")
			return true, domain.NewRetryableAPIError(domain.ErrNetwork, err.Error())
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return true, domain.NewRetryableAPIError(domain.ErrNetwork, "failed to read response body")
		}

		status = httpResp.StatusCode
		resp = respBody
		cls = classify(status, resp, pdtErrorCode, qtyHeldPhrase)

		if cls.success {
			return false, nil
		}
		if !cls.retryable {
			return false, domain.NewAPIError(cls.kind, cls.message)
		}
		return true, domain.NewRetryableAPIError(cls.kind, cls.message)
	})

	if err != nil {
		var apiErr *domain.APIError
		if e, isAPI := err.(*domain.APIError); isAPI {
			apiErr = e
		}
		if apiErr == nil {
			return status, resp, cls, err
		}
		return status, resp, cls, apiErr
	}
	return status, resp, cls, nil
}

// GetAccount fetches the account snapshot, refreshing the 5-second
// validity cache.
func (g *Gateway) GetAccount(ctx context.Context) ApiResponse[domain.AccountSnapshot] {
	if cached, found := g.acctCache.get(); found {
		return ok(http.StatusOK, cached)
	}

	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, "/v2/account", nil, false)
	if err != nil {
		return failFromErr[domain.AccountSnapshot](status, cls, err)
	}

	var wire wireAccount
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil {
		return fail[domain.AccountSnapshot](status, domain.ErrOther, "malformed account payload", false)
	}
	snap := wire.toDomain()
	g.acctCache.set(snap)
	return ok(status, snap)
}

// GetPositions fetches all open positions.
func (g *Gateway) GetPositions(ctx context.Context) ApiResponse[[]domain.Position] {
	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, "/v2/positions", nil, false)
	if err != nil {
		return failFromErr[[]domain.Position](status, cls, err)
	}
	var wire []wirePosition
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil {
		return fail[[]domain.Position](status, domain.ErrOther, "malformed positions payload", false)
	}
	out := make([]domain.Position, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return ok(status, out)
}

// GetOrders fetches orders, optionally filtered by status (empty means all).
func (g *Gateway) GetOrders(ctx context.Context, statusFilter string) ApiResponse[[]domain.Order] {
	path := "/v2/orders"
	if statusFilter != "" {
		path += "?status=" + statusFilter
	}
	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return failFromErr[[]domain.Order](status, cls, err)
	}
	var wire []wireOrder
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil {
		return fail[[]domain.Order](status, domain.ErrOther, "malformed orders payload", false)
	}
	out := make([]domain.Order, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return ok(status, out)
}

// GetLatestQuote fetches the latest quote for symbol, rejecting stale
// data per the configured freshness bound (default 15 minutes).
func (g *Gateway) GetLatestQuote(ctx context.Context, symbol string) ApiResponse[domain.Quote] {
	if cached, found := g.quoteCache.get(symbol, 2*time.Second); found {
		return ok(http.StatusOK, cached)
	}

	path := fmt.Sprintf("/v2/stocks/%s/quotes/latest", symbol)
	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return failFromErr[domain.Quote](status, cls, err)
	}
	var wire wireQuote
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil {
		return fail[domain.Quote](status, domain.ErrOther, "malformed quote payload", false)
	}
	q := wire.toDomain(symbol)

	maxAge := time.Duration(g.cfg.StaleQuoteMaxMinutes * float64(time.Minute))
	if !q.Timestamp.IsZero() && time.Since(q.Timestamp) > maxAge {
		return fail[domain.Quote](status, domain.ErrStaleData, "quote exceeds freshness bound", false)
	}

	g.quoteCache.set(q)
	return ok(status, q)
}

// GetBars fetches timeframe bars for symbol, bounded to limit entries.
func (g *Gateway) GetBars(ctx context.Context, symbol, timeframe string, limit int) ApiResponse[[]domain.Bar] {
	path := fmt.Sprintf("/v2/stocks/%s/bars?timeframe=%s&limit=%d", symbol, timeframe, limit)
	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return failFromErr[[]domain.Bar](status, cls, err)
	}
	var wrapper struct {
		Bars []wireBar `json:"bars"`
	}
	if jsonErr := json.Unmarshal(body, &wrapper); jsonErr != nil {
		return fail[[]domain.Bar](status, domain.ErrOther, "malformed bars payload", false)
	}
	out := make([]domain.Bar, 0, len(wrapper.Bars))
	for _, w := range wrapper.Bars {
		out = append(out, w.toDomain())
	}
	return ok(status, out)
}

// SubmitOrder submits an order. spec.ClientOrderID is sent as the
// client order id, so retried submissions that carry one are idempotent
// broker-side; the gateway does not generate an id when it is empty.
func (g *Gateway) SubmitOrder(ctx context.Context, spec OrderSpec) ApiResponse[domain.Order] {
	payload, jsonErr := json.Marshal(spec.toWire())
	if jsonErr != nil {
		return fail[domain.Order](0, domain.ErrInvalidOrder, "failed to encode order", false)
	}
	status, body, cls, err := g.roundTrip(ctx, http.MethodPost, "/v2/orders", payload, false)
	if err != nil {
		return failFromErr[domain.Order](status, cls, err)
	}
	var wire wireOrder
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil {
		return fail[domain.Order](status, domain.ErrOther, "malformed order payload", false)
	}
	return ok(status, wire.toDomain())
}

// CancelOrder cancels an order by broker id. Cancellation is an
// emergency-class call: it may draw on the rate limiter's reserve.
func (g *Gateway) CancelOrder(ctx context.Context, brokerID string) ApiResponse[struct{}] {
	path := fmt.Sprintf("/v2/orders/%s", brokerID)
	status, _, cls, err := g.roundTrip(ctx, http.MethodDelete, path, nil, true)
	if err != nil {
		return failFromErr[struct{}](status, cls, err)
	}
	// HTTP 204 with an empty body is success (rule 3); classify() already
	// marks this success, nothing further to decode.
	return ok(status, struct{}{})
}

// CancelAllFor cancels every open order on symbol, an emergency-class
// call used by the cancel-then-liquidate protocol.
func (g *Gateway) CancelAllFor(ctx context.Context, symbol string) ApiResponse[[]domain.Order] {
	openOrders := g.GetOrders(ctx, "open")
	if !openOrders.Success {
		return fail[[]domain.Order](openOrders.StatusCode, openOrders.ErrorKind, openOrders.ErrorMessage, openOrders.Retryable)
	}
	var canceled []domain.Order
	for _, o := range openOrders.Data {
		if o.Symbol != symbol {
			continue
		}
		resp := g.CancelOrder(ctx, o.BrokerID)
		if resp.Success || resp.ErrorKind == domain.ErrOther {
			o.Status = domain.OrderCanceled
			canceled = append(canceled, o)
		}
	}
	return ok(http.StatusOK, canceled)
}

// GetMarketMovers fetches the broker's movers list for kind ("gainers" | "losers").
func (g *Gateway) GetMarketMovers(ctx context.Context, kind string) ApiResponse[[]MoverResult] {
	path := fmt.Sprintf("/v2/screener/stocks/movers?kind=%s", kind)
	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return failFromErr[[]MoverResult](status, cls, err)
	}
	var wire []wireMover
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil {
		return fail[[]MoverResult](status, domain.ErrOther, "malformed movers payload", false)
	}
	out := make([]MoverResult, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return ok(status, out)
}

// GetMostActive fetches the broker's most-active-by-volume list.
func (g *Gateway) GetMostActive(ctx context.Context) ApiResponse[[]MoverResult] {
	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, "/v2/screener/stocks/most-actives", nil, false)
	if err != nil {
		return failFromErr[[]MoverResult](status, cls, err)
	}
	var wire []wireMover
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil {
		return fail[[]MoverResult](status, domain.ErrOther, "malformed most-active payload", false)
	}
	out := make([]MoverResult, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return ok(status, out)
}

// GetNews fetches recent news headlines for the broad-scan stage.
func (g *Gateway) GetNews(ctx context.Context) ApiResponse[[]NewsItem] {
	status, body, cls, err := g.roundTrip(ctx, http.MethodGet, "/v1beta1/news", nil, false)
	if err != nil {
		return failFromErr[[]NewsItem](status, cls, err)
	}
	var wrapper struct {
		News []wireNews `json:"news"`
	}
	if jsonErr := json.Unmarshal(body, &wrapper); jsonErr != nil {
		return fail[[]NewsItem](status, domain.ErrOther, "malformed news payload", false)
	}
	out := make([]NewsItem, 0, len(wrapper.News))
	for _, w := range wrapper.News {
		out = append(out, w.toDomain())
	}
	return ok(status, out)
}

// EnableStream starts the optional websocket order-ack stream,
// degrading silently to polling if the connection cannot be
// established.
func (g *Gateway) EnableStream(ctx context.Context, wsURL string) {
	g.stream = NewOrderStream(wsURL, g.log)
	if err := g.stream.Start(ctx); err != nil {
		g.log.Warn().Err(err).Msg("order-ack stream unavailable, falling back to polling")
	}
}

// Stream returns the optional order-ack stream, nil if never enabled.
func (g *Gateway) Stream() *OrderStream { return g.stream }

// Close releases gateway resources (the websocket stream, if any).
func (g *Gateway) Close() {
	if g.stream != nil {
		g.stream.Stop()
	}
}

func failFromErr[T any](status int, cls classification, err error) ApiResponse[T] {
	apiErr, isAPI := err.(*domain.APIError)
	if !isAPI {
		return fail[T](status, domain.ErrOther, err.Error(), false)
	}
	return fail[T](status, apiErr.Kind, apiErr.Message, apiErr.Retryable)
}
