// Package orders implements the Order Lifecycle & Protection
// Reconciler: bracket submission, startup reconciliation of
// unprotected positions, and the cancel-then-liquidate emergency stop.
package orders

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/broker"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
)

const emergencyLiquidationConcurrency = 4

// pendingFill tracks an emulated bracket's parent order until it fills
// (or partially fills) and protective children have been attached for
// the fully-filled quantity.
type pendingFill struct {
	signal        domain.TradeSignal
	lastFilledQty int64
}

// Lifecycle owns bracket submission, protection reconciliation, and
// the emergency liquidation protocol.
type Lifecycle struct {
	gw  *broker.Gateway
	cfg *config.Config
	log zerolog.Logger

	mu              sync.Mutex
	inFlight        map[string]bool        // symbol -> an order is new/partially_filled
	pendingEmulated map[string]pendingFill // client order id -> emulated parent awaiting child attachment
}

// New builds a Lifecycle.
func New(gw *broker.Gateway, cfg *config.Config, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		gw:              gw,
		cfg:             cfg,
		log:             log.With().Str("component", "order_lifecycle").Logger(),
		inFlight:        make(map[string]bool),
		pendingEmulated: make(map[string]pendingFill),
	}
}

// SubmitBracket submits a parent entry order with two protective
// children for an approved signal. Order submissions for a single
// symbol are serialized: a new entry cannot be submitted while a prior
// order for the same symbol is still new/partially_filled.
func (l *Lifecycle) SubmitBracket(ctx context.Context, signal domain.TradeSignal, qty int64) (domain.Order, error) {
	l.mu.Lock()
	if l.inFlight[signal.Symbol] {
		l.mu.Unlock()
		return domain.Order{}, fmt.Errorf("order already in flight for %s", signal.Symbol)
	}
	l.inFlight[signal.Symbol] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.inFlight, signal.Symbol)
		l.mu.Unlock()
	}()

	stop := signal.Stop
	target := signal.Target
	spec := broker.OrderSpec{
		Symbol:        signal.Symbol,
		Qty:           qty,
		Side:          signal.Side,
		Type:          domain.OrderMarket,
		TimeInForce:   domain.TIFDay,
		OrderClass:    "bracket",
		TakeProfit:    &target,
		StopLoss:      &stop,
		ClientOrderID: uuid.NewString(),
	}

	resp := l.gw.SubmitOrder(ctx, spec)
	if !resp.Success {
		if resp.ErrorKind == domain.ErrOther {
			// Broker does not support a native bracket composition;
			// emulate it by submitting a plain entry now and attaching
			// protective children once it reports a fill.
			return l.submitEmulatedBracket(ctx, signal, qty)
		}
		return domain.Order{}, domain.NewAPIError(resp.ErrorKind, resp.ErrorMessage)
	}
	return resp.Data, nil
}

// submitEmulatedBracket is the fallback path when the broker cannot
// accept a true bracket as one call: it submits the parent alone and
// registers it so the 10-second monitor tick attaches protective
// children as soon as a fill (even partial) is observed.
func (l *Lifecycle) submitEmulatedBracket(ctx context.Context, signal domain.TradeSignal, qty int64) (domain.Order, error) {
	clientOrderID := uuid.NewString()
	spec := broker.OrderSpec{
		Symbol:        signal.Symbol,
		Qty:           qty,
		Side:          signal.Side,
		Type:          domain.OrderMarket,
		TimeInForce:   domain.TIFDay,
		ClientOrderID: clientOrderID,
	}
	resp := l.gw.SubmitOrder(ctx, spec)
	if !resp.Success {
		return domain.Order{}, domain.NewAPIError(resp.ErrorKind, resp.ErrorMessage)
	}

	l.mu.Lock()
	l.pendingEmulated[clientOrderID] = pendingFill{signal: signal}
	l.mu.Unlock()
	return resp.Data, nil
}

// AttachChildrenOnFill submits the protective stop and target children
// sized to parent.FilledQty. MonitorFills passes only the quantity
// filled since its previous attachment, so across partial fills each
// increment gets its own children and their total matches the fill.
func (l *Lifecycle) AttachChildrenOnFill(ctx context.Context, parent domain.Order, signal domain.TradeSignal) error {
	if parent.FilledQty <= 0 {
		return nil
	}
	childSide := domain.SideSell
	if signal.Side == domain.SideSell {
		childSide = domain.SideBuy
	}

	stopSpec := broker.OrderSpec{
		Symbol:        parent.Symbol,
		Qty:           parent.FilledQty,
		Side:          childSide,
		Type:          domain.OrderStop,
		StopPrice:     &signal.Stop,
		TimeInForce:   domain.TIFGTC,
		ClientOrderID: uuid.NewString(),
	}
	if resp := l.gw.SubmitOrder(ctx, stopSpec); !resp.Success {
		return domain.NewAPIError(resp.ErrorKind, resp.ErrorMessage)
	}

	targetSpec := broker.OrderSpec{
		Symbol:        parent.Symbol,
		Qty:           parent.FilledQty,
		Side:          childSide,
		Type:          domain.OrderLimit,
		LimitPrice:    &signal.Target,
		TimeInForce:   domain.TIFGTC,
		ClientOrderID: uuid.NewString(),
	}
	if resp := l.gw.SubmitOrder(ctx, targetSpec); !resp.Success {
		return domain.NewAPIError(resp.ErrorKind, resp.ErrorMessage)
	}
	return nil
}

// MonitorFills checks every emulated bracket parent registered by
// submitEmulatedBracket for a new or grown fill since the last tick
// and attaches protective children for the newly filled quantity. Parents
// that reach a terminal status are dropped from tracking. Intended to
// run on the fast monitor tick so emulated entries are never left
// unprotected longer than one tick interval.
func (l *Lifecycle) MonitorFills(ctx context.Context) {
	l.mu.Lock()
	pending := make(map[string]pendingFill, len(l.pendingEmulated))
	for id, p := range l.pendingEmulated {
		pending[id] = p
	}
	l.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	ordersResp := l.gw.GetOrders(ctx, "")
	if !ordersResp.Success {
		return
	}
	byClientID := make(map[string]domain.Order, len(ordersResp.Data))
	for _, o := range ordersResp.Data {
		byClientID[o.ClientID] = o
	}

	for clientID, p := range pending {
		order, found := byClientID[clientID]
		if !found {
			continue
		}

		if order.FilledQty > p.lastFilledQty {
			increment := order
			increment.FilledQty = order.FilledQty - p.lastFilledQty
			if err := l.AttachChildrenOnFill(ctx, increment, p.signal); err != nil {
				l.log.Error().Err(err).Str("symbol", order.Symbol).Msg("failed to attach protective children on fill")
			} else {
				p.lastFilledQty = order.FilledQty
				l.mu.Lock()
				l.pendingEmulated[clientID] = p
				l.mu.Unlock()
			}
		}

		if order.Status.Terminal() {
			l.mu.Lock()
			delete(l.pendingEmulated, clientID)
			l.mu.Unlock()
		}
	}
}

// ReconcileStartup enumerates positions and open orders and ensures
// the protection invariant holds for every nonzero position. It is
// idempotent: a second call immediately after the first leaves the
// open-order set unchanged.
func (l *Lifecycle) ReconcileStartup(ctx context.Context) error {
	positionsResp := l.gw.GetPositions(ctx)
	if !positionsResp.Success {
		return domain.NewAPIError(positionsResp.ErrorKind, positionsResp.ErrorMessage)
	}
	ordersResp := l.gw.GetOrders(ctx, "open")
	if !ordersResp.Success {
		return domain.NewAPIError(ordersResp.ErrorKind, ordersResp.ErrorMessage)
	}

	openBySymbol := make(map[string][]domain.Order)
	for _, o := range ordersResp.Data {
		openBySymbol[o.Symbol] = append(openBySymbol[o.Symbol], o)
	}

	for _, pos := range positionsResp.Data {
		if pos.Closed() {
			continue
		}
		protectiveSide := domain.SideSell
		if pos.IsShort() {
			protectiveSide = domain.SideBuy
		}

		protective := matchingProtective(openBySymbol[pos.Symbol], protectiveSide)
		switch len(protective) {
		case 0:
			if err := l.submitEmergencyProtection(ctx, pos, protectiveSide); err != nil {
				return err
			}
			l.log.Error().Str("symbol", pos.Symbol).Msg("unprotected_position_remediated")
		case 1:
			// Already protected, nothing to do.
		default:
			// Conflicting protections: cancel all and resubmit one.
			if resp := l.gw.CancelAllFor(ctx, pos.Symbol); !resp.Success {
				return domain.NewAPIError(resp.ErrorKind, resp.ErrorMessage)
			}
			if err := l.submitEmergencyProtection(ctx, pos, protectiveSide); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchingProtective(orders []domain.Order, side domain.Side) []domain.Order {
	var out []domain.Order
	for _, o := range orders {
		if o.Side == side && (o.Type == domain.OrderStop || o.Type == domain.OrderStopLimit || o.Type == domain.OrderLimit) {
			out = append(out, o)
		}
	}
	return out
}

// submitEmergencyProtection computes and submits an emergency stop at
// current price * (1 - stop_pct) for longs, the mirror for shorts.
func (l *Lifecycle) submitEmergencyProtection(ctx context.Context, pos domain.Position, side domain.Side) error {
	const stopPct = 0.03
	var stopPrice float64
	if side == domain.SideSell {
		stopPrice = pos.CurrentPrice * (1 - stopPct)
	} else {
		stopPrice = pos.CurrentPrice * (1 + stopPct)
	}

	spec := broker.OrderSpec{
		Symbol:        pos.Symbol,
		Qty:           int64(math.Abs(pos.Qty)),
		Side:          side,
		Type:          domain.OrderStop,
		StopPrice:     &stopPrice,
		TimeInForce:   domain.TIFGTC,
		ClientOrderID: uuid.NewString(),
	}
	resp := l.gw.SubmitOrder(ctx, spec)
	if !resp.Success {
		return domain.NewAPIError(resp.ErrorKind, resp.ErrorMessage)
	}
	return nil
}

// HasProtection reports whether symbol currently carries an equivalent
// protective order, used to skip redundant stop/cut actions.
func (l *Lifecycle) HasProtection(ctx context.Context, symbol string, side domain.Side) (bool, error) {
	ordersResp := l.gw.GetOrders(ctx, "open")
	if !ordersResp.Success {
		return false, domain.NewAPIError(ordersResp.ErrorKind, ordersResp.ErrorMessage)
	}
	for _, o := range ordersResp.Data {
		if o.Symbol == symbol && o.Side == side && (o.Type == domain.OrderStop || o.Type == domain.OrderStopLimit) {
			return true, nil
		}
	}
	return false, nil
}

// ShutdownReport is the structured report produced by an emergency stop.
type ShutdownReport struct {
	GeneratedAt       time.Time                 `json:"generated_at"`
	PositionsAttempted int                      `json:"positions_attempted"`
	FillsAchieved     int                        `json:"fills_achieved"`
	ResidualExposure  float64                    `json:"residual_exposure"`
	ElapsedSeconds    float64                    `json:"elapsed_seconds"`
	PerSymbol         []SymbolLiquidationOutcome `json:"per_symbol"`
}

// SymbolLiquidationOutcome records the per-symbol result of the
// cancel-then-liquidate sequence.
type SymbolLiquidationOutcome struct {
	Symbol        string `json:"symbol"`
	Canceled      int    `json:"canceled"`
	Flattened     bool   `json:"flattened"`
	RetriesUsed   int    `json:"retries_used"`
	Error         string `json:"error,omitempty"`
}

// EmergencyStop runs the cancel-then-liquidate protocol across
// positions with bounded concurrency (default 4). Each per-symbol
// sequence remains strictly sequential: cancel, then flatten. The
// cancel responses are taken as acknowledgement; order status is not
// polled for a terminal state before the flatten is submitted.
func (l *Lifecycle) EmergencyStop(ctx context.Context, positions []domain.Position) ShutdownReport {
	start := time.Now()
	report := ShutdownReport{
		GeneratedAt:        start,
		PositionsAttempted: len(positions),
	}

	outcomes := make([]SymbolLiquidationOutcome, len(positions))
	sem := make(chan struct{}, emergencyLiquidationConcurrency)
	var wg sync.WaitGroup

	for i, pos := range positions {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, pos domain.Position) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = l.liquidateOneSymbol(ctx, pos)
		}(i, pos)
	}
	wg.Wait()

	residual := 0.0
	fills := 0
	for i, o := range outcomes {
		if o.Flattened {
			fills++
		} else {
			residual += math.Abs(positions[i].MarketValue)
		}
	}

	report.PerSymbol = outcomes
	report.FillsAchieved = fills
	report.ResidualExposure = residual
	report.ElapsedSeconds = time.Since(start).Seconds()
	return report
}

// liquidateOneSymbol cancels every open order on the symbol, then
// submits a market order to flatten the position, repeating the
// cancel-and-flatten on qty_held for up to 3 attempts in all with
// exponential backoff (base 2s). It does not wait for the cancels to
// reach a terminal status before submitting the flatten.
func (l *Lifecycle) liquidateOneSymbol(ctx context.Context, pos domain.Position) SymbolLiquidationOutcome {
	outcome := SymbolLiquidationOutcome{Symbol: pos.Symbol}

	const maxRetries = 3
	backoff := 2 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		cancelResp := l.gw.CancelAllFor(ctx, pos.Symbol)
		if cancelResp.Success {
			outcome.Canceled += len(cancelResp.Data)
		}

		side := domain.SideSell
		if pos.IsShort() {
			side = domain.SideBuy
		}
		flattenSpec := broker.OrderSpec{
			Symbol:        pos.Symbol,
			Qty:           int64(math.Abs(pos.Qty)),
			Side:          side,
			Type:          domain.OrderMarket,
			TimeInForce:   domain.TIFDay,
			ClientOrderID: uuid.NewString(),
		}
		resp := l.gw.SubmitOrder(ctx, flattenSpec)
		if resp.Success {
			outcome.Flattened = true
			return outcome
		}

		outcome.RetriesUsed = attempt
		if resp.ErrorKind != domain.ErrQtyHeld {
			outcome.Error = resp.ErrorMessage
			return outcome
		}

		select {
		case <-ctx.Done():
			outcome.Error = "context canceled during emergency liquidation"
			return outcome
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	outcome.Error = "exhausted retries with qty_held; fatal"
	return outcome
}

// SortByLargestUnrealizedLoss orders positions descending by
// unrealized loss, for the Gap Guard's excess-overnight-position
// liquidation ordering.
func SortByLargestUnrealizedLoss(positions []domain.Position) []domain.Position {
	sorted := make([]domain.Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UnrealizedPnL < sorted[j].UnrealizedPnL })
	return sorted
}
