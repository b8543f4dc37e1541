// Package risk implements the Risk & Compliance Core: the per-trade,
// portfolio, and daily gates plus the circuit breaker.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
)

// PortfolioState is the snapshot the gates are evaluated against: the
// account, open positions, and any per-symbol daily-return history
// needed for volatility-adjusted sizing.
type PortfolioState struct {
	Account   domain.AccountSnapshot
	Positions []domain.Position
	Sectors   map[string]string // symbol -> sector, for concentration checks
}

// priceFloor rejects penny-stock-adjacent entries outright.
const priceFloor = 1.0

// Core evaluates the three concentric risk gates in sequence: a
// signal must pass all layers, in order, to proceed.
type Core struct {
	cfg *config.Config
	log zerolog.Logger

	// initialEquityToday is captured at startup by CaptureInitialEquity
	// (and re-baselined by Reset) and used for the daily drawdown gate.
	initialEquityToday float64
	halted             bool
	haltedOnce         bool
}

// New builds a Core.
func New(cfg *config.Config, log zerolog.Logger) *Core {
	return &Core{cfg: cfg, log: log.With().Str("component", "risk_core").Logger()}
}

// CaptureInitialEquity records initial_equity_today, called once at
// startup
func (c *Core) CaptureInitialEquity(equity float64) {
	c.initialEquityToday = equity
}

// Halted reports whether the circuit breaker has tripped.
func (c *Core) Halted() bool { return c.halted }

// GateResult carries the outcome of evaluating a signal against the
// risk core, including the sized quantity on success.
type GateResult struct {
	Approved bool
	Kind     domain.ErrorKind
	Reason   string
	Qty      int64
}

func reject(kind domain.ErrorKind, reason string) GateResult {
	return GateResult{Approved: false, Kind: kind, Reason: reason}
}

// Evaluate runs the per-trade and portfolio gates for signal against
// state, in extended-hours if extendedHours is true, returning the
// final sized quantity. The daily gate is checked separately via
// CheckCircuitBreaker since it does not depend on a specific signal.
func (c *Core) Evaluate(signal domain.TradeSignal, opp domain.Opportunity, state PortfolioState, extendedHours bool, dailyReturns []float64) GateResult {
	if c.halted {
		return reject(domain.ErrCircuitBreaker, "system is halted")
	}

	// Per-trade gate.
	if signal.Entry < priceFloor {
		return reject(domain.ErrInvalidOrder, "price below floor")
	}
	if opp.VolumeRatio < 1.0 {
		return reject(domain.ErrInvalidOrder, "volume ratio below 1.0")
	}

	equity := state.Account.Equity
	maxPositionPct := c.cfg.MaxPositionPctFor(extendedHours)
	riskBudget := math.Min(
		c.cfg.MaxTradeRiskPct*equity,
		maxPositionPct*equity*stopDistancePct(signal),
	)

	riskPerShare := signal.RiskPerShare()
	if riskPerShare <= 0 {
		return reject(domain.ErrInvalidOrder, "non-positive risk per share")
	}

	qty := int64(math.Floor(riskBudget / riskPerShare))
	if c.cfg.VolatilityAdjusted && len(dailyReturns) > 1 {
		sigma := stat.StdDev(dailyReturns, nil)
		qty = int64(math.Floor(float64(qty) / (1 + sigma)))
	}
	if qty <= 0 {
		return reject(domain.ErrInvalidOrder, "sized quantity rounds to zero")
	}

	notional := float64(qty) * signal.Entry
	if notional > maxPositionPct*equity {
		qty = int64(math.Floor(maxPositionPct * equity / signal.Entry))
	}
	if float64(qty)*riskPerShare > c.cfg.MaxTradeRiskPct*equity {
		return reject(domain.ErrInvalidOrder, "post-adjustment risk exceeds per-trade cap")
	}
	if qty <= 0 {
		return reject(domain.ErrInvalidOrder, "sized quantity rounds to zero after caps")
	}

	// Portfolio gate.
	sumRisk := 0.0
	for _, p := range state.Positions {
		sumRisk += math.Abs(p.UnrealizedPnL)
	}
	addedRisk := float64(qty) * riskPerShare
	if sumRisk+addedRisk > c.cfg.MaxPortfolioRiskPct*equity {
		return reject(domain.ErrInvalidOrder, "portfolio risk cap exceeded")
	}

	maxConcurrent := c.cfg.MaxConcurrentPositionsFor()
	if len(state.Positions) >= maxConcurrent {
		return reject(domain.ErrInvalidOrder, "max concurrent positions reached")
	}

	if sector, found := state.Sectors[opp.Symbol]; found && sector != "" {
		sectorNotional := notional
		for _, p := range state.Positions {
			if state.Sectors[p.Symbol] == sector {
				sectorNotional += math.Abs(p.MarketValue)
			}
		}
		if sectorNotional > c.cfg.MaxSectorConcentration*equity {
			return reject(domain.ErrInvalidOrder, "sector concentration cap exceeded")
		}
	}

	return GateResult{Approved: true, Qty: qty}
}

func stopDistancePct(signal domain.TradeSignal) float64 {
	if signal.Entry == 0 {
		return 0
	}
	return signal.RiskPerShare() / signal.Entry
}

// CheckCircuitBreaker evaluates the daily drawdown gate against the
// current equity and transitions the core to halted if the threshold
// is breached. tripped reports only the !halted -> halted transition,
// not every tick the drawdown remains past threshold, so a caller that
// launches an emergency liquidation on tripped does it exactly once
// per breach.
func (c *Core) CheckCircuitBreaker(currentEquity float64) (tripped bool, drawdown float64) {
	if c.initialEquityToday <= 0 {
		return false, 0
	}
	drawdown = (c.initialEquityToday - currentEquity) / c.initialEquityToday
	if drawdown >= c.cfg.CircuitBreakerPct {
		c.halted = true
		if c.haltedOnce {
			return false, drawdown
		}
		c.haltedOnce = true
		c.log.Error().Float64("drawdown", drawdown).Msg("circuit breaker tripped, halting")
		return true, drawdown
	}
	return false, drawdown
}

// Reset clears the halted state and re-baselines initial equity to
// equity, so a later breach can trip the breaker again.
func (c *Core) Reset(equity float64) {
	c.halted = false
	c.haltedOnce = false
	c.initialEquityToday = equity
}

// PortfolioRisk sums the absolute risk currently carried across open
// positions.
func PortfolioRisk(positions []domain.Position) float64 {
	sum := 0.0
	for _, p := range positions {
		sum += math.Abs(p.UnrealizedPnL)
	}
	return sum
}

// String implements fmt.Stringer for GateResult, used in log lines.
func (r GateResult) String() string {
	if r.Approved {
		return fmt.Sprintf("approved qty=%d", r.Qty)
	}
	return fmt.Sprintf("rejected kind=%s reason=%q", r.Kind, r.Reason)
}
