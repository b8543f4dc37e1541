package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxPositionPct:         0.10,
		MaxPositionPctExtended: 0.03,
		MaxTradeRiskPct:        0.02,
		MaxPortfolioRiskPct:    0.12,
		CircuitBreakerPct:      0.05,
		MaxConcurrentPositions: 8,
		MaxSectorConcentration: 0.25,
		RiskProfile:            "default",
	}
}

func testCore() *Core {
	return New(testConfig(), zerolog.Nop())
}

func validSignal() domain.TradeSignal {
	return domain.TradeSignal{Symbol: "AAPL", Side: domain.SideBuy, Entry: 100, Stop: 95, Target: 115}
}

func validOpportunity() domain.Opportunity {
	return domain.Opportunity{Symbol: "AAPL", Price: 100, VolumeRatio: 2.0}
}

func stateWithEquity(equity float64) PortfolioState {
	return PortfolioState{Account: domain.AccountSnapshot{Equity: equity}}
}

func TestEvaluate_ApprovesWithinLimits(t *testing.T) {
	c := testCore()
	result := c.Evaluate(validSignal(), validOpportunity(), stateWithEquity(10000), false, nil)
	assert.True(t, result.Approved)
	assert.Greater(t, result.Qty, int64(0))
}

func TestEvaluate_RejectsBelowPriceFloor(t *testing.T) {
	c := testCore()
	signal := validSignal()
	signal.Entry = 0.5
	signal.Stop = 0.4
	signal.Target = 0.7
	result := c.Evaluate(signal, validOpportunity(), stateWithEquity(10000), false, nil)
	assert.False(t, result.Approved)
	assert.Equal(t, domain.ErrInvalidOrder, result.Kind)
}

func TestEvaluate_RejectsLowVolumeRatio(t *testing.T) {
	c := testCore()
	opp := validOpportunity()
	opp.VolumeRatio = 0.5
	result := c.Evaluate(validSignal(), opp, stateWithEquity(10000), false, nil)
	assert.False(t, result.Approved)
}

func TestEvaluate_RejectsWhenHalted(t *testing.T) {
	c := testCore()
	c.halted = true
	result := c.Evaluate(validSignal(), validOpportunity(), stateWithEquity(10000), false, nil)
	assert.False(t, result.Approved)
	assert.Equal(t, domain.ErrCircuitBreaker, result.Kind)
}

func TestEvaluate_ExtendedHoursUsesSmallerPositionCap(t *testing.T) {
	c := testCore()
	regular := c.Evaluate(validSignal(), validOpportunity(), stateWithEquity(10000), false, nil)
	extended := c.Evaluate(validSignal(), validOpportunity(), stateWithEquity(10000), true, nil)
	require.True(t, regular.Approved)
	require.True(t, extended.Approved)
	assert.LessOrEqual(t, extended.Qty, regular.Qty)
}

func TestEvaluate_RejectsWhenMaxConcurrentPositionsReached(t *testing.T) {
	c := testCore()
	state := stateWithEquity(10000)
	for i := 0; i < 8; i++ {
		state.Positions = append(state.Positions, domain.Position{Symbol: "X"})
	}
	result := c.Evaluate(validSignal(), validOpportunity(), state, false, nil)
	assert.False(t, result.Approved)
}

func TestEvaluate_RejectsWhenSectorConcentrationExceeded(t *testing.T) {
	c := testCore()
	state := stateWithEquity(10000)
	state.Sectors = map[string]string{"AAPL": "tech", "MSFT": "tech"}
	state.Positions = []domain.Position{{Symbol: "MSFT", MarketValue: 3000}}
	result := c.Evaluate(validSignal(), validOpportunity(), state, false, nil)
	assert.False(t, result.Approved)
}

func TestEvaluate_VolatilityAdjustedSizingReducesQty(t *testing.T) {
	cfg := testConfig()
	cfg.VolatilityAdjusted = true
	c := New(cfg, zerolog.Nop())

	calm := c.Evaluate(validSignal(), validOpportunity(), stateWithEquity(10000), false, []float64{0.001, 0.002, -0.001})
	volatile := c.Evaluate(validSignal(), validOpportunity(), stateWithEquity(10000), false, []float64{0.1, -0.12, 0.09})
	require.True(t, calm.Approved)
	require.True(t, volatile.Approved)
	assert.Less(t, volatile.Qty, calm.Qty)
}

func TestCheckCircuitBreaker_TripsAtThreshold(t *testing.T) {
	c := testCore()
	c.CaptureInitialEquity(10000)

	tripped, drawdown := c.CheckCircuitBreaker(9500)
	assert.True(t, tripped)
	assert.InDelta(t, 0.05, drawdown, 0.001)
}

func TestCheckCircuitBreaker_DoesNotTripBelowThreshold(t *testing.T) {
	c := testCore()
	c.CaptureInitialEquity(10000)

	tripped, _ := c.CheckCircuitBreaker(9600)
	assert.False(t, tripped)
	assert.False(t, c.Halted())
}

func TestCheckCircuitBreaker_OnlyReportsTrippedOnTheHaltingTransition(t *testing.T) {
	c := testCore()
	c.CaptureInitialEquity(10000)

	tripped1, _ := c.CheckCircuitBreaker(9000)
	require.True(t, tripped1, "the first breach must report tripped so the caller liquidates exactly once")
	assert.True(t, c.Halted())

	tripped2, _ := c.CheckCircuitBreaker(9400)
	assert.False(t, tripped2, "a second tick still past threshold must not report tripped again")
	assert.True(t, c.Halted(), "the halted state itself remains in effect")
}

func TestCheckCircuitBreaker_CanRetripAfterReset(t *testing.T) {
	c := testCore()
	c.CaptureInitialEquity(10000)

	tripped1, _ := c.CheckCircuitBreaker(9000)
	require.True(t, tripped1)

	c.Reset(9000)
	assert.False(t, c.Halted())

	tripped2, _ := c.CheckCircuitBreaker(8500)
	assert.True(t, tripped2, "after a reset a fresh breach must report tripped again")
}

func TestCheckCircuitBreaker_NoOpWithoutInitialEquity(t *testing.T) {
	c := testCore()
	tripped, drawdown := c.CheckCircuitBreaker(5000)
	assert.False(t, tripped)
	assert.Equal(t, 0.0, drawdown)
}

func TestReset_ClearsHaltedState(t *testing.T) {
	c := testCore()
	c.CaptureInitialEquity(10000)
	c.CheckCircuitBreaker(9000)
	require.True(t, c.Halted())

	c.Reset(9000)
	assert.False(t, c.Halted())
}

func TestPortfolioRisk_SumsAbsoluteUnrealizedPnL(t *testing.T) {
	positions := []domain.Position{
		{UnrealizedPnL: 100},
		{UnrealizedPnL: -50},
	}
	assert.Equal(t, 150.0, PortfolioRisk(positions))
}

func TestGateResult_String(t *testing.T) {
	approved := GateResult{Approved: true, Qty: 10}
	assert.Contains(t, approved.String(), "approved")

	rejected := GateResult{Approved: false, Kind: domain.ErrInvalidOrder, Reason: "too risky"}
	assert.Contains(t, rejected.String(), "rejected")
	assert.Contains(t, rejected.String(), "too risky")
}

func TestCheckCircuitBreaker_NotTrippedJustBelowExactThreshold(t *testing.T) {
	c := testCore()
	c.CaptureInitialEquity(10000)
	tripped, drawdown := c.CheckCircuitBreaker(9501)
	assert.False(t, tripped)
	assert.Less(t, drawdown, c.cfg.CircuitBreakerPct)
}
