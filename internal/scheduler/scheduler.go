// Package scheduler runs the cooperative trading loop: market-session
// gating, periodic regime refresh, the funnel/evaluator/risk/lifecycle
// cycle, protection and gap audits, fast order/position monitoring, and
// the circuit breaker check on every tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/broker"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/funnel"
	"github.com/aristath/sentinel/internal/gapguard"
	"github.com/aristath/sentinel/internal/marketclock"
	"github.com/aristath/sentinel/internal/orders"
	"github.com/aristath/sentinel/internal/pdt"
	"github.com/aristath/sentinel/internal/reliability"
	"github.com/aristath/sentinel/internal/risk"
	"github.com/aristath/sentinel/internal/regime"
	"github.com/aristath/sentinel/internal/strategy"
)

// Engine wires every subsystem together and drives the cron-scheduled
// trading loop. It is constructed once at startup and owns no
// goroutines of its own beyond the cron runner.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	gw        *broker.Gateway
	clock     *marketclock.Clock
	ledger    *pdt.Ledger
	riskCore  *risk.Core
	detector  *regime.Detector
	finder    *funnel.Funnel
	evaluator *strategy.Evaluator
	lifecycle *orders.Lifecycle
	guard     *gapguard.Guard
	bus       *events.Bus
	backups   *reliability.BackupStore

	cron *cron.Cron

	mu            sync.RWMutex
	currentRegime domain.MarketRegime
	sectors       map[string]string

	shuttingDown      bool
	emergencyInFlight bool
}

// Deps bundles the constructed subsystems Engine wires into a cron schedule.
type Deps struct {
	Gateway   *broker.Gateway
	Clock     *marketclock.Clock
	Ledger    *pdt.Ledger
	RiskCore  *risk.Core
	Detector  *regime.Detector
	Funnel    *funnel.Funnel
	Evaluator *strategy.Evaluator
	Lifecycle *orders.Lifecycle
	Guard     *gapguard.Guard
	Bus       *events.Bus
	Backups   *reliability.BackupStore // nil if S3 backups are disabled
}

// New builds an Engine from its constructed dependencies.
func New(cfg *config.Config, log zerolog.Logger, d Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       log.With().Str("component", "scheduler").Logger(),
		gw:        d.Gateway,
		clock:     d.Clock,
		ledger:    d.Ledger,
		riskCore:  d.RiskCore,
		detector:  d.Detector,
		finder:    d.Funnel,
		evaluator: d.Evaluator,
		lifecycle: d.Lifecycle,
		guard:     d.Guard,
		bus:       d.Bus,
		backups:   d.Backups,
		cron:      cron.New(cron.WithSeconds()),
		sectors:   make(map[string]string),
	}
}

// Run performs startup reconciliation, registers every periodic job,
// starts the cron runner, and blocks until ctx is canceled, at which
// point it runs the emergency-stop-on-shutdown protocol before
// returning.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return err
	}

	e.registerJobs(ctx)
	e.cron.Start()
	e.log.Info().Msg("scheduler started")

	<-ctx.Done()

	e.log.Warn().Msg("shutdown requested, running emergency stop")
	stopCtx := e.cron.Stop()
	<-stopCtx.Done()
	e.shutdown()
	return nil
}

func (e *Engine) startup(ctx context.Context) error {
	if err := e.lifecycle.ReconcileStartup(ctx); err != nil {
		e.log.Error().Err(err).Msg("startup reconciliation failed")
		return err
	}

	acctResp := e.gw.GetAccount(ctx)
	if acctResp.Success {
		e.riskCore.CaptureInitialEquity(acctResp.Data.Equity)
	}
	return nil
}

func (e *Engine) registerJobs(ctx context.Context) {
	e.addJob("@every 30m", "regime_refresh", func() { e.refreshRegime(ctx) })
	e.addJob("@every 15m", "trading_cycle", func() { e.tradingCycle(ctx) })
	e.addJob("@every 1m", "protection_and_gap_audit", func() { e.protectionAndGapAudit(ctx) })
	e.addJob("@every 10s", "monitor", func() { e.monitor(ctx) })

	if e.backups != nil && e.cfg.S3BackupEnabled {
		schedule := "@every " + time.Duration(e.cfg.S3BackupIntervalHours*int(time.Hour)).String()
		e.addJob(schedule, "backup_snapshot", func() { e.backupSnapshot(ctx) })
	}
}

func (e *Engine) addJob(schedule, name string, fn func()) {
	_, err := e.cron.AddFunc(schedule, func() {
		e.log.Debug().Str("job", name).Msg("running job")
		fn()
	})
	if err != nil {
		e.log.Error().Err(err).Str("job", name).Msg("failed to register job")
		return
	}
	e.log.Info().Str("job", name).Str("schedule", schedule).Msg("job registered")
}

// refreshRegime recomputes the market regime from recent index bars
// every 30 minutes.
func (e *Engine) refreshRegime(ctx context.Context) {
	barsResp := e.gw.GetBars(ctx, e.cfg.RegimeIndexSymbol, "1Day", 30)
	if !barsResp.Success || len(barsResp.Data) < 2 {
		e.log.Warn().Msg("insufficient index bars, keeping prior regime")
		return
	}
	bars := barsResp.Data

	returns := make([]float64, 0, len(bars)-1)
	peak := bars[0].Close
	maxDrawdown := 0.0
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev > 0 {
			returns = append(returns, (cur-prev)/prev)
		}
		if cur > peak {
			peak = cur
		}
		if peak > 0 {
			if dd := (cur - peak) / peak; dd < maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	newRegime := e.detector.Detect(ctx, returns, maxDrawdown)
	e.mu.Lock()
	e.currentRegime = newRegime
	e.mu.Unlock()
	e.log.Info().Str("tag", string(newRegime.Tag)).Float64("confidence", newRegime.Confidence).Msg("regime refreshed")
}

// tradingCycle runs funnel -> evaluator -> risk -> lifecycle every 15
// minutes, skipping entirely outside the sessions the configuration
// allows.
func (e *Engine) tradingCycle(ctx context.Context) {
	session := e.clock.CurrentSession()
	extendedHours := session == marketclock.SessionPreMarket || session == marketclock.SessionAfterHours
	if session == marketclock.SessionClosed {
		return
	}
	if extendedHours && !e.cfg.EnableExtendedHours {
		return
	}
	if e.riskCore.Halted() {
		return
	}

	e.mu.RLock()
	regimeSnap := e.currentRegime
	sectors := e.sectors
	e.mu.RUnlock()

	opportunities := e.finder.Run(ctx, regimeSnap)

	acctResp := e.gw.GetAccount(ctx)
	if !acctResp.Success {
		e.log.Warn().Str("error_kind", string(acctResp.ErrorKind)).Msg("account fetch failed, skipping cycle")
		return
	}
	posResp := e.gw.GetPositions(ctx)
	if !posResp.Success {
		e.log.Warn().Str("error_kind", string(posResp.ErrorKind)).Msg("positions fetch failed, skipping cycle")
		return
	}

	state := risk.PortfolioState{Account: acctResp.Data, Positions: posResp.Data, Sectors: sectors}

	for _, opp := range opportunities {
		signal := e.evaluator.Evaluate(opp, regimeSnap, nil)
		if signal == nil {
			continue
		}

		allowed, err := e.ledger.Allows(acctResp.Data, signal.Symbol, signal.Side)
		if err != nil {
			e.log.Error().Err(err).Str("symbol", signal.Symbol).Msg("pdt check failed")
			continue
		}
		if !allowed {
			e.bus.Emit(events.PDTWouldViolateData{Symbol: signal.Symbol})
			continue
		}

		result := e.riskCore.Evaluate(*signal, opp, state, extendedHours, nil)
		if !result.Approved {
			e.log.Debug().Str("symbol", signal.Symbol).Str("result", result.String()).Msg("signal rejected by risk core")
			continue
		}

		order, err := e.lifecycle.SubmitBracket(ctx, *signal, result.Qty)
		if err != nil {
			e.log.Error().Err(err).Str("symbol", signal.Symbol).Msg("bracket submission failed")
			continue
		}
		if err := e.ledger.RecordOpen(order.Symbol); err != nil {
			e.log.Error().Err(err).Str("symbol", order.Symbol).Msg("failed to record pdt open")
		}
		e.log.Info().Str("symbol", order.Symbol).Str("side", string(order.Side)).Int64("qty", order.Qty).Msg("entry submitted")
	}
}

// protectionAndGapAudit re-checks every open position for protective
// coverage and evaluates overnight gap/aging exposure once a minute.
func (e *Engine) protectionAndGapAudit(ctx context.Context) {
	if err := e.lifecycle.ReconcileStartup(ctx); err != nil {
		e.log.Error().Err(err).Msg("protection audit failed")
	}

	posResp := e.gw.GetPositions(ctx)
	if !posResp.Success {
		return
	}

	now := time.Now()
	for _, aged := range e.guard.CheckAging(posResp.Data, now) {
		e.log.Warn().Str("symbol", aged.Symbol).Msg("position exceeds max overnight age")
	}
	for _, excess := range e.guard.ExcessOvernightPositions(posResp.Data) {
		e.log.Warn().Str("symbol", excess.Symbol).Msg("excess overnight position flagged for rotation")
	}
}

// monitor runs every 10 seconds: it logs a process health heartbeat,
// attaches children to any emulated bracket parents that have filled
// since the last tick, and re-checks the circuit breaker against
// current equity.
func (e *Engine) monitor(ctx context.Context) {
	health := reliability.SampleHealth()
	e.log.Info().
		Float64("cpu_percent", health.CPUPercent).
		Float64("mem_percent", health.MemPercent).
		Uint64("uptime_seconds", health.UptimeSeconds).
		Msg("heartbeat")

	e.lifecycle.MonitorFills(ctx)

	acctResp := e.gw.GetAccount(ctx)
	if !acctResp.Success {
		return
	}

	tripped, drawdown := e.riskCore.CheckCircuitBreaker(acctResp.Data.Equity)
	if !tripped {
		return
	}

	e.mu.Lock()
	if e.emergencyInFlight {
		e.mu.Unlock()
		e.log.Warn().Msg("circuit breaker tripped again while an emergency liquidation is already running, skipping")
		return
	}
	e.emergencyInFlight = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.emergencyInFlight = false
		e.mu.Unlock()
	}()

	e.log.Error().Float64("drawdown", drawdown).Msg("circuit breaker tripped, liquidating")
	posResp := e.gw.GetPositions(ctx)
	if !posResp.Success {
		return
	}
	report := e.lifecycle.EmergencyStop(ctx, posResp.Data)
	e.bus.Emit(events.CircuitBreakerTrippedData{Drawdown: drawdown, ResidualExposure: report.ResidualExposure})
}

func (e *Engine) backupSnapshot(ctx context.Context) {
	if err := e.backups.Snapshot(ctx, e.cfg.DatabasePath); err != nil {
		e.log.Error().Err(err).Msg("backup snapshot failed")
		return
	}
	if err := e.backups.Rotate(ctx, e.cfg.S3RetentionDays, 3); err != nil {
		e.log.Warn().Err(err).Msg("backup rotation failed")
	}
}

// shutdown liquidates every open position and logs the final report.
// It is idempotent: a second call after shuttingDown is set is a no-op.
func (e *Engine) shutdown() {
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return
	}
	e.shuttingDown = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	posResp := e.gw.GetPositions(ctx)
	if !posResp.Success || len(posResp.Data) == 0 {
		e.log.Info().Msg("shutdown: no open positions to liquidate")
		e.gw.Close()
		return
	}

	report := e.lifecycle.EmergencyStop(ctx, posResp.Data)
	e.bus.Emit(events.EmergencyStopCompletedData{
		PositionsAttempted: report.PositionsAttempted,
		FillsAchieved:      report.FillsAchieved,
		ResidualExposure:   report.ResidualExposure,
	})
	e.log.Info().
		Int("attempted", report.PositionsAttempted).
		Int("filled", report.FillsAchieved).
		Float64("residual_exposure", report.ResidualExposure).
		Msg("shutdown emergency stop complete")
	e.gw.Close()
}

// SetSectors updates the symbol->sector map used by the portfolio
// concentration gate. It is safe to call concurrently with Run.
func (e *Engine) SetSectors(sectors map[string]string) {
	e.mu.Lock()
	e.sectors = sectors
	e.mu.Unlock()
}

// CurrentRegime returns the most recently detected regime, for the
// read-only status endpoint.
func (e *Engine) CurrentRegime() domain.MarketRegime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentRegime
}
