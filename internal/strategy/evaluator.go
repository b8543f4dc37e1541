// Package strategy implements the Strategy Evaluator: given a surviving
// Opportunity and the current MarketRegime, it selects a strategy and
// produces a TradeSignal.
package strategy

import (
	"math"
	"time"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
)

// regimeStrategies maps each regime to its primary and fallback strategy.
var regimeStrategies = map[domain.RegimeTag][2]domain.Strategy{
	domain.RegimeBullTrending:  {domain.StrategyMomentum, domain.StrategyBreakout},
	domain.RegimeBearTrending:  {domain.StrategyDefensive, domain.StrategyMeanReversion},
	domain.RegimeVolatile:      {domain.StrategyMeanReversion, domain.StrategyDefensive},
	domain.RegimeRangeBound:    {domain.StrategyMeanReversion, domain.StrategyBreakout},
	domain.RegimeLowVolatility: {domain.StrategyBreakout, domain.StrategyMomentum},
}

// Evaluator produces TradeSignal records from Opportunity + MarketRegime.
type Evaluator struct {
	cfg *config.Config
}

// New builds an Evaluator.
func New(cfg *config.Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate selects a strategy for opp under regime and produces a
// TradeSignal, or nil if neither the primary nor the regime's fallback
// strategy clears the configured confidence threshold (default 0.65).
func (e *Evaluator) Evaluate(opp domain.Opportunity, regime domain.MarketRegime, oracleScore *float64) *domain.TradeSignal {
	if opp.Analysis == nil || opp.Analysis.ATR14 == nil {
		return nil
	}

	pair, found := regimeStrategies[regime.Tag]
	candidates := []domain.Strategy{domain.StrategyDefensive}
	if found {
		candidates = []domain.Strategy{pair[0], pair[1]}
	}

	for _, strat := range candidates {
		if signal := e.buildSignal(opp, regime, strat, oracleScore); signal != nil {
			return signal
		}
	}
	return nil
}

// buildSignal sizes and scores a TradeSignal for a single candidate
// strategy, returning nil if confidence or reward:risk falls short.
func (e *Evaluator) buildSignal(opp domain.Opportunity, regime domain.MarketRegime, strat domain.Strategy, oracleScore *float64) *domain.TradeSignal {
	side := domain.SideBuy
	if strat == domain.StrategyDefensive && opp.DailyChangePct < 0 {
		side = domain.SideSell
	}

	atr := *opp.Analysis.ATR14
	entry := entryPrice(opp, side)

	var stop, target float64
	rewardMultiple := e.cfg.DefaultRewardMultiple
	if side == domain.SideBuy {
		stop = entry - 2*atr
		target = entry + rewardMultiple*(entry-stop)
	} else {
		stop = entry + 2*atr
		target = entry - rewardMultiple*(stop-entry)
	}

	confidence := e.confidence(opp, regime, strat, oracleScore)
	if confidence < e.cfg.AIConfidenceThreshold {
		return nil
	}

	signal := domain.TradeSignal{
		Symbol:      opp.Symbol,
		Side:        side,
		Entry:       entry,
		Stop:        stop,
		Target:      target,
		Confidence:  confidence,
		Strategy:    strat,
		HorizonDays: horizonFor(strat),
		Rationale:   rationale(strat, regime),
		GeneratedAt: time.Now(),
		ValidUntil:  time.Now().Add(15 * time.Minute),
	}

	if !signal.Valid() || signal.RewardMultiple() < e.cfg.MinRewardRisk {
		return nil
	}
	return &signal
}

// entryPrice uses the side of the book the order will actually cross:
// the ask for a buy, the bid for a sell. It falls back to the
// opportunity's last trade price when the attached quote is missing a
// side (e.g. a one-sided book).
func entryPrice(opp domain.Opportunity, side domain.Side) float64 {
	q := opp.Analysis.LatestQuote
	if side == domain.SideBuy && q.AskPrice > 0 {
		return q.AskPrice
	}
	if side == domain.SideSell && q.BidPrice > 0 {
		return q.BidPrice
	}
	return opp.Price
}

// confidence blends the funnel score, the regime's confidence (the same
// for every strategy), and the optional oracle score (advisory-only: it only shifts the blend at
// the margin, never overrides the local components).
func (e *Evaluator) confidence(opp domain.Opportunity, regime domain.MarketRegime, strat domain.Strategy, oracleScore *float64) float64 {
	funnelComponent := sigmoid(opp.Score)
	fitComponent := regime.Confidence

	blend := 0.5*funnelComponent + 0.5*fitComponent
	if oracleScore != nil {
		blend = 0.8*blend + 0.2*(*oracleScore)
	}
	if blend < 0 {
		blend = 0
	}
	if blend > 1 {
		blend = 1
	}
	return blend
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func horizonFor(strat domain.Strategy) int {
	switch strat {
	case domain.StrategyMomentum, domain.StrategyBreakout:
		return 3
	case domain.StrategyMeanReversion:
		return 1
	default:
		return 5
	}
}

func rationale(strat domain.Strategy, regime domain.MarketRegime) string {
	return string(strat) + " selected for regime " + string(regime.Tag)
}
