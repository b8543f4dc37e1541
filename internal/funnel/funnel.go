// Package funnel implements the three-stage Opportunity Funnel: broad
// scan, strategic filter, and deep dive, under a strict per-cycle API
// budget for the deep-dive stage.
package funnel

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/broker"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/pkg/formulas"
)

// Hard filters applied at the end of Stage 1.
const (
	priceFloor        = 10.0
	priceCeiling      = 500.0
	minAvgVolume      = 1_000_000
	minAbsDailyChange = 0.02
	maxSpreadPct      = 0.01
	deepDiveBudget    = 20
	callsPerDeepDive  = 3 // quote + daily bars + intraday bars
)

// Funnel reduces the broad universe to a bounded, scored set of
// Opportunity records.
type Funnel struct {
	gw  *broker.Gateway
	cfg *config.Config
	log zerolog.Logger
}

// New builds a Funnel.
func New(gw *broker.Gateway, cfg *config.Config, log zerolog.Logger) *Funnel {
	return &Funnel{gw: gw, cfg: cfg, log: log.With().Str("component", "opportunity_funnel").Logger()}
}

// Run executes all three stages and returns the bounded, ordered
// Opportunity list, aborting unfinished deep dives if the wall-clock
// budget is exceeded and proceeding with the partial top-N.
func (f *Funnel) Run(ctx context.Context, regime domain.MarketRegime) []domain.Opportunity {
	budgetCtx, cancel := context.WithTimeout(ctx, time.Duration(f.cfg.FunnelBudgetSeconds)*time.Second)
	defer cancel()

	broad := f.broadScan(budgetCtx)
	f.log.Info().Int("count", len(broad)).Msg("broad scan complete")

	filtered := f.strategicFilter(broad, regime)
	f.log.Info().Int("count", len(filtered)).Msg("strategic filter complete")

	deep := f.deepDive(budgetCtx, filtered)
	f.log.Info().Int("count", len(deep)).Msg("deep dive complete")

	sort.Slice(deep, func(i, j int) bool { return deep[i].Score > deep[j].Score })
	if len(deep) > f.cfg.FunnelMaxSymbols {
		deep = deep[:f.cfg.FunnelMaxSymbols]
	}
	return deep
}

// broadScan queries movers, most-active, and news, merges by symbol,
// and applies the hard filters.
func (f *Funnel) broadScan(ctx context.Context) []domain.Opportunity {
	candidates := make(map[string]domain.Opportunity)

	gainers := f.gw.GetMarketMovers(ctx, "gainers")
	f.mergeMovers(candidates, gainers, domain.SourceTopMovers)

	losers := f.gw.GetMarketMovers(ctx, "losers")
	f.mergeMovers(candidates, losers, domain.SourceTopMovers)

	mostActive := f.gw.GetMostActive(ctx)
	f.mergeMovers(candidates, mostActive, domain.SourceMostActive)

	news := f.gw.GetNews(ctx)
	if news.Success {
		for _, item := range news.Data {
			for _, sym := range item.Symbols {
				if opp, found := candidates[sym]; found {
					opp.Source = domain.SourceNewsDriven
					candidates[sym] = opp
				}
			}
		}
	}

	out := make([]domain.Opportunity, 0, len(candidates))
	for _, opp := range candidates {
		if opp.Price < priceFloor || opp.Price > priceCeiling {
			continue
		}
		if opp.AvgVolume20 < minAvgVolume && float64(opp.Volume) < minAvgVolume {
			continue
		}
		if math.Abs(opp.DailyChangePct) < minAbsDailyChange {
			continue
		}
		out = append(out, opp)
	}
	return out
}

func (f *Funnel) mergeMovers(candidates map[string]domain.Opportunity, resp broker.ApiResponse[[]broker.MoverResult], source domain.DiscoverySource) {
	if !resp.Success {
		f.log.Warn().Str("error_kind", string(resp.ErrorKind)).Msg("broad scan call failed")
		return
	}
	for _, m := range resp.Data {
		opp, found := candidates[m.Symbol]
		if !found {
			opp = domain.Opportunity{
				Symbol:       m.Symbol,
				Source:       source,
				DiscoveredAt: time.Now(),
			}
		}
		opp.Price = m.Price
		opp.DailyChangePct = m.DailyChangePct
		opp.Volume = m.Volume
		if opp.AvgVolume20 == 0 {
			opp.AvgVolume20 = float64(m.Volume)
		}
		if opp.AvgVolume20 > 0 {
			opp.VolumeRatio = float64(opp.Volume) / opp.AvgVolume20
		}
		candidates[m.Symbol] = opp
	}
}

// regimeWeights parameterizes the Stage 2 scoring function per the
// current regime: bull_trending boosts momentum, volatile boosts the
// risk penalty.
type regimeWeights struct {
	momentum float64
	volume   float64
	sector   float64
	risk     float64
}

func weightsFor(tag domain.RegimeTag) regimeWeights {
	switch tag {
	case domain.RegimeBullTrending:
		return regimeWeights{momentum: 0.5, volume: 0.25, sector: 0.15, risk: 0.10}
	case domain.RegimeBearTrending:
		return regimeWeights{momentum: 0.2, volume: 0.2, sector: 0.2, risk: 0.4}
	case domain.RegimeVolatile:
		return regimeWeights{momentum: 0.2, volume: 0.2, sector: 0.1, risk: 0.5}
	case domain.RegimeRangeBound:
		return regimeWeights{momentum: 0.25, volume: 0.3, sector: 0.2, risk: 0.25}
	default: // low_volatility
		return regimeWeights{momentum: 0.35, volume: 0.3, sector: 0.2, risk: 0.15}
	}
}

// strategicFilter scores every candidate with the local weighted
// formula and keeps the top N (default 30). No broker calls.
func (f *Funnel) strategicFilter(candidates []domain.Opportunity, regime domain.MarketRegime) []domain.Opportunity {
	const topN = 30
	w := weightsFor(regime.Tag)

	dailyChanges := make([]float64, len(candidates))
	for i, c := range candidates {
		dailyChanges[i] = c.DailyChangePct
	}
	mean, stddev := meanStdDev(dailyChanges)

	for i := range candidates {
		c := &candidates[i]
		z := 0.0
		if stddev > 0 {
			z = (c.DailyChangePct - mean) / stddev
		}
		volumeRatio := math.Max(c.VolumeRatio, 0.01)
		sectorFit := 0.5 // neutral absent a sector taxonomy lookup
		dispersion := math.Abs(z)

		c.Score = w.momentum*z + w.volume*math.Log(volumeRatio) + w.sector*sectorFit - w.risk*dispersion
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

func meanStdDev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	sqDiff := 0.0
	for _, x := range xs {
		d := x - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(xs)))
	return
}

// deepDive fetches bars and quotes for surviving candidates within the
// strict 20-call broker budget, computing RSI/MACD/ATR/spread and
// rejecting wide-spread or stale symbols.
func (f *Funnel) deepDive(ctx context.Context, candidates []domain.Opportunity) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, len(candidates))
	callsUsed := 0

	for _, opp := range candidates {
		select {
		case <-ctx.Done():
			f.log.Warn().Msg("deep dive aborted: wall-clock budget exceeded")
			return out
		default:
		}
		if callsUsed+callsPerDeepDive > deepDiveBudget {
			f.log.Warn().Int("calls_used", callsUsed).Msg("deep dive aborted: call budget exhausted")
			break
		}

		quoteResp := f.gw.GetLatestQuote(ctx, opp.Symbol)
		callsUsed++
		if !quoteResp.Success {
			if quoteResp.ErrorKind == domain.ErrStaleData {
				f.log.Warn().Str("symbol", opp.Symbol).Msg("stale quote, dropping from cycle")
			}
			continue
		}
		quote := quoteResp.Data
		if quote.SpreadPct() > maxSpreadPct {
			continue
		}

		barsResp := f.gw.GetBars(ctx, opp.Symbol, "1Day", 30)
		callsUsed++
		if !barsResp.Success || len(barsResp.Data) < 15 {
			continue
		}
		bars := barsResp.Data
		highs, lows, closes := formulas.BarsToOHLC(bars)

		var intraday []domain.Bar
		if intradayResp := f.gw.GetBars(ctx, opp.Symbol, "5Min", 30); intradayResp.Success {
			intraday = intradayResp.Data
		}
		callsUsed++

		analysis := &domain.Analysis{
			RSI14:        formulas.RSI(closes, 14),
			MACD:         formulas.MACD(closes, 12, 26, 9),
			ATR14:        formulas.ATR(highs, lows, closes, 14),
			SpreadPct:    quote.SpreadPct(),
			QuoteAsOf:    quote.Timestamp,
			LatestQuote:  quote,
			DailyBars:    bars,
			IntradayBars: intraday,
		}
		opp.Analysis = analysis
		opp.Price = quote.Mid()
		out = append(out, opp)
	}
	return out
}
