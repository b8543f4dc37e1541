// Package regime detects the current market regime: a continuous,
// tanh-compressed score discretized into a closed label set, with an
// optional advisory-only Intelligence Oracle re-ranker.
package regime

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sentinel/internal/domain"
)

// tanhCompressionFactor controls how aggressively the continuous score
// is pulled toward its extremes.
const tanhCompressionFactor = 2.0

// Oracle is the advisory natural-language regime classifier. It must
// never become a hard dependency: a failing or unreachable Oracle
// degrades to the local deterministic scorer without blocking the
// pipeline.
type Oracle interface {
	Classify(ctx context.Context, summary string) (domain.RegimeTag, float64, error)
}

// Detector computes the market regime from index-level return,
// volatility, and drawdown metrics.
type Detector struct {
	log    zerolog.Logger
	oracle Oracle
	timeout time.Duration
}

// New builds a Detector. oracle may be nil, in which case the local
// scorer is authoritative and no re-rank is attempted.
func New(log zerolog.Logger, oracle Oracle, oracleTimeout time.Duration) *Detector {
	return &Detector{
		log:     log.With().Str("component", "regime_detector").Logger(),
		oracle:  oracle,
		timeout: oracleTimeout,
	}
}

// score is the continuous -1..1 regime score before discretization.
type score float64

// ScoreFromMetrics computes the continuous regime score from the
// index's recent return, realized volatility, and max drawdown, with
// an OR-logic forced-negative floor for any individually bearish
// condition (sustained negative return, elevated volatility, or a deep
// drawdown each independently push the regime toward bear_trending).
func ScoreFromMetrics(indexReturn, volatility, maxDrawdown float64) score {
	returnComp := clamp(indexReturn/0.02, -1, 1)
	volComp := clamp(volatility/0.03, -1, 1)
	ddComp := clamp(maxDrawdown/0.15, -1, 1)

	isBearByReturn := indexReturn < -0.0005
	isBearByVol := volatility > 0.03
	isBearByDD := maxDrawdown < -0.12

	base := weightedScore(returnComp, volComp, ddComp)

	if isBearByReturn || isBearByVol || isBearByDD {
		if float64(base) > -0.15 {
			forced := -1.0
			if isBearByDD {
				forced = math.Max(forced, float64(weightedScore(returnComp*0.05, volComp, ddComp*0.95+ddComp*0)))
			}
			if isBearByVol {
				forced = math.Max(forced, float64(weightedScore(returnComp*0.05, volComp*0.95, ddComp)))
			}
			if isBearByReturn {
				forced = math.Max(forced, math.Tanh(returnComp*tanhCompressionFactor))
			}
			return score(math.Min(forced, -0.15))
		}
	}
	return base
}

func weightedScore(returnComp, volComp, ddComp float64) score {
	combined := 0.50*returnComp + 0.25*(-volComp) + 0.25*ddComp
	return score(math.Tanh(combined * tanhCompressionFactor))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Discretize maps the continuous score, plus a volatility reading, into
// the closed regime-label set. Volatility dominates the volatile vs.
// low_volatility split since a score near zero is ambiguous between
// "choppy" and "quiet".
func Discretize(s score, volatility float64) domain.RegimeTag {
	switch {
	case s >= 0.35:
		return domain.RegimeBullTrending
	case s <= -0.35:
		return domain.RegimeBearTrending
	case volatility > 0.025:
		return domain.RegimeVolatile
	case volatility < 0.008:
		return domain.RegimeLowVolatility
	default:
		return domain.RegimeRangeBound
	}
}

// Detect computes the current regime from recent daily index returns,
// optionally re-ranked by the Oracle. A failing Oracle call degrades
// silently to the local result (the oracle's error is logged at WARN,
// never returned to the caller).
func (d *Detector) Detect(ctx context.Context, indexReturns []float64, maxDrawdown float64) domain.MarketRegime {
	var indexReturn, volatility float64
	if len(indexReturns) > 0 {
		indexReturn = indexReturns[len(indexReturns)-1]
	}
	if len(indexReturns) > 1 {
		volatility = stat.StdDev(indexReturns, nil)
	}

	s := ScoreFromMetrics(indexReturn, volatility, maxDrawdown)
	tag := Discretize(s, volatility)
	confidence := math.Abs(float64(s))

	regime := domain.MarketRegime{Tag: tag, Confidence: confidence, AsOf: time.Now()}

	if d.oracle == nil {
		return regime
	}

	oracleCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	summary := summarize(tag, confidence, volatility)
	oracleTag, oracleConfidence, err := d.oracle.Classify(oracleCtx, summary)
	if err != nil {
		d.log.Warn().Err(err).Msg("regime oracle unavailable, using local score")
		return regime
	}

	// Advisory-only: the oracle may only adjust confidence at the
	// margin when it agrees with the local tag; it never overrides a
	// disagreeing local classification.
	if oracleTag == tag {
		regime.Confidence = (confidence + oracleConfidence) / 2
	}
	return regime
}

func summarize(tag domain.RegimeTag, confidence, volatility float64) string {
	return "local_regime=" + string(tag)
}
