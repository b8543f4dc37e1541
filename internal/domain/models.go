// Package domain holds the broker-agnostic data model shared by every
// other package: opportunities, signals, orders, positions, account
// snapshots, market regimes and the PDT ledger entries.
package domain

import "time"

// DiscoverySource identifies which funnel source produced an Opportunity.
type DiscoverySource string

const (
	SourceTopMovers     DiscoverySource = "top_movers"
	SourceMostActive    DiscoverySource = "most_active"
	SourceUnusualVolume DiscoverySource = "unusual_volume"
	SourceNewsDriven    DiscoverySource = "news_driven"
	SourceSectorRotation DiscoverySource = "sector_rotation"
)

// CapBucket is a coarse market-capitalization bucket.
type CapBucket string

const (
	CapMicro  CapBucket = "micro"
	CapSmall  CapBucket = "small"
	CapMid    CapBucket = "mid"
	CapLarge  CapBucket = "large"
	CapMega   CapBucket = "mega"
	CapUnknown CapBucket = "unknown"
)

// Opportunity is a candidate symbol discovered by the funnel.
// Invariants: Price > 0, VolumeRatio >= 0, Timestamp is
// monotonic within a single scan cycle.
type Opportunity struct {
	Symbol          string
	Source          DiscoverySource
	DiscoveredAt    time.Time
	Price           float64
	DailyChangePct  float64
	Volume          int64
	AvgVolume20     float64
	VolumeRatio     float64
	CapBucket       CapBucket
	Sector          string
	Score           float64
	Analysis        *Analysis // attached by the deep-dive stage, nil until then
}

// Valid reports whether the Opportunity satisfies its data-model invariants.
func (o Opportunity) Valid() bool {
	if o.Price <= 0 {
		return false
	}
	if o.VolumeRatio < 0 {
		return false
	}
	return true
}

// Analysis is the deep-dive technical snapshot attached to a surviving
// Opportunity (Stage 3).
type Analysis struct {
	RSI14        *float64
	MACD         *MACDValue
	ATR14        *float64
	SpreadPct    float64
	QuoteAsOf    time.Time
	LatestQuote  Quote
	DailyBars    []Bar
	IntradayBars []Bar
}

// MACDValue is the (MACD, Signal, Histogram) triple.
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// Side is a trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Strategy labels the four strategies the evaluator can select.
type Strategy string

const (
	StrategyMomentum      Strategy = "momentum"
	StrategyMeanReversion Strategy = "mean_reversion"
	StrategyBreakout      Strategy = "breakout"
	StrategyDefensive     Strategy = "defensive"
)

// TradeSignal is an actionable decision for one symbol.
//
// Invariants: for a long (Side == buy), Stop < Entry < Target; for a
// short (Side == sell), Target < Entry < Stop; RiskPerShare() > 0;
// reward:risk >= the configured minimum.
type TradeSignal struct {
	Symbol       string
	Side         Side
	Entry        float64
	Stop         float64
	Target       float64
	Quantity     int64
	Confidence   float64
	Strategy     Strategy
	HorizonDays  int
	Rationale    string
	GeneratedAt  time.Time
	ValidUntil   time.Time
}

// RiskPerShare returns |entry - stop|, always positive for a valid signal.
func (s TradeSignal) RiskPerShare() float64 {
	d := s.Entry - s.Stop
	if d < 0 {
		d = -d
	}
	return d
}

// RewardMultiple returns the reward:risk ratio implied by Entry/Stop/Target.
func (s TradeSignal) RewardMultiple() float64 {
	risk := s.RiskPerShare()
	if risk == 0 {
		return 0
	}
	reward := s.Target - s.Entry
	if reward < 0 {
		reward = -reward
	}
	return reward / risk
}

// Valid checks the long/short ordering invariant.
func (s TradeSignal) Valid() bool {
	if s.RiskPerShare() <= 0 {
		return false
	}
	switch s.Side {
	case SideBuy:
		return s.Stop < s.Entry && s.Entry < s.Target
	case SideSell:
		return s.Target < s.Entry && s.Entry < s.Stop
	default:
		return false
	}
}

// OrderType is one of the four broker order types recognizes.
type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)

// TimeInForce mirrors the broker's time-in-force values.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderStatus is the broker order lifecycle state.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderAccepted        OrderStatus = "accepted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

// Terminal reports whether the status is absorbing.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// Order is a broker order record.
type Order struct {
	ClientID      string
	BrokerID      string
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           int64
	LimitPrice    *float64
	StopPrice     *float64
	TIF           TimeInForce
	ParentID      string // empty for a parent order
	Status        OrderStatus
	FilledQty     int64
	AvgFillPrice  float64
	SubmittedAt   time.Time
	TerminalAt    time.Time
}

// Valid enforces filled_qty <= qty.
func (o Order) Valid() bool { return o.FilledQty <= o.Qty }

// Position is an open brokerage position.
type Position struct {
	Symbol           string
	Qty              float64 // signed: long > 0, short < 0
	AvgEntryPrice    float64
	CurrentPrice     float64
	UnrealizedPnL    float64
	UnrealizedPnLPct float64
	MarketValue      float64
	OpenedAt         time.Time
}

// IsLong / IsShort report the position's direction.
func (p Position) IsLong() bool  { return p.Qty > 0 }
func (p Position) IsShort() bool { return p.Qty < 0 }
func (p Position) Closed() bool  { return p.Qty == 0 }

// AccountSnapshot is the broker account state consulted at every risk gate.
type AccountSnapshot struct {
	Equity        float64
	LastEquity    float64
	Cash          float64
	BuyingPower   float64
	DayTradeCount int
	PDTFlag       bool
	AsOf          time.Time
}

// BelowPDTThreshold reports whether the account is subject to PDT rules.
func (a AccountSnapshot) BelowPDTThreshold() bool { return a.Equity < 25000 }

// RegimeTag is the closed set of market regime labels.
type RegimeTag string

const (
	RegimeBullTrending  RegimeTag = "bull_trending"
	RegimeBearTrending  RegimeTag = "bear_trending"
	RegimeVolatile      RegimeTag = "volatile"
	RegimeRangeBound    RegimeTag = "range_bound"
	RegimeLowVolatility RegimeTag = "low_volatility"
)

// MarketRegime parameterizes strategy selection and risk multipliers.
type MarketRegime struct {
	Tag        RegimeTag
	Confidence float64
	AsOf       time.Time
}

// PDTEntry is one rolling-window ledger entry.
type PDTEntry struct {
	Symbol               string
	OpenTimestamp        time.Time
	SessionDate          string // YYYY-MM-DD, Eastern
	ClosingWouldBeDayTrade bool
}

// Bar is an OHLCV candle.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Quote is a top-of-book snapshot. Field access must be defensive:
// a missing broker field decodes to the zero value, never a crash.
type Quote struct {
	Symbol    string
	BidPrice  float64
	AskPrice  float64
	BidSize   int64
	AskSize   int64
	Timestamp time.Time
}

// Mid returns the bid/ask midpoint, or the single side present if one is zero.
func (q Quote) Mid() float64 {
	if q.BidPrice > 0 && q.AskPrice > 0 {
		return (q.BidPrice + q.AskPrice) / 2
	}
	if q.AskPrice > 0 {
		return q.AskPrice
	}
	return q.BidPrice
}

// SpreadPct returns the bid-ask spread as a fraction of the midpoint.
func (q Quote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 || q.BidPrice <= 0 || q.AskPrice <= 0 {
		return 0
	}
	return (q.AskPrice - q.BidPrice) / mid
}
