package broker

import (
	"strconv"
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

// The broker's JSON responses use numbers-as-strings and omit fields
// unpredictably; every wire struct below decodes defensively and is
// converted into a typed domain value with zero-value defaults rather
// than panicking on a missing or malformed field.

type wireAccount struct {
	Equity        string `json:"equity"`
	LastEquity    string `json:"last_equity"`
	Cash          string `json:"cash"`
	BuyingPower   string `json:"buying_power"`
	DaytradeCount int    `json:"daytrade_count"`
	PatternDayTrader bool `json:"pattern_day_trader"`
}

func (w wireAccount) toDomain() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		Equity:        wireFloat(w.Equity),
		LastEquity:    wireFloat(w.LastEquity),
		Cash:          wireFloat(w.Cash),
		BuyingPower:   wireFloat(w.BuyingPower),
		DayTradeCount: w.DaytradeCount,
		PDTFlag:       w.PatternDayTrader,
		AsOf:          time.Now(),
	}
}

type wirePosition struct {
	Symbol       string `json:"symbol"`
	Qty          string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice string `json:"current_price"`
	UnrealizedPL string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
	MarketValue  string `json:"market_value"`
}

func (w wirePosition) toDomain() domain.Position {
	return domain.Position{
		Symbol:           w.Symbol,
		Qty:              wireFloat(w.Qty),
		AvgEntryPrice:    wireFloat(w.AvgEntryPrice),
		CurrentPrice:     wireFloat(w.CurrentPrice),
		UnrealizedPnL:    wireFloat(w.UnrealizedPL),
		UnrealizedPnLPct: wireFloat(w.UnrealizedPLPC),
		MarketValue:      wireFloat(w.MarketValue),
	}
}

type wireOrder struct {
	ClientOrderID string  `json:"client_order_id"`
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Qty           string  `json:"qty"`
	LimitPrice    *string `json:"limit_price"`
	StopPrice     *string `json:"stop_price"`
	TimeInForce   string  `json:"time_in_force"`
	LegacyParent  string  `json:"parent_id"`
	Status        string  `json:"status"`
	FilledQty     string  `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	SubmittedAt   string  `json:"submitted_at"`
}

func (w wireOrder) toDomain() domain.Order {
	o := domain.Order{
		ClientID:     w.ClientOrderID,
		BrokerID:     w.ID,
		Symbol:       w.Symbol,
		Side:         domain.Side(w.Side),
		Type:         domain.OrderType(w.Type),
		Qty:          int64(wireFloat(w.Qty)),
		TIF:          domain.TimeInForce(w.TimeInForce),
		ParentID:     w.LegacyParent,
		Status:       domain.OrderStatus(w.Status),
		FilledQty:    int64(wireFloat(w.FilledQty)),
		AvgFillPrice: wireFloat(w.FilledAvgPrice),
	}
	if w.LimitPrice != nil {
		v := wireFloat(*w.LimitPrice)
		o.LimitPrice = &v
	}
	if w.StopPrice != nil {
		v := wireFloat(*w.StopPrice)
		o.StopPrice = &v
	}
	if t, err := time.Parse(time.RFC3339, w.SubmittedAt); err == nil {
		o.SubmittedAt = t
	}
	if o.Status.Terminal() {
		o.TerminalAt = time.Now()
	}
	return o
}

type wireQuote struct {
	Symbol    string  `json:"symbol"`
	BidPrice  float64 `json:"bid_price"`
	AskPrice  float64 `json:"ask_price"`
	BidSize   int64   `json:"bid_size"`
	AskSize   int64   `json:"ask_size"`
	Timestamp string  `json:"timestamp"`
}

func (w wireQuote) toDomain(symbol string) domain.Quote {
	q := domain.Quote{
		Symbol:   symbol,
		BidPrice: w.BidPrice,
		AskPrice: w.AskPrice,
		BidSize:  w.BidSize,
		AskSize:  w.AskSize,
	}
	if t, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
		q.Timestamp = t
	}
	return q
}

type wireBar struct {
	Timestamp string  `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    int64   `json:"v"`
}

func (w wireBar) toDomain() domain.Bar {
	b := domain.Bar{Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume}
	if t, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
		b.Timestamp = t
	}
	return b
}

// MoverResult is a broad-scan primitive record (movers/most-active).
type MoverResult struct {
	Symbol         string
	Price          float64
	DailyChangePct float64
	Volume         int64
}

type wireMover struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	PercentChange float64 `json:"percent_change"`
	Volume        int64   `json:"volume"`
}

func (w wireMover) toDomain() MoverResult {
	return MoverResult{
		Symbol:         w.Symbol,
		Price:          w.Price,
		DailyChangePct: w.PercentChange,
		Volume:         w.Volume,
	}
}

// NewsItem is a minimal broad-scan news record, enough to identify the
// symbols a headline affects without parsing sentiment locally.
type NewsItem struct {
	Headline string
	Symbols  []string
	AsOf     time.Time
}

type wireNews struct {
	Headline string   `json:"headline"`
	Symbols  []string `json:"symbols"`
	CreatedAt string  `json:"created_at"`
}

func (w wireNews) toDomain() NewsItem {
	n := NewsItem{Headline: w.Headline, Symbols: w.Symbols}
	if t, err := time.Parse(time.RFC3339, w.CreatedAt); err == nil {
		n.AsOf = t
	}
	return n
}

// wireFloat defensively parses a numeric-as-string field, defaulting
// to zero rather than propagating a decode error.
func wireFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// OrderSpec is the outbound order-submission payload.
type OrderSpec struct {
	Symbol       string
	Qty          int64
	Side         domain.Side
	Type         domain.OrderType
	LimitPrice   *float64
	StopPrice    *float64
	TimeInForce  domain.TimeInForce
	OrderClass   string // "simple" | "bracket"
	TakeProfit   *float64
	StopLoss     *float64
	ClientOrderID string
}

func (s OrderSpec) toWire() map[string]interface{} {
	body := map[string]interface{}{
		"symbol":          s.Symbol,
		"qty":             strconv.FormatInt(s.Qty, 10),
		"side":            string(s.Side),
		"type":            string(s.Type),
		"time_in_force":   string(s.TimeInForce),
		"client_order_id": s.ClientOrderID,
	}
	if s.LimitPrice != nil {
		body["limit_price"] = strconv.FormatFloat(*s.LimitPrice, 'f', 2, 64)
	}
	if s.StopPrice != nil {
		body["stop_price"] = strconv.FormatFloat(*s.StopPrice, 'f', 2, 64)
	}
	if s.OrderClass != "" {
		body["order_class"] = s.OrderClass
	}
	if s.TakeProfit != nil {
		body["take_profit"] = map[string]string{"limit_price": strconv.FormatFloat(*s.TakeProfit, 'f', 2, 64)}
	}
	if s.StopLoss != nil {
		body["stop_loss"] = map[string]string{"stop_price": strconv.FormatFloat(*s.StopLoss, 'f', 2, 64)}
	}
	return body
}
