// Package gapguard implements the Gap / Extended-Hours Guard: overnight
// gap detection, position aging, and overnight-position rotation
// ordering.
package gapguard

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/orders"
)

// GapBucket is the coarse overnight-gap severity bucket.
type GapBucket string

const (
	GapLow      GapBucket = "low"
	GapModerate GapBucket = "moderate"
	GapHigh     GapBucket = "high"
	GapExtreme  GapBucket = "extreme"
)

// BucketFor classifies a gap percentage into its severity bucket.
func BucketFor(gapPct float64) GapBucket {
	abs := math.Abs(gapPct)
	switch {
	case abs >= 0.05:
		return GapExtreme
	case abs >= 0.02:
		return GapHigh
	case abs >= 0.01:
		return GapModerate
	default:
		return GapLow
	}
}

// AlertWorthy reports whether a bucket should raise an alert (moderate
// and above,).
func (b GapBucket) AlertWorthy() bool {
	return b == GapModerate || b == GapHigh || b == GapExtreme
}

// GapAlert is emitted when an overnight gap reaches the alert threshold.
type GapAlert struct {
	Symbol string
	GapPct float64
	Bucket GapBucket
}

// Guard records end-of-session snapshots and evaluates overnight gaps,
// position aging, and the overnight-position cap on the next open.
type Guard struct {
	db  *database.DB
	cfg *config.Config
	log zerolog.Logger
}

// New builds a Guard.
func New(db *database.DB, cfg *config.Config, log zerolog.Logger) *Guard {
	return &Guard{db: db, cfg: cfg, log: log.With().Str("component", "gap_guard").Logger()}
}

// RecordCloseSnapshot stores (symbol, close_price, quantity) for every
// open position at session close.
func (g *Guard) RecordCloseSnapshot(positions []domain.Position, sessionDate string) error {
	for _, p := range positions {
		if p.Closed() {
			continue
		}
		_, err := g.db.Exec(
			`INSERT INTO position_snapshots (symbol, close_price, quantity, snapshot_date, opened_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(symbol) DO UPDATE SET close_price = excluded.close_price, quantity = excluded.quantity, snapshot_date = excluded.snapshot_date`,
			p.Symbol, p.CurrentPrice, p.Qty, sessionDate, p.OpenedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record close snapshot for %s: %w", p.Symbol, err)
		}
	}
	return nil
}

// CheckGaps compares the prior session's close snapshot to the current
// open price for each symbol and returns an alert for every gap at or
// above the moderate bucket.
func (g *Guard) CheckGaps(openPrices map[string]float64) ([]GapAlert, error) {
	rows, err := g.db.Query(`SELECT symbol, close_price FROM position_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("failed to read position snapshots: %w", err)
	}
	defer rows.Close()

	var alerts []GapAlert
	for rows.Next() {
		var symbol string
		var closePrice float64
		if err := rows.Scan(&symbol, &closePrice); err != nil {
			continue
		}
		open, found := openPrices[symbol]
		if !found || closePrice == 0 {
			continue
		}
		gapPct := (open - closePrice) / closePrice
		bucket := BucketFor(gapPct)
		if bucket.AlertWorthy() {
			alerts = append(alerts, GapAlert{Symbol: symbol, GapPct: gapPct, Bucket: bucket})
		}
	}
	return alerts, nil
}

// CheckAging flags positions whose age exceeds max_overnight_days for
// rotation: they are preferentially closed during the next regular
// session.
func (g *Guard) CheckAging(positions []domain.Position, asOf time.Time) []domain.Position {
	maxAge := time.Duration(g.cfg.MaxOvernightDays) * 24 * time.Hour
	var aged []domain.Position
	for _, p := range positions {
		if p.Closed() {
			continue
		}
		if asOf.Sub(p.OpenedAt) > maxAge {
			aged = append(aged, p)
		}
	}
	return aged
}

// ExcessOvernightPositions returns the positions that exceed
// max_overnight_positions, ordered largest-unrealized-loss first, to
// be liquidated before close.
func (g *Guard) ExcessOvernightPositions(positions []domain.Position) []domain.Position {
	if len(positions) <= g.cfg.MaxOvernightPositions {
		return nil
	}
	sorted := orders.SortByLargestUnrealizedLoss(positions)
	return sorted[:len(sorted)-g.cfg.MaxOvernightPositions]
}
