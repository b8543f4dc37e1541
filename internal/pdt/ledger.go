// Package pdt implements the rolling five-session day-trade ledger and
// symbol block list used to gate order submission under the pattern
// day trader threshold.
package pdt

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/marketclock"
)

const rollingSessions = 5

// Ledger tracks day trades over a rolling window of five trading
// sessions and the hard block list for PDT-rejected symbols.
type Ledger struct {
	db    *database.DB
	clock *marketclock.Clock
}

// New builds a Ledger backed by db.
func New(db *database.DB, clock *marketclock.Clock) *Ledger {
	return &Ledger{db: db, clock: clock}
}

// RecordOpen records that symbol was opened during the current session.
func (l *Ledger) RecordOpen(symbol string) error {
	_, err := l.db.Exec(
		`INSERT INTO pdt_entries (symbol, open_timestamp, session_date, closing_would_be_day_trade) VALUES (?, ?, ?, 0)`,
		symbol, time.Now(), l.clock.SessionDate(),
	)
	if err != nil {
		return fmt.Errorf("failed to record pdt open: %w", err)
	}
	return nil
}

// WouldBeDayTrade reports whether symbol has an open recorded in the
// current session. side is not consulted: any order on a symbol opened
// this session counts as closing it, including one that adds to the
// position.
func (l *Ledger) WouldBeDayTrade(symbol string, side domain.Side) (bool, error) {
	var count int
	err := l.db.QueryRow(
		`SELECT COUNT(*) FROM pdt_entries WHERE symbol = ? AND session_date = ?`,
		symbol, l.clock.SessionDate(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pdt entries: %w", err)
	}
	return count > 0, nil
}

// RecordClose marks today's open entries for symbol as realized day
// trades, incrementing the rolling day-trade count.
func (l *Ledger) RecordClose(symbol string) error {
	_, err := l.db.Exec(
		`UPDATE pdt_entries SET closing_would_be_day_trade = 1 WHERE symbol = ? AND session_date = ?`,
		symbol, l.clock.SessionDate(),
	)
	if err != nil {
		return fmt.Errorf("failed to record pdt close: %w", err)
	}
	return nil
}

// DayTradeCount returns the number of realized day trades within the
// rolling five-session window ending today.
func (l *Ledger) DayTradeCount() (int, error) {
	cutoff := l.rollingCutoff()
	var count int
	err := l.db.QueryRow(
		`SELECT COUNT(*) FROM pdt_entries WHERE closing_would_be_day_trade = 1 AND session_date >= ?`,
		cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count day trades: %w", err)
	}
	return count, nil
}

// rollingCutoff approximates the start of the rolling five-session
// window as seven calendar days back (rollingSessions plus a weekend),
// so without holidays the window spans five or six sessions; counting
// an extra session only over-counts day trades, which is the
// conservative direction for a compliance gate.
func (l *Ledger) rollingCutoff() string {
	return time.Now().AddDate(0, 0, -rollingSessions-2).Format("2006-01-02")
}

// Block hard-blocks symbol. The block stays in place until Unblock
// removes it; it does not expire at a session or ledger rollover, and
// the engine does not call Block when the broker rejects an order with
// a PDT error code.
func (l *Ledger) Block(symbol string) error {
	_, err := l.db.Exec(
		`INSERT INTO pdt_blocks (symbol, blocked_at) VALUES (?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET blocked_at = excluded.blocked_at`,
		symbol, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to block symbol: %w", err)
	}
	return nil
}

// IsBlocked reports whether symbol is currently hard-blocked.
func (l *Ledger) IsBlocked(symbol string) (bool, error) {
	var blockedAt time.Time
	err := l.db.QueryRow(`SELECT blocked_at FROM pdt_blocks WHERE symbol = ?`, symbol).Scan(&blockedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check block list: %w", err)
	}
	return true, nil
}

// Unblock clears symbol's hard block.
func (l *Ledger) Unblock(symbol string) error {
	_, err := l.db.Exec(`DELETE FROM pdt_blocks WHERE symbol = ?`, symbol)
	return err
}

// Allows enforces the gate rule: if equity is below the PDT threshold,
// three or more day trades have already been realized in the rolling
// window, and symbol was opened in the current session (see
// WouldBeDayTrade), the order must be rejected with pdt_would_violate.
func (l *Ledger) Allows(account domain.AccountSnapshot, symbol string, side domain.Side) (bool, error) {
	if blocked, err := l.IsBlocked(symbol); err != nil {
		return false, err
	} else if blocked {
		return false, nil
	}

	if !account.BelowPDTThreshold() {
		return true, nil
	}

	count, err := l.DayTradeCount()
	if err != nil {
		return false, err
	}
	if count < 3 {
		return true, nil
	}

	wouldClose, err := l.WouldBeDayTrade(symbol, side)
	if err != nil {
		return false, err
	}
	return !wouldClose, nil
}
