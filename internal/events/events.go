// Package events defines the typed alert records the engine emits at
// CRITICAL/WARNING/INFO severity, following the one-struct-
// per-event-kind EventData pattern.
package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Severity is the alert level attached to every emitted event.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// EventType identifies the kind of structured event.
type EventType string

const (
	EventCircuitBreakerTripped      EventType = "circuit_breaker_tripped"
	EventUnprotectedPositionFixed   EventType = "unprotected_position_remediated"
	EventPDTBlock                   EventType = "pdt_block"
	EventPDTWouldViolate            EventType = "pdt_would_violate"
	EventStaleQuoteDropped          EventType = "stale_quote_dropped"
	EventOvernightGap               EventType = "overnight_gap"
	EventEmergencyStopCompleted     EventType = "emergency_stop_completed"
	EventOracleUnavailable          EventType = "oracle_unavailable"
	EventRateLimitSaturated         EventType = "rate_limit_saturated"
)

// EventData is the interface every event payload implements.
type EventData interface {
	EventType() EventType
	Severity() Severity
}

// CircuitBreakerTrippedData carries the drawdown that tripped the daily
// gate and the residual exposure from the resulting emergency stop's
// shutdown report.
type CircuitBreakerTrippedData struct {
	Drawdown         float64     `json:"drawdown"`
	ResidualExposure float64     `json:"residual_exposure"`
}

func (d CircuitBreakerTrippedData) EventType() EventType { return EventCircuitBreakerTripped }
func (d CircuitBreakerTrippedData) Severity() Severity    { return SeverityCritical }

// UnprotectedPositionRemediatedData describes a naked position found
// and fixed by reconciliation. No engine code emits it;
// ReconcileStartup logs that condition directly.
type UnprotectedPositionRemediatedData struct {
	Symbol    string  `json:"symbol"`
	StopPrice float64 `json:"stop_price"`
}

func (d UnprotectedPositionRemediatedData) EventType() EventType {
	return EventUnprotectedPositionFixed
}
func (d UnprotectedPositionRemediatedData) Severity() Severity { return SeverityCritical }

// PDTBlockData describes a broker rejection with a PDT code. No engine
// code emits it.
type PDTBlockData struct {
	Symbol string `json:"symbol"`
}

func (d PDTBlockData) EventType() EventType { return EventPDTBlock }
func (d PDTBlockData) Severity() Severity    { return SeverityWarning }

// PDTWouldViolateData is emitted when the PDT gate silently drops a signal.
type PDTWouldViolateData struct {
	Symbol string `json:"symbol"`
}

func (d PDTWouldViolateData) EventType() EventType { return EventPDTWouldViolate }
func (d PDTWouldViolateData) Severity() Severity    { return SeverityInfo }

// StaleQuoteDroppedData describes a deep-dive quote past the freshness
// bound. No engine code emits it; the gateway reports such quotes as
// stale_data responses.
type StaleQuoteDroppedData struct {
	Symbol  string        `json:"symbol"`
	Age     time.Duration `json:"age"`
}

func (d StaleQuoteDroppedData) EventType() EventType { return EventStaleQuoteDropped }
func (d StaleQuoteDroppedData) Severity() Severity    { return SeverityWarning }

// OvernightGapData describes a gap at or above the moderate bucket. No
// engine code emits it.
type OvernightGapData struct {
	Symbol string  `json:"symbol"`
	GapPct float64 `json:"gap_pct"`
	Bucket string  `json:"bucket"`
}

func (d OvernightGapData) EventType() EventType { return EventOvernightGap }
func (d OvernightGapData) Severity() Severity    { return SeverityWarning }

// EmergencyStopCompletedData carries the final shutdown report.
type EmergencyStopCompletedData struct {
	PositionsAttempted int     `json:"positions_attempted"`
	FillsAchieved      int     `json:"fills_achieved"`
	ResidualExposure   float64 `json:"residual_exposure"`
}

func (d EmergencyStopCompletedData) EventType() EventType { return EventEmergencyStopCompleted }
func (d EmergencyStopCompletedData) Severity() Severity    { return SeverityCritical }

// OracleUnavailableData describes the regime oracle degrading to the
// local scorer; this is never user-visible as an error. No engine code
// emits it; Detect logs that condition directly.
type OracleUnavailableData struct {
	Reason string `json:"reason"`
}

func (d OracleUnavailableData) EventType() EventType { return EventOracleUnavailable }
func (d OracleUnavailableData) Severity() Severity    { return SeverityInfo }

// Bus emits structured events through the shared logger. There is no
// subscriber registry: every consumer reads the same log stream, which
// is sufficient for an operator without a dashboard (Non-goal).
type Bus struct {
	log zerolog.Logger
}

// NewBus builds a Bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "events").Logger()}
}

// Emit logs ev at its declared severity with its JSON-tagged fields
// attached as a structured "data" field.
func (b *Bus) Emit(ev EventData) {
	entry := func() *zerolog.Event {
		switch ev.Severity() {
		case SeverityCritical:
			return b.log.Error()
		case SeverityWarning:
			return b.log.Warn()
		default:
			return b.log.Info()
		}
	}()
	entry.Str("event_type", string(ev.EventType())).Interface("data", ev).Msg(string(ev.EventType()))
}
