package events

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(buf *bytes.Buffer) *Bus {
	log := zerolog.New(buf)
	return NewBus(log)
}

func decodeLastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestEmit_CriticalEventLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBus(&buf)
	b.Emit(CircuitBreakerTrippedData{Drawdown: 0.06, ResidualExposure: 1200})

	entry := decodeLastLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, string(EventCircuitBreakerTripped), entry["event_type"])
}

func TestEmit_WarningEventLogsAtWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBus(&buf)
	b.Emit(PDTBlockData{Symbol: "GME"})

	entry := decodeLastLine(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, string(EventPDTBlock), entry["event_type"])
}

func TestEmit_InfoEventLogsAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBus(&buf)
	b.Emit(OracleUnavailableData{Reason: "timeout"})

	entry := decodeLastLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, string(EventOracleUnavailable), entry["event_type"])
}

func TestEmit_UnprotectedPositionIsCritical(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBus(&buf)
	b.Emit(UnprotectedPositionRemediatedData{Symbol: "AAPL", StopPrice: 97})

	entry := decodeLastLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
}

func TestEmit_AttachesDataPayload(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBus(&buf)
	b.Emit(OvernightGapData{Symbol: "TSLA", GapPct: 0.03, Bucket: "high"})

	entry := decodeLastLine(t, &buf)
	data, ok := entry["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "TSLA", data["symbol"])
	assert.Equal(t, "high", data["bucket"])
}

func TestEventTypeAndSeverity_EveryKindIsConsistent(t *testing.T) {
	cases := []EventData{
		CircuitBreakerTrippedData{},
		UnprotectedPositionRemediatedData{},
		PDTBlockData{},
		PDTWouldViolateData{},
		StaleQuoteDroppedData{},
		OvernightGapData{},
		EmergencyStopCompletedData{},
		OracleUnavailableData{},
	}
	for _, c := range cases {
		assert.NotEmpty(t, c.EventType())
		assert.NotEmpty(t, c.Severity())
	}
}
