package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/sentinel/internal/domain"
)

func TestAccountCache_MissWhenEmpty(t *testing.T) {
	c := &accountCache{}
	_, found := c.get()
	assert.False(t, found)
}

func TestAccountCache_HitWithinValidityWindow(t *testing.T) {
	c := &accountCache{}
	c.set(domain.AccountSnapshot{Equity: 1234})

	got, found := c.get()
	assert.True(t, found)
	assert.Equal(t, 1234.0, got.Equity)
}

func TestAccountCache_ExpiresAfterValidityWindow(t *testing.T) {
	c := &accountCache{}
	c.set(domain.AccountSnapshot{Equity: 1234})
	c.at = time.Now().Add(-snapshotValidity - time.Second)

	_, found := c.get()
	assert.False(t, found)
}

func TestQuoteCache_HitAndExpiry(t *testing.T) {
	c := newQuoteCache()
	c.set(domain.Quote{Symbol: "AAPL", Bid: 100, Ask: 100.1})

	got, found := c.get("AAPL", time.Second)
	assert.True(t, found)
	assert.Equal(t, "AAPL", got.Symbol)

	_, found = c.get("MSFT", time.Second)
	assert.False(t, found, "unknown symbol is always a miss")

	c.entries["AAPL"] = quoteCacheEntry{encoded: c.entries["AAPL"].encoded, at: time.Now().Add(-time.Minute)}
	_, found = c.get("AAPL", time.Second)
	assert.False(t, found, "entry older than maxAge is a miss")
}
