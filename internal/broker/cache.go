package broker

import (
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/sentinel/internal/domain"
)

// snapshotValidity matches the 5-second account-snapshot cache
// validity from the concurrency & resource model.
const snapshotValidity = 5 * time.Second

// accountCache holds the most recently fetched account snapshot,
// msgpack-encoded in memory, and invalidated after snapshotValidity.
type accountCache struct {
	mu      sync.RWMutex
	encoded []byte
	at      time.Time
}

func (c *accountCache) get() (domain.AccountSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.encoded == nil || time.Since(c.at) > snapshotValidity {
		return domain.AccountSnapshot{}, false
	}
	var snap domain.AccountSnapshot
	if err := msgpack.Unmarshal(c.encoded, &snap); err != nil {
		return domain.AccountSnapshot{}, false
	}
	return snap, true
}

func (c *accountCache) set(snap domain.AccountSnapshot) {
	encoded, err := msgpack.Marshal(snap)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoded = encoded
	c.at = time.Now()
}

// quoteCache holds the latest quote per symbol, used to short-circuit
// redundant deep-dive lookups within the same funnel cycle.
type quoteCache struct {
	mu      sync.RWMutex
	entries map[string]quoteCacheEntry
}

type quoteCacheEntry struct {
	encoded []byte
	at      time.Time
}

func newQuoteCache() *quoteCache {
	return &quoteCache{entries: make(map[string]quoteCacheEntry)}
}

func (c *quoteCache) get(symbol string, maxAge time.Duration) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, found := c.entries[symbol]
	if !found || time.Since(entry.at) > maxAge {
		return domain.Quote{}, false
	}
	var q domain.Quote
	if err := msgpack.Unmarshal(entry.encoded, &q); err != nil {
		return domain.Quote{}, false
	}
	return q, true
}

func (c *quoteCache) set(q domain.Quote) {
	encoded, err := msgpack.Marshal(q)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[q.Symbol] = quoteCacheEntry{encoded: encoded, at: time.Now()}
}
