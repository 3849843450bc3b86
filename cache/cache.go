package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ghostkellz/zeke/provider"
)

const (
	// DefaultTTL matches the assistant's default response reuse window.
	DefaultTTL = time.Hour

	// DefaultMaxEntries bounds the memory tier.
	DefaultMaxEntries = 1000
)

// Config tunes a ResponseCache.
type Config struct {
	TTL        time.Duration
	MaxEntries int

	// Store is the optional durable tier. When nil the cache is
	// memory-only.
	Store *Store

	// WarmLimit caps how many durable entries are loaded into the memory
	// tier at construction. Zero means MaxEntries.
	WarmLimit int

	Logger *slog.Logger
}

// ResponseCache is the two-tier response cache. A nil *ResponseCache is
// valid and behaves as a cache that always misses, so callers with caching
// disabled need no branching.
//
// The memory tier and the durable tier are updated together on Put but not
// transactionally: a crash between the two leaves the durable tier behind,
// which is acceptable because it only optimizes cold starts.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[uint64]*Entry

	ttl    time.Duration
	max    int
	store  *Store
	logger *slog.Logger
}

// New creates a ResponseCache and, when a durable tier is configured,
// warms the memory tier from it.
func New(cfg Config) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &ResponseCache{
		entries: make(map[uint64]*Entry),
		ttl:     cfg.TTL,
		max:     cfg.MaxEntries,
		store:   cfg.Store,
		logger:  cfg.Logger,
	}

	if c.store != nil {
		limit := cfg.WarmLimit
		if limit <= 0 || limit > c.max {
			limit = c.max
		}
		warm, err := c.store.Warm(limit)
		if err != nil {
			c.logger.Warn("cache warm load failed", "error", err)
		}
		cutoff := time.Now().Add(-c.ttl)
		for _, e := range warm {
			if e.Timestamp.After(cutoff) {
				c.entries[e.InputHash] = e
			}
		}
		if len(c.entries) > 0 {
			c.logger.Info("cache warmed from durable tier", "entries", len(c.entries))
		}
	}
	return c
}

// Get looks up a cached response for the request inputs. A hit returns an
// owned copy. Expired entries are dropped lazily here.
func (c *ResponseCache) Get(model string, temperature, topP float64, messages []provider.Message) (*provider.ChatResponse, bool) {
	if c == nil {
		return nil, false
	}
	hash := InputHash(model, temperature, topP, messages)
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[hash]
	if ok {
		if now.Sub(e.Timestamp) > c.ttl {
			delete(c.entries, hash)
			c.mu.Unlock()
			return nil, false
		}
		e.AccessCount++
		e.LastAccess = now
		resp := e.Response
		c.mu.Unlock()

		if c.store != nil {
			if err := c.store.Touch(hash, now); err != nil {
				c.logger.Warn("cache touch failed", "error", err)
			}
		}
		return &resp, true
	}
	c.mu.Unlock()

	if c.store == nil {
		return nil, false
	}

	// Cold memory tier: consult the durable tier and promote.
	e, err := c.store.Get(hash)
	if err != nil {
		c.logger.Warn("durable cache lookup failed", "error", err)
		return nil, false
	}
	if e == nil || now.Sub(e.Timestamp) > c.ttl {
		return nil, false
	}
	e.AccessCount++
	e.LastAccess = now

	c.mu.Lock()
	c.evictLocked(1)
	c.entries[hash] = e
	resp := e.Response
	c.mu.Unlock()

	if err := c.store.Touch(hash, now); err != nil {
		c.logger.Warn("cache touch failed", "error", err)
	}
	return &resp, true
}

// Put stores an owned copy of the response under the request inputs and
// writes it through to the durable tier. Capacity eviction is eager:
// inserting beyond MaxEntries removes the oldest entries by insertion
// timestamp first.
func (c *ResponseCache) Put(model string, temperature, topP float64, messages []provider.Message, resp *provider.ChatResponse) {
	if c == nil || resp == nil {
		return
	}
	hash := InputHash(model, temperature, topP, messages)
	now := time.Now()

	e := &Entry{
		InputHash:  hash,
		Model:      model,
		InputText:  transcript(messages),
		Response:   *resp,
		Timestamp:  now,
		LastAccess: now,
	}

	c.mu.Lock()
	if _, exists := c.entries[hash]; !exists {
		c.evictLocked(1)
	}
	c.entries[hash] = e
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Put(e); err != nil {
			c.logger.Warn("durable cache write failed", "error", err)
		}
		if _, err := c.store.EvictToCapacity(c.max); err != nil {
			c.logger.Warn("durable cache eviction failed", "error", err)
		}
	}
}

// evictLocked makes room for n inserts by removing the oldest entries.
// Caller holds c.mu.
func (c *ResponseCache) evictLocked(n int) {
	for len(c.entries)+n > c.max {
		var oldest uint64
		var oldestAt time.Time
		first := true
		for hash, e := range c.entries {
			if first || e.Timestamp.Before(oldestAt) {
				oldest = hash
				oldestAt = e.Timestamp
				first = false
			}
		}
		if first {
			return
		}
		delete(c.entries, oldest)
	}
}

// Maintain purges expired entries from both tiers and enforces the durable
// tier's capacity. Safe to call from a scheduler.
func (c *ResponseCache) Maintain() {
	if c == nil {
		return
	}
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	for hash, e := range c.entries {
		if e.Timestamp.Before(cutoff) {
			delete(c.entries, hash)
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		if _, err := c.store.DeleteExpired(cutoff); err != nil {
			c.logger.Warn("durable cache expiry sweep failed", "error", err)
		}
		if _, err := c.store.EvictToCapacity(c.max); err != nil {
			c.logger.Warn("durable cache eviction failed", "error", err)
		}
	}
}

// Len returns the number of entries in the memory tier.
func (c *ResponseCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// transcript serializes messages for the durable tier's audit column.
func transcript(messages []provider.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
