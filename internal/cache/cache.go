// Package cache is the lookup cache in front of the link store: a ristretto
// L1 of recently resolved links plus a bloom filter of every known code.
//
// The filter always gates the L1 probe. It rejects store lookups only when
// the cache is Exclusive, i.e. this process is the store's only writer;
// links created by other instances sharing a store are not in the filter.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dgraph-io/ristretto"

	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/metrics"
)

// Config sizes the cache.
type Config struct {
	MaxItems          int64
	TTL               time.Duration
	ExpectedItems     uint
	FalsePositiveRate float64

	// Exclusive makes a filter miss final. Set it only for a process-local store.
	Exclusive bool
}

func (c Config) withDefaults() Config {
	if c.MaxItems <= 0 {
		c.MaxItems = 100_000
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.ExpectedItems == 0 {
		c.ExpectedItems = 1_000_000
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		c.FalsePositiveRate = 0.01
	}
	return c
}

// LinkCache implements core.LinkCache.
//
// Until the first Rebuild the filter is not authoritative and MightExist
// answers true for every code. Without Exclusive it never is.
type LinkCache struct {
	local     *ristretto.Cache
	ttl       time.Duration
	exclusive bool

	mu         sync.RWMutex
	filter     *bloom.BloomFilter
	ready      bool
	rebuilding bool
	pending    []string // codes added while a rebuild is running

	expected uint
	fpRate   float64
}

var _ core.LinkCache = (*LinkCache)(nil)

// New creates a cache. Call Close when done.
func New(cfg Config) (*LinkCache, error) {
	cfg = cfg.withDefaults()

	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxItems * 10,
		MaxCost:     cfg.MaxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &LinkCache{
		local:     local,
		ttl:       cfg.TTL,
		exclusive: cfg.Exclusive,
		filter:    bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		expected:  cfg.ExpectedItems,
		fpRate:    cfg.FalsePositiveRate,
	}, nil
}

// Get returns a copy of the cached link. Every code stored through Set is in
// the filter, so a filter miss skips the L1 probe.
func (c *LinkCache) Get(code string) (*core.ShortLink, bool) {
	if !c.inFilter(code) {
		metrics.CacheOperations.WithLabelValues("l1", "skip").Inc()
		return nil, false
	}
	v, ok := c.local.Get(code)
	if !ok {
		metrics.CacheOperations.WithLabelValues("l1", "miss").Inc()
		return nil, false
	}
	link, ok := v.(core.ShortLink)
	if !ok {
		c.local.Del(code)
		return nil, false
	}
	metrics.CacheOperations.WithLabelValues("l1", "hit").Inc()
	return &link, true
}

// Set caches link and records its code in the filter. Cost is one per
// entry, so MaxItems bounds the entry count.
func (c *LinkCache) Set(link core.ShortLink) {
	c.local.SetWithTTL(link.Code, link, 1, c.ttl)
	c.addCode(link.Code)
}

func (c *LinkCache) addCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.AddString(code)
	if c.rebuilding {
		c.pending = append(c.pending, code)
	}
}

// Delete evicts code from L1. Bloom filters cannot remove members; the code
// stays a "maybe" until the next rebuild.
func (c *LinkCache) Delete(code string) {
	c.local.Del(code)
}

// MightExist returns false only when the cache is Exclusive, the filter has
// been rebuilt, and code is not in it.
func (c *LinkCache) MightExist(code string) bool {
	if !c.exclusive {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return true
	}
	if !c.filter.TestString(code) {
		metrics.CacheOperations.WithLabelValues("bloom", "reject").Inc()
		return false
	}
	return true
}

func (c *LinkCache) inFilter(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.TestString(code)
}

// Rebuild loads every code from cur into a fresh filter and swaps it in.
// Codes added through Set while the rebuild runs are carried over.
func (c *LinkCache) Rebuild(ctx context.Context, cur core.Cursor) (int, error) {
	c.mu.Lock()
	c.rebuilding = true
	c.pending = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.rebuilding = false
		c.pending = nil
		c.mu.Unlock()
	}()

	next := bloom.NewWithEstimates(c.expected, c.fpRate)
	n := 0
	for {
		batch, err := cur.Next(ctx)
		if err != nil {
			return n, err
		}
		if len(batch) == 0 {
			break
		}
		for _, l := range batch {
			next.AddString(l.Code)
		}
		n += len(batch)
	}

	c.mu.Lock()
	for _, code := range c.pending {
		next.AddString(code)
	}
	c.filter = next
	c.ready = true
	c.mu.Unlock()

	return n, nil
}

// ApproximateCodes estimates the number of codes in the filter.
func (c *LinkCache) ApproximateCodes() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.ApproximatedSize()
}

func (c *LinkCache) Close() {
	c.local.Close()
}
