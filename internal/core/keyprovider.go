package core

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/shortlinks/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// AESKeySetting is the settings key holding the export/import passphrase.
const AESKeySetting = "AES_KEY"

// Key length bounds, in characters.
const (
	MinKeyLength = 16
	MaxKeyLength = 256
)

// DefaultKeyTTL bounds how stale a cached key may be.
const DefaultKeyTTL = 5 * time.Minute

type cachedKey struct {
	value     string
	ok        bool
	fetchedAt time.Time
}

// KeyProvider resolves the AES passphrase from the settings store, falling
// back to a static value, and caches the result for ttl.
//
// The cache is never invalidated on write; a changed setting is picked up
// once the cached entry expires. Concurrent refreshes are collapsed into a
// single settings read. A result produced after a failed settings read is
// returned but not cached, so the next call retries the read.
type KeyProvider struct {
	settings  SettingsStore
	staticKey string
	ttl       time.Duration
	now       func() time.Time

	cached atomic.Pointer[cachedKey]
	group  singleflight.Group
}

// NewKeyProvider creates a provider. settings may be nil, in which case only
// staticKey is considered. A ttl of zero uses DefaultKeyTTL.
func NewKeyProvider(settings SettingsStore, staticKey string, ttl time.Duration) *KeyProvider {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &KeyProvider{
		settings:  settings,
		staticKey: staticKey,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Key returns the current passphrase and whether one is configured.
func (p *KeyProvider) Key(ctx context.Context) (string, bool) {
	if c := p.cached.Load(); c != nil && p.now().Sub(c.fetchedAt) < p.ttl {
		return c.value, c.ok
	}

	// Shared by every waiting caller; detached from the first one's cancellation.
	refreshCtx := context.WithoutCancel(ctx)
	v, _, _ := p.group.Do(AESKeySetting, func() (any, error) {
		c, cacheable := p.resolve(refreshCtx)
		if cacheable {
			p.cached.Store(c)
		}
		return c, nil
	})
	c := v.(*cachedKey)
	return c.value, c.ok
}

// resolve reports whether the entry may be cached: false when the settings
// read failed and the answer came from the fallback.
func (p *KeyProvider) resolve(ctx context.Context) (*cachedKey, bool) {
	entry := &cachedKey{fetchedAt: p.now()}
	cacheable := true

	if p.settings != nil {
		value, found, err := p.settings.GetValue(ctx, AESKeySetting)
		switch {
		case err != nil:
			slog.Warn("failed to read AES key setting, using static key", "error", err)
			cacheable = false
		case found && validKeyLength(value):
			entry.value, entry.ok = value, true
			metrics.KeyRefreshes.WithLabelValues("settings").Inc()
			return entry, true
		case found:
			slog.Warn("AES key setting has invalid length, using static key", "length", len(value))
		}
	}

	if validKeyLength(p.staticKey) {
		entry.value, entry.ok = p.staticKey, true
		metrics.KeyRefreshes.WithLabelValues("static").Inc()
		return entry, cacheable
	}
	if p.staticKey != "" {
		slog.Warn("static AES key has invalid length, ignoring", "length", len(p.staticKey))
	}

	metrics.KeyRefreshes.WithLabelValues("none").Inc()
	return entry, cacheable
}

func validKeyLength(key string) bool {
	n := len([]rune(key))
	return n >= MinKeyLength && n <= MaxKeyLength
}
