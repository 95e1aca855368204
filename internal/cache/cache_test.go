package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/store/memory"
)

func newTestCache(t *testing.T) *LinkCache {
	t.Helper()
	return newCacheWith(t, Config{MaxItems: 1000, ExpectedItems: 1000, Exclusive: true})
}

func newCacheWith(t *testing.T, cfg Config) *LinkCache {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestLinkCache_SetGetDelete(t *testing.T) {
	c := newTestCache(t)
	link := core.ShortLink{Code: "abc123", Target: "https://x.test", OwnerID: "alice"}

	_, ok := c.Get("abc123")
	assert.False(t, ok)

	c.Set(link)
	c.local.Wait()

	got, ok := c.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, link, *got)

	got.Target = "mutated"
	again, _ := c.Get("abc123")
	assert.Equal(t, "https://x.test", again.Target, "Get returns a copy")

	c.Delete("abc123")
	c.local.Wait()
	_, ok = c.Get("abc123")
	assert.False(t, ok)
}

func TestLinkCache_FilterNotAuthoritativeBeforeRebuild(t *testing.T) {
	c := newTestCache(t)
	assert.True(t, c.MightExist("neverseen"))
}

func TestLinkCache_Rebuild(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for i := 0; i < 250; i++ {
		_, err := store.Insert(ctx, nil, core.ShortLink{Code: fmt.Sprintf("code%04d", i), Target: "https://x.test", OwnerID: "alice"})
		require.NoError(t, err)
	}

	c := newTestCache(t)
	cur := store.StreamAll(ctx, 100)
	defer cur.Close()

	n, err := c.Rebuild(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	for i := 0; i < 250; i++ {
		assert.True(t, c.MightExist(fmt.Sprintf("code%04d", i)))
	}

	rejected := 0
	for i := 0; i < 200; i++ {
		if !c.MightExist(fmt.Sprintf("absent%04d", i)) {
			rejected++
		}
	}
	assert.Greater(t, rejected, 190, "false positive rate far above the configured rate")

	c.Set(core.ShortLink{Code: "fresh1", Target: "https://y.test"})
	assert.True(t, c.MightExist("fresh1"))
}

// blockingCursor yields one batch, then waits for release before ending.
type blockingCursor struct {
	first   []core.ShortLink
	sent    bool
	reached chan struct{}
	release chan struct{}
}

func (b *blockingCursor) Next(ctx context.Context) ([]core.ShortLink, error) {
	if !b.sent {
		b.sent = true
		return b.first, nil
	}
	close(b.reached)
	<-b.release
	return nil, nil
}

func (b *blockingCursor) Close() error { return nil }

func TestLinkCache_RebuildKeepsConcurrentSets(t *testing.T) {
	c := newTestCache(t)
	cur := &blockingCursor{
		first:   []core.ShortLink{{Code: "old001"}},
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Rebuild(context.Background(), cur)
		assert.NoError(t, err)
	}()

	<-cur.reached
	c.Set(core.ShortLink{Code: "during1", Target: "https://x.test"})
	close(cur.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not finish")
	}

	assert.True(t, c.MightExist("old001"))
	assert.True(t, c.MightExist("during1"))
}

type errCursor struct{}

func (errCursor) Next(context.Context) ([]core.ShortLink, error) {
	return nil, errors.New("stream broke")
}
func (errCursor) Close() error { return nil }

func TestLinkCache_RebuildErrorKeepsOldFilter(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Rebuild(context.Background(), errCursor{})
	require.Error(t, err)
	assert.True(t, c.MightExist("anything"), "still not authoritative")
}

func TestLinkCache_WithService(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := newTestCache(t)
	svc := core.NewService(store, nil, core.ServiceConfig{BaseURL: "https://sho.rt"}, core.WithCache(c))

	require.NoError(t, svc.RebuildCache(ctx))

	url, err := svc.CreateShortLink(ctx, "https://x.test", "alice", "")
	require.NoError(t, err)
	code := url[len("https://sho.rt/"):]
	c.local.Wait()

	link, err := svc.GetByCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "https://x.test", link.Target)

	missing, err := svc.GetByCode(ctx, "nosuchcode")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLinkCache_SharedStoreNeverRejects(t *testing.T) {
	ctx := context.Background()
	c := newCacheWith(t, Config{MaxItems: 1000, ExpectedItems: 1000})

	_, err := c.Rebuild(ctx, memory.New().StreamAll(ctx, 100))
	require.NoError(t, err)

	assert.True(t, c.MightExist("elsewhere1"))
	_, ok := c.Get("elsewhere1")
	assert.False(t, ok)
}

func TestLinkCache_SharedStoreSeesOtherInstances(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	c := newCacheWith(t, Config{MaxItems: 1000, ExpectedItems: 1000})
	cached := core.NewService(store, nil, core.ServiceConfig{BaseURL: "https://sho.rt"}, core.WithCache(c))
	other := core.NewService(store, nil, core.ServiceConfig{BaseURL: "https://sho.rt"})

	require.NoError(t, cached.RebuildCache(ctx))

	url, err := other.CreateShortLink(ctx, "https://x.test/shared", "bob", "")
	require.NoError(t, err)
	code := url[len("https://sho.rt/"):]

	link, err := cached.GetByCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, link, "link created by another instance must be found")
	assert.Equal(t, "https://x.test/shared", link.Target)

	c.local.Wait()
	again, err := cached.GetByCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, code, again.Code)
}

func TestLinkCache_ExclusiveRejectsUnknownAfterRebuild(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	assert.True(t, c.MightExist("unknown1"), "not authoritative before rebuild")
	_, err := c.Rebuild(ctx, memory.New().StreamAll(ctx, 100))
	require.NoError(t, err)
	assert.False(t, c.MightExist("unknown1"))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{FalsePositiveRate: 2}.withDefaults()
	assert.Equal(t, int64(100_000), cfg.MaxItems)
	assert.Equal(t, 5*time.Minute, cfg.TTL)
	assert.Equal(t, uint(1_000_000), cfg.ExpectedItems)
	assert.Equal(t, 0.01, cfg.FalsePositiveRate)
}
