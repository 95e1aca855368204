package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cursorStore overrides StreamAll to observe the cursor.
type cursorStore struct {
	*fakeStore
	cursor *sliceCursor
}

func (c *cursorStore) StreamAll(ctx context.Context, batchSize int) Cursor {
	c.cursor = &sliceCursor{links: c.snapshot(), size: batchSize}
	return c.cursor
}

func seedLinks(store *fakeStore, n int) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		store.put(ShortLink{
			Code:      fmt.Sprintf("code%04d", i),
			Target:    fmt.Sprintf("https://example.com/%d", i),
			OwnerID:   DefaultOwnerID,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestExportAll_Plaintext(t *testing.T) {
	store := newFakeStore()
	store.put(
		ShortLink{Code: "older1", Target: "https://a.test", OwnerID: "alice", OwnerName: "Alice", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		ShortLink{Code: "newer1", Target: "https://b.test", OwnerID: "admin", CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	)

	ex := NewExporter(store, nil, ExportConfig{BaseURL: "https://sho.rt/"})
	ex.now = fixedClock

	p, err := ex.ExportAll(context.Background())
	require.NoError(t, err)

	assert.False(t, p.Encrypted)
	assert.Empty(t, p.IV)
	assert.Equal(t, 2, p.Count)
	assert.NotEmpty(t, p.ExportID)
	assert.Equal(t, fixedNow, p.GeneratedAt)

	c := p.Content
	assert.Contains(t, c, reportTitle)
	assert.Contains(t, c, "生成时间 Generated: 2024-03-01T12:00:00Z")
	assert.Contains(t, c, "总数 Total: 2")
	assert.Contains(t, c, "短链接 Short URL: https://sho.rt/newer1")
	assert.Contains(t, c, "所有者 Owner: Alice")
	assert.Contains(t, c, "创建时间 Created: 2024-01-01T00:00:00Z")
	assert.True(t, strings.HasSuffix(c, "-- end of export (2 records) --\n"))

	first := strings.Index(c, "[1] 记录 Record\n短码 Code: newer1")
	second := strings.Index(c, "[2] 记录 Record\n短码 Code: older1")
	assert.True(t, first >= 0 && second > first, "records must be newest first")
}

func TestExportAll_Empty(t *testing.T) {
	p, err := NewExporter(newFakeStore(), nil, ExportConfig{}).ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, p.Count)
	assert.Contains(t, p.Content, "-- end of export (0 records) --")
}

func TestExportAll_BatchedCursor(t *testing.T) {
	store := &cursorStore{fakeStore: newFakeStore()}
	seedLinks(store.fakeStore, 250)

	p, err := NewExporter(store, nil, ExportConfig{}).ExportAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 250, p.Count)
	assert.Equal(t, DefaultExportBatchSize, store.cursor.size)
	assert.Equal(t, 3, store.cursor.batches)
}

func TestExportAll_TooLarge(t *testing.T) {
	store := &cursorStore{fakeStore: newFakeStore()}
	seedLinks(store.fakeStore, 3)

	_, err := NewExporter(store, nil, ExportConfig{MaxRecords: 2}).ExportAll(context.Background())
	assert.ErrorIs(t, err, ErrExportTooLarge)
	assert.Contains(t, err.Error(), "export in batches")
	assert.Nil(t, store.cursor, "no cursor opened")
}

func TestExportAll_Encrypted(t *testing.T) {
	store := newFakeStore()
	seedLinks(store, 5)

	keys := NewKeyProvider(nil, passphrase, time.Minute)
	p, err := NewExporter(store, keys, ExportConfig{}).ExportAll(context.Background())
	require.NoError(t, err)

	require.True(t, p.Encrypted)
	require.NotEmpty(t, p.IV)
	assert.Equal(t, 5, p.Count)

	plain, err := DecryptPayload(p.Content, p.IV, passphrase)
	require.NoError(t, err)
	assert.Contains(t, plain, "-- end of export (5 records) --")
}

func TestExportAll_EncryptionFailureFallsBack(t *testing.T) {
	store := newFakeStore()
	seedLinks(store, 2)

	ex := NewExporter(store, NewKeyProvider(nil, passphrase, time.Minute), ExportConfig{})
	ex.encrypt = func(string, string) (string, string, error) { return "", "", errors.New("entropy unavailable") }

	p, err := ex.ExportAll(context.Background())
	require.NoError(t, err)
	assert.False(t, p.Encrypted)
	assert.Empty(t, p.IV)
	assert.Contains(t, p.Content, "-- end of export (2 records) --")
}

type failingCursorStore struct{ *fakeStore }

func (f failingCursorStore) StreamAll(ctx context.Context, batchSize int) Cursor {
	return &sliceCursor{err: ErrStoreUnavailable}
}

func TestExportAll_CursorError(t *testing.T) {
	_, err := NewExporter(failingCursorStore{newFakeStore()}, nil, ExportConfig{}).ExportAll(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
