package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeStore is a map-backed Store with hooks for injecting failures.
type fakeStore struct {
	mu    sync.Mutex
	links map[string]ShortLink

	transactional bool
	probeErr      error
	findErr       error
	insertErr     error

	finds   int
	inserts int
	begins  int

	// beforeInsert runs before every insert, outside the lock.
	beforeInsert func(link ShortLink)
	// taken reports codes that FindByCode should treat as existing.
	taken func(code string) bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{links: make(map[string]ShortLink)}
}

type fakeSession struct {
	store      *fakeStore
	writes     []ShortLink
	committed  bool
	rolledBack bool
}

func (s *fakeSession) Commit(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, l := range s.writes {
		if _, ok := s.store.links[l.Code]; ok {
			return ErrDuplicateCode
		}
	}
	for _, l := range s.writes {
		s.store.links[l.Code] = l
	}
	s.committed = true
	return nil
}

func (s *fakeSession) Rollback(ctx context.Context) error {
	s.rolledBack = true
	return nil
}

func (f *fakeStore) SupportsTransactions(ctx context.Context) (bool, error) {
	return f.transactional, f.probeErr
}

func (f *fakeStore) Begin(ctx context.Context) (Session, error) {
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return &fakeSession{store: f}, nil
}

func (f *fakeStore) FindByCode(ctx context.Context, sess Session, code string) (*ShortLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++

	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.taken != nil && f.taken(code) {
		return &ShortLink{Code: code}, nil
	}
	if fs, ok := sess.(*fakeSession); ok {
		for _, l := range fs.writes {
			if l.Code == code {
				return &l, nil
			}
		}
	}
	if l, ok := f.links[code]; ok {
		return &l, nil
	}
	return nil, ErrNotFound
}

func (f *fakeStore) Insert(ctx context.Context, sess Session, link ShortLink) (*ShortLink, error) {
	if f.beforeInsert != nil {
		f.beforeInsert(link)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++

	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	if _, ok := f.links[link.Code]; ok {
		return nil, ErrDuplicateCode
	}
	if fs, ok := sess.(*fakeSession); ok {
		fs.writes = append(fs.writes, link)
		return &link, nil
	}
	f.links[link.Code] = link
	return &link, nil
}

func (f *fakeStore) DeleteByCode(ctx context.Context, code, ownerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[code]
	if !ok || (ownerID != "" && l.OwnerID != ownerID) {
		return false, nil
	}
	delete(f.links, code)
	return true, nil
}

func (f *fakeStore) Count(ctx context.Context, filter Filter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range f.links {
		if filter.OwnerID == "" || l.OwnerID == filter.OwnerID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) snapshot() []ShortLink {
	f.mu.Lock()
	out := make([]ShortLink, 0, len(f.links))
	for _, l := range f.links {
		out = append(out, l)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Code > out[j].Code
	})
	return out
}

func (f *fakeStore) StreamAll(ctx context.Context, batchSize int) Cursor {
	return &sliceCursor{links: f.snapshot(), size: batchSize}
}

func (f *fakeStore) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]ShortLink, error) {
	var out []ShortLink
	for _, l := range f.snapshot() {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(len(out), offset+limit)], nil
}

func (f *fakeStore) put(links ...ShortLink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range links {
		f.links[l.Code] = l
	}
}

func (f *fakeStore) has(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.links[code]
	return ok
}

type sliceCursor struct {
	links   []ShortLink
	size    int
	batches int
	err     error
}

func (c *sliceCursor) Next(ctx context.Context) ([]ShortLink, error) {
	if c.err != nil {
		return nil, c.err
	}
	if len(c.links) == 0 {
		return nil, nil
	}
	n := min(c.size, len(c.links))
	batch := c.links[:n]
	c.links = c.links[n:]
	c.batches++
	return batch, nil
}

func (c *sliceCursor) Close() error { return nil }

// fakeSettings is a SettingsStore with a call counter.
type fakeSettings struct {
	mu    sync.Mutex
	value string
	found bool
	err   error
	calls int
}

func (s *fakeSettings) GetValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return s.value, s.found, s.err
}

func (s *fakeSettings) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSettings) set(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.found = value, true
}

func (s *fakeSettings) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
