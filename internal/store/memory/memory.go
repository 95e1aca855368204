// Package memory is an in-process implementation of the core store
// interfaces, used in tests and for single-node development.
//
// By default the store is non-transactional, like a standalone key-value
// server. WithTransactions enables sessions that serialize every
// transactional unit of work behind one lock and buffer writes until commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/shortlinks/internal/core"
)

// Store keeps links, settings and audit entries in maps.
type Store struct {
	mu       sync.RWMutex
	links    map[string]core.ShortLink
	settings map[string]string
	audit    []core.AuditEntry

	transactional bool
	txMu          sync.Mutex // held by the open session
}

// Option configures a Store.
type Option func(*Store)

// WithTransactions makes the store report transaction support.
func WithTransactions() Option {
	return func(s *Store) { s.transactional = true }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		links:    make(map[string]core.ShortLink),
		settings: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ core.Store         = (*Store)(nil)
	_ core.Transactor    = (*Store)(nil)
	_ core.SettingsStore = (*Store)(nil)
	_ core.AuditSink     = (*Store)(nil)
	_ core.AuditPurger   = (*Store)(nil)
)

// session buffers writes until Commit.
type session struct {
	store  *Store
	writes map[string]core.ShortLink
	done   bool
}

func (sess *session) Commit(ctx context.Context) error {
	if sess.done {
		return nil
	}
	defer sess.finish()

	s := sess.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for code := range sess.writes {
		if _, exists := s.links[code]; exists {
			return core.ErrDuplicateCode
		}
	}
	for code, link := range sess.writes {
		s.links[code] = link
	}
	return nil
}

func (sess *session) Rollback(ctx context.Context) error {
	if sess.done {
		return nil
	}
	sess.finish()
	return nil
}

func (sess *session) finish() {
	sess.done = true
	sess.writes = nil
	sess.store.txMu.Unlock()
}

// SupportsTransactions reports whether WithTransactions was set.
func (s *Store) SupportsTransactions(ctx context.Context) (bool, error) {
	return s.transactional, nil
}

// Begin opens a session. It blocks while another session is open.
func (s *Store) Begin(ctx context.Context) (core.Session, error) {
	locked := make(chan struct{})
	go func() {
		s.txMu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return &session{store: s, writes: make(map[string]core.ShortLink)}, nil
	case <-ctx.Done():
		// Hand the lock back once the pending Lock succeeds
		go func() {
			<-locked
			s.txMu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

func asSession(sess core.Session) *session {
	if ms, ok := sess.(*session); ok && !ms.done {
		return ms
	}
	return nil
}

// FindByCode returns the link for code, including writes pending in sess.
func (s *Store) FindByCode(ctx context.Context, sess core.Session, code string) (*core.ShortLink, error) {
	if ms := asSession(sess); ms != nil {
		if link, ok := ms.writes[code]; ok {
			return &link, nil
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[code]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &link, nil
}

// Insert stores link, or buffers it in sess.
func (s *Store) Insert(ctx context.Context, sess core.Session, link core.ShortLink) (*core.ShortLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	if ms := asSession(sess); ms != nil {
		if _, ok := ms.writes[link.Code]; ok {
			return nil, core.ErrDuplicateCode
		}
		s.mu.RLock()
		_, exists := s.links[link.Code]
		s.mu.RUnlock()
		if exists {
			return nil, core.ErrDuplicateCode
		}
		ms.writes[link.Code] = link
		return &link, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.links[link.Code]; exists {
		return nil, core.ErrDuplicateCode
	}
	s.links[link.Code] = link
	return &link, nil
}

// DeleteByCode removes code. A non-empty ownerID must match the owner.
func (s *Store) DeleteByCode(ctx context.Context, code, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[code]
	if !ok || (ownerID != "" && link.OwnerID != ownerID) {
		return false, nil
	}
	delete(s.links, code)
	return true, nil
}

// Count returns the number of links matching filter.
func (s *Store) Count(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.OwnerID == "" {
		return int64(len(s.links)), nil
	}
	var n int64
	for _, link := range s.links {
		if link.OwnerID == filter.OwnerID {
			n++
		}
	}
	return n, nil
}

// ListByOwner returns one page of ownerID's links, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]core.ShortLink, error) {
	links := s.sorted(func(l core.ShortLink) bool { return l.OwnerID == ownerID })
	if offset >= len(links) {
		return []core.ShortLink{}, nil
	}
	end := len(links)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return links[offset:end], nil
}

// StreamAll returns a cursor over a snapshot of the store, newest first.
func (s *Store) StreamAll(ctx context.Context, batchSize int) core.Cursor {
	if batchSize <= 0 {
		batchSize = core.DefaultExportBatchSize
	}
	return &cursor{links: s.sorted(nil), batchSize: batchSize}
}

func (s *Store) sorted(keep func(core.ShortLink) bool) []core.ShortLink {
	s.mu.RLock()
	links := make([]core.ShortLink, 0, len(s.links))
	for _, link := range s.links {
		if keep == nil || keep(link) {
			links = append(links, link)
		}
	}
	s.mu.RUnlock()

	sort.Slice(links, func(i, j int) bool {
		if !links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].CreatedAt.After(links[j].CreatedAt)
		}
		return links[i].Code > links[j].Code
	})
	return links
}

type cursor struct {
	links     []core.ShortLink
	batchSize int
	closed    bool
}

func (c *cursor) Next(ctx context.Context) ([]core.ShortLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.closed || len(c.links) == 0 {
		return nil, nil
	}
	n := min(c.batchSize, len(c.links))
	batch := c.links[:n]
	c.links = c.links[n:]
	return batch, nil
}

func (c *cursor) Close() error {
	c.closed = true
	c.links = nil
	return nil
}

// GetValue returns a setting.
func (s *Store) GetValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

// SetValue writes a setting.
func (s *Store) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// RecordAudit appends entry to the in-memory audit log.
func (s *Store) RecordAudit(ctx context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of the audit log.
func (s *Store) AuditEntries() []core.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.AuditEntry(nil), s.audit...)
}

// PurgeAuditLog drops entries created before the cutoff.
func (s *Store) PurgeAuditLog(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.audit[:0]
	var purged int64
	for _, e := range s.audit {
		if e.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return purged, nil
}
