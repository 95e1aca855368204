// Package postgres implements the core store interfaces on PostgreSQL
// through a pgx connection pool. It is the transactional backend: sessions
// map to pgx transactions and the primary key on short_links.code enforces
// uniqueness.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/shortlinks/internal/core"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL-backed link, settings and audit store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open pool. Call Migrate before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ core.Store         = (*Store)(nil)
	_ core.Transactor    = (*Store)(nil)
	_ core.SettingsStore = (*Store)(nil)
	_ core.AuditSink     = (*Store)(nil)
	_ core.AuditPurger   = (*Store)(nil)
)

type session struct {
	tx pgx.Tx
}

func (s *session) Commit(ctx context.Context) error {
	return mapError("commit", s.tx.Commit(ctx))
}

func (s *session) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return mapError("rollback", err)
}

// SupportsTransactions is false on a hot standby, where writes and
// therefore read-write transactions are unavailable.
func (s *Store) SupportsTransactions(ctx context.Context) (bool, error) {
	var primary bool
	if err := s.pool.QueryRow(ctx, `SELECT NOT pg_is_in_recovery()`).Scan(&primary); err != nil {
		return false, mapError("probe transactions", err)
	}
	return primary, nil
}

func (s *Store) Begin(ctx context.Context) (core.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapError("begin", err)
	}
	return &session{tx: tx}, nil
}

func (s *Store) q(sess core.Session) querier {
	if ps, ok := sess.(*session); ok && ps != nil {
		return ps.tx
	}
	return s.pool
}

const linkColumns = `code, target, owner_id, owner_name, created_at`

func scanLink(row pgx.Row) (core.ShortLink, error) {
	var l core.ShortLink
	err := row.Scan(&l.Code, &l.Target, &l.OwnerID, &l.OwnerName, &l.CreatedAt)
	l.CreatedAt = l.CreatedAt.UTC()
	return l, err
}

func collectLinks(rows pgx.Rows) ([]core.ShortLink, error) {
	defer rows.Close()
	links := make([]core.ShortLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Store) FindByCode(ctx context.Context, sess core.Session, code string) (*core.ShortLink, error) {
	l, err := scanLink(s.q(sess).QueryRow(ctx,
		`SELECT `+linkColumns+` FROM short_links WHERE code = $1`, code))
	if err != nil {
		return nil, mapError("find short link", err)
	}
	return &l, nil
}

func (s *Store) Insert(ctx context.Context, sess core.Session, link core.ShortLink) (*core.ShortLink, error) {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	l, err := scanLink(s.q(sess).QueryRow(ctx,
		`INSERT INTO short_links (code, target, owner_id, owner_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+linkColumns,
		link.Code, link.Target, link.OwnerID, link.OwnerName, link.CreatedAt))
	if err != nil {
		return nil, mapError("insert short link", err)
	}
	return &l, nil
}

// DeleteByCode deletes code, restricted to ownerID unless it is empty.
func (s *Store) DeleteByCode(ctx context.Context, code, ownerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM short_links WHERE code = $1 AND ($2 = '' OR owner_id = $2)`, code, ownerID)
	if err != nil {
		return false, mapError("delete short link", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Count(ctx context.Context, filter core.Filter) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM short_links WHERE ($1 = '' OR owner_id = $1)`, filter.OwnerID,
	).Scan(&n)
	if err != nil {
		return 0, mapError("count short links", err)
	}
	return n, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]core.ShortLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM short_links
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, code DESC
		 OFFSET $2 LIMIT $3`, ownerID, offset, limit)
	if err != nil {
		return nil, mapError("list short links", err)
	}
	links, err := collectLinks(rows)
	if err != nil {
		return nil, mapError("list short links", err)
	}
	return links, nil
}

// StreamAll pages through every link newest first using keyset pagination
// on (created_at, code), so concurrent inserts never shift a page.
func (s *Store) StreamAll(ctx context.Context, batchSize int) core.Cursor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &cursor{pool: s.pool, size: batchSize}
}

type cursor struct {
	pool        *pgxpool.Pool
	size        int
	lastCreated time.Time
	lastCode    string
	started     bool
	done        bool
}

func (c *cursor) Next(ctx context.Context) ([]core.ShortLink, error) {
	if c.done {
		return nil, nil
	}

	var (
		rows pgx.Rows
		err  error
	)
	if !c.started {
		rows, err = c.pool.Query(ctx,
			`SELECT `+linkColumns+` FROM short_links
			 ORDER BY created_at DESC, code DESC LIMIT $1`, c.size)
	} else {
		rows, err = c.pool.Query(ctx,
			`SELECT `+linkColumns+` FROM short_links
			 WHERE (created_at, code) < ($1, $2)
			 ORDER BY created_at DESC, code DESC LIMIT $3`, c.lastCreated, c.lastCode, c.size)
	}
	if err != nil {
		return nil, mapError("stream short links", err)
	}
	batch, err := collectLinks(rows)
	if err != nil {
		return nil, mapError("stream short links", err)
	}

	c.started = true
	if len(batch) < c.size {
		c.done = true
	}
	if len(batch) > 0 {
		last := batch[len(batch)-1]
		c.lastCreated, c.lastCode = last.CreatedAt, last.Code
	}
	return batch, nil
}

func (c *cursor) Close() error {
	c.done = true
	return nil
}

// GetValue reads a settings row. found is false when the key is absent.
func (s *Store) GetValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapError("get setting", err)
	}
	return v, true, nil
}

func (s *Store) SetValue(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
	return mapError("set setting", err)
}

// RecordAudit inserts an audit_log row.
func (s *Store) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			details = nil
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, action, severity, code, owner_id, ip_address, user_agent,
		  request_id, rows_affected, batch_id, details, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''),
		  NULLIF($8, ''), $9, NULLIF($10, ''), $11, $12)`,
		e.ID, string(e.Action), string(e.Severity), e.Code, e.OwnerID, parseIP(e.IPAddress), e.UserAgent,
		e.RequestID, e.RowsAffected, e.BatchID, details, e.CreatedAt)
	return mapError("record audit", err)
}

// PurgeAuditLog deletes audit entries created before the cutoff.
func (s *Store) PurgeAuditLog(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, mapError("purge audit log", err)
	}
	return tag.RowsAffected(), nil
}

// parseIP strips a port if present. Unparseable addresses are stored as NULL.
func parseIP(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, core.ErrDuplicateCode)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
