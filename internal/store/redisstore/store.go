// Package redisstore implements the core store interfaces on Redis.
//
// Redis offers no multi-key read-then-write transactions here, so the store
// does not implement core.Transactor and the coordinator runs in degraded
// mode. SETNX on the link key is the uniqueness backstop.
//
// Key layout, all under the configured prefix:
//
//	link:<code>        JSON-encoded core.ShortLink
//	idx:created        ZSET of codes scored by created_at (unix ms)
//	idx:owner:<owner>  ZSET of an owner's codes, same scoring
//	setting:<key>      settings values
//	audit              ZSET of JSON audit entries scored by created_at
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/shortlinks/internal/core"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "sl:"

// Store is a Redis-backed link, settings and audit store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a store. An empty prefix uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

var (
	_ core.Store         = (*Store)(nil)
	_ core.SettingsStore = (*Store)(nil)
	_ core.AuditSink     = (*Store)(nil)
	_ core.AuditPurger   = (*Store)(nil)
)

func (s *Store) linkKey(code string) string   { return s.prefix + "link:" + code }
func (s *Store) createdKey() string           { return s.prefix + "idx:created" }
func (s *Store) ownerKey(owner string) string { return s.prefix + "idx:owner:" + owner }
func (s *Store) settingKey(key string) string { return s.prefix + "setting:" + key }
func (s *Store) auditKey() string             { return s.prefix + "audit" }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// FindByCode ignores sess; Redis reads are never part of a session.
func (s *Store) FindByCode(ctx context.Context, _ core.Session, code string) (*core.ShortLink, error) {
	raw, err := s.client.Get(ctx, s.linkKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, mapError("find short link", err)
	}
	var link core.ShortLink
	if err := json.Unmarshal(raw, &link); err != nil {
		return nil, fmt.Errorf("decode short link %s: %w", code, err)
	}
	return &link, nil
}

// Insert claims the code with SETNX, then adds it to the indexes.
func (s *Store) Insert(ctx context.Context, _ core.Session, link core.ShortLink) (*core.ShortLink, error) {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(link)
	if err != nil {
		return nil, fmt.Errorf("encode short link: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.linkKey(link.Code), raw, 0).Result()
	if err != nil {
		return nil, mapError("insert short link", err)
	}
	if !ok {
		return nil, fmt.Errorf("insert short link: %w", core.ErrDuplicateCode)
	}

	member := redis.Z{Score: score(link.CreatedAt), Member: link.Code}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.createdKey(), member)
		p.ZAdd(ctx, s.ownerKey(link.OwnerID), member)
		return nil
	})
	if err != nil {
		// an unindexed link is invisible to exports
		_ = s.client.Del(ctx, s.linkKey(link.Code)).Err()
		return nil, mapError("index short link", err)
	}
	return &link, nil
}

// DeleteByCode deletes code, restricted to ownerID unless it is empty.
func (s *Store) DeleteByCode(ctx context.Context, code, ownerID string) (bool, error) {
	link, err := s.FindByCode(ctx, nil, code)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ownerID != "" && link.OwnerID != ownerID {
		return false, nil
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.linkKey(code))
		p.ZRem(ctx, s.createdKey(), code)
		p.ZRem(ctx, s.ownerKey(link.OwnerID), code)
		return nil
	})
	if err != nil {
		return false, mapError("delete short link", err)
	}
	return del.Val() > 0, nil
}

func (s *Store) Count(ctx context.Context, filter core.Filter) (int64, error) {
	key := s.createdKey()
	if filter.OwnerID != "" {
		key = s.ownerKey(filter.OwnerID)
	}
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, mapError("count short links", err)
	}
	return n, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]core.ShortLink, error) {
	if limit <= 0 {
		return []core.ShortLink{}, nil
	}
	codes, err := s.client.ZRevRange(ctx, s.ownerKey(ownerID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, mapError("list short links", err)
	}
	return s.load(ctx, codes)
}

// load fetches links in order. Codes whose link key vanished are skipped.
func (s *Store) load(ctx context.Context, codes []string) ([]core.ShortLink, error) {
	links := make([]core.ShortLink, 0, len(codes))
	if len(codes) == 0 {
		return links, nil
	}

	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = s.linkKey(c)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, mapError("load short links", err)
	}

	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var link core.ShortLink
		if err := json.Unmarshal([]byte(str), &link); err != nil {
			return nil, fmt.Errorf("decode short link %s: %w", codes[i], err)
		}
		links = append(links, link)
	}
	return links, nil
}

// StreamAll walks idx:created newest first. Pages are keyed on the last
// (score, code) pair so inserts during the walk do not shift later pages.
func (s *Store) StreamAll(ctx context.Context, batchSize int) core.Cursor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &cursor{store: s, size: batchSize}
}

type cursor struct {
	store     *Store
	size      int
	lastScore float64
	lastCode  string
	ties      int // codes already emitted at lastScore
	started   bool
	done      bool
}

func (c *cursor) Next(ctx context.Context) ([]core.ShortLink, error) {
	for !c.done {
		codes, err := c.page(ctx)
		if err != nil {
			return nil, err
		}
		links, err := c.store.load(ctx, codes)
		if err != nil {
			return nil, err
		}
		// a page whose links were all deleted mid-walk is not the end
		if len(links) > 0 {
			return links, nil
		}
	}
	return nil, nil
}

func (c *cursor) page(ctx context.Context) ([]string, error) {
	upper := "+inf"
	if c.started {
		upper = strconv.FormatFloat(c.lastScore, 'f', -1, 64)
	}
	want := c.size + c.ties
	page, err := c.store.client.ZRevRangeByScoreWithScores(ctx, c.store.createdKey(), &redis.ZRangeBy{
		Max:   upper,
		Min:   "-inf",
		Count: int64(want),
	}).Result()
	if err != nil {
		return nil, mapError("stream short links", err)
	}

	codes := make([]string, 0, c.size)
	full := false
	for _, z := range page {
		code, _ := z.Member.(string)
		if c.started && z.Score == c.lastScore && code >= c.lastCode {
			continue
		}
		if len(codes) == c.size {
			full = true
			break
		}
		codes = append(codes, code)
		if c.started && z.Score == c.lastScore {
			c.ties++
		} else {
			c.lastScore, c.ties = z.Score, 1
		}
		c.lastCode = code
		c.started = true
	}
	if len(codes) == 0 || (len(page) < want && !full) {
		c.done = true
	}
	return codes, nil
}

func (c *cursor) Close() error {
	c.done = true
	return nil
}

// GetValue reads a setting. found is false when the key is absent.
func (s *Store) GetValue(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.settingKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapError("get setting", err)
	}
	return v, true, nil
}

func (s *Store) SetValue(ctx context.Context, key, value string) error {
	return mapError("set setting", s.client.Set(ctx, s.settingKey(key), value, 0).Err())
}

func (s *Store) RecordAudit(ctx context.Context, entry core.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	err = s.client.ZAdd(ctx, s.auditKey(), redis.Z{Score: score(entry.CreatedAt), Member: raw}).Err()
	return mapError("record audit", err)
}

func (s *Store) PurgeAuditLog(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.client.ZRemRangeByScore(ctx, s.auditKey(), "-inf", "("+strconv.FormatInt(before.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, mapError("purge audit log", err)
	}
	return n, nil
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		// server replied with an error; the connection itself is fine
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrStoreUnavailable, err)
}
