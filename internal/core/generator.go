package core

// generator.go mints short codes.
//
// Strategies are tried in table order, each a bounded number of times, so
// codes stay short while the code space is sparse and only grow in length or
// entropy once collisions are observed. Every candidate except the final uuid
// fallback is checked against the store under the caller's session.

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/shortlinks/internal/metrics"
	"github.com/google/uuid"
)

const base62Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Strategy is one row of the generation table.
type Strategy struct {
	Name     string
	Attempts int
	// Unchecked strategies are accepted without a store lookup.
	Unchecked bool
	Generate  func(g *CodeGenerator, target, ownerID string) (string, error)
}

// DefaultStrategies returns the standard escalation table.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "random6", Attempts: 5, Generate: randomOfLength(6)},
		{Name: "random7", Attempts: 5, Generate: randomOfLength(7)},
		{Name: "random8", Attempts: 5, Generate: randomOfLength(8)},
		{Name: "prefixed_timestamp", Attempts: 3, Generate: prefixedTimestamp},
		{Name: "hash", Attempts: 1, Generate: hashed},
		{Name: "uuid", Attempts: 1, Unchecked: true, Generate: uuidFallback},
	}
}

// CodeGenerator produces codes that do not exist in the store at check time.
type CodeGenerator struct {
	store      Store
	strategies []Strategy
	random     io.Reader
	now        func() time.Time
}

// GeneratorOption customizes a CodeGenerator.
type GeneratorOption func(*CodeGenerator)

// WithStrategies replaces the escalation table.
func WithStrategies(s []Strategy) GeneratorOption {
	return func(g *CodeGenerator) { g.strategies = s }
}

// WithRandom sets the randomness source (crypto/rand by default).
func WithRandom(r io.Reader) GeneratorOption {
	return func(g *CodeGenerator) { g.random = r }
}

// WithClock sets the time source used by timestamp and hash strategies.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *CodeGenerator) { g.now = now }
}

// NewCodeGenerator creates a generator that checks uniqueness against store.
func NewCodeGenerator(store Store, opts ...GeneratorOption) *CodeGenerator {
	g := &CodeGenerator{
		store:      store,
		strategies: DefaultStrategies(),
		random:     rand.Reader,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a code not present in the store under sess.
// Returns ErrCodeSpaceExhausted when every strategy runs out of attempts.
func (g *CodeGenerator) Generate(ctx context.Context, target, ownerID string, sess Session) (string, error) {
	for _, s := range g.strategies {
		for attempt := 1; attempt <= s.Attempts; attempt++ {
			code, err := s.Generate(g, target, ownerID)
			if err != nil {
				return "", fmt.Errorf("generate %s code: %w", s.Name, err)
			}

			if s.Unchecked {
				slog.Warn("short code issued by unchecked fallback", "strategy", s.Name, "code", code)
				metrics.CodesGenerated.WithLabelValues(s.Name).Inc()
				return code, nil
			}

			_, err = g.store.FindByCode(ctx, sess, code)
			if errors.Is(err, ErrNotFound) {
				metrics.CodesGenerated.WithLabelValues(s.Name).Inc()
				return code, nil
			}
			if err != nil {
				return "", fmt.Errorf("check code %q: %w", code, err)
			}

			metrics.CodeCollisions.WithLabelValues(s.Name).Inc()
		}
		slog.Debug("code strategy exhausted, escalating", "strategy", s.Name)
	}
	return "", ErrCodeSpaceExhausted
}

// randomString returns n characters drawn uniformly from the base62 alphabet.
func (g *CodeGenerator) randomString(n int) (string, error) {
	max := big.NewInt(int64(len(base62Alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(g.random, max)
		if err != nil {
			return "", err
		}
		b[i] = base62Alphabet[idx.Int64()]
	}
	return string(b), nil
}

func randomOfLength(n int) func(*CodeGenerator, string, string) (string, error) {
	return func(g *CodeGenerator, _, _ string) (string, error) {
		return g.randomString(n)
	}
}

// prefixedTimestamp is 4 random characters followed by the low 6 base-36
// digits of the current Unix millisecond timestamp.
func prefixedTimestamp(g *CodeGenerator, _, _ string) (string, error) {
	prefix, err := g.randomString(4)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)
	if len(ts) < 6 {
		ts = strings.Repeat("0", 6-len(ts)) + ts
	}
	return prefix + ts[len(ts)-6:], nil
}

// hashed is the first 10 base64 characters of
// sha256(target + ownerID + timestamp + random), with +, / and = removed.
func hashed(g *CodeGenerator, target, ownerID string) (string, error) {
	salt, err := g.randomString(8)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(target + ownerID + strconv.FormatInt(g.now().UnixNano(), 10) + salt))
	enc := base64.StdEncoding.EncodeToString(sum[:])
	enc = strings.NewReplacer("+", "", "/", "", "=", "").Replace(enc)
	if len(enc) < 10 {
		return "", fmt.Errorf("hash encoding too short: %d", len(enc))
	}
	return enc[:10], nil
}

// uuidFallback is a random UUID without separators, truncated to 12 chars.
func uuidFallback(g *CodeGenerator, _, _ string) (string, error) {
	id, err := uuid.NewRandomFromReader(g.random)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", "")[:12], nil
}
