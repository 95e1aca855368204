package core

// import.go implements the bulk import pipeline.
//
// Stages:
//
//	1. sniff   decrypt an encrypted wrapper with the current key, or unwrap
//	           the report inside an unencrypted JSON export
//	2. parse   run the parser chain (json, report, labels, csv)
//	3. check   validate each candidate, defaulting the owner
//	4. apply   write valid candidates, at most ApplyConcurrency at a time
//
// Stages 1 and 2 fail the whole import. From stage 3 on, every record has
// its own outcome (imported, skipped, error) and one record never aborts
// another.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/shortlinks/internal/metrics"
	"github.com/google/uuid"
)

const (
	// MaxImportCandidates is the largest batch accepted by Import.
	MaxImportCandidates = 5000

	// MaxBatchErrors caps BatchResult.Messages.
	MaxBatchErrors = 50
)

// errSkipExisting aborts the per-record unit of work when the code is taken.
var errSkipExisting = errors.New("code already exists")

// ImportConfig bounds a single import.
type ImportConfig struct {
	ApplyConcurrency int   // in-flight record writes (default 10)
	MaxCandidates    int   // batch ceiling (default 5000)
	MaxBytes         int64 // raw payload ceiling (default 10 MiB)
}

func (c ImportConfig) withDefaults() ImportConfig {
	if c.ApplyConcurrency <= 0 {
		c.ApplyConcurrency = DefaultApplyConcurrency
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = MaxImportCandidates
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxImportBytes
	}
	return c
}

// Importer runs the import pipeline against a store.
type Importer struct {
	store Store
	coord *TransactionCoordinator
	keys  *KeyProvider
	cfg   ImportConfig
	now   func() time.Time

	// onInsert is called for every record the import creates.
	onInsert func(ShortLink)
}

// NewImporter creates an Importer. keys may be nil, in which case encrypted
// payloads are rejected with ErrEncryptionKeyMissing.
func NewImporter(store Store, coord *TransactionCoordinator, keys *KeyProvider, cfg ImportConfig) *Importer {
	return &Importer{
		store: store,
		coord: coord,
		keys:  keys,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// Import parses raw and applies every valid record. The returned error is
// non-nil only for whole-batch failures; per-record problems are reported in
// the BatchResult.
func (im *Importer) Import(ctx context.Context, raw string) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{ImportID: uuid.NewString()}
	log := slog.With("import_id", result.ImportID)

	if int64(len(raw)) > im.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(raw), im.cfg.MaxBytes)
	}
	text := normalizePayload(raw)

	// Stage 1: sniff
	if env, ok := detectEnvelope(text); ok {
		plain, err := im.decrypt(ctx, env)
		if err != nil {
			log.Warn("import rejected: encrypted payload could not be opened", "wrapper", env.kind, "error", err)
			return nil, err
		}
		text = normalizePayload(plain)
		result.Encrypted = true
	} else if content, ok := unwrapPlainJSON(text); ok {
		text = normalizePayload(content)
	}

	// Stage 2: parse
	cands, format, err := ParseCandidates(text)
	if err != nil {
		return nil, err
	}
	result.Format = format
	result.Total = len(cands)

	if len(cands) > im.cfg.MaxCandidates {
		return nil, fmt.Errorf("%w: %d records, limit %d", ErrBatchTooLarge, len(cands), im.cfg.MaxCandidates)
	}

	log.Info("import parsed", "format", format, "records", len(cands), "encrypted", result.Encrypted)

	agg := &batchAggregator{result: result}

	// Stage 3: check
	valid := make([]indexedCandidate, 0, len(cands))
	for i, c := range cands {
		c = NormalizeCandidate(c)
		if err := ValidateCandidate(c); err != nil {
			agg.record(i+1, outcomeError, err)
			continue
		}
		valid = append(valid, indexedCandidate{row: i + 1, cand: c})
	}

	// Stage 4: apply
	limiter := NewConcurrencyLimiter(im.cfg.ApplyConcurrency)
	for n, ic := range valid {
		ic := ic
		err := limiter.Go(ctx, func() {
			outcome, err := im.apply(ctx, ic.cand)
			agg.record(ic.row, outcome, err)
		})
		if err != nil {
			// Context ended: nothing else gets scheduled.
			for _, rest := range valid[n:] {
				agg.record(rest.row, outcomeError, fmt.Errorf("not applied: %w", err))
			}
			break
		}
	}
	limiter.Wait()

	agg.finish()
	result.Duration = time.Since(start)

	log.Info("import completed",
		"format", format,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (im *Importer) decrypt(ctx context.Context, env *envelope) (string, error) {
	if im.keys == nil {
		return "", ErrEncryptionKeyMissing
	}
	key, ok := im.keys.Key(ctx)
	if !ok {
		return "", ErrEncryptionKeyMissing
	}
	return env.open(key)
}

// apply writes one candidate. Existing codes are skipped, never overwritten.
func (im *Importer) apply(ctx context.Context, c ImportCandidate) (outcome importOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while importing record", "code", c.Code, "panic", r)
			outcome, err = outcomeError, fmt.Errorf("internal error: %v", r)
		}
	}()

	var inserted *ShortLink
	err = im.coord.Run(ctx, func(ctx context.Context, sess Session) error {
		_, err := im.store.FindByCode(ctx, sess, c.Code)
		switch {
		case err == nil:
			return errSkipExisting
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("lookup: %w", err)
		}

		link, err := im.store.Insert(ctx, sess, ShortLink{
			Code:      c.Code,
			Target:    c.Target,
			OwnerID:   c.OwnerID,
			OwnerName: c.OwnerName,
			CreatedAt: im.now().UTC(),
		})
		if err != nil {
			return err
		}
		inserted = link
		return nil
	})

	switch {
	case err == nil:
		if im.onInsert != nil && inserted != nil {
			im.onInsert(*inserted)
		}
		return outcomeImported, nil
	case errors.Is(err, errSkipExisting), errors.Is(err, ErrDuplicateCode):
		return outcomeSkipped, nil
	default:
		return outcomeError, err
	}
}

type indexedCandidate struct {
	row  int
	cand ImportCandidate
}

type importOutcome int

const (
	outcomeImported importOutcome = iota
	outcomeSkipped
	outcomeError
)

func (o importOutcome) String() string {
	switch o {
	case outcomeImported:
		return "imported"
	case outcomeSkipped:
		return "skipped"
	default:
		return "error"
	}
}

type rowError struct {
	row int
	msg string
}

// batchAggregator collects outcomes from concurrent applies.
type batchAggregator struct {
	mu     sync.Mutex
	result *BatchResult
	errs   []rowError
}

func (a *batchAggregator) record(row int, outcome importOutcome, err error) {
	metrics.ImportRecords.WithLabelValues(outcome.String()).Inc()

	a.mu.Lock()
	defer a.mu.Unlock()

	switch outcome {
	case outcomeImported:
		a.result.Imported++
	case outcomeSkipped:
		a.result.Skipped++
	default:
		a.result.Errors++
		a.errs = append(a.errs, rowError{row: row, msg: fmt.Sprintf("record %d: %v", row, err)})
	}
}

// finish orders messages by record number and applies the cap.
func (a *batchAggregator) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()

	sort.Slice(a.errs, func(i, j int) bool { return a.errs[i].row < a.errs[j].row })

	n := len(a.errs)
	if n > MaxBatchErrors {
		// Last slot summarizes the overflow
		n = MaxBatchErrors - 1
	}
	msgs := make([]string, 0, MaxBatchErrors)
	for _, e := range a.errs[:n] {
		msgs = append(msgs, e.msg)
	}
	if len(a.errs) > n {
		msgs = append(msgs, fmt.Sprintf("... and %d more errors", len(a.errs)-n))
	}
	a.result.Messages = msgs
}
