package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/shortlinks/internal/metrics"
	"github.com/google/uuid"
)

const (
	// DefaultExportBatchSize is the cursor batch size.
	DefaultExportBatchSize = 100

	// DefaultMaxExportRecords is the largest store ExportAll will read.
	DefaultMaxExportRecords = 50000
)

// ExportConfig bounds ExportAll.
type ExportConfig struct {
	MaxRecords int64
	BatchSize  int
	BaseURL    string
}

// Exporter streams the store into a text report.
type Exporter struct {
	store Store
	keys  *KeyProvider
	cfg   ExportConfig
	now   func() time.Time

	encrypt func(plaintext, passphrase string) (string, string, error)
}

// NewExporter creates an Exporter. keys may be nil to always export plaintext.
func NewExporter(store Store, keys *KeyProvider, cfg ExportConfig) *Exporter {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxExportRecords
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultExportBatchSize
	}
	return &Exporter{
		store:   store,
		keys:    keys,
		cfg:     cfg,
		now:     time.Now,
		encrypt: EncryptPayload,
	}
}

// ExportAll renders every record, newest first, and encrypts the report when
// a key is configured. A failed encryption falls back to plaintext.
func (e *Exporter) ExportAll(ctx context.Context) (*ExportPayload, error) {
	start := time.Now()

	total, err := e.store.Count(ctx, Filter{})
	if err != nil {
		metrics.Exports.WithLabelValues("error", "false").Inc()
		return nil, fmt.Errorf("count records: %w", err)
	}
	if total > e.cfg.MaxRecords {
		metrics.Exports.WithLabelValues("rejected", "false").Inc()
		return nil, fmt.Errorf("%w: %d records, limit %d", ErrExportTooLarge, total, e.cfg.MaxRecords)
	}

	payload := &ExportPayload{
		ExportID:    uuid.NewString(),
		GeneratedAt: e.now().UTC(),
	}

	var b strings.Builder
	w := newReportWriter(&b, e.cfg.BaseURL, payload.GeneratedAt, total)
	if err := e.stream(ctx, w); err != nil {
		metrics.Exports.WithLabelValues("error", "false").Inc()
		return nil, err
	}
	w.close()

	payload.Content = b.String()
	payload.Count = w.n

	if e.keys != nil {
		if key, ok := e.keys.Key(ctx); ok {
			ciphertext, iv, err := e.encrypt(payload.Content, key)
			if err != nil {
				slog.Warn("export encryption failed, returning plaintext", "export_id", payload.ExportID, "error", err)
			} else {
				payload.Content, payload.IV, payload.Encrypted = ciphertext, iv, true
			}
		}
	}

	metrics.ExportRecords.Add(float64(payload.Count))
	metrics.Exports.WithLabelValues("ok", strconv.FormatBool(payload.Encrypted)).Inc()
	metrics.ExportDurationSeconds.Observe(time.Since(start).Seconds())

	slog.Info("export completed",
		"export_id", payload.ExportID,
		"records", payload.Count,
		"encrypted", payload.Encrypted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return payload, nil
}

func (e *Exporter) stream(ctx context.Context, w *reportWriter) error {
	cur := e.store.StreamAll(ctx, e.cfg.BatchSize)
	defer func() {
		if err := cur.Close(); err != nil {
			slog.Warn("failed to close export cursor", "error", err)
		}
	}()

	for {
		batch, err := cur.Next(ctx)
		if err != nil {
			return fmt.Errorf("stream records: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, link := range batch {
			w.write(link)
		}
	}
}
