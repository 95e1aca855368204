package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/shortlinks/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxBatchDeleteCodes caps BatchDelete.
const MaxBatchDeleteCodes = 1000

// DefaultImportTimeout bounds a single ImportAll call.
const DefaultImportTimeout = 5 * time.Minute

const tracerName = "github.com/JonMunkholm/shortlinks/internal/core"

// LinkCache is a read-through cache in front of Store.FindByCode.
type LinkCache interface {
	Get(code string) (*ShortLink, bool)
	Set(link ShortLink)
	Delete(code string)
	// MightExist returns false only for codes that are certainly absent.
	MightExist(code string) bool
	// Rebuild reloads the existence filter from cur and returns the number
	// of codes loaded.
	Rebuild(ctx context.Context, cur Cursor) (int, error)
}

// ServiceConfig holds the tunables of a Service.
type ServiceConfig struct {
	BaseURL              string
	Import               ImportConfig
	Export               ExportConfig
	MaxConcurrentImports int
	ImportWait           time.Duration
	ImportTimeout        time.Duration
}

// Service is the entry point for callers: single-link operations plus bulk
// import and export.
type Service struct {
	store    Store
	coord    *TransactionCoordinator
	gen      *CodeGenerator
	keys     *KeyProvider
	importer *Importer
	exporter *Exporter

	importSlots   *ConcurrencyLimiter
	importTimeout time.Duration

	cache   LinkCache
	audit   []AuditSink
	baseURL string
	tracer  trace.Tracer
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithCache puts cache in front of GetByCode.
func WithCache(cache LinkCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithAuditSinks adds audit destinations.
func WithAuditSinks(sinks ...AuditSink) ServiceOption {
	return func(s *Service) { s.audit = append(s.audit, sinks...) }
}

// WithGenerator replaces the default code generator.
func WithGenerator(gen *CodeGenerator) ServiceOption {
	return func(s *Service) { s.gen = gen }
}

// NewService wires the engine around store. keys may be nil.
func NewService(store Store, keys *KeyProvider, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	cfg.Export.BaseURL = cfg.BaseURL

	coord := NewTransactionCoordinator(store)
	s := &Service{
		store:         store,
		coord:         coord,
		gen:           NewCodeGenerator(store),
		keys:          keys,
		importer:      NewImporter(store, coord, keys, cfg.Import),
		exporter:      NewExporter(store, keys, cfg.Export),
		importSlots:   NewImportLimiter(cfg.MaxConcurrentImports, cfg.ImportWait),
		importTimeout: cfg.ImportTimeout,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.importer.onInsert = s.cacheLink
	return s
}

// CreateShortLink issues a new code for target and returns the full short URL.
func (s *Service) CreateShortLink(ctx context.Context, target, ownerID, ownerName string) (url string, err error) {
	ctx, span := s.tracer.Start(ctx, "core.CreateShortLink")
	defer func() { endSpan(span, err) }()

	target = strings.TrimSpace(target)
	ownerID = strings.TrimSpace(ownerID)
	ownerName = strings.TrimSpace(ownerName)
	if ownerID == "" {
		ownerID = DefaultOwnerID
	}
	if err := ValidateLinkInput(target, ownerID, ownerName); err != nil {
		return "", err
	}

	link, err := s.coord.Create(ctx, s.gen, ShortLink{
		Target:    target,
		OwnerID:   ownerID,
		OwnerName: ownerName,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrCodeConflict) {
			metrics.CreateConflicts.Inc()
		}
		return "", err
	}

	span.SetAttributes(attribute.String("shortlink.code", link.Code))
	s.cacheLink(*link)
	_, _ = s.LogAudit(ctx, AuditLogParams{Action: ActionLinkCreate, Code: link.Code, OwnerID: ownerID})

	return ShortURL(s.baseURL, link.Code), nil
}

// GetByCode returns the link for code, or nil when it does not exist.
func (s *Service) GetByCode(ctx context.Context, code string) (link *ShortLink, err error) {
	ctx, span := s.tracer.Start(ctx, "core.GetByCode", trace.WithAttributes(attribute.String("shortlink.code", code)))
	defer func() { endSpan(span, err) }()

	code = strings.TrimSpace(code)
	if ValidateCode(code) != nil {
		return nil, nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(code); ok {
			return cached, nil
		}
		if !s.cache.MightExist(code) {
			return nil, nil
		}
	}

	link, err = s.store.FindByCode(ctx, nil, code)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", code, err)
	}
	s.cacheLink(*link)
	return link, nil
}

// DeleteShortLink removes code. A non-empty ownerID restricts the delete to
// that owner's link. It reports whether a record was removed.
func (s *Service) DeleteShortLink(ctx context.Context, code, ownerID string) (deleted bool, err error) {
	ctx, span := s.tracer.Start(ctx, "core.DeleteShortLink", trace.WithAttributes(attribute.String("shortlink.code", code)))
	defer func() { endSpan(span, err) }()

	code = strings.TrimSpace(code)
	if err := ValidateCode(code); err != nil {
		return false, err
	}

	deleted, err = s.store.DeleteByCode(ctx, code, strings.TrimSpace(ownerID))
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", code, err)
	}
	if s.cache != nil {
		s.cache.Delete(code)
	}
	if deleted {
		_, _ = s.LogAudit(ctx, AuditLogParams{Action: ActionLinkDelete, Code: code, OwnerID: ownerID, RowsAffected: 1})
	}
	return deleted, nil
}

// ListByOwner returns one page of an owner's links, newest first. Pages
// start at 1; limit is clamped to [1, 100].
func (s *Service) ListByOwner(ctx context.Context, ownerID string, page, limit int) (result *LinkPage, err error) {
	ctx, span := s.tracer.Start(ctx, "core.ListByOwner")
	defer func() { endSpan(span, err) }()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		ownerID = DefaultOwnerID
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	total, err := s.store.Count(ctx, Filter{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}

	links, err := s.store.ListByOwner(ctx, ownerID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	if links == nil {
		links = []ShortLink{}
	}

	return &LinkPage{Links: links, Total: total, Page: page, Limit: limit}, nil
}

// BatchDelete removes every code in codes and returns how many were deleted.
// Invalid codes are ignored.
func (s *Service) BatchDelete(ctx context.Context, codes []string, ownerID string) (count int, err error) {
	ctx, span := s.tracer.Start(ctx, "core.BatchDelete", trace.WithAttributes(attribute.Int("shortlink.codes", len(codes))))
	defer func() { endSpan(span, err) }()

	if len(codes) > MaxBatchDeleteCodes {
		return 0, fmt.Errorf("%w: %d codes, limit %d", ErrTooManyCodes, len(codes), MaxBatchDeleteCodes)
	}

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if _, dup := seen[code]; dup || ValidateCode(code) != nil {
			continue
		}
		seen[code] = struct{}{}

		deleted, err := s.store.DeleteByCode(ctx, code, strings.TrimSpace(ownerID))
		if err != nil {
			return count, fmt.Errorf("delete %q: %w", code, err)
		}
		if s.cache != nil {
			s.cache.Delete(code)
		}
		if deleted {
			count++
		}
	}

	_, _ = s.LogAudit(ctx, AuditLogParams{Action: ActionBatchDelete, OwnerID: ownerID, RowsAffected: count,
		Details: map[string]any{"requested": len(codes)}})
	return count, nil
}

// ExportAll renders every link into a report, encrypted when a key is set.
func (s *Service) ExportAll(ctx context.Context) (payload *ExportPayload, err error) {
	ctx, span := s.tracer.Start(ctx, "core.ExportAll")
	defer func() { endSpan(span, err) }()

	payload, err = s.exporter.ExportAll(ctx)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("export.records", payload.Count), attribute.Bool("export.encrypted", payload.Encrypted))
	_, _ = s.LogAudit(ctx, AuditLogParams{Action: ActionExport, BatchID: payload.ExportID, RowsAffected: payload.Count,
		Details: map[string]any{"encrypted": payload.Encrypted}})
	return payload, nil
}

// ImportAll runs a bulk import. At most MaxConcurrentImports imports run at
// once; callers beyond that wait up to ImportWait and then get
// ErrTooManyImports.
func (s *Service) ImportAll(ctx context.Context, raw string) (result *BatchResult, err error) {
	ctx, span := s.tracer.Start(ctx, "core.ImportAll", trace.WithAttributes(attribute.Int("import.bytes", len(raw))))
	defer func() { endSpan(span, err) }()

	if err := s.importSlots.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.importSlots.Release()

	metrics.ImportsInflight.Inc()
	defer metrics.ImportsInflight.Dec()

	ctx, cancel := context.WithTimeout(ctx, s.importTimeout)
	defer cancel()

	start := time.Now()
	result, err = s.importer.Import(ctx, raw)
	metrics.ImportDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ImportBatches.WithLabelValues("rejected", "").Inc()
		slog.Warn("import rejected", "error", err)
		return nil, err
	}

	metrics.ImportBatches.WithLabelValues("ok", result.Format).Inc()
	span.SetAttributes(
		attribute.String("import.format", result.Format),
		attribute.Int("import.imported", result.Imported),
		attribute.Int("import.skipped", result.Skipped),
		attribute.Int("import.errors", result.Errors),
	)
	_, _ = s.LogAudit(ctx, AuditLogParams{Action: ActionImport, BatchID: result.ImportID, RowsAffected: result.Imported,
		Details: map[string]any{
			"format":    result.Format,
			"encrypted": result.Encrypted,
			"skipped":   result.Skipped,
			"errors":    result.Errors,
		}})
	return result, nil
}

// ImportLimiterStatus reports the import slot limiter state.
func (s *Service) ImportLimiterStatus() LimiterStatus {
	return s.importSlots.Status()
}

// WaitForImports blocks until no import is running or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.importSlots.WaitForDrain(ctx)
}

// BaseURL returns the public prefix of short URLs.
func (s *Service) BaseURL() string {
	return s.baseURL
}

func (s *Service) cacheLink(link ShortLink) {
	if s.cache != nil {
		s.cache.Set(link)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
