package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionLinkCreate  AuditAction = "link_create"
	ActionLinkDelete  AuditAction = "link_delete"
	ActionBatchDelete AuditAction = "batch_delete"
	ActionImport      AuditAction = "import"
	ActionExport      AuditAction = "export"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string         `json:"id"`
	Action       AuditAction    `json:"action"`
	Severity     AuditSeverity  `json:"severity"`
	Code         string         `json:"code,omitempty"`
	OwnerID      string         `json:"ownerId,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
	RowsAffected int            `json:"rowsAffected,omitempty"`
	BatchID      string         `json:"batchId,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AuditLogParams contains parameters for creating an audit log entry.
type AuditLogParams struct {
	Action       AuditAction
	Code         string
	OwnerID      string
	RowsAffected int
	BatchID      string
	Details      map[string]any
}

// AuditSink persists or forwards audit entries.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// AuditPurger deletes audit entries older than a cutoff.
type AuditPurger interface {
	PurgeAuditLog(ctx context.Context, before time.Time) (int64, error)
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionLinkCreate:
		return SeverityLow
	case ActionImport, ActionBatchDelete:
		return SeverityHigh
	case ActionExport:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// newAuditEntry builds an entry, filling client details from ctx.
func newAuditEntry(ctx context.Context, params AuditLogParams) AuditEntry {
	meta := RequestMetaFromContext(ctx)
	return AuditEntry{
		ID:           uuid.NewString(),
		Action:       params.Action,
		Severity:     determineSeverity(params.Action),
		Code:         params.Code,
		OwnerID:      params.OwnerID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		RequestID:    meta.RequestID,
		RowsAffected: params.RowsAffected,
		BatchID:      params.BatchID,
		Details:      params.Details,
		CreatedAt:    time.Now().UTC(),
	}
}

// LogAudit records an entry with every configured sink. Sink failures are
// logged and joined into the returned error; they never undo the audited
// action.
func (s *Service) LogAudit(ctx context.Context, params AuditLogParams) (*AuditEntry, error) {
	entry := newAuditEntry(ctx, params)

	var errs []error
	for _, sink := range s.audit {
		if err := sink.RecordAudit(ctx, entry); err != nil {
			slog.Warn("audit sink failed",
				"action", entry.Action,
				"audit_id", entry.ID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return &entry, errors.Join(errs...)
}
