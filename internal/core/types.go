package core

import (
	"context"
	"time"
)

// DefaultOwnerID is assigned to links created without an owner.
const DefaultOwnerID = "admin"

// ShortLink is a stored short link record.
type ShortLink struct {
	Code      string    `json:"code"`
	Target    string    `json:"target"`
	OwnerID   string    `json:"ownerId"`
	OwnerName string    `json:"ownerName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is an open store transaction. A nil Session means the operation
// runs without multi-record atomicity.
type Session interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Filter narrows Count. Zero value matches every record.
type Filter struct {
	OwnerID string
}

// Cursor iterates records in creation order, newest first.
// Next returns an empty batch once the cursor is exhausted.
type Cursor interface {
	Next(ctx context.Context) ([]ShortLink, error)
	Close() error
}

// Store is the persistence boundary for short links.
//
// FindByCode returns ErrNotFound when the code is absent. Insert returns
// ErrDuplicateCode when the code is already taken. Both accept a nil Session.
type Store interface {
	FindByCode(ctx context.Context, sess Session, code string) (*ShortLink, error)
	Insert(ctx context.Context, sess Session, link ShortLink) (*ShortLink, error)
	DeleteByCode(ctx context.Context, code, ownerID string) (bool, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	StreamAll(ctx context.Context, batchSize int) Cursor
	ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]ShortLink, error)
}

// Transactor is implemented by stores that can open multi-record
// transactions. SupportsTransactions may depend on deployment topology,
// e.g. a read-only replica reports false.
type Transactor interface {
	SupportsTransactions(ctx context.Context) (bool, error)
	Begin(ctx context.Context) (Session, error)
}

// SettingsStore reads administrative settings such as the AES key.
type SettingsStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
}

// ImportCandidate is a parsed, not yet validated import record.
type ImportCandidate struct {
	Code      string `json:"code" validate:"required,shortcode"`
	Target    string `json:"target" validate:"required,max=2000,url,hashost"`
	OwnerID   string `json:"ownerId,omitempty" validate:"omitempty,max=100,ownerid"`
	OwnerName string `json:"ownerName,omitempty" validate:"omitempty,max=100"`
}

// BatchResult is the aggregated outcome of an import.
type BatchResult struct {
	ImportID  string        `json:"importId"`
	Format    string        `json:"format"`
	Encrypted bool          `json:"encrypted"`
	Total     int           `json:"total"`
	Imported  int           `json:"importedCount"`
	Skipped   int           `json:"skippedCount"`
	Errors    int           `json:"errorCount"`
	Messages  []string      `json:"errors"`
	Duration  time.Duration `json:"-"`
}

// ExportPayload is the result of a full export.
type ExportPayload struct {
	ExportID    string    `json:"exportId"`
	Content     string    `json:"content"`
	Count       int       `json:"count"`
	Encrypted   bool      `json:"encrypted"`
	IV          string    `json:"iv,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// LinkPage is one page of an owner's links.
type LinkPage struct {
	Links []ShortLink `json:"links"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}
