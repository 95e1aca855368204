package core

import (
	"errors"
	"fmt"
)

// Store errors.
var (
	ErrNotFound         = errors.New("short link not found")
	ErrDuplicateCode    = errors.New("short code already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Issuance errors.
var (
	// ErrCodeConflict means a code was claimed between the final check and the
	// insert. The whole create call may be retried.
	ErrCodeConflict = errors.New("short code conflict, retry the request")

	ErrCodeSpaceExhausted = errors.New("unable to allocate a unique short code")
)

// Bulk exchange errors.
var (
	ErrEncryptionKeyMissing = errors.New("encrypted import requires a configured AES key")
	ErrDecryptionFailed     = errors.New("failed to decrypt import payload")
	ErrNoRecognizedFormat   = errors.New("no recognized import format")
	ErrBatchTooLarge        = errors.New("too many records in import batch")
	ErrPayloadTooLarge      = errors.New("import payload too large")
	ErrExportTooLarge       = errors.New("too many records to export at once, export in batches")
	ErrTooManyCodes         = errors.New("too many codes in batch delete")
)

// ValidationError describes a field that failed validation.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, truncate(e.Value, 60))
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether the caller can retry the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCodeConflict) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTooManyImports)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
