package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. Users quote the code, support staff grep the logs.
//
// # Short Link Errors (LNK001-LNK099)
//
//	LNK001 - Not found: the short link does not exist
//	LNK002 - Conflict: a code was claimed concurrently, retry the request
//	LNK003 - Exhausted: no unique code could be allocated
//	LNK004 - Duplicate: the requested code is already taken
//	LNK005 - Batch delete limit exceeded
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid short code format
//	VAL002 - Invalid target URL
//	VAL003 - Invalid owner
//	VAL004 - Generic validation failure
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - No recognized format
//	IMP002 - Batch too large
//	IMP003 - Payload too large
//	IMP004 - Encrypted payload without a configured key
//	IMP005 - Decryption failed
//	IMP006 - Too many imports in progress
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Too many records to export at once
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Unique constraint violation
//	DB002 - Store unavailable / connection refused
//	DB003 - Connection reset
//	DB004 - Timeout
//
// # Default Error (ERR000)
//
// Anything unmatched. Check the server logs for the technical error.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage contains user-friendly error information.
type UserMessage struct {
	Message string // What went wrong, in plain language
	Action  string // What the user can do about it
	Code    string // Support reference code
}

// sentinelMessages is consulted first, in order, with errors.Is.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrNotFound, UserMessage{
		Message: "Short link not found",
		Action:  "Check the code and try again",
		Code:    "LNK001",
	}},
	{ErrCodeConflict, UserMessage{
		Message: "The short code was claimed by another request",
		Action:  "Please retry the request",
		Code:    "LNK002",
	}},
	{ErrCodeSpaceExhausted, UserMessage{
		Message: "Unable to allocate a unique short code",
		Action:  "Please try again later",
		Code:    "LNK003",
	}},
	{ErrDuplicateCode, UserMessage{
		Message: "This short code is already taken",
		Action:  "Choose a different code",
		Code:    "LNK004",
	}},
	{ErrTooManyCodes, UserMessage{
		Message: "Too many codes in one delete request",
		Action:  "Split the request into smaller batches",
		Code:    "LNK005",
	}},
	{ErrNoRecognizedFormat, UserMessage{
		Message: "The import content is not in a recognized format",
		Action:  "Use JSON, an exported report, or CSV with code and target columns",
		Code:    "IMP001",
	}},
	{ErrBatchTooLarge, UserMessage{
		Message: "Too many records in one import",
		Action:  "Split the import into batches of at most 5000 records",
		Code:    "IMP002",
	}},
	{ErrPayloadTooLarge, UserMessage{
		Message: "Import content is too large",
		Action:  "Split the import into smaller files",
		Code:    "IMP003",
	}},
	{ErrEncryptionKeyMissing, UserMessage{
		Message: "The import is encrypted but no encryption key is configured",
		Action:  "Configure the AES key before importing encrypted content",
		Code:    "IMP004",
	}},
	{ErrDecryptionFailed, UserMessage{
		Message: "The import could not be decrypted",
		Action:  "Check that the content was exported with the current key",
		Code:    "IMP005",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP006",
	}},
	{ErrExportTooLarge, UserMessage{
		Message: "Too many records to export at once",
		Action:  "Export in batches per owner instead",
		Code:    "EXP001",
	}},
	{ErrStoreUnavailable, UserMessage{
		Message: "Storage is temporarily unavailable",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}},
}

// errorPattern maps an error substring to a user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// Validation messages, selected by ValidationError.Field.
var (
	msgInvalidCode = UserMessage{
		Message: "Invalid short code format",
		Action:  "Use 4-24 letters, digits, '_' or '-'",
		Code:    "VAL001",
	}
	msgInvalidTarget = UserMessage{
		Message: "Invalid target URL",
		Action:  "Use an absolute http(s) URL of at most 2000 characters",
		Code:    "VAL002",
	}
	msgInvalidOwner = UserMessage{
		Message: "Invalid owner",
		Action:  "Owner IDs use letters, digits, '_' or '-' (max 100)",
		Code:    "VAL003",
	}
	msgValidation = UserMessage{
		Message: "The request failed validation",
		Action:  "Check the submitted fields",
		Code:    "VAL004",
	}
)

// errorPatterns is consulted when no sentinel matches.
// Order matters: more specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Store (DB001-DB004)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this code already exists",
			Action:  "Choose a different code",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Storage is temporarily unavailable",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Storage connection was interrupted",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller batch or try again later",
			Code:    "DB004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller batch or try again later",
			Code:    "DB004",
		},
	},

	// =========================================================================
	// Validation (VAL001, VAL004)
	// =========================================================================
	{pattern: "invalid code format", msg: msgInvalidCode},
	{pattern: "validation", msg: msgValidation},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinel errors are matched with errors.Is; other errors fall back to a
// case-insensitive substring search. Unmatched errors get ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return validationMessage(ve)
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func validationMessage(ve *ValidationError) UserMessage {
	switch ve.Field {
	case "code":
		return msgInvalidCode
	case "target":
		return msgInvalidTarget
	case "ownerId", "ownerName":
		return msgInvalidOwner
	}
	return msgValidation
}

// FormatUserError creates a display string: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
