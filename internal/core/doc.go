// Package core provides the business logic for short link issuance and bulk
// exchange. It has no transport dependencies and can be driven by the web
// package, a CLI, or tests.
//
// # Architecture
//
// The package is organized around a few collaborating pieces:
//
//   - Store: the persistence boundary ([Store], optional [Transactor]).
//     Implementations live under internal/store.
//   - CodeGenerator: mints short codes through an ordered strategy table.
//   - TransactionCoordinator: runs a unit of work inside a [Session] when the
//     store supports transactions, or directly when it does not.
//   - KeyProvider: resolves the AES passphrase with a short TTL cache.
//   - Importer / Exporter: bulk exchange of records as text reports, JSON,
//     or CSV, optionally wrapped in AES-256-CBC.
//   - Service: the entry point that composes all of the above.
//
// # Code Generation
//
// Codes start short and only grow when collisions are observed:
//
//	random6 x5 -> random7 x5 -> random8 x5 -> prefixed_timestamp x3 -> hash x1 -> uuid x1
//
// Every candidate except the uuid fallback is checked against the store using
// the active session. The uuid fallback relies on the store's unique
// constraint, which surfaces a collision as [ErrCodeConflict].
//
// # Bulk Import
//
// [Service.ImportAll] runs four stages:
//
//  1. Detect and decrypt an encrypted wrapper, if any
//  2. Parse with the first matching format (JSON, report, labels, CSV/TSV)
//  3. Validate each candidate independently
//  4. Apply through a [ConcurrencyLimiter], aggregating a [BatchResult]
//
// Per-record problems never fail the batch. Wrapper, size and format
// problems fail the whole call before anything is written.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - LNK001-LNK005: Short link errors (not found, conflicts, exhaustion)
//   - VAL001-VAL004: Validation errors (code, target, owner)
//   - IMP001-IMP006: Import errors (format, size, decryption)
//   - EXP001-EXP002: Export errors
//   - DB001-DB004: Store errors
//
// # Audit Logging
//
// Mutations and bulk operations are recorded as [AuditEntry] values and
// handed to the configured [AuditSink] implementations. Severity follows the
// blast radius of the action:
//
//   - Low: single link creation
//   - Medium: single deletion, export
//   - High: batch deletion, import
package core
