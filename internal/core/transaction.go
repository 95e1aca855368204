package core

// transaction.go decides, per call, whether a unit of work runs inside a
// store transaction.
//
// Stores that implement Transactor are probed on every Run. When the probe
// says yes, the unit of work gets a Session that is committed on success and
// rolled back otherwise. When the store cannot offer transactions (standalone
// Redis, a read-only replica, the in-memory store in its default mode), the
// unit of work runs with a nil Session and only per-record atomicity applies.
// This degrade-not-fail behavior is deliberate.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// UnitOfWork is the function executed by TransactionCoordinator.Run.
// sess is nil when no transaction is active.
type UnitOfWork func(ctx context.Context, sess Session) error

// TransactionCoordinator wraps units of work in store transactions when the
// store supports them.
type TransactionCoordinator struct {
	store Store
}

// NewTransactionCoordinator creates a coordinator for store.
func NewTransactionCoordinator(store Store) *TransactionCoordinator {
	return &TransactionCoordinator{store: store}
}

// Run executes fn, inside a transaction if one is available.
func (tc *TransactionCoordinator) Run(ctx context.Context, fn UnitOfWork) (err error) {
	tx, ok := tc.store.(Transactor)
	if !ok {
		return fn(ctx, nil)
	}

	supported, err := tx.SupportsTransactions(ctx)
	if err != nil {
		slog.Warn("transaction capability probe failed, running without transaction", "error", err)
		return fn(ctx, nil)
	}
	if !supported {
		return fn(ctx, nil)
	}

	sess, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback must run even when ctx is already cancelled
		if rbErr := sess.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
	}()

	if err := fn(ctx, sess); err != nil {
		return err
	}

	if err := sess.Commit(ctx); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return fmt.Errorf("%w: %w", ErrCodeConflict, err)
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Create issues a new code for target and stores the link, atomically when
// the store supports transactions.
//
// A code found by the final check right before insert, or a unique
// violation on insert, aborts with ErrCodeConflict so the caller can retry.
func (tc *TransactionCoordinator) Create(ctx context.Context, gen *CodeGenerator, link ShortLink) (*ShortLink, error) {
	var created *ShortLink

	err := tc.Run(ctx, func(ctx context.Context, sess Session) error {
		code, err := gen.Generate(ctx, link.Target, link.OwnerID, sess)
		if err != nil {
			return err
		}

		// Final safety check
		_, err = tc.store.FindByCode(ctx, sess, code)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrCodeConflict, code)
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("final check for %q: %w", code, err)
		}

		link.Code = code
		stored, err := tc.store.Insert(ctx, sess, link)
		if errors.Is(err, ErrDuplicateCode) {
			return fmt.Errorf("%w: %w", ErrCodeConflict, err)
		}
		if err != nil {
			return fmt.Errorf("insert short link: %w", err)
		}
		created = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
