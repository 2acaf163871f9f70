package persistlab

import (
	"context"
	"fmt"
)

// Transaction is the database transaction of a Session.
type Transaction struct {
	s      *Session
	tx     Tx
	active bool
}

// IsActive reports whether the transaction can still be committed or rolled back.
func (t *Transaction) IsActive() bool { return t.active }

// Commit flushes the session (unless its flush mode is MANUAL) and commits.
// A failed flush leaves the transaction active so the caller can roll back.
func (t *Transaction) Commit(ctx context.Context) error {
	if !t.active {
		return ErrTransactionDone
	}
	s := t.s
	if s.flushMode != FlushManual {
		if err := s.flush(ctx); err != nil {
			return err
		}
	}
	err := t.tx.Commit()
	t.active = false
	if err != nil {
		s.afterCompletion(ctx, false)
		return fmt.Errorf("commit: %w", s.translate(err))
	}
	s.afterCompletion(ctx, true)
	s.f.stats.inc(&s.f.stats.successfulTransactions)
	return nil
}

// Rollback discards the transaction and detaches every entity of the session.
func (t *Transaction) Rollback(ctx context.Context) error {
	if !t.active {
		return ErrTransactionDone
	}
	t.active = false
	err := t.tx.Rollback()
	t.s.afterCompletion(ctx, false)
	t.s.Clear()
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
