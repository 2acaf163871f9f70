package persistlab

import (
	"context"
	"errors"
	"fmt"
)

// InTransaction runs work in a new session and transaction. The transaction
// commits when work returns without error. On error or panic it is rolled
// back: a rollback failure is logged, and the original error is returned (a
// panic is re-raised). The session is always closed.
func InTransaction[R any](ctx context.Context, f *Factory, work func(ctx context.Context, s *Session) (R, error)) (result R, err error) {
	var zero R
	s := f.OpenSession()
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.logger.Error("Closing session failed", "error", cerr)
		}
	}()

	tx, err := s.Begin(ctx)
	if err != nil {
		return zero, err
	}

	rollback := func(cause interface{}) {
		s.logger.Error("Transaction failure", "error", cause)
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrTransactionDone) {
			s.logger.Error("Rollback failure", "error", rbErr)
		}
	}
	defer func() {
		if p := recover(); p != nil {
			rollback(fmt.Sprint(p))
			panic(p)
		}
	}()

	result, err = work(ctx, s)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		rollback(err)
		return zero, err
	}
	return result, nil
}

// Do is InTransaction for work that returns no value.
func (f *Factory) Do(ctx context.Context, work func(ctx context.Context, s *Session) error) error {
	_, err := InTransaction(ctx, f, func(ctx context.Context, s *Session) (struct{}, error) {
		return struct{}{}, work(ctx, s)
	})
	return err
}
