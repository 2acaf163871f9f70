package persistlab_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab"
)

type account struct {
	ID      int64  `db:"id,pk"`
	Owner   string `db:"owner"`
	Balance int64  `db:"balance"`
}

func (*account) TableName() string { return "account" }

type immutableAccount struct {
	ID      int64  `db:"id,pk"`
	Owner   string `db:"owner"`
	Balance int64  `db:"balance"`
}

func (*immutableAccount) TableName() string { return "immutable_account" }
func (*immutableAccount) Immutable() bool   { return true }

func TestImmutableEntityIgnoresChanges(t *testing.T) {
	f := newTestFactory(t, nil, &account{}, &immutableAccount{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		require.NoError(t, s.Persist(ctx, &account{ID: 1, Owner: "Alice", Balance: 100}))
		return s.Persist(ctx, &immutableAccount{ID: 1, Owner: "Alice", Balance: 100})
	})

	f.Statistics().Clear()
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		acc, err := persistlab.Find[account](ctx, s, 1)
		require.NoError(t, err)
		acc.Balance = 50

		immutable, err := persistlab.Find[immutableAccount](ctx, s, 1)
		require.NoError(t, err)
		immutable.Balance = 50
		return nil
	})
	assert.EqualValues(t, 1, f.Statistics().EntityUpdateCount())

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		acc, err := persistlab.Find[account](ctx, s, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 50, acc.Balance)

		immutable, err := persistlab.Find[immutableAccount](ctx, s, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 100, immutable.Balance)
		return nil
	})
}

func TestImmutableEntityMergeAndRemove(t *testing.T) {
	f := newTestFactory(t, nil, &immutableAccount{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, &immutableAccount{ID: 1, Owner: "Bob", Balance: 10})
	})

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		merged, err := persistlab.Merge(ctx, s, &immutableAccount{ID: 1, Owner: "Bob", Balance: 99})
		require.NoError(t, err)
		assert.EqualValues(t, 99, merged.Balance, "the managed copy reflects the merge")
		return nil
	})
	assert.EqualValues(t, 10, findPost[immutableAccount](t, f, 1).Balance)

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		acc, err := persistlab.Find[immutableAccount](ctx, s, 1)
		require.NoError(t, err)
		return s.Remove(ctx, acc)
	})
	assert.Zero(t, countRows(t, f, "immutable_account"))
}
