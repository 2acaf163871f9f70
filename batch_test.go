package persistlab_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab"
)

type identityPost struct {
	ID    int64  `db:"id,pk,identity"`
	Title string `db:"title"`
}

func (*identityPost) TableName() string { return "post" }

type assignedPost struct {
	ID    int64  `db:"id,pk"`
	Title string `db:"title"`
}

func (*assignedPost) TableName() string { return "post" }

func TestIdentityInsertsAreNotBatched(t *testing.T) {
	f := newTestFactory(t, persistlab.Properties{persistlab.PropBatchSize: "50"}, &identityPost{})
	f.Statistics().Clear()

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		for i := 0; i < 100; i++ {
			post := &identityPost{Title: fmt.Sprintf("Post no. %d", i)}
			require.NoError(t, s.Persist(ctx, post))
			assert.NotZero(t, post.ID, "identity is assigned when persisting")
		}
		return nil
	})

	assert.EqualValues(t, 100, f.Statistics().PrepareStatementCount())
	assert.EqualValues(t, 100, f.Statistics().EntityInsertCount())
	assert.Equal(t, 100, countRows(t, f, "post"))
}

func TestAssignedInsertsAreBatched(t *testing.T) {
	tests := []struct {
		batchSize  int
		statements int64
	}{
		{batchSize: 0, statements: 100},
		{batchSize: 50, statements: 2},
		{batchSize: 30, statements: 4},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.batchSize), func(t *testing.T) {
			f := newTestFactory(t, persistlab.Properties{persistlab.PropBatchSize: strconv.Itoa(tt.batchSize)}, &assignedPost{})
			f.Statistics().Clear()

			doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
				for i := 0; i < 100; i++ {
					require.NoError(t, s.Persist(ctx, &assignedPost{ID: int64(i + 1), Title: fmt.Sprintf("Post no. %d", i)}))
				}
				assert.Zero(t, f.Statistics().PrepareStatementCount(), "inserts wait for the flush")
				return nil
			})

			assert.Equal(t, tt.statements, f.Statistics().PrepareStatementCount())
			assert.EqualValues(t, 100, f.Statistics().EntityInsertCount())
			assert.Equal(t, 100, countRows(t, f, "post"))
		})
	}
}
