package persistlab_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab"
)

type flushPost struct {
	ID      int64                            `db:"id,pk"`
	Title   string                           `db:"title"`
	Details persistlab.Ref[flushPostDetails] `orm:"oneToOne;mappedBy:Post;fetch:lazy;cascade:all;orphanRemoval"`
}

func (*flushPost) TableName() string  { return "post" }
func (*flushPost) EntityName() string { return "Post" }

type flushPostDetails struct {
	ID        int64                     `db:"id,pk"`
	CreatedBy string                    `db:"created_by"`
	Post      persistlab.Ref[flushPost] `orm:"oneToOne;fk:post_id;fetch:lazy"`
}

func (*flushPostDetails) TableName() string  { return "post_details" }
func (*flushPostDetails) EntityName() string { return "PostDetails" }

func countPosts(ctx context.Context, t *testing.T, s *persistlab.Session) int64 {
	t.Helper()
	n, err := persistlab.From[flushPost](s).Count(ctx)
	require.NoError(t, err)
	return n
}

func TestFlushBeforeQuery(t *testing.T) {
	f := newTestFactory(t, nil, &flushPost{}, &flushPostDetails{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		assert.Zero(t, countPosts(ctx, t, s))
		require.NoError(t, s.Persist(ctx, &flushPost{ID: 1, Title: "Flush test"}))
		assert.Zero(t, f.Statistics().EntityInsertCount(), "assigned identifiers are inserted at flush")

		// The count reads the post table, which has a pending insert.
		assert.EqualValues(t, 1, countPosts(ctx, t, s))
		assert.EqualValues(t, 1, f.Statistics().FlushCount())
		return nil
	})
}

func TestFlushCausedBySpaceOverlap(t *testing.T) {
	f := newTestFactory(t, nil, &flushPost{}, &flushPostDetails{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		assert.Zero(t, countPosts(ctx, t, s))
		require.NoError(t, s.Persist(ctx, &flushPost{ID: 1, Title: "Flush test"}))

		// post_details alone does not overlap the pending insert.
		_, err := persistlab.From[flushPostDetails](s).List(ctx)
		require.NoError(t, err)
		assert.Zero(t, f.Statistics().FlushCount())

		// Fetching the post association adds the post table to the query spaces.
		_, err = persistlab.From[flushPostDetails](s).Fetch("Post").List(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, f.Statistics().FlushCount())
		assert.EqualValues(t, 1, countPosts(ctx, t, s))
		return nil
	})
}

func TestFlushWithNativeQuery(t *testing.T) {
	f := newTestFactory(t, nil, &flushPost{}, &flushPostDetails{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		var n int
		require.NoError(t, s.NativeQuery("SELECT COUNT(*) FROM post").Scalar(ctx, &n))
		assert.Zero(t, n)
		require.NoError(t, s.Persist(ctx, &flushPost{ID: 1, Title: "Flush test"}))

		// Declared query spaces keep AUTO from flushing an unrelated table.
		require.NoError(t, s.NativeQuery("SELECT COUNT(*) FROM post_details").Synchronize("post_details").Scalar(ctx, &n))
		assert.Zero(t, f.Statistics().FlushCount())

		// Without them the session cannot tell, so it flushes.
		require.NoError(t, s.NativeQuery("SELECT COUNT(*) FROM post_details").Scalar(ctx, &n))
		assert.Zero(t, n)
		assert.EqualValues(t, 1, f.Statistics().FlushCount())
		assert.EqualValues(t, 1, f.Statistics().EntityInsertCount())
		return nil
	})
}

func TestFlushWithoutChangesIsNotCounted(t *testing.T) {
	f := newTestFactory(t, nil, &flushPost{}, &flushPostDetails{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, &flushPost{ID: 1, Title: "Flush test"})
	})
	f.Statistics().Clear()

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		post, err := persistlab.Find[flushPost](ctx, s, 1)
		require.NoError(t, err)
		require.NoError(t, s.Flush(ctx))
		assert.Zero(t, f.Statistics().FlushCount())

		post.Title = "Flush test, revised"
		require.NoError(t, s.Flush(ctx))
		assert.EqualValues(t, 1, f.Statistics().FlushCount())
		assert.EqualValues(t, 1, f.Statistics().EntityUpdateCount())
		return nil
	})
	assert.EqualValues(t, 1, f.Statistics().FlushCount(), "the commit flush found nothing left to write")
}

func TestFlushOrderAndCascade(t *testing.T) {
	f := newTestFactory(t, nil, &flushPost{}, &flushPostDetails{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		post := &flushPost{ID: 1, Title: "cascade"}
		details := &flushPostDetails{ID: 1, CreatedBy: "vlad", Post: persistlab.NewRef(post)}
		post.Details.Set(details)
		return s.Persist(ctx, post)
	})
	assert.Equal(t, 1, countRows(t, f, "post_details"))

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		post, err := persistlab.Find[flushPost](ctx, s, 1)
		require.NoError(t, err)
		details, err := post.Details.Get(ctx)
		require.NoError(t, err)
		require.NotNil(t, details)
		assert.Equal(t, "vlad", details.CreatedBy)
		assert.Equal(t, int64(1), details.Post.ID())

		// Deleting the parent removes the cascaded child first.
		return s.Remove(ctx, post)
	})
	assert.Zero(t, countRows(t, f, "post_details"))
	assert.Zero(t, countRows(t, f, "post"))
}

func TestNativeStatementBypassesPersistenceContext(t *testing.T) {
	f := newTestFactory(t, nil, &flushPost{}, &flushPostDetails{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		require.NoError(t, s.Persist(ctx, &flushPost{ID: 1, Title: "managed"}))
		n, err := s.NativeQuery("UPDATE post SET title = ? WHERE id = ?", "native", 1).Exec(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "the pending insert is flushed before the statement")

		post, err := persistlab.Find[flushPost](ctx, s, 1)
		require.NoError(t, err)
		assert.Equal(t, "managed", post.Title, "the managed instance is not refreshed")

		var rows []struct {
			ID    int64  `db:"id"`
			Title string `db:"title"`
		}
		require.NoError(t, s.NativeQuery("SELECT id, title FROM post").Select(ctx, &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "native", rows[0].Title)
		return nil
	})
}
