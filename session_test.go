package persistlab_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab"
)

type sessionPost struct {
	ID       int64                          `db:"id,pk,identity"`
	Title    string                         `db:"title"`
	Comments persistlab.Bag[sessionComment] `orm:"oneToMany;mappedBy:Post;cascade:all;orphanRemoval"`
}

func (*sessionPost) TableName() string  { return "post" }
func (*sessionPost) EntityName() string { return "Post" }

type sessionComment struct {
	ID     int64                       `db:"id,pk,identity"`
	Review string                      `db:"review"`
	Post   persistlab.Ref[sessionPost] `orm:"manyToOne;fk:post_id;fetch:lazy"`
}

func (*sessionComment) TableName() string  { return "post_comment" }
func (*sessionComment) EntityName() string { return "PostComment" }

func newSessionPost(title string, reviews ...string) *sessionPost {
	post := &sessionPost{Title: title}
	comments := make([]*sessionComment, len(reviews))
	for i, r := range reviews {
		comments[i] = &sessionComment{Review: r, Post: persistlab.NewRef(post)}
	}
	post.Comments = persistlab.NewBag(comments...)
	return post
}

func TestCascadePersistAndOrphanRemoval(t *testing.T) {
	f := newTestFactory(t, nil, &sessionPost{}, &sessionComment{})
	post := newSessionPost("High-Performance Java Persistence", "Good", "Excellent")
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, post)
	})
	require.NotZero(t, post.ID)
	assert.Equal(t, 2, countRows(t, f, "post_comment"))

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		managed, err := persistlab.Find[sessionPost](ctx, s, post.ID)
		require.NoError(t, err)
		comments, err := managed.Comments.Items(ctx)
		require.NoError(t, err)
		require.Len(t, comments, 2)

		removed, err := managed.Comments.Remove(ctx, comments[0])
		require.NoError(t, err)
		assert.True(t, removed)
		return managed.Comments.Add(ctx, &sessionComment{Review: "Must read", Post: persistlab.NewRef(managed)})
	})
	assert.Equal(t, 2, countRows(t, f, "post_comment"))

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		var rows []struct {
			Review string `db:"review"`
		}
		err := s.NativeQuery("SELECT review FROM post_comment ORDER BY id").Select(ctx, &rows)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Excellent", rows[0].Review)
		assert.Equal(t, "Must read", rows[1].Review)
		return nil
	})

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		managed, err := persistlab.Find[sessionPost](ctx, s, post.ID)
		require.NoError(t, err)
		return s.Remove(ctx, managed)
	})
	assert.Zero(t, countRows(t, f, "post_comment"))
	assert.Zero(t, countRows(t, f, "post"))
}

func TestPersistWithReferenceByIdentifier(t *testing.T) {
	f := newTestFactory(t, nil, &sessionPost{}, &sessionComment{})
	post := newSessionPost("High-Performance Java Persistence")
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, post)
	})

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		comment := &sessionComment{Review: "Good", Post: persistlab.RefID[sessionPost](post.ID)}
		require.NoError(t, s.Persist(ctx, comment))
		require.NoError(t, s.Flush(ctx))
		assert.False(t, comment.Post.IsLoaded())

		parent, err := comment.Post.Get(ctx)
		require.NoError(t, err)
		require.NotNil(t, parent)
		assert.Equal(t, "High-Performance Java Persistence", parent.Title)
		assert.True(t, comment.Post.IsLoaded())
		return nil
	})
	assert.Equal(t, 1, countRows(t, f, "post_comment"))
}

type cascadePost struct {
	ID    int64  `db:"id,pk,identity"`
	Title string `db:"title"`
}

func (*cascadePost) TableName() string { return "post" }

type persistOnlyComment struct {
	ID     int64                       `db:"id,pk,identity"`
	Review string                      `db:"review"`
	Post   persistlab.Ref[cascadePost] `orm:"manyToOne;fk:post_id;cascade:persist"`
}

func (*persistOnlyComment) TableName() string { return "post_comment" }

type cascadeAllComment struct {
	ID     int64                       `db:"id,pk,identity"`
	Review string                      `db:"review"`
	Post   persistlab.Ref[cascadePost] `orm:"manyToOne;fk:post_id;cascade:all"`
}

func (*cascadeAllComment) TableName() string { return "post_comment" }

func TestCascadeTypes(t *testing.T) {
	t.Run("persist", func(t *testing.T) {
		f := newTestFactory(t, nil, &cascadePost{}, &persistOnlyComment{})
		comment := &persistOnlyComment{Review: "Good", Post: persistlab.NewRef(&cascadePost{Title: "cascade"})}
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			return s.Persist(ctx, comment)
		})
		assert.Equal(t, 1, countRows(t, f, "post"))

		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			managed, err := persistlab.Find[persistOnlyComment](ctx, s, comment.ID)
			require.NoError(t, err)
			return s.Remove(ctx, managed)
		})
		assert.Zero(t, countRows(t, f, "post_comment"))
		assert.Equal(t, 1, countRows(t, f, "post"), "persist does not cascade removal")
	})

	t.Run("all", func(t *testing.T) {
		f := newTestFactory(t, nil, &cascadePost{}, &cascadeAllComment{})
		comment := &cascadeAllComment{Review: "Good", Post: persistlab.NewRef(&cascadePost{Title: "cascade"})}
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			return s.Persist(ctx, comment)
		})
		assert.Equal(t, 1, countRows(t, f, "post"))

		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			managed, err := persistlab.Find[cascadeAllComment](ctx, s, comment.ID)
			require.NoError(t, err)
			return s.Remove(ctx, managed)
		})
		assert.Zero(t, countRows(t, f, "post_comment"))
		assert.Zero(t, countRows(t, f, "post"))
	})
}

func TestSessionStateTransitions(t *testing.T) {
	f := newTestFactory(t, nil, &harnessPost{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, &harnessPost{ID: 1, Title: "first"})
	})

	t.Run("find missing", func(t *testing.T) {
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			_, err := persistlab.Find[harnessPost](ctx, s, 42)
			assert.ErrorIs(t, err, persistlab.ErrNotFound)
			return nil
		})
	})

	t.Run("persist twice", func(t *testing.T) {
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			require.NoError(t, s.Persist(ctx, &harnessPost{ID: 2, Title: "second"}))
			assert.ErrorIs(t, s.Persist(ctx, &harnessPost{ID: 2, Title: "copy"}), persistlab.ErrEntityExists)
			s.Clear()
			return nil
		})
		assert.Equal(t, 1, countRows(t, f, "post"))
	})

	t.Run("detach", func(t *testing.T) {
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			post, err := persistlab.Find[harnessPost](ctx, s, 1)
			require.NoError(t, err)
			require.True(t, s.Contains(post))
			require.NoError(t, s.Detach(post))
			assert.False(t, s.Contains(post))
			post.Title = "detached change"
			assert.ErrorIs(t, s.Detach(post), persistlab.ErrNotManaged)
			assert.ErrorIs(t, s.Remove(ctx, post), persistlab.ErrNotManaged)
			return nil
		})
		assert.Equal(t, "first", findPost[harnessPost](t, f, 1).Title)
	})

	t.Run("merge", func(t *testing.T) {
		detached := findPost[harnessPost](t, f, 1)
		detached.Title = "merged"
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			managed, err := persistlab.Merge(ctx, s, detached)
			require.NoError(t, err)
			assert.NotSame(t, detached, managed)
			assert.True(t, s.Contains(managed))
			assert.False(t, s.Contains(detached))
			return nil
		})
		assert.Equal(t, "merged", findPost[harnessPost](t, f, 1).Title)

		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			_, err := persistlab.Merge(ctx, s, &harnessPost{ID: 3, Title: "merged new"})
			return err
		})
		assert.Equal(t, "merged new", findPost[harnessPost](t, f, 3).Title)
	})

	t.Run("remove", func(t *testing.T) {
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			post, err := persistlab.Find[harnessPost](ctx, s, 3)
			require.NoError(t, err)
			require.NoError(t, s.Remove(ctx, post))
			assert.False(t, s.Contains(post))
			_, err = persistlab.Find[harnessPost](ctx, s, 3)
			assert.ErrorIs(t, err, persistlab.ErrNotFound)

			require.NoError(t, s.Persist(ctx, post), "persisting a removed entity reschedules it")
			return s.Remove(ctx, post)
		})
		assert.Equal(t, 1, countRows(t, f, "post"))
	})

	t.Run("clear", func(t *testing.T) {
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			post, err := persistlab.Find[harnessPost](ctx, s, 1)
			require.NoError(t, err)
			post.Title = "cleared change"
			s.Clear()
			assert.False(t, s.Contains(post))
			return nil
		})
		assert.Equal(t, "merged", findPost[harnessPost](t, f, 1).Title)
	})

	t.Run("rollback detaches", func(t *testing.T) {
		ctx := context.Background()
		s := f.OpenSession()
		defer s.Close()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		post := &harnessPost{ID: 4, Title: "rolled back"}
		require.NoError(t, s.Persist(ctx, post))
		require.NoError(t, s.Flush(ctx))
		require.NoError(t, tx.Rollback(ctx))
		assert.False(t, s.Contains(post))
		assert.False(t, tx.IsActive())
		assert.Equal(t, 1, countRows(t, f, "post"))
	})
}

func TestPersistDetachedIdentityEntity(t *testing.T) {
	f := newTestFactory(t, nil, &sessionPost{}, &sessionComment{})
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		err := s.Persist(ctx, &sessionPost{ID: 7, Title: "detached"})
		assert.ErrorIs(t, err, persistlab.ErrDetachedEntity)
		return nil
	})
}
