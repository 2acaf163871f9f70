package persistlab_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab"
)

type listenerPost struct {
	ID    int64  `db:"id,pk,identity"`
	Title string `db:"title"`
	Slug  string `db:"slug"`

	callbacks []string
}

func (*listenerPost) TableName() string { return "post" }

func (p *listenerPost) PrePersist(ctx context.Context) error {
	p.callbacks = append(p.callbacks, "PrePersist")
	return nil
}

func (p *listenerPost) PostUpdate(ctx context.Context) error {
	p.callbacks = append(p.callbacks, "PostUpdate")
	return nil
}

type recordedEvent struct {
	event persistlab.EventType
	id    int64
	data  interface{}
}

func recordEvents(f *persistlab.Factory, events ...persistlab.EventType) *[]recordedEvent {
	var recorded []recordedEvent
	for _, ev := range events {
		f.RegisterListener(ev, func(ctx context.Context, eventType persistlab.EventType, entity interface{}, eventData interface{}) error {
			post := entity.(*listenerPost)
			recorded = append(recorded, recordedEvent{event: eventType, id: post.ID, data: eventData})
			return nil
		})
	}
	return &recorded
}

func TestListenersOnPersist(t *testing.T) {
	f := newTestFactory(t, nil, &listenerPost{})
	recorded := recordEvents(f, persistlab.EventPrePersist, persistlab.EventPostPersist)

	post := &listenerPost{Title: "High-Performance Java Persistence"}
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, post)
	})

	require.Len(t, *recorded, 2)
	assert.Equal(t, persistlab.EventPrePersist, (*recorded)[0].event)
	assert.Zero(t, (*recorded)[0].id, "identifier is generated after PrePersist")
	assert.Equal(t, persistlab.EventPostPersist, (*recorded)[1].event)
	assert.Equal(t, post.ID, (*recorded)[1].id)
	assert.Equal(t, []string{"PrePersist"}, post.callbacks)
}

func TestNativeInsertBypassesListeners(t *testing.T) {
	f := newTestFactory(t, nil, &listenerPost{})
	recorded := recordEvents(f, persistlab.EventPrePersist, persistlab.EventPostPersist)

	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		n, err := s.NativeQuery("INSERT INTO post (title, slug) VALUES (?, ?)", "Native", "native").Exec(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		return nil
	})

	assert.Empty(t, *recorded)
	assert.Equal(t, 1, countRows(t, f, "post"))
}

func TestListenersOnUpdate(t *testing.T) {
	f := newTestFactory(t, nil, &listenerPost{})
	post := &listenerPost{Title: "High-Performance Java Persistence", Slug: "hpjp"}
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, post)
	})

	recorded := recordEvents(f, persistlab.EventPreUpdate, persistlab.EventPostUpdate)

	t.Run("managed", func(t *testing.T) {
		*recorded = nil
		var managed *listenerPost
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			var err error
			managed, err = persistlab.Find[listenerPost](ctx, s, post.ID)
			require.NoError(t, err)
			managed.Title = "High-Performance Java Persistence, 2nd edition"
			return nil
		})

		require.Len(t, *recorded, 2)
		assert.Equal(t, persistlab.EventPreUpdate, (*recorded)[0].event)
		assert.Equal(t, map[string]interface{}{"title": "High-Performance Java Persistence, 2nd edition"}, (*recorded)[0].data)
		assert.Equal(t, persistlab.EventPostUpdate, (*recorded)[1].event)
		assert.Nil(t, (*recorded)[1].data)
		assert.Equal(t, []string{"PostUpdate"}, managed.callbacks)
	})

	t.Run("merged", func(t *testing.T) {
		*recorded = nil
		detached := &listenerPost{ID: post.ID, Title: "High-Performance Java Persistence, 2nd edition", Slug: "hpjp-2"}
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			_, err := persistlab.Merge(ctx, s, detached)
			return err
		})

		require.Len(t, *recorded, 2)
		assert.Equal(t, map[string]interface{}{"slug": "hpjp-2"}, (*recorded)[0].data)
	})

	t.Run("unchanged", func(t *testing.T) {
		*recorded = nil
		doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
			_, err := persistlab.Find[listenerPost](ctx, s, post.ID)
			return err
		})
		assert.Empty(t, *recorded)
	})
}

func TestTypedListenerAndFailure(t *testing.T) {
	f := newTestFactory(t, nil, &listenerPost{})
	errRejected := errors.New("rejected")
	persistlab.Listen(f, persistlab.EventPrePersist, func(ctx context.Context, post *listenerPost) error {
		if post.Title == "" {
			return errRejected
		}
		post.Slug = "slug-" + post.Title
		return nil
	})

	post := &listenerPost{Title: "orm"}
	doInTx(t, f, func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, post)
	})
	assert.Equal(t, "slug-orm", post.Slug)

	err := f.Do(context.Background(), func(ctx context.Context, s *persistlab.Session) error {
		return s.Persist(ctx, &listenerPost{})
	})
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, 1, countRows(t, f, "post"))
}
