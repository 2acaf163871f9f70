package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/goomon/persistlab"
	"github.com/goomon/persistlab/domain"
)

type postHandler struct {
	factory *persistlab.Factory
}

type commentView struct {
	ID     int64  `json:"id"`
	Review string `json:"review"`
}

type postView struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	CreatedOn time.Time     `json:"created_on"`
	Comments  []commentView `json:"comments,omitempty"`
}

type createPostRequest struct {
	Title    string   `json:"title"`
	Comments []string `json:"comments"`
}

func newRouter(factory *persistlab.Factory) *chi.Mux {
	h := &postHandler{factory: factory}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/posts", h.listPosts)
	r.Post("/posts", h.createPost)
	r.Get("/posts/{id}", h.getPost)
	r.Get("/stats", h.stats)
	return r
}

func (h *postHandler) listPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := persistlab.InTransaction(r.Context(), h.factory, func(ctx context.Context, s *persistlab.Session) ([]postView, error) {
		s.SetDefaultReadOnly(true)
		posts, err := persistlab.From[domain.Post](s).OrderBy("id").List(ctx)
		if err != nil {
			return nil, err
		}
		views := make([]postView, 0, len(posts))
		for _, p := range posts {
			views = append(views, postView{ID: p.ID, Title: p.Title, CreatedOn: p.CreatedOn})
		}
		return views, nil
	})
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, "failed to list posts", err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, posts)
}

func (h *postHandler) createPost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Title == "" {
		renderError(w, r, http.StatusBadRequest, "title is required", nil)
		return
	}

	view, err := persistlab.InTransaction(r.Context(), h.factory, func(ctx context.Context, s *persistlab.Session) (postView, error) {
		post := &domain.Post{Title: req.Title}
		view := postView{Title: req.Title}
		for _, review := range req.Comments {
			comment := &domain.PostComment{Review: review}
			comment.Post.Set(post)
			if err := post.Comments.Add(ctx, comment); err != nil {
				return view, err
			}
		}
		if err := s.Persist(ctx, post); err != nil {
			return view, err
		}
		if err := s.Flush(ctx); err != nil {
			return view, err
		}
		view.ID, view.CreatedOn = post.ID, post.CreatedOn
		items, err := post.Comments.Items(ctx)
		if err != nil {
			return view, err
		}
		for _, c := range items {
			view.Comments = append(view.Comments, commentView{ID: c.ID, Review: c.Review})
		}
		return view, nil
	})
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, "failed to create post", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, view)
}

func (h *postHandler) getPost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid post id", err)
		return
	}

	view, err := persistlab.InTransaction(r.Context(), h.factory, func(ctx context.Context, s *persistlab.Session) (postView, error) {
		post, err := persistlab.Find[domain.Post](ctx, s, id, persistlab.WithReadOnly())
		if err != nil {
			return postView{}, err
		}
		comments, err := post.Comments.Items(ctx)
		if err != nil {
			return postView{}, err
		}
		view := postView{ID: post.ID, Title: post.Title, CreatedOn: post.CreatedOn}
		for _, c := range comments {
			view.Comments = append(view.Comments, commentView{ID: c.ID, Review: c.Review})
		}
		return view, nil
	})
	if errors.Is(err, persistlab.ErrNotFound) {
		renderError(w, r, http.StatusNotFound, "post not found", nil)
		return
	}
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, "failed to load post", err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, view)
}

func (h *postHandler) stats(w http.ResponseWriter, r *http.Request) {
	st := h.factory.Statistics()
	regions := make(map[string]interface{})
	for _, name := range st.RegionNames() {
		rs := st.RegionStatistics(name)
		regions[name] = map[string]int64{"hits": rs.HitCount(), "misses": rs.MissCount(), "puts": rs.PutCount()}
	}
	response := map[string]interface{}{
		"statements":              st.PrepareStatementCount(),
		"entity_inserts":          st.EntityInsertCount(),
		"entity_updates":          st.EntityUpdateCount(),
		"entity_deletes":          st.EntityDeleteCount(),
		"entity_loads":            st.EntityLoadCount(),
		"entity_fetches":          st.EntityFetchCount(),
		"flushes":                 st.FlushCount(),
		"transactions":            st.TransactionCount(),
		"successful_transactions": st.SuccessfulTransactionCount(),
		"second_level_cache_hits": st.SecondLevelCacheHitCount(),
		"second_level_cache_miss": st.SecondLevelCacheMissCount(),
		"second_level_cache_puts": st.SecondLevelCachePutCount(),
		"regions":                 regions,
	}
	if cache := h.factory.Cache(); cache != nil {
		response["cache_client"] = cache.Client().GetCacheStats(r.Context()).Counters
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		log.Error(message, "error", err, "path", r.URL.Path)
	}
	body := map[string]interface{}{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}
