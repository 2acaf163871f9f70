package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab/internal/config"
)

func newTestApp(t *testing.T) *labApp {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Port: "0", ShutdownTimeout: time.Second},
		Database: config.DatabaseConfig{
			Driver:  "sqlite",
			DSN:     "file:" + filepath.Join(t.TempDir(), "lab.db") + "?_busy_timeout=5000&_foreign_keys=on",
			Migrate: true,
		},
		Cache:   config.CacheConfig{RegionFactory: "local", TTL: time.Minute},
		Logging: config.LoggingConfig{Level: "info"},
	}
	app, cleanup, err := initializeLabApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return app
}

func TestPostRoutes(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, persistStartupPost(context.Background(), app.factory))
	router := app.server.Handler

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts",
		strings.NewReader(`{"title":"Flush modes","comments":["Good","Excellent"]}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created postView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(2), created.ID)
	assert.Len(t, created.Comments, 2)
	assert.False(t, created.CreatedOn.IsZero())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts/2", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fetched postView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "Flush modes", fetched.Title)
	require.Len(t, fetched.Comments, 2)
	assert.Equal(t, "Good", fetched.Comments[0].Review)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []postView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "High-Performance Java Persistence", list[0].Title)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(`{"title":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(`{"title":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsRoute(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, persistStartupPost(context.Background(), app.factory))

	rec := httptest.NewRecorder()
	app.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["entity_inserts"])
	assert.EqualValues(t, 1, stats["successful_transactions"])
	assert.Contains(t, stats, "cache_client")
}
