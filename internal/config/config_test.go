package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg := Load()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "local", cfg.Cache.RegionFactory)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Empty(t, cfg.UnitFile)
}

func TestLoadFromEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_DRIVER=postgres\nCACHE_TTL=90s\n"), 0o600))
	t.Setenv("PORT", "9090")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("DB_DRIVER"); os.Unsetenv("CACHE_TTL") })

	cfg := Load()
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.False(t, cfg.Database.Migrate)
	assert.Zero(t, cfg.Database.MaxOpenConns)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
