package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points CONFIG_PATH at a missing file and runs from an empty dir so
// no stray config.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.Port)
	assert.Equal(t, StoreMongo, cfg.Store.Driver)
	assert.Equal(t, "tracklog", cfg.Store.MongoDatabase)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "session_token", cfg.Session.CookieName)
	assert.Equal(t, PhotoStorageLocal, cfg.Photos.Storage)
	assert.Equal(t, 10*time.Second, cfg.ExternalAuth.Timeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ENV", "Production")
	t.Setenv("PORT", "9090")
	t.Setenv("MONGO_URL", "mongodb://db:27017")
	t.Setenv("DB_NAME", "trains")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("SESSION_TTL", "48h")
	t.Setenv("EXTERNAL_AUTH_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,,https://a.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "mongodb://db:27017", cfg.Store.MongoURI)
	assert.Equal(t, "trains", cfg.Store.MongoDatabase)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 3*time.Second, cfg.ExternalAuth.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "tracklog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\nstore:\n  driver: memory\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Driver = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Photos.Storage = PhotoStorageCloudinary
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Photos.Storage = PhotoStorageS3
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Session.TTL = 0
	assert.Error(t, cfg.Validate())

	assert.NoError(t, defaultConfig().Validate())
}
