package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsRequireAuthSecret(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.issuer")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STEEPLE_AUTH_ISSUER", "https://id.example.org")
	t.Setenv("STEEPLE_AUTH_SECRET", "s3cret")
	t.Setenv("STEEPLE_ROLE_CACHE_TTL", "90s")
	t.Setenv("STEEPLE_HTTP_ADDR", ":9000")

	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.HTTPAddr)
	assert.Equal(t, "s3cret", c.Auth.Secret)
	assert.Equal(t, 90*time.Second, c.RoleCache.TTL)
	assert.Equal(t, 1024, c.RoleCache.Size)
	assert.Equal(t, int64(1<<20), c.MaxBodyBytes)
}

func TestLoadFromFileWithEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := `
http_addr: ":7000"
log_level: debug
auth:
  enabled: true
  issuer: file-issuer
  secret: file-secret
rate_limit:
  rps: 5
  burst: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("STEEPLE_LOG_LEVEL", "warn")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7000", c.HTTPAddr)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, "file-issuer", c.Auth.Issuer)
	assert.Equal(t, 5.0, c.RateLimit.RPS)
	assert.Equal(t, 10, c.RateLimit.Burst)
}

func TestAuthCanBeDisabled(t *testing.T) {
	t.Setenv("STEEPLE_AUTH_ENABLED", "false")
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.False(t, c.Auth.Enabled)
}

func TestValidateRejectsBadLimits(t *testing.T) {
	var c Config
	c.HTTPAddr = ":8080"
	c.MaxBodyBytes = 0
	assert.Error(t, c.Validate())

	c.MaxBodyBytes = 10
	c.RateLimit.RPS = -1
	assert.Error(t, c.Validate())
}
