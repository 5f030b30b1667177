package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SITEKEEPER_SESSION_SECRET", "dev-secret")
	t.Setenv("SITEKEEPER_ACTORS", `[{"id":"owner","label":"Owner","secret_hash":"abcd:00ff"}]`)
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.False(t, cfg.Server.TrustProxy)
	assert.Equal(t, 13, cfg.Auth.CodeLength)
	assert.Equal(t, 8*time.Hour, cfg.Auth.SessionMaxAge)
	assert.Equal(t, 15*time.Minute, cfg.Auth.RotateAfter)
	require.Len(t, cfg.Auth.Actors, 1)
	assert.Equal(t, "owner", cfg.Auth.Actors[0].ID)
	assert.Equal(t, "abcd:00ff", cfg.Auth.Actors[0].SecretHash)

	lim := cfg.Lockout.Limiter()
	assert.Equal(t, 15*time.Minute, lim.Window)
	assert.Equal(t, 5, lim.MaxAttempts)
	assert.Equal(t, 400*time.Millisecond, lim.BaseDelay)
	assert.Equal(t, 250*time.Millisecond, lim.DelayStep)
	assert.Equal(t, 2500*time.Millisecond, lim.MaxDelay)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SITEKEEPER_HTTP_ADDR", ":9000")
	t.Setenv("SITEKEEPER_TRUST_PROXY", "true")
	t.Setenv("SITEKEEPER_CODE_LENGTH", "16")
	t.Setenv("SITEKEEPER_LOCKOUT_MAX_ATTEMPTS", "3")
	t.Setenv("SITEKEEPER_LOCKOUT_WINDOW", "5m")
	t.Setenv("SITEKEEPER_RATE_BURST", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, 16, cfg.Auth.CodeLength)
	assert.Equal(t, 3, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Lockout.Window)
	assert.Equal(t, 30, cfg.Server.RateBurst)
}

func TestLoadFailsClosed(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("SITEKEEPER_ACTORS", `[{"id":"owner","secret_hash":"ab:cd"}]`)
		_, err := Load()
		require.ErrorContains(t, err, "session secret")
	})
	t.Run("missing actors", func(t *testing.T) {
		t.Setenv("SITEKEEPER_SESSION_SECRET", "dev-secret")
		_, err := Load()
		require.ErrorContains(t, err, "actor")
	})
	t.Run("bad actor json", func(t *testing.T) {
		t.Setenv("SITEKEEPER_SESSION_SECRET", "dev-secret")
		t.Setenv("SITEKEEPER_ACTORS", `{not json`)
		_, err := Load()
		require.ErrorContains(t, err, "SITEKEEPER_ACTORS")
	})
}

func TestValidateProduction(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SITEKEEPER_ENV", "production")

	_, err := Load()
	require.ErrorContains(t, err, "at least 32 bytes")

	t.Setenv("SITEKEEPER_SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = Load()
	require.ErrorContains(t, err, "DSN")

	t.Setenv("SITEKEEPER_PG_DSN", "postgres://localhost/sitekeeper")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
}

func TestValidateRotationBeforeExpiry(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SITEKEEPER_SESSION_ROTATE_AFTER", "9h")
	_, err := Load()
	require.ErrorContains(t, err, "rotation")
}
