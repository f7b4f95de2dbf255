package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOURCHAT_SERVER_URL", "")
	t.Setenv("TOURCHAT_TYPING_QUIET_MS", "")

	cfg := Load()

	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Equal(t, 1200*time.Millisecond, cfg.TypingQuietPeriod)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.NotEmpty(t, cfg.TokenPath)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TOURCHAT_SERVER_URL", "https://chat.example.com")
	t.Setenv("TOURCHAT_TYPING_QUIET_MS", "500")
	t.Setenv("TOURCHAT_HANDSHAKE_TIMEOUT", "3")
	t.Setenv("TOURCHAT_DB_PATH", "/var/lib/tourchat.db")
	t.Setenv("TOURCHAT_VERBOSE", "true")

	cfg := Load()

	assert.Equal(t, "https://chat.example.com", cfg.ServerURL)
	assert.Equal(t, 500*time.Millisecond, cfg.TypingQuietPeriod)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, "/var/lib/tourchat.db", cfg.DBPath)
	assert.True(t, cfg.Verbose)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("TOURCHAT_TYPING_QUIET_MS", "soon")
	t.Setenv("TOURCHAT_REQUEST_TIMEOUT", "-x")

	cfg := Load()

	assert.Equal(t, 1200*time.Millisecond, cfg.TypingQuietPeriod)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
}

func TestLoadRejectsNonPositiveDurations(t *testing.T) {
	t.Setenv("TOURCHAT_REQUEST_TIMEOUT", "-5")
	t.Setenv("TOURCHAT_HANDSHAKE_TIMEOUT", "0")
	t.Setenv("TOURCHAT_READ_TIMEOUT", "-1")
	t.Setenv("TOURCHAT_WRITE_TIMEOUT", "-30")
	t.Setenv("TOURCHAT_TYPING_QUIET_MS", "-100")

	cfg := Load()

	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 120*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 1200*time.Millisecond, cfg.TypingQuietPeriod)
}
