package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("EXECUTION_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.RoomGracePeriod)
	assert.Equal(t, 5*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, 128, cfg.ExecutionMemoryMB)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "./data/collabcode.db", cfg.DatabaseURL())
	assert.GreaterOrEqual(t, cfg.ExecutionWorkers, 4)
	assert.True(t, cfg.ExecutionBroadcast)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ROOM_GRACE_PERIOD", "2s")
	t.Setenv("EXECUTION_MEMORY_MB", "64")
	t.Setenv("EXECUTION_BROADCAST", "false")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.RoomGracePeriod)
	assert.Equal(t, 64, cfg.ExecutionMemoryMB)
	assert.False(t, cfg.ExecutionBroadcast)
	assert.Contains(t, cfg.DatabaseURL(), "host=db")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ROOM_GRACE_PERIOD", "soon")
	t.Setenv("EXECUTION_WORKERS", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RoomGracePeriod)
	assert.GreaterOrEqual(t, cfg.ExecutionWorkers, 4)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mongo")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
}

func TestOriginAllowed(t *testing.T) {
	cfg := &Config{AllowedOrigins: []string{"http://localhost:3000"}}
	assert.True(t, cfg.OriginAllowed("http://localhost:3000"))
	assert.True(t, cfg.OriginAllowed(""))
	assert.False(t, cfg.OriginAllowed("http://evil.example"))

	cfg.AllowedOrigins = []string{"*"}
	assert.True(t, cfg.OriginAllowed("http://evil.example"))
}
