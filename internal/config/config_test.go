package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_JWT_SECRET", "secret")
	unsetEnv(t, "REDIS_URL", "PORT", "APP_PORT", "APP_ENV", "APP_APP_ENV", "DOCK_RESPONSE_WINDOW", "ADMISSION_LOCK_TTL", "MONGO_DATABASE")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.True(t, cfg.App.IsDev())
	assert.Equal(t, 300*time.Second, cfg.Queue.DockResponseWindow)
	assert.Equal(t, 10*time.Second, cfg.Queue.AdmissionLockTTL)
	assert.Equal(t, "dockqueue", cfg.Store.MongoDatabase)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("APP_JWT_SECRET", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRequiresMongoURI(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "")
	t.Setenv("APP_JWT_SECRET", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
}

func TestValidateRejectsUnknownDriverAndMissingSecret(t *testing.T) {
	cfg := Config{
		Store:    StoreConfig{Driver: "cassandra"},
		Realtime: RealtimeConfig{JWTSecret: "x"},
		Queue:    QueueConfig{DockResponseWindow: time.Minute},
	}
	assert.Error(t, cfg.Validate())

	cfg.Store.Driver = StoreDriverMemory
	cfg.Realtime.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg.Realtime.JWTSecret = "x"
	assert.NoError(t, cfg.Validate())
}

func TestRedisEnabled(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled())
}

// unsetEnv removes keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
