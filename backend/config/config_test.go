package config

import (
	"log/slog"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Load(New())

	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, "habittree", cfg.DBName)
	assert.Equal(t, 2, cfg.ProgressConsumers)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "HabitTree", cfg.KeyringService)
	assert.Empty(t, cfg.MongoDBURI)
	assert.False(t, cfg.UseTransactions)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "UTC", cfg.Location.String())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HABITTREE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HABITTREE_PROGRESS_CONSUMERS", "4")
	t.Setenv("HABITTREE_TIMEZONE", "America/Toronto")
	t.Setenv("HABITTREE_USE_TRANSACTIONS", "true")

	cfg := Load(New())
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 4, cfg.ProgressConsumers)
	assert.True(t, cfg.UseTransactions)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "America/Toronto", cfg.Location.String())
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("HABITTREE_DB_NAME", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyDBName, "habittree", "")
	require.NoError(t, flags.Parse([]string{"--db-name=from-flag"}))

	v := New()
	require.NoError(t, BindFlags(v, flags))
	assert.Equal(t, "from-flag", Load(v).DBName)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Load(New())
		cfg.JWTSigningKey = "secret"
		return cfg
	}

	require.NoError(t, base().ValidateServe())

	cfg := base()
	cfg.JWTSigningKey = ""
	assert.Error(t, cfg.ValidateServe())
	assert.NoError(t, cfg.Validate(), "the shell does not need a signing key")

	cfg = base()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ProgressConsumers = 0
	assert.Error(t, cfg.ValidateServe())

	cfg = base()
	cfg.UseTransactions = true
	assert.Error(t, cfg.ValidateServe())

	cfg = base()
	cfg.ServerURL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.LogLevel = "debug"
	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
	cfg.LogLevel = "chatty"
	assert.Error(t, cfg.Validate())
}
