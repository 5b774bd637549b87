package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("DISCORD_APPLICATION_ID", "app-123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.DiscordToken)
	assert.Equal(t, "app-123", cfg.DiscordApplicationID)
	assert.Equal(t, "./data/bot.db", cfg.DatabasePath)
	assert.Equal(t, "!ap", cfg.DefaultCommandPrefix)
	assert.Equal(t, 30, cfg.ReconnectIntervalMinutes)
	assert.Equal(t, 30, cfg.StaleSweepIntervalMinutes)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("DISCORD_APPLICATION_ID", "app-123")
	t.Setenv("DATABASE_PATH", "/tmp/other.db")
	t.Setenv("COMMAND_PREFIX", "!!")
	t.Setenv("RECONNECT_INTERVAL_MINUTES", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.db", cfg.DatabasePath)
	assert.Equal(t, "!!", cfg.DefaultCommandPrefix)
	assert.Equal(t, 5, cfg.ReconnectIntervalMinutes)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DISCORD_APPLICATION_ID", "app-123")
	_, err := Load()
	assert.ErrorContains(t, err, "DISCORD_BOT_TOKEN")

	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("DISCORD_APPLICATION_ID", "")
	_, err = Load()
	assert.ErrorContains(t, err, "DISCORD_APPLICATION_ID")
}

func TestLoadInvalidInterval(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("DISCORD_APPLICATION_ID", "app-123")
	t.Setenv("RECONNECT_INTERVAL_MINUTES", "not-a-number")

	_, err := Load()
	assert.ErrorContains(t, err, "RECONNECT_INTERVAL_MINUTES")
}
