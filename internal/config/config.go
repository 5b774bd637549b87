package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string

	// Database
	DatabasePath string

	// Commands
	DefaultCommandPrefix string

	// Background jobs
	ReconnectIntervalMinutes  int
	StaleSweepIntervalMinutes int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:         os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", "./data/bot.db"),
		DefaultCommandPrefix: getEnvOrDefault("COMMAND_PREFIX", "!ap"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
	}

	reconnect, err := getEnvIntOrDefault("RECONNECT_INTERVAL_MINUTES", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_INTERVAL_MINUTES: %w", err)
	}
	cfg.ReconnectIntervalMinutes = reconnect

	sweep, err := getEnvIntOrDefault("STALE_SWEEP_INTERVAL_MINUTES", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid STALE_SWEEP_INTERVAL_MINUTES: %w", err)
	}
	cfg.StaleSweepIntervalMinutes = sweep

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.DiscordApplicationID == "" {
		return nil, fmt.Errorf("DISCORD_APPLICATION_ID is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}
