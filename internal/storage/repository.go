package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("storage: record not found")

// Repository handles all database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			channel_id VARCHAR(20) PRIMARY KEY,
			guild_id VARCHAR(20) NOT NULL,
			room_data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_connected_at TIMESTAMP,
			last_disconnected_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id VARCHAR(20) PRIMARY KEY,
			whitelist TEXT NOT NULL DEFAULT '[]',
			player_emojis TEXT NOT NULL DEFAULT '{}',
			flags TEXT NOT NULL DEFAULT '{}',
			log_channel_id VARCHAR(20) NOT NULL DEFAULT '',
			command_prefix VARCHAR(32) NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_guild ON sessions(guild_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Session operations

// CreateSession inserts a new session record
func (r *Repository) CreateSession(rec *SessionRecord) error {
	roomData, err := json.Marshal(rec.RoomData)
	if err != nil {
		return fmt.Errorf("failed to encode room data: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO sessions (channel_id, guild_id, room_data, created_at, last_connected_at, last_disconnected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ChannelID, rec.GuildID, string(roomData), rec.CreatedAt, rec.LastConnectedAt, rec.LastDisconnectedAt,
	)
	return err
}

// FindSession returns the session record for a channel, or ErrNotFound
func (r *Repository) FindSession(channelID string) (*SessionRecord, error) {
	row := r.db.QueryRow(
		`SELECT channel_id, guild_id, room_data, created_at, last_connected_at, last_disconnected_at
		 FROM sessions WHERE channel_id = ?`,
		channelID,
	)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ActiveSessions returns all persisted session records
func (r *Repository) ActiveSessions() ([]*SessionRecord, error) {
	rows, err := r.db.Query(
		`SELECT channel_id, guild_id, room_data, created_at, last_connected_at, last_disconnected_at FROM sessions`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteSessions removes a batch of session records by channel id
func (r *Repository) DeleteSessions(channelIDs []string) error {
	if len(channelIDs) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(channelIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(channelIDs))
	for i, id := range channelIDs {
		args[i] = id
	}

	_, err := r.db.Exec(
		`DELETE FROM sessions WHERE channel_id IN (`+placeholders+`)`,
		args...,
	)
	return err
}

// UpdateSessionConnected records the time of a successful connection
func (r *Repository) UpdateSessionConnected(channelID string, t time.Time) error {
	_, err := r.db.Exec(
		`UPDATE sessions SET last_connected_at = ? WHERE channel_id = ?`,
		t, channelID,
	)
	return err
}

// UpdateSessionDisconnected records the time of a transport-level disconnect
func (r *Repository) UpdateSessionDisconnected(channelID string, t time.Time) error {
	_, err := r.db.Exec(
		`UPDATE sessions SET last_disconnected_at = ? WHERE channel_id = ?`,
		t, channelID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	rec := &SessionRecord{}
	var roomData string
	var lastConnected, lastDisconnected sql.NullTime
	err := row.Scan(&rec.ChannelID, &rec.GuildID, &roomData, &rec.CreatedAt, &lastConnected, &lastDisconnected)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roomData), &rec.RoomData); err != nil {
		return nil, fmt.Errorf("failed to decode room data for channel %s: %w", rec.ChannelID, err)
	}
	if lastConnected.Valid {
		t := lastConnected.Time
		rec.LastConnectedAt = &t
	}
	if lastDisconnected.Valid {
		t := lastDisconnected.Time
		rec.LastDisconnectedAt = &t
	}
	return rec, nil
}

// Guild settings operations

// GetGuildSettings retrieves guild settings, returning zero-value defaults
// when the guild has never been written. Settings rows are created lazily on
// first write.
func (r *Repository) GetGuildSettings(guildID string) (*GuildSettings, error) {
	settings := &GuildSettings{GuildID: guildID}
	var whitelist, playerEmojis, flags string
	err := r.db.QueryRow(
		`SELECT guild_id, whitelist, player_emojis, flags, log_channel_id, command_prefix, created_at
		 FROM guild_settings WHERE guild_id = ?`,
		guildID,
	).Scan(&settings.GuildID, &whitelist, &playerEmojis, &flags, &settings.LogChannelID, &settings.CommandPrefix, &settings.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		settings.PlayerEmojis = map[string]string{}
		settings.Flags = map[string]bool{}
		return settings, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(whitelist), &settings.WhitelistedMessageTypes); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist for guild %s: %w", guildID, err)
	}
	if err := json.Unmarshal([]byte(playerEmojis), &settings.PlayerEmojis); err != nil {
		return nil, fmt.Errorf("failed to decode player emojis for guild %s: %w", guildID, err)
	}
	if err := json.Unmarshal([]byte(flags), &settings.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode flags for guild %s: %w", guildID, err)
	}
	return settings, nil
}

// ensureGuildRow creates an empty settings row for a guild if missing
func (r *Repository) ensureGuildRow(guildID string) error {
	_, err := r.db.Exec(
		`INSERT INTO guild_settings (guild_id) VALUES (?) ON CONFLICT(guild_id) DO NOTHING`,
		guildID,
	)
	return err
}

// SetLogChannel sets the channel the bot watches for room links
func (r *Repository) SetLogChannel(guildID, channelID string) error {
	if err := r.ensureGuildRow(guildID); err != nil {
		return err
	}
	_, err := r.db.Exec(
		`UPDATE guild_settings SET log_channel_id = ? WHERE guild_id = ?`,
		channelID, guildID,
	)
	return err
}

// SetCommandPrefix sets the per-guild command prefix
func (r *Repository) SetCommandPrefix(guildID, prefix string) error {
	if err := r.ensureGuildRow(guildID); err != nil {
		return err
	}
	_, err := r.db.Exec(
		`UPDATE guild_settings SET command_prefix = ? WHERE guild_id = ?`,
		prefix, guildID,
	)
	return err
}

// SetWhitelist replaces the guild's whitelisted message types
func (r *Repository) SetWhitelist(guildID string, types []string) error {
	if err := r.ensureGuildRow(guildID); err != nil {
		return err
	}
	encoded, err := json.Marshal(types)
	if err != nil {
		return fmt.Errorf("failed to encode whitelist: %w", err)
	}
	_, err = r.db.Exec(
		`UPDATE guild_settings SET whitelist = ? WHERE guild_id = ?`,
		string(encoded), guildID,
	)
	return err
}

// SetPlayerEmoji maps a player alias to an emoji string for display
func (r *Repository) SetPlayerEmoji(guildID, alias, emoji string) error {
	settings, err := r.GetGuildSettings(guildID)
	if err != nil {
		return err
	}
	settings.PlayerEmojis[alias] = emoji
	return r.writePlayerEmojis(guildID, settings.PlayerEmojis)
}

// RemovePlayerEmoji removes a player alias emoji mapping
func (r *Repository) RemovePlayerEmoji(guildID, alias string) error {
	settings, err := r.GetGuildSettings(guildID)
	if err != nil {
		return err
	}
	delete(settings.PlayerEmojis, alias)
	return r.writePlayerEmojis(guildID, settings.PlayerEmojis)
}

func (r *Repository) writePlayerEmojis(guildID string, emojis map[string]string) error {
	if err := r.ensureGuildRow(guildID); err != nil {
		return err
	}
	encoded, err := json.Marshal(emojis)
	if err != nil {
		return fmt.Errorf("failed to encode player emojis: %w", err)
	}
	_, err = r.db.Exec(
		`UPDATE guild_settings SET player_emojis = ? WHERE guild_id = ?`,
		string(encoded), guildID,
	)
	return err
}

// SetFlag sets a per-guild display toggle
func (r *Repository) SetFlag(guildID, name string, value bool) error {
	settings, err := r.GetGuildSettings(guildID)
	if err != nil {
		return err
	}
	settings.Flags[name] = value

	if err := r.ensureGuildRow(guildID); err != nil {
		return err
	}
	encoded, err := json.Marshal(settings.Flags)
	if err != nil {
		return fmt.Errorf("failed to encode flags: %w", err)
	}
	_, err = r.db.Exec(
		`UPDATE guild_settings SET flags = ? WHERE guild_id = ?`,
		string(encoded), guildID,
	)
	return err
}

// Flag reads a single display toggle. Missing flags read as false.
func (r *Repository) Flag(guildID, name string) bool {
	settings, err := r.GetGuildSettings(guildID)
	if err != nil {
		return false
	}
	return settings.Flags[name]
}

// PlayerEmoji reads the emoji mapped to a player alias, if any
func (r *Repository) PlayerEmoji(guildID, alias string) (string, bool) {
	settings, err := r.GetGuildSettings(guildID)
	if err != nil {
		return "", false
	}
	emoji, ok := settings.PlayerEmojis[alias]
	return emoji, ok
}
