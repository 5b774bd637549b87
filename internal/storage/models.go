package storage

import (
	"time"

	"github.com/espaspw/fairypelago/internal/scrape"
)

// SessionRecord represents one active multiworld session bound to a Discord channel
type SessionRecord struct {
	ChannelID          string
	GuildID            string
	RoomData           scrape.RoomData
	CreatedAt          time.Time
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
}

// GuildSettings stores per-server configuration
type GuildSettings struct {
	GuildID                 string
	WhitelistedMessageTypes []string
	PlayerEmojis            map[string]string // player alias -> emoji string
	Flags                   map[string]bool
	LogChannelID            string
	CommandPrefix           string
	CreatedAt               time.Time
}
