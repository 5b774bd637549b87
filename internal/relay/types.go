package relay

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/espaspw/fairypelago/internal/archipelago"
	"github.com/espaspw/fairypelago/internal/storage"
)

// MessageType is one relayable kind of session event. Guilds whitelist the
// types they want relayed; item-sent events are split per tier so each tier
// is independently toggleable.
type MessageType string

const (
	TypeConnected           MessageType = "connected"
	TypeDisconnected        MessageType = "disconnected"
	TypeItemSentProgression MessageType = "item-sent-progression"
	TypeItemSentUseful      MessageType = "item-sent-useful"
	TypeItemSentFiller      MessageType = "item-sent-filler"
	TypeItemSentTrap        MessageType = "item-sent-trap"
	TypeItemHinted          MessageType = "item-hinted"
	TypeItemCheated         MessageType = "item-cheated"
	TypeUserChat            MessageType = "user-chat"
	TypeServerChat          MessageType = "server-chat"
	TypeUserCommand         MessageType = "user-command"
	TypeServerCommand       MessageType = "server-command"
	TypeGoal                MessageType = "goal"
)

// AllMessageTypes lists every relayable message type, for validation and help text
var AllMessageTypes = []MessageType{
	TypeConnected,
	TypeDisconnected,
	TypeItemSentProgression,
	TypeItemSentUseful,
	TypeItemSentFiller,
	TypeItemSentTrap,
	TypeItemHinted,
	TypeItemCheated,
	TypeUserChat,
	TypeServerChat,
	TypeUserCommand,
	TypeServerCommand,
	TypeGoal,
}

// DefaultWhitelist is applied to guilds that have never configured one
var DefaultWhitelist = []MessageType{
	TypeConnected,
	TypeDisconnected,
	TypeItemSentProgression,
	TypeItemSentUseful,
	TypeItemSentFiller,
	TypeItemSentTrap,
	TypeItemHinted,
	TypeItemCheated,
	TypeUserChat,
	TypeServerChat,
	TypeGoal,
}

// ParseMessageType validates a user-supplied message type name
func ParseMessageType(s string) (MessageType, bool) {
	for _, t := range AllMessageTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// ChannelSender sends a rendered message to a Discord channel or thread.
// Implemented by the bot over discordgo; faked in tests.
type ChannelSender interface {
	Send(channelID string, msg *discordgo.MessageSend) error
}

// SettingsSource provides the per-guild display preferences the formatter
// reads on every event
type SettingsSource interface {
	Flag(guildID, name string) bool
	PlayerEmoji(guildID, alias string) (string, bool)
}

// ProtocolClient is the protocol connection a session client drives.
// *archipelago.Client satisfies it; tests substitute a fake.
type ProtocolClient interface {
	SetEventHandler(handler func(archipelago.Event))
	Login(ctx context.Context, host, slotName, password string, tags []string) error
	Say(text string) error
	FetchDataPackage(ctx context.Context) (*archipelago.DataPackage, error)
	AllLocations() []int64
	CheckedLocations() []int64
	Close() error
}

// SessionStore is the slice of persistence the relay needs. Implemented by
// *storage.Repository.
type SessionStore interface {
	ActiveSessions() ([]*storage.SessionRecord, error)
	FindSession(channelID string) (*storage.SessionRecord, error)
	CreateSession(rec *storage.SessionRecord) error
	DeleteSessions(channelIDs []string) error
	UpdateSessionConnected(channelID string, t time.Time) error
	UpdateSessionDisconnected(channelID string, t time.Time) error
	GetGuildSettings(guildID string) (*storage.GuildSettings, error)
}

// GuildChannelResolver verifies that a persisted guild/channel pair still
// resolves on the chat platform. An error marks that session's restoration as
// failed data, not a reason to skip it silently.
type GuildChannelResolver interface {
	ResolveGuild(guildID string) error
	ResolveChannel(channelID string) error
}
