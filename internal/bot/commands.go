package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/espaspw/fairypelago/internal/relay"
)

const helpText = "**Commands**\n" +
	"`help` - show this message\n" +
	"`ping` - check that the bot is alive\n" +
	"`echo <text>` - repeat text back\n" +
	"`start` - restart the session in this thread\n" +
	"`set-log-channel` - use the current channel for new session threads\n" +
	"`set-prefix <prefix>` - change the command prefix for this server\n" +
	"`set-player-emoji <alias> <emoji>` - show an emoji next to a player\n" +
	"`remove-player-emoji <alias>` - remove a player's emoji\n" +
	"`set-item-message <type> <on|off>` - toggle a relayed message type\n" +
	"`lookup-icon <game>` - list the item icons known for a game\n" +
	"`games` - list games with icon support\n" +
	"`debug` - show session diagnostics"

// handleCommand dispatches prefix commands. Returns false when the message is
// not a command so the caller can treat it as regular traffic.
func (b *Bot) handleCommand(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	prefix := b.commandPrefix(m.GuildID)
	if !strings.HasPrefix(m.Content, prefix) {
		return false
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return false
	}
	command, args := fields[0], fields[1:]

	slog.Info("Handling command", "command", command, "guildID", m.GuildID, "user", m.Author.Username)

	switch command {
	case "help":
		b.reply(s, m, helpText)
	case "ping":
		b.reply(s, m, "Pong!")
	case "echo":
		if len(args) > 0 {
			b.reply(s, m, strings.Join(args, " "))
		}
	case "start":
		b.handleStart(s, m)
	case "set-log-channel":
		b.handleSetLogChannel(s, m)
	case "set-prefix":
		b.handleSetPrefix(s, m, args)
	case "set-player-emoji":
		b.handleSetPlayerEmoji(s, m, args)
	case "remove-player-emoji":
		b.handleRemovePlayerEmoji(s, m, args)
	case "set-item-message":
		b.handleSetItemMessage(s, m, args)
	case "lookup-icon":
		b.handleLookupIcon(s, m, args)
	case "games":
		b.reply(s, m, "Games with icon support: "+strings.Join(b.icons.SupportedGames(), ", "))
	case "debug":
		b.handleDebug(s, m)
	default:
		return false
	}
	return true
}

// commandPrefix returns the guild's configured prefix, or the default
func (b *Bot) commandPrefix(guildID string) string {
	if guildID == "" {
		return b.config.DefaultCommandPrefix
	}
	settings, err := b.repo.GetGuildSettings(guildID)
	if err != nil || settings.CommandPrefix == "" {
		return b.config.DefaultCommandPrefix
	}
	return settings.CommandPrefix
}

// requireManager gates settings commands behind the Manage Server permission
func (b *Bot) requireManager(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		slog.Warn("Failed to check permissions", "channelID", m.ChannelID, "error", err)
		return false
	}
	if perms&discordgo.PermissionManageGuild == 0 {
		b.reply(s, m, "You need the Manage Server permission to do that.")
		return false
	}
	return true
}

func (b *Bot) handleStart(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !b.manager.IsChannelOfExistingMultiworld(m.ChannelID) {
		b.reply(s, m, "This channel has no session to start.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	status, err := b.manager.StartClient(ctx, m.ChannelID)
	if err != nil {
		slog.Error("Failed to start session client", "channelID", m.ChannelID, "error", err)
	}
	b.reactForStatus(s, m, status)
}

func (b *Bot) handleSetLogChannel(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID == "" || !b.requireManager(s, m) {
		return
	}
	if err := b.repo.SetLogChannel(m.GuildID, m.ChannelID); err != nil {
		slog.Error("Failed to set log channel", "guildID", m.GuildID, "error", err)
		b.reply(s, m, "Could not save the log channel.")
		return
	}
	b.reply(s, m, fmt.Sprintf("Room links posted in this server will open session threads under <#%s>.", m.ChannelID))
}

func (b *Bot) handleSetPrefix(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if m.GuildID == "" || !b.requireManager(s, m) {
		return
	}
	if len(args) != 1 || len(args[0]) > 16 {
		b.reply(s, m, "Usage: `set-prefix <prefix>` (16 characters max)")
		return
	}
	if err := b.repo.SetCommandPrefix(m.GuildID, args[0]); err != nil {
		slog.Error("Failed to set command prefix", "guildID", m.GuildID, "error", err)
		b.reply(s, m, "Could not save the prefix.")
		return
	}
	b.reply(s, m, fmt.Sprintf("Command prefix is now `%s`.", args[0]))
}

func (b *Bot) handleSetPlayerEmoji(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if m.GuildID == "" || !b.requireManager(s, m) {
		return
	}
	if len(args) != 2 {
		b.reply(s, m, "Usage: `set-player-emoji <alias> <emoji>`")
		return
	}
	if err := b.repo.SetPlayerEmoji(m.GuildID, args[0], args[1]); err != nil {
		slog.Error("Failed to set player emoji", "guildID", m.GuildID, "error", err)
		b.reply(s, m, "Could not save the emoji.")
		return
	}
	b.reply(s, m, fmt.Sprintf("%s will now appear next to **%s**.", args[1], args[0]))
}

func (b *Bot) handleRemovePlayerEmoji(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if m.GuildID == "" || !b.requireManager(s, m) {
		return
	}
	if len(args) != 1 {
		b.reply(s, m, "Usage: `remove-player-emoji <alias>`")
		return
	}
	if err := b.repo.RemovePlayerEmoji(m.GuildID, args[0]); err != nil {
		slog.Error("Failed to remove player emoji", "guildID", m.GuildID, "error", err)
		b.reply(s, m, "Could not remove the emoji.")
		return
	}
	b.reply(s, m, fmt.Sprintf("Removed the emoji for **%s**.", args[0]))
}

// handleSetItemMessage toggles one message type in the guild whitelist and
// applies the change to every live session in the guild
func (b *Bot) handleSetItemMessage(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if m.GuildID == "" || !b.requireManager(s, m) {
		return
	}
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		b.reply(s, m, "Usage: `set-item-message <type> <on|off>`\nTypes: "+messageTypeNames())
		return
	}

	msgType, ok := relay.ParseMessageType(args[0])
	if !ok {
		b.reply(s, m, fmt.Sprintf("Unknown message type `%s`. Types: %s", args[0], messageTypeNames()))
		return
	}
	enable := args[1] == "on"

	settings, err := b.repo.GetGuildSettings(m.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "guildID", m.GuildID, "error", err)
		b.reply(s, m, "Could not load the current settings.")
		return
	}

	whitelist := settings.WhitelistedMessageTypes
	if len(whitelist) == 0 {
		for _, t := range relay.DefaultWhitelist {
			whitelist = append(whitelist, string(t))
		}
	}
	whitelist = toggleEntry(whitelist, string(msgType), enable)

	if err := b.repo.SetWhitelist(m.GuildID, whitelist); err != nil {
		slog.Error("Failed to save whitelist", "guildID", m.GuildID, "error", err)
		b.reply(s, m, "Could not save the setting.")
		return
	}

	// Live sessions pick the change up immediately
	for _, client := range b.manager.ClientsFor(m.GuildID, "") {
		if enable {
			client.AddWhitelistType(msgType)
		} else {
			client.RemoveWhitelistType(msgType)
		}
	}

	state := "off"
	if enable {
		state = "on"
	}
	b.reply(s, m, fmt.Sprintf("Turned `%s` messages %s.", msgType, state))
}

func (b *Bot) handleLookupIcon(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(s, m, "Usage: `lookup-icon <game>`")
		return
	}
	game := strings.Join(args, " ")
	entries := b.icons.EmojiList(game)
	if len(entries) == 0 {
		b.reply(s, m, fmt.Sprintf("No icons known for **%s**. Games with icon support: %s", game, strings.Join(b.icons.SupportedGames(), ", ")))
		return
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		emoji := entries[name]
		if emoji == "" {
			emoji = "(no emoji uploaded)"
		}
		lines = append(lines, fmt.Sprintf("%s `%s`", emoji, name))
	}

	for _, chunk := range SplitMessage(strings.Join(lines, "\n"), discordMessageLimit) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			slog.Warn("Failed to send icon list", "channelID", m.ChannelID, "error", err)
			return
		}
	}
}

// handleDebug dumps the state of every session in the guild
func (b *Bot) handleDebug(s *discordgo.Session, m *discordgo.MessageCreate) {
	clients := b.manager.ClientsFor(m.GuildID, "")
	if len(clients) == 0 {
		b.reply(s, m, "No sessions in this server.")
		return
	}

	var sb strings.Builder
	for _, client := range clients {
		fmt.Fprintf(&sb, "<#%s> state=%s created=%s", client.ChannelID(), client.State(), client.CreatedAt().Format("2006-01-02"))
		if t := client.LastConnectedAt(); t != nil {
			fmt.Fprintf(&sb, " connected=%s", t.Format("2006-01-02 15:04"))
		}
		if t := client.LastDisconnectedAt(); t != nil {
			fmt.Fprintf(&sb, " disconnected=%s", t.Format("2006-01-02 15:04"))
		}
		if err := client.LastError(); err != nil {
			fmt.Fprintf(&sb, " lastError=%q", err.Error())
		}
		sb.WriteString("\n")
	}
	for _, chunk := range SplitMessage(sb.String(), discordMessageLimit) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			slog.Warn("Failed to send debug output", "channelID", m.ChannelID, "error", err)
			return
		}
	}
}

func messageTypeNames() string {
	names := make([]string, 0, len(relay.AllMessageTypes))
	for _, t := range relay.AllMessageTypes {
		names = append(names, "`"+string(t)+"`")
	}
	return strings.Join(names, ", ")
}

// toggleEntry adds or removes a value from a string list without duplicating it
func toggleEntry(list []string, value string, add bool) []string {
	out := make([]string, 0, len(list)+1)
	for _, entry := range list {
		if entry != value {
			out = append(out, entry)
		}
	}
	if add {
		out = append(out, value)
	}
	return out
}
