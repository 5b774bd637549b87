package relay

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/espaspw/fairypelago/internal/archipelago"
	"github.com/espaspw/fairypelago/internal/icons"
)

// Embed accent colors per event kind
const (
	colorConnected    = 0xC8E9A0
	colorDisconnected = 0xA13D63
	colorHint         = 0x947EB0
	colorChat         = 0xDBABBE
	colorGoal         = 0xEFAAC4
)

// FlagReplaceAliasWithEmoji switches player rendering from emoji-prefixed
// alias to emoji only
const FlagReplaceAliasWithEmoji = "replace-alias-with-emoji-if-exists"

const goalImageURL = "https://64.media.tumblr.com/e93889ced23679be7a390829ff4f08c2/tumblr_on14f9HeMl1v857c1o1_400.gif"

// forwardedMsgRegex recognizes chat that the bot itself forwarded into the
// session, e.g. "[DISCORD] user :: hi". Matching messages are suppressed to
// prevent echo loops.
var forwardedMsgRegex = regexp.MustCompile(`^\[[a-zA-Z0-9_.]+\] .* :: `)

// ForwardMarker tags thread chat forwarded into the session so the relay can
// recognize it when it comes back
func ForwardMarker(username, content string) string {
	return fmt.Sprintf("[DISCORD] %s :: %s", username, content)
}

// Formatter renders protocol events into Discord messages for one guild,
// honoring the guild's display preferences. Pure except for read-only
// queries against the settings source and icon table.
type Formatter struct {
	guildID   string
	settings  SettingsSource
	icons     *icons.Table
	gameIcons bool
	itemIcons bool
}

// NewFormatter creates a formatter bound to one guild. The icon toggles
// disable game and item icon lookups for sessions that opted out.
func NewFormatter(guildID string, settings SettingsSource, iconTable *icons.Table, gameIcons, itemIcons bool) *Formatter {
	return &Formatter{
		guildID:   guildID,
		settings:  settings,
		icons:     iconTable,
		gameIcons: gameIcons,
		itemIcons: itemIcons,
	}
}

// makeTimestamp renders the event-processing time as a Discord timestamp.
// The protocol does not reliably supply event times.
func makeTimestamp() string {
	return fmt.Sprintf("<t:%d:T>", time.Now().Unix())
}

// formatPlayer renders a player alias, substituting or prefixing the guild's
// configured emoji for that alias
func (f *Formatter) formatPlayer(alias string) string {
	emoji, ok := f.settings.PlayerEmoji(f.guildID, alias)
	if !ok || emoji == "" {
		return fmt.Sprintf("__%s__", alias)
	}
	if f.settings.Flag(f.guildID, FlagReplaceAliasWithEmoji) {
		return emoji
	}
	return fmt.Sprintf("%s __%s__", emoji, alias)
}

// formatItem renders an item name with its icon when the table knows one
func (f *Formatter) formatItem(item archipelago.Item) string {
	if !f.itemIcons {
		return item.Name
	}
	icon, ok := f.icons.LookupItem(item.Game, item.Name)
	if !ok || icon == "" {
		return item.Name
	}
	return fmt.Sprintf("%s %s", icon, item.Name)
}

// formatGame renders the sender's game name or its icon
func (f *Formatter) formatGame(item archipelago.Item) string {
	if !f.gameIcons {
		return item.Sender.Game
	}
	icon, ok := f.icons.LookupGame(item.Sender.Game)
	if !ok || icon == "" {
		return item.Sender.Game
	}
	return icon
}

// formatItemTier renders the single tier tag for a sent item. Priority:
// progression, useful, filler, trap; at most one tag is ever shown.
func (f *Formatter) formatItemTier(item archipelago.Item) string {
	tierTag := func(tier, fallback string) string {
		if icon, ok := f.icons.TierIcon(tier); ok && icon != "" {
			return icon
		}
		return fallback
	}
	switch {
	case item.Progression:
		return tierTag(icons.TierProgression, "Progression")
	case item.Useful:
		return tierTag(icons.TierUseful, "Useful")
	case item.Filler:
		return tierTag(icons.TierFiller, "Junk")
	case item.Trap:
		return tierTag(icons.TierTrap, "Trap")
	default:
		return ""
	}
}

func embedMessage(color int, description string) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Color:       color,
			Description: description,
		}},
	}
}

// Connected renders a player join announcement. Returns nil for the bot's
// own join, detected via the Discord connection tag.
func (f *Formatter) Connected(content string, player archipelago.Player, tags []string) *discordgo.MessageSend {
	if containsTag(tags, "Discord") {
		return nil
	}
	description := fmt.Sprintf("%s | **%s** playing __%s__ has joined.", makeTimestamp(), f.formatPlayer(player.Alias), player.Game)
	if len(tags) != 0 {
		description += fmt.Sprintf(" (%s)", strings.Join(tags, ", "))
	}
	return embedMessage(colorConnected, description)
}

// Disconnected renders a player leave announcement
func (f *Formatter) Disconnected(content string, player archipelago.Player) *discordgo.MessageSend {
	description := fmt.Sprintf("%s | **%s** playing %s has left.", makeTimestamp(), f.formatPlayer(player.Alias), player.Game)
	return embedMessage(colorDisconnected, description)
}

// ItemSent renders an item transfer as a compact quoted line
func (f *Formatter) ItemSent(content string, item archipelago.Item) *discordgo.MessageSend {
	header := fmt.Sprintf("> -# %s | %s - **%s**", makeTimestamp(), f.formatGame(item), item.LocationName)
	var body string
	if item.Sender.Slot == item.Receiver.Slot {
		body = fmt.Sprintf("> %s %s found **%s**", f.formatItemTier(item), f.formatPlayer(item.Sender.Alias), f.formatItem(item))
	} else {
		body = fmt.Sprintf("> %s %s sent **%s** to %s", f.formatItemTier(item), f.formatPlayer(item.Sender.Alias), f.formatItem(item), f.formatPlayer(item.Receiver.Alias))
	}
	return &discordgo.MessageSend{Content: header + "\n" + body}
}

// ItemHinted renders a hint as an embed with item/location/world fields
func (f *Formatter) ItemHinted(content string, item archipelago.Item) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Color: colorHint,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Item", Value: item.Name, Inline: true},
				{Name: "Location", Value: item.LocationName, Inline: true},
				{Name: "World", Value: item.Sender.Alias, Inline: true},
			},
			Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Hint for %s", item.Receiver.Alias)},
			Timestamp: time.Now().Format(time.RFC3339),
		}},
	}
}

// ItemCheated renders a server-granted item transfer
func (f *Formatter) ItemCheated(content string, item archipelago.Item) *discordgo.MessageSend {
	header := fmt.Sprintf("> -# %s | Cheat", makeTimestamp())
	var body string
	if item.Sender.Slot == item.Receiver.Slot {
		body = fmt.Sprintf("> **%s** was given to %s, which was located at **%s**", f.formatItem(item), f.formatPlayer(item.Receiver.Alias), item.LocationName)
	} else {
		body = fmt.Sprintf("> **%s** was forcefully transferred from %s to %s, which was located at **%s**", f.formatItem(item), f.formatPlayer(item.Sender.Alias), f.formatPlayer(item.Receiver.Alias), item.LocationName)
	}
	return &discordgo.MessageSend{Content: header + "\n" + body}
}

// Chat renders player chat. Returns nil for messages the bot itself forwarded
// from Discord, to prevent echo loops.
func (f *Formatter) Chat(content string, player archipelago.Player) *discordgo.MessageSend {
	if forwardedMsgRegex.MatchString(content) {
		return nil
	}
	description := fmt.Sprintf("%s | **%s** : %s", makeTimestamp(), player.Alias, content)
	return embedMessage(colorChat, description)
}

// ServerChat renders a message from the server itself
func (f *Formatter) ServerChat(content string) *discordgo.MessageSend {
	description := fmt.Sprintf("%s | __**SERVER**__ : %s", makeTimestamp(), content)
	return embedMessage(colorChat, description)
}

// UserCommand renders the echoed result of a player command
func (f *Formatter) UserCommand(content string) *discordgo.MessageSend {
	description := fmt.Sprintf("%s | %s", makeTimestamp(), content)
	return embedMessage(colorChat, description)
}

// AdminCommand renders the echoed result of an admin command
func (f *Formatter) AdminCommand(content string) *discordgo.MessageSend {
	description := fmt.Sprintf("%s | __**ADMIN**__ :: %s", makeTimestamp(), content)
	return embedMessage(colorChat, description)
}

// Goaled renders a goal completion announcement
func (f *Formatter) Goaled(content string, player archipelago.Player) *discordgo.MessageSend {
	description := fmt.Sprintf("%s | **%s** has reached their objective!", makeTimestamp(), f.formatPlayer(player.Alias))
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Color:       colorGoal,
			Description: description,
			Image:       &discordgo.MessageEmbedImage{URL: goalImageURL},
		}},
	}
}

func containsTag(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
