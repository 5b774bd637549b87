package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espaspw/fairypelago/internal/archipelago"
	"github.com/espaspw/fairypelago/internal/icons"
)

// fakeSettings is an in-memory SettingsSource for formatter tests
type fakeSettings struct {
	flags  map[string]bool
	emojis map[string]string
}

func (f *fakeSettings) Flag(guildID, name string) bool {
	return f.flags[name]
}

func (f *fakeSettings) PlayerEmoji(guildID, alias string) (string, bool) {
	emoji, ok := f.emojis[alias]
	return emoji, ok
}

func newTestFormatter(settings *fakeSettings) *Formatter {
	if settings.flags == nil {
		settings.flags = map[string]bool{}
	}
	if settings.emojis == nil {
		settings.emojis = map[string]string{}
	}
	return NewFormatter("guild-1", settings, icons.NewEmptyTable(), true, true)
}

func TestConnectedSuppressesOwnJoin(t *testing.T) {
	f := newTestFormatter(&fakeSettings{})

	player := archipelago.Player{Slot: 1, Alias: "Alice", Game: "Hollow Knight"}

	msg := f.Connected("Alice joined", player, []string{"Discord", "Tracker", "TextOnly"})
	assert.Nil(t, msg, "joins carrying the Discord tag are the bot's own connection")

	msg = f.Connected("Alice joined", player, []string{"Tracker"})
	require.NotNil(t, msg)
	require.Len(t, msg.Embeds, 1)
	assert.Contains(t, msg.Embeds[0].Description, "Alice")
	assert.Contains(t, msg.Embeds[0].Description, "(Tracker)")
	assert.Equal(t, colorConnected, msg.Embeds[0].Color)
}

func TestChatSuppressesForwardedMessages(t *testing.T) {
	f := newTestFormatter(&fakeSettings{})
	player := archipelago.Player{Slot: 2, Alias: "Bob"}

	forwarded := ForwardMarker("bob_discord", "hello from discord")
	assert.Nil(t, f.Chat(forwarded, player), "relayed chat must not echo back")

	msg := f.Chat("hello from the game", player)
	require.NotNil(t, msg)
	require.Len(t, msg.Embeds, 1)
	assert.Contains(t, msg.Embeds[0].Description, "hello from the game")
}

func TestFormatPlayerEmojiModes(t *testing.T) {
	settings := &fakeSettings{
		emojis: map[string]string{"Alice": "<:knight:123>"},
	}
	f := newTestFormatter(settings)

	// Default mode prefixes the emoji
	assert.Equal(t, "<:knight:123> __Alice__", f.formatPlayer("Alice"))
	// No emoji configured: underlined alias only
	assert.Equal(t, "__Bob__", f.formatPlayer("Bob"))

	// Replacement mode drops the alias entirely
	settings.flags = map[string]bool{FlagReplaceAliasWithEmoji: true}
	assert.Equal(t, "<:knight:123>", f.formatPlayer("Alice"))
	// Replacement mode never hides players without an emoji
	assert.Equal(t, "__Bob__", f.formatPlayer("Bob"))
}

func TestIconTogglesDisableLookups(t *testing.T) {
	def := icons.TableDef{
		GameIcons: map[string]string{"Super Mario 64": "sm64_game"},
		ItemIcons: map[string][]icons.MatcherDef{
			"Super Mario 64": {{Exact: []string{"Wing Cap"}, Emoji: "sm64_wingcap"}},
		},
	}
	table, err := icons.NewTable(def, func(name string) (string, bool) {
		return "<:" + name + ":1>", true
	})
	require.NoError(t, err)

	settings := &fakeSettings{flags: map[string]bool{}, emojis: map[string]string{}}
	on := NewFormatter("guild-1", settings, table, true, true)
	off := NewFormatter("guild-1", settings, table, false, false)

	item := archipelago.Item{
		Name:   "Wing Cap",
		Game:   "Super Mario 64",
		Sender: archipelago.Player{Slot: 1, Alias: "Alice", Game: "Super Mario 64"},
	}

	assert.Equal(t, "<:sm64_wingcap:1> Wing Cap", on.formatItem(item))
	assert.Equal(t, "Wing Cap", off.formatItem(item))
	assert.Equal(t, "<:sm64_game:1>", on.formatGame(item))
	assert.Equal(t, "Super Mario 64", off.formatGame(item))
}

func TestFormatItemTierPriority(t *testing.T) {
	f := newTestFormatter(&fakeSettings{})

	tests := []struct {
		name string
		item archipelago.Item
		want string
	}{
		{"progression wins over everything", archipelago.Item{Progression: true, Useful: true, Trap: true}, "Progression"},
		{"useful", archipelago.Item{Useful: true}, "Useful"},
		{"filler", archipelago.Item{Filler: true}, "Junk"},
		{"trap", archipelago.Item{Trap: true}, "Trap"},
		{"no tier", archipelago.Item{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.formatItemTier(tt.item))
		})
	}
}

func TestItemSentSelfFoundPhrasing(t *testing.T) {
	f := newTestFormatter(&fakeSettings{})
	alice := archipelago.Player{Slot: 1, Alias: "Alice", Game: "Hollow Knight"}
	bob := archipelago.Player{Slot: 2, Alias: "Bob", Game: "Super Mario 64"}

	selfItem := archipelago.Item{Name: "Mothwing Cloak", Game: "Hollow Knight", LocationName: "Greenpath", Sender: alice, Receiver: alice, Progression: true}
	msg := f.ItemSent("", selfItem)
	require.NotNil(t, msg)
	assert.Contains(t, msg.Content, "found")
	assert.NotContains(t, msg.Content, "sent")

	crossItem := selfItem
	crossItem.Receiver = bob
	msg = f.ItemSent("", crossItem)
	require.NotNil(t, msg)
	assert.Contains(t, msg.Content, "sent")
	assert.Contains(t, msg.Content, "__Bob__")
}

func TestItemHintedFields(t *testing.T) {
	f := newTestFormatter(&fakeSettings{})
	item := archipelago.Item{
		Name:         "Progressive Sword",
		LocationName: "Kokiri Shop",
		Sender:       archipelago.Player{Slot: 1, Alias: "Alice"},
		Receiver:     archipelago.Player{Slot: 2, Alias: "Bob"},
	}

	msg := f.ItemHinted("", item)
	require.NotNil(t, msg)
	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "Progressive Sword", embed.Fields[0].Value)
	assert.Equal(t, "Kokiri Shop", embed.Fields[1].Value)
	assert.Equal(t, "Alice", embed.Fields[2].Value)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "Hint for Bob", embed.Footer.Text)
}

func TestGoaledEmbed(t *testing.T) {
	f := newTestFormatter(&fakeSettings{})
	msg := f.Goaled("", archipelago.Player{Slot: 1, Alias: "Alice"})
	require.NotNil(t, msg)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, colorGoal, msg.Embeds[0].Color)
	require.NotNil(t, msg.Embeds[0].Image)
	assert.NotEmpty(t, msg.Embeds[0].Image.URL)
}
