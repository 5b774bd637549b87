package icons

import (
	"fmt"
	"regexp"
	"sort"
)

// Item tiers recognized by the tier icon table
const (
	TierProgression = "progression"
	TierUseful      = "useful"
	TierFiller      = "filler"
	TierTrap        = "trap"
)

// MatcherDef declares which item names map to one emoji. Exact names are
// checked before patterns; patterns keep their registration order.
type MatcherDef struct {
	Exact    []string
	Patterns []string
	Emoji    string // emoji name, resolved to a display string at build time
}

// TableDef is the declarative source for a Table
type TableDef struct {
	GameIcons map[string]string       // game name -> emoji name
	TierIcons map[string]string       // tier -> emoji name
	ItemIcons map[string][]MatcherDef // game name -> item matchers
}

// EmojiResolver maps an emoji name to its sendable string form (for Discord,
// the <:name:id> mention). Returns false for unknown names.
type EmojiResolver func(name string) (string, bool)

type regexMatcher struct {
	pattern *regexp.Regexp
	emoji   string
}

type gameTable struct {
	exact map[string]string
	regex []regexMatcher
}

// Table is an immutable icon lookup table built once at startup and injected
// wherever icon lookups are needed
type Table struct {
	games map[string]string
	tiers map[string]string
	items map[string]*gameTable
}

// NewTable compiles a TableDef against an emoji resolver. Emoji names the
// resolver does not know resolve to the empty string, matching a guild that
// has not uploaded that emoji.
func NewTable(def TableDef, resolve EmojiResolver) (*Table, error) {
	lookup := func(name string) string {
		if s, ok := resolve(name); ok {
			return s
		}
		return ""
	}

	t := &Table{
		games: make(map[string]string, len(def.GameIcons)),
		tiers: make(map[string]string, len(def.TierIcons)),
		items: make(map[string]*gameTable, len(def.ItemIcons)),
	}
	for game, emojiName := range def.GameIcons {
		t.games[game] = lookup(emojiName)
	}
	for tier, emojiName := range def.TierIcons {
		t.tiers[tier] = lookup(emojiName)
	}
	for game, matchers := range def.ItemIcons {
		gt := &gameTable{exact: make(map[string]string)}
		for _, matcher := range matchers {
			emoji := lookup(matcher.Emoji)
			for _, name := range matcher.Exact {
				gt.exact[name] = emoji
			}
			for _, pattern := range matcher.Patterns {
				compiled, err := regexp.Compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("failed to compile item pattern %q for game %q: %w", pattern, game, err)
				}
				gt.regex = append(gt.regex, regexMatcher{pattern: compiled, emoji: emoji})
			}
		}
		t.items[game] = gt
	}
	return t, nil
}

// NewEmptyTable returns a table with no entries; every lookup misses
func NewEmptyTable() *Table {
	t, _ := NewTable(TableDef{}, func(string) (string, bool) { return "", false })
	return t
}

// LookupItem finds the icon for an item name: exact match first, then the
// first matching pattern in registration order
func (t *Table) LookupItem(game, item string) (string, bool) {
	gt, ok := t.items[game]
	if !ok {
		return "", false
	}
	if emoji, ok := gt.exact[item]; ok {
		return emoji, true
	}
	for _, m := range gt.regex {
		if m.pattern.MatchString(item) {
			return m.emoji, true
		}
	}
	return "", false
}

// LookupGame finds the icon registered for a game
func (t *Table) LookupGame(game string) (string, bool) {
	emoji, ok := t.games[game]
	return emoji, ok
}

// TierIcon finds the icon for an item tier
func (t *Table) TierIcon(tier string) (string, bool) {
	emoji, ok := t.tiers[tier]
	return emoji, ok
}

// SupportedGames lists every game with item matchers, sorted for display
func (t *Table) SupportedGames() []string {
	games := make([]string, 0, len(t.items))
	for game := range t.items {
		games = append(games, game)
	}
	sort.Strings(games)
	return games
}

// EmojiList returns every matcher for a game keyed by its exact name or
// pattern source, for the icon lookup command
func (t *Table) EmojiList(game string) map[string]string {
	gt, ok := t.items[game]
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(gt.exact)+len(gt.regex))
	for name, emoji := range gt.exact {
		out[name] = emoji
	}
	for _, m := range gt.regex {
		out[m.pattern.String()] = m.emoji
	}
	return out
}
