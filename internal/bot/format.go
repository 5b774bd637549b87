package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/espaspw/fairypelago/internal/scrape"
)

const discordMessageLimit = 2000

const rosterColor = 0x947EB0

// RosterDisplay renders the scraped room roster as an embed posted at the top
// of a new session thread
func RosterDisplay(room *scrape.RoomData) *discordgo.MessageSend {
	var sb strings.Builder
	for _, player := range room.Players {
		fmt.Fprintf(&sb, "`%s` **%s** - %s", player.ID, player.Name, player.Game)
		var links []string
		if player.DownloadLink != "" {
			links = append(links, fmt.Sprintf("[patch](%s)", player.DownloadLink))
		}
		links = append(links, fmt.Sprintf("[tracker](%s)", player.TrackerPage))
		fmt.Fprintf(&sb, " (%s)\n", strings.Join(links, ", "))
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Multiworld Roster",
			URL:         ensureScheme(room.RoomURL),
			Description: sb.String(),
			Color:       rosterColor,
			Footer: &discordgo.MessageEmbedFooter{
				Text: "Port " + room.Port,
			},
		}},
	}
}

func ensureScheme(url string) string {
	if strings.Contains(url, "://") {
		return url
	}
	return "https://" + url
}

// SplitMessage splits text into chunks that fit Discord's message length cap,
// breaking on newlines where possible
func SplitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
