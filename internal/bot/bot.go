package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/espaspw/fairypelago/internal/archipelago"
	"github.com/espaspw/fairypelago/internal/config"
	"github.com/espaspw/fairypelago/internal/icons"
	"github.com/espaspw/fairypelago/internal/jobs"
	"github.com/espaspw/fairypelago/internal/relay"
	"github.com/espaspw/fairypelago/internal/scrape"
	"github.com/espaspw/fairypelago/internal/storage"
)

const (
	reactionSuccess        = "✅"
	reactionFailure        = "❌"
	reactionAlreadyRunning = "♻️"

	threadAutoArchiveMinutes = 10080 // one week
)

// Bot represents the Discord bot instance
type Bot struct {
	config  *config.Config
	session *discordgo.Session
	repo    *storage.Repository
	scraper *scrape.Scraper

	icons     *icons.Table
	manager   *relay.Manager
	scheduler *jobs.Scheduler
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	b := &Bot{
		config:  cfg,
		session: session,
		repo:    repo,
		scraper: scrape.NewScraper(),
	}

	return b, nil
}

// Start opens the Discord connection, restores persisted sessions, and
// starts background jobs
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Build the icon table from the application's uploaded emojis
	table, err := b.buildIconTable()
	if err != nil {
		return fmt.Errorf("failed to build icon table: %w", err)
	}
	b.icons = table

	b.manager = relay.NewManager(
		b.repo,
		&discordSender{session: b.session},
		b.repo,
		b.icons,
		func() relay.ProtocolClient { return archipelago.NewClient() },
	)

	// Restore persisted sessions. Restoration errors indicate corrupted
	// records; they are logged loudly but the healthy sessions still come up.
	if err := b.manager.InitFromStore(ctx, &discordResolver{session: b.session}); err != nil {
		slog.Error("Some sessions failed to restore", "error", err)
	}
	b.manager.StartAllClients(ctx)

	// Register message handlers
	b.session.AddHandler(b.handleMessageCreate)

	// Start the periodic reconnect and stale-eviction jobs
	scheduler, err := jobs.New(
		b.manager,
		time.Duration(b.config.ReconnectIntervalMinutes)*time.Minute,
		time.Duration(b.config.StaleSweepIntervalMinutes)*time.Minute,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	b.scheduler = scheduler
	b.scheduler.Start()

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	if b.scheduler != nil {
		b.scheduler.Stop()
	}

	if b.repo != nil {
		b.repo.Close()
	}

	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// buildIconTable resolves the declarative icon defs against the emojis
// uploaded to the bot application
func (b *Bot) buildIconTable() (*icons.Table, error) {
	emojis, err := b.session.ApplicationEmojis(b.config.DiscordApplicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch application emojis: %w", err)
	}

	byName := make(map[string]string, len(emojis))
	for _, emoji := range emojis {
		byName[emoji.Name] = emoji.MessageFormat()
	}
	slog.Info("Fetched application emojis", "count", len(byName))

	return icons.NewTable(icons.DefaultTableDef(), func(name string) (string, bool) {
		s, ok := byName[name]
		return s, ok
	})
}

// handleMessageCreate routes every inbound message: commands first, then
// relay traffic for session threads, then new-session announcements
func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	if b.handleCommand(s, m) {
		return
	}

	// Forward chat from an active session's thread into the session
	if b.manager.IsChannelOfExistingMultiworld(m.ChannelID) {
		forwarded, err := b.manager.SendMessage(m.ChannelID, relay.ForwardMarker(m.Author.Username, m.Content))
		if err != nil {
			slog.Error("Failed to forward message into session", "channelID", m.ChannelID, "error", err)
			return
		}
		if !forwarded {
			slog.Debug("Dropped forward, session not running", "channelID", m.ChannelID)
		}
		return
	}

	b.maybeCreateSession(s, m)
}

// maybeCreateSession opens a new session when a message contains a room link
func (b *Bot) maybeCreateSession(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID == "" {
		return
	}

	channel, err := s.Channel(m.ChannelID)
	if err != nil || channel.IsThread() {
		return
	}

	settings, err := b.repo.GetGuildSettings(m.GuildID)
	if err != nil || settings.LogChannelID == "" {
		return
	}

	roomURL, ok := scrape.ParseRoomURL(m.Content)
	if !ok {
		return
	}

	// If a session already exists for this room, point at its thread instead
	if existingID, ok := b.manager.ChannelIDFromRoomURL(roomURL.URL); ok {
		b.reply(s, m, fmt.Sprintf("A session for this room already exists: <#%s>", existingID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	roster, err := b.scraper.FetchRoomData(ctx, roomURL)
	if err != nil {
		// Scrape failures are surfaced to the user, never dropped silently
		slog.Error("Failed to scrape room page", "roomURL", roomURL.URL, "error", err)
		b.reply(s, m, fmt.Sprintf("Could not read the room page: %v", err))
		return
	}

	// Thread off the announcement, re-anchoring in the log channel if the
	// link was posted elsewhere
	anchorChannelID, anchorMessageID := m.ChannelID, m.ID
	if m.ChannelID != settings.LogChannelID {
		anchor, err := s.ChannelMessageSend(settings.LogChannelID, roomURL.URL)
		if err != nil {
			slog.Error("Failed to post room link to log channel", "guildID", m.GuildID, "error", err)
			b.reply(s, m, "Could not post to the configured log channel.")
			return
		}
		anchorChannelID, anchorMessageID = anchor.ChannelID, anchor.ID
	}

	thread, err := s.MessageThreadStartComplex(anchorChannelID, anchorMessageID, &discordgo.ThreadStart{
		Name:                threadName(roomURL.URL),
		AutoArchiveDuration: threadAutoArchiveMinutes,
	})
	if err != nil {
		slog.Error("Failed to create session thread", "guildID", m.GuildID, "error", err)
		b.reply(s, m, "Could not create a thread for the session.")
		return
	}

	if _, err := s.ChannelMessageSendComplex(thread.ID, RosterDisplay(roster)); err != nil {
		slog.Error("Failed to post roster display", "channelID", thread.ID, "error", err)
	}

	opts := relay.DefaultOptions()
	if len(settings.WhitelistedMessageTypes) > 0 {
		opts.Whitelist = parseWhitelist(settings.WhitelistedMessageTypes)
	}

	if _, err := b.manager.CreateClient(m.GuildID, thread.ID, *roster, opts); err != nil {
		// A second paste of the same link can win the race during the scrape
		// and thread creation above
		if errors.Is(err, relay.ErrRoomAlreadyTracked) {
			if existingID, ok := b.manager.ChannelIDFromRoomURL(roomURL.URL); ok {
				b.reply(s, m, fmt.Sprintf("A session for this room already exists: <#%s>", existingID))
				return
			}
		}
		slog.Error("Failed to create session client", "channelID", thread.ID, "error", err)
		b.reply(s, m, "Could not create the session client.")
		return
	}

	status, err := b.manager.StartClient(ctx, thread.ID)
	if err != nil {
		slog.Error("Failed to start session client", "channelID", thread.ID, "error", err)
	}
	b.reactForStatus(s, m, status)
}

func (b *Bot) reactForStatus(s *discordgo.Session, m *discordgo.MessageCreate, status relay.StartStatus) {
	reaction := reactionFailure
	switch status {
	case relay.StartSuccess:
		reaction = reactionSuccess
	case relay.StartAlreadyRunning:
		reaction = reactionAlreadyRunning
	}
	if err := s.MessageReactionAdd(m.ChannelID, m.ID, reaction); err != nil {
		slog.Warn("Failed to add reaction", "channelID", m.ChannelID, "error", err)
	}
}

func (b *Bot) reply(s *discordgo.Session, m *discordgo.MessageCreate, content string) {
	if _, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference()); err != nil {
		slog.Warn("Failed to send reply", "channelID", m.ChannelID, "error", err)
	}
}

// threadName derives a short thread title from the room URL
func threadName(roomURL string) string {
	id := path.Base(roomURL)
	if len(id) > 8 {
		id = id[:8]
	}
	return "Multiworld " + id
}

func parseWhitelist(names []string) []relay.MessageType {
	var out []relay.MessageType
	for _, name := range names {
		if t, ok := relay.ParseMessageType(name); ok {
			out = append(out, t)
		}
	}
	return out
}

// discordSender adapts discordgo to the relay's channel sender
type discordSender struct {
	session *discordgo.Session
}

func (d *discordSender) Send(channelID string, msg *discordgo.MessageSend) error {
	_, err := d.session.ChannelMessageSendComplex(channelID, msg)
	return err
}

// discordResolver verifies persisted guild/channel ids still resolve
type discordResolver struct {
	session *discordgo.Session
}

func (d *discordResolver) ResolveGuild(guildID string) error {
	if _, err := d.session.State.Guild(guildID); err == nil {
		return nil
	}
	_, err := d.session.Guild(guildID)
	return err
}

func (d *discordResolver) ResolveChannel(channelID string) error {
	if _, err := d.session.State.Channel(channelID); err == nil {
		return nil
	}
	_, err := d.session.Channel(channelID)
	return err
}
