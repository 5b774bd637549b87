package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/espaspw/fairypelago/internal/archipelago"
	"github.com/espaspw/fairypelago/internal/scrape"
)

// State is the session client connection state
type State int

const (
	// StateStopped is the initial state, re-entered after a transport drop.
	// Stopped clients are retried by the periodic batch start.
	StateStopped State = iota
	// StateRunning means the handshake succeeded and events are flowing
	StateRunning
	// StateFailed means the server was unreachable or refused the connection.
	// Failed clients are only retried on explicit request.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// connectionTags mark the connection as a non-interactive observer so the
// session does not announce the bot as a duplicate player
var connectionTags = []string{"Discord", "Tracker", "TextOnly"}

const disconnectNotice = "Lost connection to the Archipelago server. " +
	"Reconnection will be attempted periodically, or restart the session explicitly with the start command."

// Options configure one session client. The whitelist is snapshotted at
// construction and deliberately not live-updated when guild settings change;
// a session keeps the relay behavior it was created with.
type Options struct {
	Whitelist       []MessageType
	EnableGameIcons bool
	EnableItemIcons bool
	HideFoundHints  bool
}

// DefaultOptions returns the options applied when a guild has not configured any
func DefaultOptions() Options {
	return Options{
		Whitelist:       DefaultWhitelist,
		EnableGameIcons: true,
		EnableItemIcons: true,
		HideFoundHints:  true,
	}
}

// SessionClient wraps one protocol connection bound to one Discord channel.
// It drives the connection state machine, filters inbound events through the
// whitelist and goal cache, and relays rendered messages to the channel.
type SessionClient struct {
	proto     ProtocolClient
	roster    scrape.RoomData
	guildID   string
	channelID string
	sender    ChannelSender
	formatter *Formatter
	store     SessionStore
	opts      Options

	mu                 sync.Mutex
	state              State
	lastErr            error
	whitelist          map[MessageType]bool
	createdAt          time.Time
	lastConnectedAt    *time.Time
	lastDisconnectedAt *time.Time
	dataPackage        *archipelago.DataPackage

	// goalCache holds aliases of players who completed their objective.
	// Mainly used to prevent message spam after a goal, so persistence is
	// not needed; it resets on process restart.
	goalCache map[string]struct{}
}

// NewSessionClient builds a wrapper and subscribes it to the protocol
// client's event stream
func NewSessionClient(proto ProtocolClient, roster scrape.RoomData, guildID, channelID string, sender ChannelSender, formatter *Formatter, store SessionStore, opts Options) *SessionClient {
	whitelist := make(map[MessageType]bool, len(opts.Whitelist))
	for _, t := range opts.Whitelist {
		whitelist[t] = true
	}

	c := &SessionClient{
		proto:     proto,
		roster:    roster,
		guildID:   guildID,
		channelID: channelID,
		sender:    sender,
		formatter: formatter,
		store:     store,
		opts:      opts,
		state:     StateStopped,
		whitelist: whitelist,
		createdAt: time.Now(),
		goalCache: make(map[string]struct{}),
	}
	c.attachListeners()
	return c
}

// attachListeners subscribes to the protocol event stream. Dispatch is
// fault-isolated: a panic or error in one handler is logged and never crashes
// the relay.
func (c *SessionClient) attachListeners() {
	c.proto.SetEventHandler(c.handleEvent)
}

// Start attempts the protocol connection using the roster's first player
// identity. On success the client transitions to Running and eagerly caches
// the data package; an unreachable server yields Failed (no auto-retry), any
// other failure yields Stopped (retried by the next batch start).
func (c *SessionClient) Start(ctx context.Context) error {
	if len(c.roster.Players) == 0 {
		c.setState(StateStopped, errors.New("roster has no players"))
		return errors.New("roster has no players")
	}

	err := c.proto.Login(ctx, c.host(), c.roster.Players[0].Name, "", connectionTags)
	if err != nil {
		if errors.Is(err, archipelago.ErrServerUnreachable) {
			slog.Warn("Failed to connect to Archipelago server",
				"roomURL", c.roster.RoomURL, "channelID", c.channelID, "error", err)
			c.setState(StateFailed, err)
			return err
		}
		c.setState(StateStopped, err)
		return err
	}

	now := time.Now()
	c.mu.Lock()
	c.state = StateRunning
	c.lastErr = nil
	c.lastConnectedAt = &now
	c.mu.Unlock()

	slog.Info("Connected to Archipelago server",
		"roomURL", c.roster.RoomURL, "channelID", c.channelID)

	if c.store != nil {
		if err := c.store.UpdateSessionConnected(c.channelID, now); err != nil {
			slog.Error("Failed to persist connect timestamp", "channelID", c.channelID, "error", err)
		}
	}

	if _, err := c.FetchPackage(ctx, false); err != nil {
		slog.Warn("Failed to fetch data package", "channelID", c.channelID, "error", err)
	}
	return nil
}

// host derives the server address from the roster: the room page host plus
// the session's assigned port
func (c *SessionClient) host() string {
	hostname := "archipelago.gg"
	if u, err := url.Parse(normalizeRoomURL(c.roster.RoomURL)); err == nil && u.Hostname() != "" {
		hostname = u.Hostname()
	}
	return fmt.Sprintf("%s:%s", hostname, c.roster.Port)
}

// FetchPackage returns the cached data package, fetching it from the server
// when absent or when forceUpdate is set. Requires Running state for a fetch.
func (c *SessionClient) FetchPackage(ctx context.Context, forceUpdate bool) (*archipelago.DataPackage, error) {
	c.mu.Lock()
	cached := c.dataPackage
	running := c.state == StateRunning
	c.mu.Unlock()

	if !running {
		return cached, nil
	}
	if cached != nil && !forceUpdate {
		return cached, nil
	}

	dp, err := c.proto.FetchDataPackage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data package: %w", err)
	}
	c.mu.Lock()
	c.dataPackage = dp
	c.mu.Unlock()
	return dp, nil
}

// Say forwards text into the session as a chat message. No-op unless Running.
func (c *SessionClient) Say(text string) error {
	if c.State() != StateRunning {
		return nil
	}
	return c.proto.Say(text)
}

// handleEvent is the single subscription point for protocol events. Each
// event kind is dispatched to its handler; a panic or returned error is
// caught here, logged, and never propagates.
func (c *SessionClient) handleEvent(ev archipelago.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "channelID", c.channelID, "panic", r)
		}
	}()

	var err error
	switch ev := ev.(type) {
	case archipelago.SocketDisconnectedEvent:
		err = c.onSocketDisconnected(ev)
	case archipelago.InvalidPacketEvent:
		slog.Warn("Invalid packet from server", "channelID", c.channelID, "packetType", ev.PacketType, "error", ev.Err)
	case archipelago.ConnectedEvent:
		err = c.onConnected(ev)
	case archipelago.DisconnectedEvent:
		err = c.onDisconnected(ev)
	case archipelago.ItemSentEvent:
		err = c.onItemSent(ev)
	case archipelago.ItemHintedEvent:
		err = c.onItemHinted(ev)
	case archipelago.ItemCheatedEvent:
		err = c.onItemCheated(ev)
	case archipelago.ChatEvent:
		err = c.onChat(ev)
	case archipelago.ServerChatEvent:
		err = c.onServerChat(ev)
	case archipelago.UserCommandEvent:
		err = c.onUserCommand(ev)
	case archipelago.AdminCommandEvent:
		err = c.onAdminCommand(ev)
	case archipelago.GoaledEvent:
		err = c.onGoaled(ev)
	}
	if err != nil {
		slog.Error("Failed to relay event", "channelID", c.channelID, "error", err)
	}
}

// onSocketDisconnected handles a transport-level drop: back to Stopped so the
// periodic batch start retries, with a user-facing notice in the channel
func (c *SessionClient) onSocketDisconnected(ev archipelago.SocketDisconnectedEvent) error {
	now := time.Now()
	c.mu.Lock()
	c.state = StateStopped
	c.lastErr = ev.Err
	c.lastDisconnectedAt = &now
	c.mu.Unlock()

	slog.Warn("Websocket disconnected", "channelID", c.channelID, "error", ev.Err)

	if c.store != nil {
		if err := c.store.UpdateSessionDisconnected(c.channelID, now); err != nil {
			slog.Error("Failed to persist disconnect timestamp", "channelID", c.channelID, "error", err)
		}
	}
	return c.sender.Send(c.channelID, &discordgo.MessageSend{Content: disconnectNotice})
}

func (c *SessionClient) onConnected(ev archipelago.ConnectedEvent) error {
	if !c.IsWhitelisted(TypeConnected) {
		return nil
	}
	msg := c.formatter.Connected(ev.Content, ev.Player, ev.Tags)
	if msg == nil {
		return nil
	}
	return c.sender.Send(c.channelID, msg)
}

func (c *SessionClient) onDisconnected(ev archipelago.DisconnectedEvent) error {
	if !c.IsWhitelisted(TypeDisconnected) {
		return nil
	}
	return c.sender.Send(c.channelID, c.formatter.Disconnected(ev.Content, ev.Player))
}

// onItemSent applies per-tier whitelist filtering, then suppresses post-goal
// spam: anything to a goaled receiver, and anything but progression from a
// goaled sender.
func (c *SessionClient) onItemSent(ev archipelago.ItemSentEvent) error {
	item := ev.Item
	if item.Progression && !c.IsWhitelisted(TypeItemSentProgression) {
		return nil
	}
	if item.Useful && !item.Progression && !c.IsWhitelisted(TypeItemSentUseful) {
		return nil
	}
	if item.Filler && !c.IsWhitelisted(TypeItemSentFiller) {
		return nil
	}
	if item.Trap && !c.IsWhitelisted(TypeItemSentTrap) {
		return nil
	}

	c.mu.Lock()
	_, senderGoaled := c.goalCache[item.Sender.Alias]
	_, receiverGoaled := c.goalCache[item.Receiver.Alias]
	c.mu.Unlock()
	if receiverGoaled {
		return nil
	}
	if senderGoaled && !item.Progression {
		return nil
	}

	return c.sender.Send(c.channelID, c.formatter.ItemSent(ev.Content, item))
}

func (c *SessionClient) onItemHinted(ev archipelago.ItemHintedEvent) error {
	if !c.IsWhitelisted(TypeItemHinted) {
		return nil
	}
	if c.opts.HideFoundHints && ev.Found {
		return nil
	}
	return c.sender.Send(c.channelID, c.formatter.ItemHinted(ev.Content, ev.Item))
}

func (c *SessionClient) onItemCheated(ev archipelago.ItemCheatedEvent) error {
	if !c.IsWhitelisted(TypeItemCheated) {
		return nil
	}
	return c.sender.Send(c.channelID, c.formatter.ItemCheated(ev.Content, ev.Item))
}

func (c *SessionClient) onChat(ev archipelago.ChatEvent) error {
	if !c.IsWhitelisted(TypeUserChat) {
		return nil
	}
	msg := c.formatter.Chat(ev.Content, ev.Player)
	if msg == nil {
		return nil
	}
	return c.sender.Send(c.channelID, msg)
}

func (c *SessionClient) onServerChat(ev archipelago.ServerChatEvent) error {
	if !c.IsWhitelisted(TypeServerChat) {
		return nil
	}
	return c.sender.Send(c.channelID, c.formatter.ServerChat(ev.Content))
}

func (c *SessionClient) onUserCommand(ev archipelago.UserCommandEvent) error {
	if !c.IsWhitelisted(TypeUserCommand) {
		return nil
	}
	return c.sender.Send(c.channelID, c.formatter.UserCommand(ev.Content))
}

func (c *SessionClient) onAdminCommand(ev archipelago.AdminCommandEvent) error {
	if !c.IsWhitelisted(TypeServerCommand) {
		return nil
	}
	return c.sender.Send(c.channelID, c.formatter.AdminCommand(ev.Content))
}

func (c *SessionClient) onGoaled(ev archipelago.GoaledEvent) error {
	if !c.IsWhitelisted(TypeGoal) {
		return nil
	}
	c.mu.Lock()
	c.goalCache[ev.Player.Alias] = struct{}{}
	c.mu.Unlock()
	return c.sender.Send(c.channelID, c.formatter.Goaled(ev.Content, ev.Player))
}

// Whitelist accessors. The whitelist is a construction-time snapshot; these
// mutate only this session, not the guild settings.

// IsWhitelisted reports whether a message type is relayed by this session
func (c *SessionClient) IsWhitelisted(t MessageType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.whitelist[t]
}

// AddWhitelistType enables message types for this session
func (c *SessionClient) AddWhitelistType(types ...MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		c.whitelist[t] = true
	}
}

// RemoveWhitelistType disables message types for this session
func (c *SessionClient) RemoveWhitelistType(types ...MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		delete(c.whitelist, t)
	}
}

// Query operations. All return empty results until a data package is cached.

// GameList lists the games in the session
func (c *SessionClient) GameList() []string {
	c.mu.Lock()
	dp := c.dataPackage
	c.mu.Unlock()
	if dp == nil {
		return nil
	}
	games := make([]string, 0, len(dp.Games))
	for game := range dp.Games {
		games = append(games, game)
	}
	return games
}

// ItemList lists the item names for a game
func (c *SessionClient) ItemList(game string) []string {
	c.mu.Lock()
	dp := c.dataPackage
	c.mu.Unlock()
	if dp == nil {
		return nil
	}
	gd, ok := dp.Games[game]
	if !ok {
		return nil
	}
	items := make([]string, 0, len(gd.ItemNameToID))
	for name := range gd.ItemNameToID {
		items = append(items, name)
	}
	return items
}

// LocationList lists the location names for a game
func (c *SessionClient) LocationList(game string) []string {
	c.mu.Lock()
	dp := c.dataPackage
	c.mu.Unlock()
	if dp == nil {
		return nil
	}
	gd, ok := dp.Games[game]
	if !ok {
		return nil
	}
	locations := make([]string, 0, len(gd.LocationNameToID))
	for name := range gd.LocationNameToID {
		locations = append(locations, name)
	}
	return locations
}

// ItemCounts returns the number of catalogued items per game
func (c *SessionClient) ItemCounts() map[string]int {
	counts := make(map[string]int)
	for _, game := range c.GameList() {
		counts[game] = len(c.ItemList(game))
	}
	return counts
}

// LocationCounts returns the number of catalogued locations per game
func (c *SessionClient) LocationCounts() map[string]int {
	counts := make(map[string]int)
	for _, game := range c.GameList() {
		counts[game] = len(c.LocationList(game))
	}
	return counts
}

// MissingLocations lists the not-yet-checked location names for a game, in
// the order the server lists the session's locations
func (c *SessionClient) MissingLocations(game string) []string {
	c.mu.Lock()
	dp := c.dataPackage
	c.mu.Unlock()
	if dp == nil {
		return nil
	}
	gd, ok := dp.Games[game]
	if !ok {
		return nil
	}

	idToName := make(map[int64]string, len(gd.LocationNameToID))
	for name, id := range gd.LocationNameToID {
		idToName[id] = name
	}
	checked := make(map[int64]struct{})
	for _, id := range c.proto.CheckedLocations() {
		checked[id] = struct{}{}
	}

	var missing []string
	for _, id := range c.proto.AllLocations() {
		if _, ok := checked[id]; ok {
			continue
		}
		if name, ok := idToName[id]; ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// State and metadata accessors

func (c *SessionClient) setState(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.lastErr = err
}

// State returns the current connection state
func (c *SessionClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error from the most recent failure, if any
func (c *SessionClient) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// GuildID returns the owning guild
func (c *SessionClient) GuildID() string { return c.guildID }

// ChannelID returns the bound channel
func (c *SessionClient) ChannelID() string { return c.channelID }

// Roster returns the immutable roster data the session was created with
func (c *SessionClient) Roster() scrape.RoomData { return c.roster }

// CreatedAt returns when this session was created
func (c *SessionClient) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// LastConnectedAt returns the most recent successful connection time, or nil
func (c *SessionClient) LastConnectedAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConnectedAt
}

// LastDisconnectedAt returns the most recent transport drop time, or nil
func (c *SessionClient) LastDisconnectedAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDisconnectedAt
}

// RestoreTimestamps rehydrates history from a persisted record during boot
func (c *SessionClient) RestoreTimestamps(createdAt time.Time, lastConnectedAt, lastDisconnectedAt *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createdAt = createdAt
	c.lastConnectedAt = lastConnectedAt
	c.lastDisconnectedAt = lastDisconnectedAt
}
