package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/espaspw/fairypelago/internal/icons"
	"github.com/espaspw/fairypelago/internal/scrape"
	"github.com/espaspw/fairypelago/internal/storage"
)

// StartStatus is the outcome of an explicit client (re)start, so callers can
// give distinct user feedback for each case
type StartStatus int

const (
	StartSuccess StartStatus = iota
	StartFailed
	StartAlreadyRunning
)

// Stale session eviction thresholds
const (
	staleNeverConnectedAfter = 14 * 24 * time.Hour
	staleConnectedAfter      = 14 * 24 * time.Hour
	staleDisconnectedAfter   = 7 * 24 * time.Hour
)

// Manager owns the authoritative map from channel id to session client and
// the list of persisted session records, kept in lockstep: every mapped
// channel has exactly one record until eviction removes both.
type Manager struct {
	store    SessionStore
	sender   ChannelSender
	settings SettingsSource
	icons    *icons.Table
	newProto func() ProtocolClient

	mu      sync.Mutex
	clients map[string]*SessionClient
	records []*storage.SessionRecord
}

// NewManager creates a manager. newProto is the factory for protocol
// connections, one per session client.
func NewManager(store SessionStore, sender ChannelSender, settings SettingsSource, iconTable *icons.Table, newProto func() ProtocolClient) *Manager {
	return &Manager{
		store:    store,
		sender:   sender,
		settings: settings,
		icons:    iconTable,
		newProto: newProto,
		clients:  make(map[string]*SessionClient),
	}
}

// InitFromStore reconstructs session clients for every persisted record.
// Sessions are constructed concurrently; an unresolvable guild or channel is
// fatal for that one session's restoration (it indicates data corruption) but
// never aborts the others. The combined restoration errors are returned.
func (m *Manager) InitFromStore(ctx context.Context, resolver GuildChannelResolver) error {
	records, err := m.store.ActiveSessions()
	if err != nil {
		return fmt.Errorf("failed to load session records: %w", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(records))
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec *storage.SessionRecord) {
			defer wg.Done()
			errs[i] = m.restoreSession(rec, resolver)
		}(i, rec)
	}
	wg.Wait()

	// Keep only the records whose client came up, so room URL lookups never
	// point at a session that has no wrapper. The store keeps the failed
	// records for the next boot.
	kept := make([]*storage.SessionRecord, 0, len(records))
	for i, rec := range records {
		if errs[i] == nil {
			kept = append(kept, rec)
		}
	}
	m.mu.Lock()
	m.records = kept
	m.mu.Unlock()

	for _, err := range errs {
		if err != nil {
			slog.Error("Failed to restore session", "error", err)
		}
	}
	return errors.Join(errs...)
}

// restoreSession rebuilds one session client from its persisted record
func (m *Manager) restoreSession(rec *storage.SessionRecord, resolver GuildChannelResolver) error {
	if err := resolver.ResolveGuild(rec.GuildID); err != nil {
		return fmt.Errorf("failed to find guild with id (%s): %w", rec.GuildID, err)
	}
	if err := resolver.ResolveChannel(rec.ChannelID); err != nil {
		return fmt.Errorf("failed to find channel with id (%s) in guild (%s): %w", rec.ChannelID, rec.GuildID, err)
	}

	opts := DefaultOptions()
	settings, err := m.store.GetGuildSettings(rec.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load settings for guild (%s): %w", rec.GuildID, err)
	}
	if len(settings.WhitelistedMessageTypes) > 0 {
		opts.Whitelist = toMessageTypes(settings.WhitelistedMessageTypes)
	}

	client := m.buildClient(rec.GuildID, rec.ChannelID, rec.RoomData, opts)
	client.RestoreTimestamps(rec.CreatedAt, rec.LastConnectedAt, rec.LastDisconnectedAt)

	m.mu.Lock()
	m.clients[rec.ChannelID] = client
	m.mu.Unlock()
	return nil
}

func (m *Manager) buildClient(guildID, channelID string, roster scrape.RoomData, opts Options) *SessionClient {
	formatter := NewFormatter(guildID, m.settings, m.icons, opts.EnableGameIcons, opts.EnableItemIcons)
	return NewSessionClient(m.newProto(), roster, guildID, channelID, m.sender, formatter, m.store, opts)
}

// StartAllClients starts every Stopped client. Running clients are left
// alone and Failed clients are never auto-retried.
func (m *Manager) StartAllClients(ctx context.Context) {
	for _, client := range m.snapshot() {
		if client.State() != StateStopped {
			continue
		}
		if err := client.Start(ctx); err != nil {
			slog.Warn("Failed to start session client", "channelID", client.ChannelID(), "error", err)
		}
	}
}

// RemoveStaleClients evicts sessions that have been dead long enough:
// never connected and older than two weeks, crashed mid-session with a
// two-week-old connection, or disconnected more than a week ago. Evicted
// wrappers and their records are removed together, then the record list is
// reloaded from persistence to stay authoritative.
func (m *Manager) RemoveStaleClients(ctx context.Context) error {
	now := time.Now()
	var staleIDs []string
	for channelID, client := range m.snapshotMap() {
		if client.State() == StateRunning {
			continue
		}
		if isStale(client, now) {
			staleIDs = append(staleIDs, channelID)
		}
	}
	if len(staleIDs) == 0 {
		return nil
	}

	slog.Info("Removing stale sessions", "count", len(staleIDs))

	if err := m.store.DeleteSessions(staleIDs); err != nil {
		return fmt.Errorf("failed to delete stale session records: %w", err)
	}

	m.mu.Lock()
	for _, channelID := range staleIDs {
		delete(m.clients, channelID)
	}
	m.mu.Unlock()

	records, err := m.store.ActiveSessions()
	if err != nil {
		return fmt.Errorf("failed to reload session records: %w", err)
	}
	m.mu.Lock()
	m.records = records
	m.mu.Unlock()
	return nil
}

func isStale(client *SessionClient, now time.Time) bool {
	connected := client.LastConnectedAt()
	disconnected := client.LastDisconnectedAt()
	switch {
	case disconnected != nil:
		return now.Sub(*disconnected) > staleDisconnectedAfter
	case connected != nil:
		// Connected once but never disconnected: crashed mid-session
		return now.Sub(*connected) > staleConnectedAfter
	default:
		return now.Sub(client.CreatedAt()) > staleNeverConnectedAfter
	}
}

// IsChannelOfExistingMultiworld reports whether a channel hosts a session
func (m *Manager) IsChannelOfExistingMultiworld(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[channelID]
	return ok
}

// IsRoomURLOfExistingMultiworld reports whether any known session uses this
// room URL, comparing normalized forms
func (m *Manager) IsRoomURLOfExistingMultiworld(roomURL string) bool {
	_, ok := m.ChannelIDFromRoomURL(roomURL)
	return ok
}

// ChannelIDFromRoomURL finds the channel hosting a session for this room URL
func (m *Manager) ChannelIDFromRoomURL(roomURL string) (string, bool) {
	normalized := normalizeRoomURL(roomURL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if normalizeRoomURL(rec.RoomData.RoomURL) == normalized {
			return rec.ChannelID, true
		}
	}
	return "", false
}

// ErrRoomAlreadyTracked is returned when a session for the same room URL
// already exists on another channel
var ErrRoomAlreadyTracked = errors.New("room already has an active session")

// CreateClient builds and registers a session client for a channel, reusing
// the channel's persisted record when one exists so no duplicate record is
// ever created. The room URL is re-checked under the lock: callers validate
// before scraping and creating a thread, and a second paste of the same link
// can slip in during those suspension points.
func (m *Manager) CreateClient(guildID, channelID string, roster scrape.RoomData, opts Options) (*SessionClient, error) {
	client := m.buildClient(guildID, channelID, roster, opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	normalized := normalizeRoomURL(roster.RoomURL)
	for _, rec := range m.records {
		if rec.ChannelID != channelID && normalizeRoomURL(rec.RoomData.RoomURL) == normalized {
			return nil, fmt.Errorf("%w: channel (%s)", ErrRoomAlreadyTracked, rec.ChannelID)
		}
	}

	existing, err := m.store.FindSession(channelID)
	switch {
	case err == nil:
		client.RestoreTimestamps(existing.CreatedAt, existing.LastConnectedAt, existing.LastDisconnectedAt)
		m.clients[channelID] = client
		m.records = append(m.records, existing)
	case errors.Is(err, storage.ErrNotFound):
		rec := &storage.SessionRecord{
			ChannelID: channelID,
			GuildID:   guildID,
			RoomData:  roster,
			CreatedAt: client.CreatedAt(),
		}
		if err := m.store.CreateSession(rec); err != nil {
			return nil, fmt.Errorf("failed to persist session record: %w", err)
		}
		m.clients[channelID] = client
		m.records = append(m.records, rec)
	default:
		return nil, fmt.Errorf("failed to look up session record: %w", err)
	}

	return client, nil
}

// StartClient explicitly (re)starts one session, for user-triggered restarts
func (m *Manager) StartClient(ctx context.Context, channelID string) (StartStatus, error) {
	m.mu.Lock()
	client, ok := m.clients[channelID]
	m.mu.Unlock()
	if !ok {
		return StartFailed, fmt.Errorf("no client found for channel id (%s)", channelID)
	}
	if client.State() == StateRunning {
		return StartAlreadyRunning, nil
	}
	if err := client.Start(ctx); err != nil {
		return StartFailed, nil
	}
	return StartSuccess, nil
}

// SendMessage forwards text into the session hosted on a channel. The boolean
// reports whether the message was actually forwarded; a non-Running client
// drops it.
func (m *Manager) SendMessage(channelID, text string) (bool, error) {
	m.mu.Lock()
	client, ok := m.clients[channelID]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no client found for channel id (%s)", channelID)
	}
	if client.State() != StateRunning {
		return false, nil
	}
	if err := client.Say(text); err != nil {
		return false, err
	}
	return true, nil
}

// Client returns the session client for a channel, if any
func (m *Manager) Client(channelID string) (*SessionClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[channelID]
	return client, ok
}

// ClientsFor returns clients filtered by guild and/or channel, for
// administrative inspection. Empty filters match everything.
func (m *Manager) ClientsFor(guildID, channelID string) []*SessionClient {
	var out []*SessionClient
	for _, client := range m.snapshot() {
		if guildID != "" && client.GuildID() != guildID {
			continue
		}
		if channelID != "" && client.ChannelID() != channelID {
			continue
		}
		out = append(out, client)
	}
	return out
}

func (m *Manager) snapshot() []*SessionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SessionClient, 0, len(m.clients))
	for _, client := range m.clients {
		out = append(out, client)
	}
	return out
}

func (m *Manager) snapshotMap() map[string]*SessionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*SessionClient, len(m.clients))
	for channelID, client := range m.clients {
		out[channelID] = client
	}
	return out
}

func toMessageTypes(names []string) []MessageType {
	out := make([]MessageType, 0, len(names))
	for _, name := range names {
		if t, ok := ParseMessageType(name); ok {
			out = append(out, t)
		}
	}
	return out
}
