package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espaspw/fairypelago/internal/archipelago"
	"github.com/espaspw/fairypelago/internal/icons"
	"github.com/espaspw/fairypelago/internal/scrape"
	"github.com/espaspw/fairypelago/internal/storage"
)

// fakeResolver resolves every id except the ones listed as missing
type fakeResolver struct {
	missingGuilds   map[string]bool
	missingChannels map[string]bool
}

func (f *fakeResolver) ResolveGuild(guildID string) error {
	if f.missingGuilds[guildID] {
		return errors.New("guild not found")
	}
	return nil
}

func (f *fakeResolver) ResolveChannel(channelID string) error {
	if f.missingChannels[channelID] {
		return errors.New("channel not found")
	}
	return nil
}

func newTestManager(store SessionStore) (*Manager, *fakeSender) {
	sender := &fakeSender{}
	m := NewManager(store, sender, &fakeSettings{flags: map[string]bool{}, emojis: map[string]string{}}, icons.NewEmptyTable(), func() ProtocolClient {
		return &fakeProto{}
	})
	return m, sender
}

func rosterForRoom(roomURL string) scrape.RoomData {
	r := testRoster()
	r.RoomURL = roomURL
	return r
}

func TestCreateClientPersistsRecord(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(store)

	client, err := m.CreateClient("guild-1", "channel-1", testRoster(), DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, client)

	rec, err := store.FindSession("channel-1")
	require.NoError(t, err)
	assert.Equal(t, "guild-1", rec.GuildID)
	assert.Equal(t, testRoster().RoomURL, rec.RoomData.RoomURL)
	assert.True(t, m.IsChannelOfExistingMultiworld("channel-1"))
}

func TestCreateClientReusesExistingRecord(t *testing.T) {
	store := newFakeStore()
	created := time.Now().Add(-48 * time.Hour)
	connected := created.Add(time.Hour)
	require.NoError(t, store.CreateSession(&storage.SessionRecord{
		ChannelID:       "channel-1",
		GuildID:         "guild-1",
		RoomData:        testRoster(),
		CreatedAt:       created,
		LastConnectedAt: &connected,
	}))

	m, _ := newTestManager(store)
	client, err := m.CreateClient("guild-1", "channel-1", testRoster(), DefaultOptions())
	require.NoError(t, err)

	assert.WithinDuration(t, created, client.CreatedAt(), time.Second, "history survives recreation")
	require.NotNil(t, client.LastConnectedAt())
}

func TestRoomURLDuplicateDetection(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(store)

	_, err := m.CreateClient("guild-1", "channel-1", rosterForRoom("https://archipelago.gg/room/0f2qwk9-cnRMZV6y0Yek3g"), DefaultOptions())
	require.NoError(t, err)

	// Scheme, casing, and trailing slash differences all match the same room
	variants := []string{
		"https://archipelago.gg/room/0f2qwk9-cnRMZV6y0Yek3g",
		"http://archipelago.gg/room/0f2qwk9-cnRMZV6y0Yek3g",
		"archipelago.gg/room/0f2qwk9-cnRMZV6y0Yek3g",
		"https://Archipelago.GG/room/0f2qwk9-cnRMZV6y0Yek3g/",
	}
	for _, v := range variants {
		channelID, ok := m.ChannelIDFromRoomURL(v)
		assert.True(t, ok, "variant %q should match", v)
		assert.Equal(t, "channel-1", channelID)
	}

	assert.False(t, m.IsRoomURLOfExistingMultiworld("https://archipelago.gg/room/DIFFERENTroomIDzzzzzzz"))
}

func TestCreateClientRejectsDuplicateRoom(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(store)

	_, err := m.CreateClient("guild-1", "channel-1", rosterForRoom("https://archipelago.gg/room/0f2qwk9-cnRMZV6y0Yek3g"), DefaultOptions())
	require.NoError(t, err)

	// Same room pasted again, landing on a different (freshly created) channel
	_, err = m.CreateClient("guild-1", "channel-2", rosterForRoom("archipelago.gg/room/0f2qwk9-cnRMZV6y0Yek3g/"), DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoomAlreadyTracked)
	assert.Contains(t, err.Error(), "channel-1")

	assert.False(t, m.IsChannelOfExistingMultiworld("channel-2"))
	_, err = store.FindSession("channel-2")
	assert.ErrorIs(t, err, storage.ErrNotFound, "the losing creation leaves no record behind")
}

func TestStartClientStatuses(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(store)

	status, err := m.StartClient(context.Background(), "missing-channel")
	assert.Error(t, err)
	assert.Equal(t, StartFailed, status)

	_, err = m.CreateClient("guild-1", "channel-1", testRoster(), DefaultOptions())
	require.NoError(t, err)

	status, err = m.StartClient(context.Background(), "channel-1")
	require.NoError(t, err)
	assert.Equal(t, StartSuccess, status)

	status, err = m.StartClient(context.Background(), "channel-1")
	require.NoError(t, err)
	assert.Equal(t, StartAlreadyRunning, status)
}

func TestStartAllClientsSkipsFailedAndRunning(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	protos := []*fakeProto{
		{},
		{loginErr: archipelago.ErrServerUnreachable},
	}
	var next int
	m := NewManager(store, sender, &fakeSettings{flags: map[string]bool{}, emojis: map[string]string{}}, icons.NewEmptyTable(), func() ProtocolClient {
		p := protos[next]
		next++
		return p
	})

	running, err := m.CreateClient("guild-1", "channel-running", rosterForRoom("archipelago.gg/room/aaaaaaaaaaaaaaaaaaaaaa"), DefaultOptions())
	require.NoError(t, err)
	failed, err := m.CreateClient("guild-1", "channel-failed", rosterForRoom("archipelago.gg/room/bbbbbbbbbbbbbbbbbbbbbb"), DefaultOptions())
	require.NoError(t, err)

	m.StartAllClients(context.Background())
	assert.Equal(t, StateRunning, running.State())
	assert.Equal(t, StateFailed, failed.State())

	// A second pass never touches the running or failed clients
	loginsBefore := protos[0].loginCalls + protos[1].loginCalls
	m.StartAllClients(context.Background())
	assert.Equal(t, loginsBefore, protos[0].loginCalls+protos[1].loginCalls)
}

func TestSendMessageForwardsOnlyWhenRunning(t *testing.T) {
	store := newFakeStore()
	proto := &fakeProto{}
	m := NewManager(store, &fakeSender{}, &fakeSettings{flags: map[string]bool{}, emojis: map[string]string{}}, icons.NewEmptyTable(), func() ProtocolClient { return proto })

	_, err := m.SendMessage("missing-channel", "hello")
	assert.Error(t, err)

	_, err = m.CreateClient("guild-1", "channel-1", testRoster(), DefaultOptions())
	require.NoError(t, err)

	forwarded, err := m.SendMessage("channel-1", "dropped while stopped")
	require.NoError(t, err)
	assert.False(t, forwarded)

	_, err = m.StartClient(context.Background(), "channel-1")
	require.NoError(t, err)

	forwarded, err = m.SendMessage("channel-1", "delivered")
	require.NoError(t, err)
	assert.True(t, forwarded)
	assert.Equal(t, []string{"delivered"}, proto.said)
}

func TestInitFromStoreRestoresSessions(t *testing.T) {
	store := newFakeStore()
	created := time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateSession(&storage.SessionRecord{
		ChannelID: "channel-ok",
		GuildID:   "guild-1",
		RoomData:  rosterForRoom("archipelago.gg/room/aaaaaaaaaaaaaaaaaaaaaa"),
		CreatedAt: created,
	}))
	require.NoError(t, store.CreateSession(&storage.SessionRecord{
		ChannelID: "channel-gone",
		GuildID:   "guild-gone",
		RoomData:  rosterForRoom("archipelago.gg/room/bbbbbbbbbbbbbbbbbbbbbb"),
		CreatedAt: created,
	}))

	m, _ := newTestManager(store)
	err := m.InitFromStore(context.Background(), &fakeResolver{missingGuilds: map[string]bool{"guild-gone": true}})
	require.Error(t, err, "unresolvable guild is reported")

	assert.True(t, m.IsChannelOfExistingMultiworld("channel-ok"))
	assert.False(t, m.IsChannelOfExistingMultiworld("channel-gone"))

	client, ok := m.Client("channel-ok")
	require.True(t, ok)
	assert.WithinDuration(t, created, client.CreatedAt(), time.Second)

	// The failed session's record is not retained, so its room never resolves
	// to a thread without a wrapper
	_, ok = m.ChannelIDFromRoomURL("archipelago.gg/room/bbbbbbbbbbbbbbbbbbbbbb")
	assert.False(t, ok)
	_, ok = m.ChannelIDFromRoomURL("archipelago.gg/room/aaaaaaaaaaaaaaaaaaaaaa")
	assert.True(t, ok)
}

func TestRemoveStaleClients(t *testing.T) {
	now := time.Now()
	ago := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	tests := []struct {
		name         string
		createdAt    time.Time
		connected    *time.Time
		disconnected *time.Time
		evicted      bool
	}{
		{"disconnected over a week", now.Add(-20 * 24 * time.Hour), ago(10 * 24 * time.Hour), ago(8 * 24 * time.Hour), true},
		{"disconnected recently", now.Add(-20 * 24 * time.Hour), ago(10 * 24 * time.Hour), ago(3 * 24 * time.Hour), false},
		{"crashed mid-session over two weeks", now.Add(-20 * 24 * time.Hour), ago(15 * 24 * time.Hour), nil, true},
		{"crashed mid-session recently", now.Add(-20 * 24 * time.Hour), ago(13 * 24 * time.Hour), nil, false},
		{"never connected over two weeks", now.Add(-15 * 24 * time.Hour), nil, nil, true},
		{"never connected recently", now.Add(-3 * 24 * time.Hour), nil, nil, false},
	}

	store := newFakeStore()
	m, _ := newTestManager(store)

	rooms := []string{
		"archipelago.gg/room/aaaaaaaaaaaaaaaaaaaaaa",
		"archipelago.gg/room/bbbbbbbbbbbbbbbbbbbbbb",
		"archipelago.gg/room/cccccccccccccccccccccc",
		"archipelago.gg/room/dddddddddddddddddddddd",
		"archipelago.gg/room/eeeeeeeeeeeeeeeeeeeeee",
		"archipelago.gg/room/ffffffffffffffffffffff",
	}
	for i, tt := range tests {
		channelID := "channel-" + tt.name
		client, err := m.CreateClient("guild-1", channelID, rosterForRoom(rooms[i]), DefaultOptions())
		require.NoError(t, err)
		client.RestoreTimestamps(tt.createdAt, tt.connected, tt.disconnected)
	}

	require.NoError(t, m.RemoveStaleClients(context.Background()))

	for _, tt := range tests {
		channelID := "channel-" + tt.name
		if tt.evicted {
			assert.False(t, m.IsChannelOfExistingMultiworld(channelID), tt.name)
			_, err := store.FindSession(channelID)
			assert.ErrorIs(t, err, storage.ErrNotFound, tt.name)
		} else {
			assert.True(t, m.IsChannelOfExistingMultiworld(channelID), tt.name)
			_, err := store.FindSession(channelID)
			assert.NoError(t, err, tt.name)
		}
	}
}

func TestRemoveStaleClientsSkipsRunning(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(store)

	client, err := m.CreateClient("guild-1", "channel-1", testRoster(), DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))

	// Ancient history, but the session is live
	old := time.Now().Add(-30 * 24 * time.Hour)
	client.RestoreTimestamps(old, &old, &old)

	require.NoError(t, m.RemoveStaleClients(context.Background()))
	assert.True(t, m.IsChannelOfExistingMultiworld("channel-1"))
}

func TestClientsFor(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(store)

	_, err := m.CreateClient("guild-1", "channel-1", rosterForRoom("archipelago.gg/room/aaaaaaaaaaaaaaaaaaaaaa"), DefaultOptions())
	require.NoError(t, err)
	_, err = m.CreateClient("guild-2", "channel-2", rosterForRoom("archipelago.gg/room/bbbbbbbbbbbbbbbbbbbbbb"), DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, m.ClientsFor("", ""), 2)
	assert.Len(t, m.ClientsFor("guild-1", ""), 1)
	assert.Len(t, m.ClientsFor("guild-1", "channel-2"), 0)
	assert.Len(t, m.ClientsFor("", "channel-2"), 1)
}
