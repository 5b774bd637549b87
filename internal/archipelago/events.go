package archipelago

// Player identifies one slot in a multiworld session
type Player struct {
	Slot  int
	Name  string
	Alias string
	Game  string
}

// Item describes a single item transfer between two players
type Item struct {
	Name         string
	Game         string // game the item belongs to (receiver's game)
	LocationName string
	LocationGame string // game the location belongs to (sender's game)
	Sender       Player
	Receiver     Player
	Progression  bool
	Useful       bool
	Filler       bool
	Trap         bool
}

// Event is one tagged variant of the protocol event stream. The closed set of
// implementations below maps one-to-one to the message kinds the relay
// understands; handler dispatch is an exhaustive type switch.
type Event interface {
	event()
}

// ConnectedEvent fires when a player joins the session
type ConnectedEvent struct {
	Content string
	Player  Player
	Tags    []string
}

// DisconnectedEvent fires when a player leaves the session
type DisconnectedEvent struct {
	Content string
	Player  Player
}

// ItemSentEvent fires when an item is found and transferred
type ItemSentEvent struct {
	Content string
	Item    Item
}

// ItemHintedEvent fires when an item's location is hinted.
// Found is true when the hinted location was already checked.
type ItemHintedEvent struct {
	Content string
	Item    Item
	Found   bool
}

// ItemCheatedEvent fires when an item is granted by server command
type ItemCheatedEvent struct {
	Content string
	Item    Item
}

// ChatEvent fires for player chat messages
type ChatEvent struct {
	Content string
	Player  Player
}

// ServerChatEvent fires for messages originating from the server itself
type ServerChatEvent struct {
	Content string
}

// UserCommandEvent fires for the echoed result of a player-issued command
type UserCommandEvent struct {
	Content string
}

// AdminCommandEvent fires for the echoed result of an admin command
type AdminCommandEvent struct {
	Content string
}

// GoaledEvent fires when a player completes their objective
type GoaledEvent struct {
	Content string
	Player  Player
}

// SocketDisconnectedEvent fires when the underlying transport drops
type SocketDisconnectedEvent struct {
	Err error
}

// InvalidPacketEvent fires when the server sends a packet that cannot be decoded
type InvalidPacketEvent struct {
	PacketType string
	Err        error
}

func (ConnectedEvent) event()          {}
func (DisconnectedEvent) event()       {}
func (ItemSentEvent) event()           {}
func (ItemHintedEvent) event()         {}
func (ItemCheatedEvent) event()        {}
func (ChatEvent) event()               {}
func (ServerChatEvent) event()         {}
func (UserCommandEvent) event()        {}
func (AdminCommandEvent) event()       {}
func (GoaledEvent) event()             {}
func (SocketDisconnectedEvent) event() {}
func (InvalidPacketEvent) event()      {}
