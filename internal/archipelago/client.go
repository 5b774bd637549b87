package archipelago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// ErrServerUnreachable marks a login failure where the session server refused
// the connection or timed out. Callers distinguish it from other login
// failures with errors.Is.
var ErrServerUnreachable = errors.New("failed to connect to archipelago server")

const (
	handshakeTimeout  = 10 * time.Second
	dialRetryInterval = 500 * time.Millisecond
	maxDialElapsed    = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// Client is a minimal Archipelago protocol client: JSON packets over a
// websocket. It performs the RoomInfo/Connect handshake, exposes the data
// package and room-state location sets, and streams classified events to a
// single handler.
type Client struct {
	dialer  *websocket.Dialer
	handler func(Event)

	mu           sync.Mutex
	conn         *websocket.Conn
	slot         int
	players      map[int]networkPlayer
	slots        map[int]networkSlot
	allLocations []int64
	checked      map[int64]struct{}
	dataPackage  *DataPackage
	dpWaiter     chan *DataPackage
	closed       bool

	writeMu sync.Mutex
}

// NewClient creates an unconnected client
func NewClient() *Client {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout
	return &Client{
		dialer:  &dialer,
		players: make(map[int]networkPlayer),
		slots:   make(map[int]networkSlot),
		checked: make(map[int64]struct{}),
	}
}

// SetEventHandler registers the single event handler. Must be called before
// Login; events are delivered in transport order from one goroutine.
func (c *Client) SetEventHandler(handler func(Event)) {
	c.handler = handler
}

// Login dials the server, performs the connect handshake as the given slot,
// and starts the event read loop. A server that cannot be reached yields
// ErrServerUnreachable; a rejected handshake yields an ordinary error.
func (c *Client) Login(ctx context.Context, host, slotName, password string, tags []string) error {
	conn, err := c.dial(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.handshake(ctx, slotName, password, tags); err != nil {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		return err
	}

	go c.readLoop(conn)
	return nil
}

// dial attempts the websocket connection with exponential backoff, trying
// wss first and falling back to ws as the archipelago.gg rooms do not all
// terminate TLS.
func (c *Client) dial(ctx context.Context, host string) (*websocket.Conn, error) {
	var conn *websocket.Conn

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dialRetryInterval
	policy.MaxElapsedTime = maxDialElapsed

	err := backoff.Retry(func() error {
		var dialErr error
		conn, _, dialErr = c.dialer.DialContext(ctx, "wss://"+host, nil)
		if dialErr == nil {
			return nil
		}
		conn, _, dialErr = c.dialer.DialContext(ctx, "ws://"+host, nil)
		return dialErr
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// handshake waits for RoomInfo, sends Connect, and waits for the
// Connected/ConnectionRefused verdict
func (c *Client) handshake(ctx context.Context, slotName, password string, tags []string) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if _, err := c.awaitPacket(deadline, "RoomInfo"); err != nil {
		return fmt.Errorf("failed to read RoomInfo: %w", err)
	}

	connect := connectPacket{
		Cmd:           "Connect",
		Game:          "",
		Name:          slotName,
		Password:      password,
		Version:       networkVersion{Major: 0, Minor: 5, Build: 0, Class: "Version"},
		ItemsHandling: 0,
		Tags:          tags,
		SlotData:      false,
	}
	if err := c.writePacket(connect); err != nil {
		return fmt.Errorf("failed to send Connect: %w", err)
	}

	raw, err := c.awaitPacket(deadline, "Connected", "ConnectionRefused")
	if err != nil {
		return fmt.Errorf("failed to read Connect response: %w", err)
	}

	var base basePacket
	if err := json.Unmarshal(raw, &base); err != nil {
		return fmt.Errorf("failed to decode Connect response: %w", err)
	}
	if base.Cmd == "ConnectionRefused" {
		var refused connectionRefusedPacket
		_ = json.Unmarshal(raw, &refused)
		return fmt.Errorf("connection refused by server: %v", refused.Errors)
	}

	var connected connectedPacket
	if err := json.Unmarshal(raw, &connected); err != nil {
		return fmt.Errorf("failed to decode Connected packet: %w", err)
	}
	c.applyConnected(&connected)
	return nil
}

// awaitPacket reads packets until one of the wanted commands arrives.
// Other packets received during the handshake are dropped.
func (c *Client) awaitPacket(deadline time.Time, wanted ...string) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errors.New("connection is nil")
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var packets []json.RawMessage
		if err := json.Unmarshal(data, &packets); err != nil {
			continue
		}
		for _, raw := range packets {
			var base basePacket
			if err := json.Unmarshal(raw, &base); err != nil {
				continue
			}
			for _, cmd := range wanted {
				if base.Cmd == cmd {
					return raw, nil
				}
			}
		}
	}
}

func (c *Client) applyConnected(packet *connectedPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slot = packet.Slot
	for _, p := range packet.Players {
		c.players[p.Slot] = p
	}
	for key, info := range packet.SlotInfo {
		var slot int
		if _, err := fmt.Sscanf(key, "%d", &slot); err == nil {
			c.slots[slot] = info
		}
	}
	c.allLocations = append(append([]int64{}, packet.MissingLocations...), packet.CheckedLocations...)
	for _, id := range packet.CheckedLocations {
		c.checked[id] = struct{}{}
	}
}

// Say forwards a chat message into the session
func (c *Client) Say(text string) error {
	return c.writePacket(sayPacket{Cmd: "Say", Text: text})
}

// FetchDataPackage requests the item/location catalog from the server and
// caches it for name resolution
func (c *Client) FetchDataPackage(ctx context.Context) (*DataPackage, error) {
	c.mu.Lock()
	if c.dataPackage != nil {
		dp := c.dataPackage
		c.mu.Unlock()
		return dp, nil
	}
	waiter := make(chan *DataPackage, 1)
	c.dpWaiter = waiter
	c.mu.Unlock()

	if err := c.writePacket(getDataPackagePacket{Cmd: "GetDataPackage"}); err != nil {
		return nil, fmt.Errorf("failed to request data package: %w", err)
	}

	select {
	case dp, ok := <-waiter:
		if !ok {
			return nil, errors.New("connection lost before data package arrived")
		}
		return dp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AllLocations returns every location id in the session, in server order
func (c *Client) AllLocations() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64{}, c.allLocations...)
}

// CheckedLocations returns the ids of locations already checked
func (c *Client) CheckedLocations() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.checked))
	for _, id := range c.allLocations {
		if _, ok := c.checked[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Close tears down the websocket. Safe to call more than once. A pending
// data package waiter is woken so no caller stays blocked on a dead connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	waiter := c.dpWaiter
	c.dpWaiter = nil
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if waiter != nil {
		close(waiter)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) writePacket(packet any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("connection is nil")
	}

	data, err := encodePackets(packet)
	if err != nil {
		return fmt.Errorf("failed to encode packet: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes server packets until the transport drops. Events are
// emitted in the order the transport delivers them.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			waiter := c.dpWaiter
			c.dpWaiter = nil
			c.mu.Unlock()
			// A pending FetchDataPackage must not outlive the transport
			if waiter != nil {
				close(waiter)
			}
			if !closed {
				c.emit(SocketDisconnectedEvent{Err: err})
			}
			return
		}

		var packets []json.RawMessage
		if err := json.Unmarshal(data, &packets); err != nil {
			c.emit(InvalidPacketEvent{Err: fmt.Errorf("failed to decode packet batch: %w", err)})
			continue
		}
		for _, raw := range packets {
			c.handlePacket(raw)
		}
	}
}

func (c *Client) handlePacket(raw json.RawMessage) {
	var base basePacket
	if err := json.Unmarshal(raw, &base); err != nil {
		c.emit(InvalidPacketEvent{Err: fmt.Errorf("failed to decode packet: %w", err)})
		return
	}

	switch base.Cmd {
	case "PrintJSON":
		var packet printJSONPacket
		if err := json.Unmarshal(raw, &packet); err != nil {
			c.emit(InvalidPacketEvent{PacketType: base.Cmd, Err: err})
			return
		}
		c.handlePrintJSON(&packet)
	case "DataPackage":
		var packet dataPackagePacket
		if err := json.Unmarshal(raw, &packet); err != nil {
			c.emit(InvalidPacketEvent{PacketType: base.Cmd, Err: err})
			return
		}
		c.mu.Lock()
		c.dataPackage = &packet.Data
		waiter := c.dpWaiter
		c.dpWaiter = nil
		c.mu.Unlock()
		if waiter != nil {
			waiter <- &packet.Data
		}
	case "RoomUpdate":
		var packet roomUpdatePacket
		if err := json.Unmarshal(raw, &packet); err != nil {
			c.emit(InvalidPacketEvent{PacketType: base.Cmd, Err: err})
			return
		}
		c.mu.Lock()
		for _, p := range packet.Players {
			c.players[p.Slot] = p
		}
		for _, id := range packet.CheckedLocations {
			c.checked[id] = struct{}{}
		}
		c.mu.Unlock()
	default:
		// RoomInfo refreshes, ReceivedItems etc. are irrelevant to the relay
		slog.Debug("Ignoring packet", "cmd", base.Cmd)
	}
}

// handlePrintJSON classifies a PrintJSON packet into one relay event
func (c *Client) handlePrintJSON(packet *printJSONPacket) {
	content := composeText(packet.Data)

	switch packet.Type {
	case "Join":
		c.emit(ConnectedEvent{Content: content, Player: c.playerBySlot(slotOf(packet)), Tags: packet.Tags})
	case "Part":
		c.emit(DisconnectedEvent{Content: content, Player: c.playerBySlot(slotOf(packet))})
	case "ItemSend":
		if packet.Item == nil {
			c.emit(InvalidPacketEvent{PacketType: "PrintJSON.ItemSend", Err: errors.New("missing item")})
			return
		}
		c.emit(ItemSentEvent{Content: content, Item: c.resolveItem(packet.Receiving, packet.Item)})
	case "ItemCheat":
		if packet.Item == nil {
			c.emit(InvalidPacketEvent{PacketType: "PrintJSON.ItemCheat", Err: errors.New("missing item")})
			return
		}
		c.emit(ItemCheatedEvent{Content: content, Item: c.resolveItem(packet.Receiving, packet.Item)})
	case "Hint":
		if packet.Item == nil {
			c.emit(InvalidPacketEvent{PacketType: "PrintJSON.Hint", Err: errors.New("missing item")})
			return
		}
		found := packet.Found != nil && *packet.Found
		c.emit(ItemHintedEvent{Content: content, Item: c.resolveItem(packet.Receiving, packet.Item), Found: found})
	case "Chat":
		c.emit(ChatEvent{Content: packet.Message, Player: c.playerBySlot(slotOf(packet))})
	case "ServerChat":
		c.emit(ServerChatEvent{Content: packet.Message})
	case "CommandResult":
		c.emit(UserCommandEvent{Content: content})
	case "AdminCommandResult":
		c.emit(AdminCommandEvent{Content: content})
	case "Goal":
		c.emit(GoaledEvent{Content: content, Player: c.playerBySlot(slotOf(packet))})
	default:
		// Tutorial, Countdown and friends are not relayed
		slog.Debug("Ignoring PrintJSON", "type", packet.Type)
	}
}

func slotOf(packet *printJSONPacket) int {
	if packet.Slot == nil {
		return 0
	}
	return *packet.Slot
}

// playerBySlot resolves a slot number into display identity
func (c *Client) playerBySlot(slot int) Player {
	c.mu.Lock()
	defer c.mu.Unlock()

	player := Player{Slot: slot}
	if info, ok := c.slots[slot]; ok {
		player.Name = info.Name
		player.Game = info.Game
		player.Alias = info.Name
	}
	if p, ok := c.players[slot]; ok {
		if player.Name == "" {
			player.Name = p.Name
		}
		if p.Alias != "" {
			player.Alias = p.Alias
		}
	}
	if player.Name == "" {
		player.Name = fmt.Sprintf("Player %d", slot)
		player.Alias = player.Name
	}
	return player
}

// resolveItem maps a NetworkItem into display names using the cached data
// package. Ids without catalog entries fall back to numeric placeholders.
func (c *Client) resolveItem(receiving int, item *networkItem) Item {
	sender := c.playerBySlot(item.Player)
	receiver := c.playerBySlot(receiving)

	out := Item{
		Name:         fmt.Sprintf("Item %d", item.Item),
		Game:         receiver.Game,
		LocationName: fmt.Sprintf("Location %d", item.Location),
		LocationGame: sender.Game,
		Sender:       sender,
		Receiver:     receiver,
		Progression:  item.Flags&flagProgression != 0,
		Useful:       item.Flags&flagUseful != 0,
		Trap:         item.Flags&flagTrap != 0,
		Filler:       item.Flags == 0,
	}

	c.mu.Lock()
	dp := c.dataPackage
	c.mu.Unlock()
	if dp == nil {
		return out
	}
	if game, ok := dp.Games[receiver.Game]; ok {
		for name, id := range game.ItemNameToID {
			if id == item.Item {
				out.Name = name
				break
			}
		}
	}
	if game, ok := dp.Games[sender.Game]; ok {
		for name, id := range game.LocationNameToID {
			if id == item.Location {
				out.LocationName = name
				break
			}
		}
	}
	return out
}

func (c *Client) emit(ev Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}
