package archipelago

import "encoding/json"

// Item classification flags carried on NetworkItem
const (
	flagProgression = 1 << 0
	flagUseful      = 1 << 1
	flagTrap        = 1 << 2
)

// DataPackage is the protocol-supplied catalog mapping every game's item and
// location names to numeric ids
type DataPackage struct {
	Games map[string]GameData `json:"games"`
}

// GameData holds the name/id catalogs for a single game
type GameData struct {
	ItemNameToID     map[string]int64 `json:"item_name_to_id"`
	LocationNameToID map[string]int64 `json:"location_name_to_id"`
}

// basePacket is decoded first to learn the command of an incoming packet
type basePacket struct {
	Cmd string `json:"cmd"`
}

type networkPlayer struct {
	Team  int    `json:"team"`
	Slot  int    `json:"slot"`
	Alias string `json:"alias"`
	Name  string `json:"name"`
}

type networkSlot struct {
	Name string `json:"name"`
	Game string `json:"game"`
}

type networkItem struct {
	Item     int64 `json:"item"`
	Location int64 `json:"location"`
	Player   int   `json:"player"`
	Flags    int   `json:"flags"`
}

type networkVersion struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Build int    `json:"build"`
	Class string `json:"class"`
}

type connectPacket struct {
	Cmd           string         `json:"cmd"`
	Game          string         `json:"game"`
	Name          string         `json:"name"`
	Password      string         `json:"password"`
	UUID          string         `json:"uuid"`
	Version       networkVersion `json:"version"`
	ItemsHandling int            `json:"items_handling"`
	Tags          []string       `json:"tags"`
	SlotData      bool           `json:"slot_data"`
}

type connectedPacket struct {
	Slot             int                    `json:"slot"`
	Team             int                    `json:"team"`
	Players          []networkPlayer        `json:"players"`
	SlotInfo         map[string]networkSlot `json:"slot_info"`
	MissingLocations []int64                `json:"missing_locations"`
	CheckedLocations []int64                `json:"checked_locations"`
}

type connectionRefusedPacket struct {
	Errors []string `json:"errors"`
}

type jsonMessagePart struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Flags int    `json:"flags"`
	Color string `json:"color"`
}

type printJSONPacket struct {
	Type      string            `json:"type"`
	Data      []jsonMessagePart `json:"data"`
	Receiving int               `json:"receiving"`
	Item      *networkItem      `json:"item"`
	Slot      *int              `json:"slot"`
	Message   string            `json:"message"`
	Tags      []string          `json:"tags"`
	Found     *bool             `json:"found"`
}

type dataPackagePacket struct {
	Data DataPackage `json:"data"`
}

type roomUpdatePacket struct {
	Players          []networkPlayer `json:"players"`
	CheckedLocations []int64         `json:"checked_locations"`
}

type getDataPackagePacket struct {
	Cmd string `json:"cmd"`
}

type sayPacket struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text"`
}

// composeText flattens a PrintJSON data list into the plain message text
func composeText(parts []jsonMessagePart) string {
	var out []byte
	for _, part := range parts {
		out = append(out, part.Text...)
	}
	return string(out)
}

func encodePackets(packets ...any) ([]byte, error) {
	return json.Marshal(packets)
}
