package scrape

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var (
	roomURLRegex     = regexp.MustCompile(`(?:https?://)?archipelago\.gg/room/[A-Za-z0-9\-_]{22}`)
	portCaptureRegex = regexp.MustCompile(`archipelago\.gg:([0-9]{4,5})`)
)

// RoomURL is a type wrapper for a parsed archipelago.gg/room url
type RoomURL struct {
	URL string
}

// PlayerData is per-player data taken from the room page
type PlayerData struct {
	ID           string
	Name         string
	Game         string
	DownloadLink string // empty when the world has no patch file
	TrackerPage  string
}

// RoomData is multiworld data taken from the room page
type RoomData struct {
	Players []PlayerData
	Port    string
	RoomURL string
}

// ParseRoomURL extracts an archipelago room link from arbitrary message text.
// Returns false when the text contains no recognizable room link.
func ParseRoomURL(text string) (RoomURL, bool) {
	match := roomURLRegex.FindString(text)
	if match == "" {
		return RoomURL{}, false
	}
	return RoomURL{URL: match}, true
}

// Scraper fetches room pages and extracts roster data
type Scraper struct {
	httpClient *http.Client
	baseURL    string
}

// NewScraper creates a scraper with a default HTTP timeout
func NewScraper() *Scraper {
	return &Scraper{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: "https://archipelago.gg",
	}
}

// FetchRoomData downloads a room page and scrapes it into RoomData.
// Errors name the structural assumption that was violated so the caller can
// surface them to the user.
func (s *Scraper) FetchRoomData(ctx context.Context, roomURL RoomURL) (*RoomData, error) {
	doc, err := s.fetchRoomPage(ctx, roomURL.URL)
	if err != nil {
		return nil, err
	}

	hostRoomInfo := findByID(doc, "host-room-info")
	if hostRoomInfo == nil {
		return nil, fmt.Errorf("room page had unexpected format: id=\"host-room-info\" not found")
	}
	capture := portCaptureRegex.FindStringSubmatch(textContent(hostRoomInfo))
	if len(capture) != 2 {
		return nil, fmt.Errorf("room page had unexpected format: could not get port")
	}
	port := capture[1]

	slotsTable := findByID(doc, "slots-table")
	if slotsTable == nil {
		return nil, fmt.Errorf("room page had unexpected format: slots table not found")
	}
	body := lastChildElement(slotsTable)
	if body == nil {
		return nil, fmt.Errorf("room page had unexpected format: slots table is empty")
	}

	var players []PlayerData
	for _, row := range childElements(body) {
		player, err := s.parseSlotRow(row)
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}

	return &RoomData{
		Players: players,
		Port:    port,
		RoomURL: roomURL.URL,
	}, nil
}

// parseSlotRow extracts one player from a slots-table row. Columns are
// id, name, game, download link, tracker page.
func (s *Scraper) parseSlotRow(row *html.Node) (PlayerData, error) {
	columns := childElements(row)
	if len(columns) != 5 {
		return PlayerData{}, fmt.Errorf("room page table rows had unexpected format: expected 5 columns but got %d", len(columns))
	}

	id := strings.TrimSpace(textContent(columns[0]))

	nameNode := firstChildElement(columns[1])
	if nameNode == nil {
		return PlayerData{}, fmt.Errorf("room page table rows had unexpected format: missing name")
	}
	name := strings.TrimSpace(textContent(nameNode))

	game := strings.TrimSpace(textContent(columns[2]))

	downloadLink := ""
	if anchor := firstChildElement(columns[3]); anchor != nil {
		if path, ok := attr(anchor, "href"); ok {
			downloadLink = s.baseURL + path
		}
	}

	trackerAnchor := firstChildElement(columns[4])
	if trackerAnchor == nil {
		return PlayerData{}, fmt.Errorf("room page table rows had unexpected format: missing tracker page")
	}
	trackerPath, ok := attr(trackerAnchor, "href")
	if !ok {
		return PlayerData{}, fmt.Errorf("room page table rows had unexpected format: missing tracker page")
	}

	return PlayerData{
		ID:           id,
		Name:         name,
		Game:         game,
		DownloadLink: downloadLink,
		TrackerPage:  s.baseURL + trackerPath,
	}, nil
}

// fetchRoomPage downloads and parses the room page DOM
func (s *Scraper) fetchRoomPage(ctx context.Context, url string) (*html.Node, error) {
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("room fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room fetch had unsuccessful HTTP status: %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse room page: %w", err)
	}
	return doc, nil
}
