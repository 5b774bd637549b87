package relay

import (
	"net/url"
	"strings"
)

// normalizeRoomURL canonicalizes a room URL for equality checks: https is
// forced, the host is lowercased, and trailing slashes are dropped, so
// differently-pasted links to the same room compare equal.
func normalizeRoomURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return strings.TrimSuffix(trimmed, "/")
	}
	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
