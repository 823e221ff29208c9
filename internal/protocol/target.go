package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Identity is supplied by the host at start-up and never changes.
type Identity struct {
	Origin   string
	RoomID   string
	UserID   string
	Username string
}

// BoardPath is the route prefix the server mounts its socket handler on.
const BoardPath = "/ws/board/"

// Target derives the socket URL from the page origin and the identity:
// <ws|wss>://host/ws/board/<room>/<user>?username=<name>.
func Target(id Identity) (string, error) {
	if strings.TrimSpace(id.RoomID) == "" || strings.TrimSpace(id.UserID) == "" {
		return "", errors.New("room and user identifiers are required")
	}
	origin := strings.TrimSpace(id.Origin)
	if origin == "" {
		return "", errors.New("origin is required")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	u.Path = BoardPath + id.RoomID + "/" + id.UserID
	u.RawQuery = url.Values{"username": {id.Username}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}
