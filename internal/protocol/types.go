package protocol

import (
	"fmt"
	"strings"
)

// Color is the side a player has been assigned for the session.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side. Unknown colors map to themselves.
func (c Color) Opposite() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return c
	}
}

// Valid reports whether c is white or black.
func (c Color) Valid() bool { return c == White || c == Black }

// ParseColor accepts "white"/"black" and the one-letter forms.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return "", fmt.Errorf("invalid color %q", s)
	}
}

// Side is the side-to-move flag as carried on the wire ("w" or "b").
type Side string

const (
	SideWhite Side = "w"
	SideBlack Side = "b"
)

// Color converts the turn flag into a player color.
func (s Side) Color() Color {
	if s == SideWhite {
		return White
	}
	return Black
}

// SideOf returns the wire flag for a color.
func SideOf(c Color) Side {
	if c == White {
		return SideWhite
	}
	return SideBlack
}

// UnmarshalText accepts "w"/"b" and, for older servers, "white"/"black".
func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "w", "white":
		*s = SideWhite
	case "b", "black":
		*s = SideBlack
	default:
		return fmt.Errorf("invalid turn %q", string(b))
	}
	return nil
}

// Snapshot is the server-authoritative view of a game at one point in time.
// Clients replace it wholesale; fields are never merged across messages.
type Snapshot struct {
	FEN         string `json:"fen"`
	Turn        Side   `json:"turn"`
	IsCheck     bool   `json:"is_check"`
	IsGameOver  bool   `json:"is_game_over"`
	IsCheckmate bool   `json:"is_checkmate"`
	IsStalemate bool   `json:"is_stalemate"`
	IsDraw      bool   `json:"is_draw"`
}

// MoveAttempt is the only client to server frame.
type MoveAttempt struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UCI joins the squares into a long-algebraic move string.
func (m MoveAttempt) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To))
}
