// Package server is the authoritative board server the relay client talks
// to. It owns the chess rules: colors are assigned on join, moves are
// validated and applied here, and canonical state is broadcast per room.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"github.com/park285/chess-relay/internal/protocol"
)

// Status represents a game lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
	StatusDraw     Status = "DRAW"
)

var (
	ErrGameNotFound  = errors.New("game not found")
	ErrIllegalMove   = errors.New("illegal move")
	ErrInvalidFormat = errors.New("invalid move format")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrGameOver      = errors.New("game is over")
	ErrConflict      = errors.New("concurrent update")
)

// Game is the persisted state of one room's board.
type Game struct {
	ID        string         `json:"id"`
	Room      string         `json:"room"`
	FEN       string         `json:"fen"`
	MovesUCI  []string       `json:"moves_uci"`
	MovesSAN  []string       `json:"moves_san"`
	Turn      protocol.Color `json:"turn"`
	Status    Status         `json:"status"`
	Check     bool           `json:"check"`
	WhiteID   string         `json:"white_id"`
	WhiteName string         `json:"white_name"`
	BlackID   string         `json:"black_id"`
	BlackName string         `json:"black_name"`
	Outcome   string         `json:"outcome,omitempty"`
	Method    string         `json:"method,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewGame starts a game at the initial position with white seated.
func NewGame(room, whiteID, whiteName string, now time.Time) *Game {
	return &Game{
		ID:        uuid.NewString(),
		Room:      strings.TrimSpace(room),
		FEN:       nchess.NewGame().FEN(),
		MovesUCI:  []string{},
		MovesSAN:  []string{},
		Turn:      protocol.White,
		Status:    StatusActive,
		WhiteID:   strings.TrimSpace(whiteID),
		WhiteName: strings.TrimSpace(whiteName),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Active reports whether moves are still accepted.
func (g *Game) Active() bool { return g.Status == StatusActive }

// Seat records the black player if the seat is still free.
func (g *Game) Seat(color protocol.Color, userID, username string) {
	switch color {
	case protocol.White:
		if g.WhiteID == "" {
			g.WhiteID, g.WhiteName = userID, username
		}
	case protocol.Black:
		if g.BlackID == "" {
			g.BlackID, g.BlackName = userID, username
		}
	}
}

// Play validates and applies one move. On error g is left unchanged.
func (g *Game) Play(from, to string, now time.Time) error {
	if !g.Active() {
		return ErrGameOver
	}
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if !validSquare(from) || !validSquare(to) {
		return ErrInvalidFormat
	}

	game, err := reconstruct(g.MovesUCI)
	if err != nil {
		return err
	}
	pos := game.Position()
	uci := from + to
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return ErrIllegalMove
	}
	last := lastMove(game)
	if last == nil {
		return ErrIllegalMove
	}

	g.MovesUCI = append(g.MovesUCI, uci)
	g.MovesSAN = append(g.MovesSAN, nchess.AlgebraicNotation{}.Encode(pos, last))
	g.FEN = game.FEN()
	g.Turn = colorFrom(game.Position().Turn())
	g.Check = last.HasTag(nchess.Check)
	g.UpdatedAt = now

	switch game.Outcome() {
	case nchess.WhiteWon:
		g.Status = StatusFinished
		g.Outcome = "white"
	case nchess.BlackWon:
		g.Status = StatusFinished
		g.Outcome = "black"
	case nchess.Draw:
		g.Status = StatusDraw
		g.Outcome = "draw"
	}
	if g.Status != StatusActive {
		g.Method = methodName(game.Method())
	}
	return nil
}

// Snapshot is the wire view sent in init and update frames.
func (g *Game) Snapshot() protocol.Snapshot {
	over := !g.Active()
	return protocol.Snapshot{
		FEN:         g.FEN,
		Turn:        protocol.SideOf(g.Turn),
		IsCheck:     g.Check,
		IsGameOver:  over,
		IsCheckmate: over && g.Method == "checkmate",
		IsStalemate: over && g.Method == "stalemate",
		IsDraw:      g.Status == StatusDraw,
	}
}

// Clone returns a deep copy.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.MovesUCI = append([]string(nil), g.MovesUCI...)
	c.MovesSAN = append([]string(nil), g.MovesSAN...)
	return &c
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// reconstruct replays stored moves from the start position. The stored FEN
// is for presentation only.
func reconstruct(moves []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay %q: %w", mv, err)
		}
	}
	return game, nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFrom(c nchess.Color) protocol.Color {
	if c == nchess.White {
		return protocol.White
	}
	return protocol.Black
}

func methodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	default:
		return strings.ToLower(m.String())
	}
}
