// Package board holds the visual board widgets the relay session drives.
// Widgets only display positions they are given; they never apply moves.
package board

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-relay/internal/protocol"
)

// Config mirrors what the session knows when the first snapshot arrives.
type Config struct {
	Position    string
	Orientation protocol.Color
	Draggable   bool
}

// Widget is a rendered board bound to one session.
type Widget interface {
	SetPosition(fen string) error
	Position() string
	// PieceAt returns the piece code ("wP", "bK", ...) on square, if any.
	PieceAt(square string) (string, bool)
	Orientation() protocol.Color
	// Snapback returns a dragged piece to its origin square.
	Snapback()
	Close() error
}

// Captioner is implemented by widgets that can show the status line.
type Captioner interface {
	SetCaption(text string)
}

// Factory builds a widget for a session.
type Factory func(cfg Config) (Widget, error)

// position tracks the parsed board for a FEN string.
type position struct {
	fen   string
	board *nchess.Board
	turn  nchess.Color
}

func parsePosition(fen string) (*position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, fmt.Errorf("empty position")
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	pos := nchess.NewGame(opt).Position()
	return &position{fen: fen, board: pos.Board(), turn: pos.Turn()}, nil
}

func (p *position) pieceAt(square string) (string, bool) {
	if p == nil || p.board == nil {
		return "", false
	}
	sq, err := ParseSquare(square)
	if err != nil {
		return "", false
	}
	piece := p.board.Piece(sq)
	if piece == nchess.NoPiece {
		return "", false
	}
	return PieceCode(piece), true
}

// ParseSquare converts algebraic coordinates such as "e4".
func ParseSquare(s string) (nchess.Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("invalid square %q", s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

// PieceCode renders a piece the way drag gestures report it: color prefix
// then the upper-case type letter.
func PieceCode(p nchess.Piece) string {
	prefix := "b"
	if p.Color() == nchess.White {
		prefix = "w"
	}
	return prefix + pieceLetter(p.Type())
}

func pieceLetter(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "K"
	case nchess.Queen:
		return "Q"
	case nchess.Rook:
		return "R"
	case nchess.Bishop:
		return "B"
	case nchess.Knight:
		return "N"
	case nchess.Pawn:
		return "P"
	default:
		return "?"
	}
}

// viewOrder returns ranks top to bottom and files left to right as seen by
// the given side.
func viewOrder(orientation protocol.Color) ([]nchess.Rank, []nchess.File) {
	ranks := []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	files := []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
	if orientation == protocol.Black {
		for i, j := 0, len(ranks)-1; i < j; i, j = i+1, j-1 {
			ranks[i], ranks[j] = ranks[j], ranks[i]
			files[i], files[j] = files[j], files[i]
		}
	}
	return ranks, files
}
