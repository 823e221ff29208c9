package board

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-relay/internal/protocol"
)

var unicodePieces = map[string]string{
	"wK": "♔", "wQ": "♕", "wR": "♖", "wB": "♗", "wN": "♘", "wP": "♙",
	"bK": "♚", "bQ": "♛", "bR": "♜", "bB": "♝", "bN": "♞", "bP": "♟",
}

// TextWidget draws the board as text, from the point of view of its orientation.
type TextWidget struct {
	mu          sync.Mutex
	out         io.Writer
	unicode     bool
	orientation protocol.Color
	draggable   bool
	pos         *position
	caption     string
	snapbacks   int
	closed      bool
}

// NewText builds a text widget and draws the initial position.
func NewText(out io.Writer, unicode bool, cfg Config) (*TextWidget, error) {
	if out == nil {
		out = io.Discard
	}
	orientation := cfg.Orientation
	if !orientation.Valid() {
		orientation = protocol.White
	}
	w := &TextWidget{out: out, unicode: unicode, orientation: orientation, draggable: cfg.Draggable}
	if err := w.SetPosition(cfg.Position); err != nil {
		return nil, err
	}
	return w, nil
}

// TextFactory returns a Factory producing text widgets on out.
func TextFactory(out io.Writer, unicode bool) Factory {
	return func(cfg Config) (Widget, error) {
		return NewText(out, unicode, cfg)
	}
}

func (w *TextWidget) SetPosition(fen string) error {
	pos, err := parsePosition(fen)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("board closed")
	}
	w.pos = pos
	return w.drawLocked()
}

func (w *TextWidget) Position() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pos == nil {
		return ""
	}
	return w.pos.fen
}

func (w *TextWidget) PieceAt(square string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos.pieceAt(square)
}

func (w *TextWidget) Orientation() protocol.Color { return w.orientation }

// Draggable reports whether the board accepts gestures.
func (w *TextWidget) Draggable() bool { return w.draggable }

// Snapback is bookkeeping only: a text board never moves a piece before the
// server confirms it, so there is nothing to redraw.
func (w *TextWidget) Snapback() {
	w.mu.Lock()
	w.snapbacks++
	w.mu.Unlock()
}

// Snapbacks counts Snapback calls.
func (w *TextWidget) Snapbacks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapbacks
}

func (w *TextWidget) SetCaption(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || text == w.caption {
		return
	}
	w.caption = text
	_, _ = fmt.Fprintln(w.out, text)
}

func (w *TextWidget) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *TextWidget) drawLocked() error {
	bw := bufio.NewWriter(w.out)
	writeBoard(bw, w.pos.board, w.orientation, w.unicode)
	return bw.Flush()
}

// Render returns the text form of a position without a widget.
func Render(fen string, orientation protocol.Color, unicode bool) (string, error) {
	pos, err := parsePosition(fen)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeBoard(&b, pos.board, orientation, unicode)
	return b.String(), nil
}

func writeBoard(w io.Writer, board *nchess.Board, orientation protocol.Color, unicode bool) {
	ranks, files := viewOrder(orientation)
	squares := board.SquareMap()

	var footer strings.Builder
	footer.WriteString("   ")
	for _, f := range files {
		footer.WriteString(" " + f.String() + " ")
	}

	fmt.Fprintln(w, "  +"+strings.Repeat("-", 24)+"+")
	for _, r := range ranks {
		fmt.Fprintf(w, "%s |", r.String())
		for _, f := range files {
			piece := squares[nchess.NewSquare(f, r)]
			fmt.Fprintf(w, " %s ", glyph(piece, unicode))
		}
		fmt.Fprintln(w, "|")
	}
	fmt.Fprintln(w, "  +"+strings.Repeat("-", 24)+"+")
	fmt.Fprintln(w, footer.String())
}

func glyph(p nchess.Piece, unicode bool) string {
	if p == nchess.NoPiece {
		return "."
	}
	code := PieceCode(p)
	if unicode {
		return unicodePieces[code]
	}
	letter := code[1:]
	if p.Color() == nchess.Black {
		return strings.ToLower(letter)
	}
	return letter
}
