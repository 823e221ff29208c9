package board

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-relay/internal/protocol"
)

const (
	startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4  = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
)

func TestParseSquare(t *testing.T) {
	sq, err := ParseSquare("E4")
	if err != nil {
		t.Fatalf("ParseSquare: %v", err)
	}
	if sq != nchess.E4 {
		t.Fatalf("got %v, want e4", sq)
	}
	for _, bad := range []string{"", "e9", "i1", "e44"} {
		if _, err := ParseSquare(bad); err == nil {
			t.Errorf("ParseSquare(%q) expected error", bad)
		}
	}
}

func TestTextWidgetPieces(t *testing.T) {
	var out bytes.Buffer
	w, err := NewText(&out, false, Config{Position: startFEN, Orientation: protocol.White, Draggable: true})
	if err != nil {
		t.Fatalf("NewText: %v", err)
	}
	if code, ok := w.PieceAt("e2"); !ok || code != "wP" {
		t.Fatalf("e2 = %q %v", code, ok)
	}
	if code, ok := w.PieceAt("d8"); !ok || code != "bQ" {
		t.Fatalf("d8 = %q %v", code, ok)
	}
	if _, ok := w.PieceAt("e4"); ok {
		t.Fatalf("e4 should be empty")
	}
	if !strings.Contains(out.String(), "8 | r  n  b  q  k  b  n  r |") {
		t.Fatalf("unexpected drawing:\n%s", out.String())
	}

	if err := w.SetPosition(afterE4); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if code, _ := w.PieceAt("e4"); code != "wP" {
		t.Fatalf("e4 after update = %q", code)
	}
	if w.Position() != afterE4 {
		t.Fatalf("position not replaced")
	}
	if err := w.SetPosition("not a fen"); err == nil {
		t.Fatalf("expected error for bad fen")
	}
	if w.Position() != afterE4 {
		t.Fatalf("bad fen must not replace position")
	}
}

func TestRenderOrientation(t *testing.T) {
	white, err := Render(startFEN, protocol.White, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	black, err := Render(startFEN, protocol.Black, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	whiteLines := strings.Split(white, "\n")
	blackLines := strings.Split(black, "\n")
	if !strings.HasPrefix(whiteLines[1], "8 |") || !strings.HasPrefix(blackLines[1], "1 |") {
		t.Fatalf("orientation not applied:\n%s\n%s", white, black)
	}
	if !strings.Contains(blackLines[1], "R  N  B  K  Q  B  N  R") {
		t.Fatalf("black view should mirror files: %q", blackLines[1])
	}
}

func TestSnapbackAndCaption(t *testing.T) {
	var out bytes.Buffer
	w, err := NewText(&out, true, Config{Position: startFEN})
	if err != nil {
		t.Fatalf("NewText: %v", err)
	}
	if w.Orientation() != protocol.White {
		t.Fatalf("default orientation = %q", w.Orientation())
	}
	before := out.Len()
	w.Snapback()
	w.Snapback()
	if w.Snapbacks() != 2 {
		t.Fatalf("snapbacks = %d", w.Snapbacks())
	}
	if out.Len() != before {
		t.Fatalf("snapback must not redraw")
	}
	w.SetCaption("White to move")
	w.SetCaption("White to move")
	if strings.Count(out.String(), "White to move") != 1 {
		t.Fatalf("caption should print once:\n%s", out.String())
	}
}

func TestRendererPNG(t *testing.T) {
	r := NewRenderer(32)
	ctx := context.Background()
	white, err := r.RenderPNG(ctx, startFEN, RenderOptions{Orientation: protocol.White, Caption: "You play: white"})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(white))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Dx(); got != 32*8+sideMargin*2 {
		t.Fatalf("width = %d", got)
	}
	black, err := r.RenderPNG(ctx, startFEN, RenderOptions{Orientation: protocol.Black, Caption: "You play: white"})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if bytes.Equal(white, black) {
		t.Fatalf("expected different images for flipped orientation")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := r.RenderPNG(cancelled, startFEN, RenderOptions{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestImageWidgetWritesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames", "board.png")
	f := ImageFactory(nil, false, path, NewRenderer(24))
	w, err := f(Config{Position: startFEN, Orientation: protocol.Black})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := w.SetPosition(afterE4); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("frame not rewritten")
	}
}

func TestDiffHighlight(t *testing.T) {
	a, _ := parsePosition(startFEN)
	b, _ := parsePosition(afterE4)
	h := diffHighlight(a.board, b.board)
	if h == nil || h.From != nchess.E2 || h.To != nchess.E4 {
		t.Fatalf("highlight = %+v", h)
	}
	if diffHighlight(nil, b.board) != nil {
		t.Fatalf("first frame has no highlight")
	}
}

func TestImageCaptionGoesToImageOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.png")
	var out bytes.Buffer
	w, err := NewImage(&out, false, path, NewRenderer(24), Config{Position: startFEN})
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	before, _ := os.ReadFile(path)
	w.SetCaption("You play: white. Turn: White.")
	after, _ := os.ReadFile(path)
	if bytes.Equal(before, after) {
		t.Fatalf("caption not drawn")
	}
	if strings.Contains(out.String(), "You play") {
		t.Fatalf("caption leaked into text output")
	}
}
