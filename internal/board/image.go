package board

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// ImageWidget is a TextWidget that also writes every position as a PNG file.
type ImageWidget struct {
	*TextWidget
	path     string
	renderer Renderer
	prev     *nchess.Board
}

// ImageFactory returns a Factory producing image widgets that write to path
// and draw text to out.
func ImageFactory(out io.Writer, unicode bool, path string, renderer Renderer) Factory {
	return func(cfg Config) (Widget, error) {
		return NewImage(out, unicode, path, renderer, cfg)
	}
}

func NewImage(out io.Writer, unicode bool, path string, renderer Renderer, cfg Config) (*ImageWidget, error) {
	if renderer == nil {
		renderer = NewRenderer(64)
	}
	text, err := NewText(out, unicode, cfg)
	if err != nil {
		return nil, err
	}
	w := &ImageWidget{TextWidget: text, path: path, renderer: renderer}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *ImageWidget) SetPosition(fen string) error {
	w.mu.Lock()
	if w.pos != nil {
		w.prev = w.pos.board
	}
	w.mu.Unlock()
	if err := w.TextWidget.SetPosition(fen); err != nil {
		return err
	}
	return w.flush()
}

// SetCaption draws text into the image only; the text output is left alone.
func (w *ImageWidget) SetCaption(text string) {
	w.mu.Lock()
	if w.closed || text == w.caption {
		w.mu.Unlock()
		return
	}
	w.caption = text
	w.mu.Unlock()
	_ = w.flush()
}

// Path is where frames are written.
func (w *ImageWidget) Path() string { return w.path }

func (w *ImageWidget) flush() error {
	w.mu.Lock()
	fen := w.pos.fen
	opts := RenderOptions{
		Orientation: w.orientation,
		Caption:     w.caption,
		Highlight:   diffHighlight(w.prev, w.pos.board),
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := w.renderer.RenderPNG(ctx, fen, opts)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(w.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create image dir: %w", err)
		}
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write board image: %w", err)
	}
	return os.Rename(tmp, w.path)
}

// diffHighlight infers a simple move between two boards: one square emptied
// and one square filled. Anything else (castling, en passant, first frame)
// yields no highlight.
func diffHighlight(prev, next *nchess.Board) *MoveHighlight {
	if prev == nil || next == nil {
		return nil
	}
	before, after := prev.SquareMap(), next.SquareMap()
	var emptied, filled []nchess.Square
	for sq := nchess.A1; sq <= nchess.H8; sq++ {
		b, a := before[sq], after[sq]
		if b == a {
			continue
		}
		switch {
		case a == nchess.NoPiece:
			emptied = append(emptied, sq)
		default:
			filled = append(filled, sq)
		}
	}
	if len(emptied) != 1 || len(filled) != 1 {
		return nil
	}
	return &MoveHighlight{From: emptied[0], To: filled[0]}
}
