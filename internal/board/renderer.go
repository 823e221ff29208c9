package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-relay/internal/protocol"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RenderOptions controls one PNG frame.
type RenderOptions struct {
	Orientation protocol.Color
	Caption     string
	Highlight   *MoveHighlight
}

// MoveHighlight marks the squares of the last move.
type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

// Renderer draws a position to PNG.
type Renderer interface {
	RenderPNG(ctx context.Context, fen string, opts RenderOptions) ([]byte, error)
}

type pngRenderer struct {
	squareSize int
}

// NewRenderer returns a PNG renderer with the given square size in pixels.
func NewRenderer(squareSize int) Renderer {
	if squareSize < 16 {
		squareSize = 64
	}
	return &pngRenderer{squareSize: squareSize}
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	highlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	captionColor    = color.RGBA{236, 239, 255, 255}
	coordinateColor = color.RGBA{8, 214, 120, 255}
)

const (
	sideMargin   = 24
	topMargin    = 36
	bottomMargin = 24
)

func (r *pngRenderer) RenderPNG(ctx context.Context, fen string, opts RenderOptions) ([]byte, error) {
	pos, err := parsePosition(fen)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	size := r.squareSize
	boardSize := size * 8
	img := image.NewRGBA(image.Rect(0, 0, boardSize+sideMargin*2, boardSize+topMargin+bottomMargin))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	origin := image.Point{X: sideMargin, Y: topMargin}
	ranks, files := viewOrder(opts.Orientation)

	drawSquares(img, ranks, files, size, origin)
	if h := opts.Highlight; h != nil {
		drawSquareOverlay(img, h.From, ranks, files, size, origin)
		drawSquareOverlay(img, h.To, ranks, files, size, origin)
	}
	if err := drawPieces(img, pos.board, ranks, files, size, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, ranks, files, size, origin)
	drawCaption(img, opts.Caption)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func drawSquares(dst imagedraw.Image, ranks []nchess.Rank, files []nchess.File, size int, origin image.Point) {
	for row, rank := range ranks {
		for col, file := range files {
			x := origin.X + col*size
			y := origin.Y + row*size
			clr := squareColor(nchess.NewSquare(file, rank))
			imagedraw.Draw(dst, image.Rect(x, y, x+size, y+size), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, ranks []nchess.Rank, files []nchess.File, size int, origin image.Point) error {
	squares := board.SquareMap()
	for row, rank := range ranks {
		for col, file := range files {
			piece := squares[nchess.NewSquare(file, rank)]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := renderPieceImage(piece, size)
			if err != nil {
				return err
			}
			x := origin.X + col*size
			y := origin.Y + row*size
			imagedraw.Draw(dst, image.Rect(x, y, x+size, y+size), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawSquareOverlay(dst imagedraw.Image, sq nchess.Square, ranks []nchess.Rank, files []nchess.File, size int, origin image.Point) {
	row, col := -1, -1
	for i, r := range ranks {
		if r == sq.Rank() {
			row = i
		}
	}
	for i, f := range files {
		if f == sq.File() {
			col = i
		}
	}
	if row < 0 || col < 0 {
		return
	}
	x := origin.X + col*size
	y := origin.Y + row*size
	imagedraw.Draw(dst, image.Rect(x, y, x+size, y+size), image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
}

func drawCoordinates(dst imagedraw.Image, ranks []nchess.Rank, files []nchess.File, size int, origin image.Point) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Src: image.NewUniform(coordinateColor), Face: face}
	boardBottom := origin.Y + size*8
	for col, f := range files {
		drawer.Dot = fixed.P(origin.X+col*size+size/2-3, boardBottom+16)
		drawer.DrawString(f.String())
	}
	for row, r := range ranks {
		drawer.Dot = fixed.P(origin.X-14, origin.Y+row*size+size/2+5)
		drawer.DrawString(r.String())
	}
}

func drawCaption(dst *image.RGBA, caption string) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return
	}
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Src: image.NewUniform(captionColor), Face: face}
	maxWidth := dst.Bounds().Dx() - sideMargin*2
	caption = truncateToWidth(drawer, caption, maxWidth)
	drawer.Dot = fixed.P(sideMargin, topMargin-12)
	drawer.DrawString(caption)
}

func truncateToWidth(d *font.Drawer, s string, width int) string {
	if d.MeasureString(s).Round() <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if d.MeasureString(candidate).Round() <= width {
			return candidate
		}
	}
	return ""
}
