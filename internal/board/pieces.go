package board

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Silhouettes on a 45x45 canvas. Each entry is a list of SVG elements that
// receive the piece's fill and stroke.
var pieceShapes = map[nchess.PieceType][]string{
	nchess.Pawn: {
		`<circle cx="22.5" cy="15" r="5.5" %s/>`,
		`<path d="M 16 37 L 29 37 L 26.5 23 L 18.5 23 Z" %s/>`,
	},
	nchess.Rook: {
		`<path d="M 11 14 L 11 9 L 15 9 L 15 11 L 20 11 L 20 9 L 25 9 L 25 11 L 30 11 L 30 9 L 34 9 L 34 14 L 31 17 L 31 31 L 14 31 L 14 17 Z" %s/>`,
		`<path d="M 9 39 L 36 39 L 36 35 L 33 31 L 12 31 L 9 35 Z" %s/>`,
	},
	nchess.Knight: {
		`<path d="M 22 10 C 32.5 11 38.5 18 38 39 L 15 39 C 15 30 25 32.5 23 18 C 20 22 17 24 13 24 C 11 24 9 22 10 20 L 18 12 Z" %s/>`,
	},
	nchess.Bishop: {
		`<circle cx="22.5" cy="8" r="2.5" %s/>`,
		`<path d="M 22.5 11 C 30 16 31 24 28 30 L 17 30 C 14 24 15 16 22.5 11 Z" %s/>`,
		`<path d="M 12 38 L 33 38 L 30 31 L 15 31 Z" %s/>`,
	},
	nchess.Queen: {
		`<circle cx="6" cy="12" r="2.5" %s/>`,
		`<circle cx="14" cy="9" r="2.5" %s/>`,
		`<circle cx="22.5" cy="8" r="2.5" %s/>`,
		`<circle cx="31" cy="9" r="2.5" %s/>`,
		`<circle cx="39" cy="12" r="2.5" %s/>`,
		`<path d="M 9 26 L 6 14 L 14 24 L 14 11 L 20 24 L 22.5 10 L 25 24 L 31 11 L 31 24 L 39 14 L 36 26 L 35 33 L 10 33 Z" %s/>`,
		`<path d="M 10 33 L 35 33 L 36 38 L 9 38 Z" %s/>`,
	},
	nchess.King: {
		`<path d="M 21 4 L 24 4 L 24 8 L 27 8 L 27 11 L 24 11 L 24 16 L 21 16 L 21 11 L 18 11 L 18 8 L 21 8 Z" %s/>`,
		`<path d="M 11 37 L 34 37 L 36 26 C 38 18 27 14 22.5 22 C 18 14 7 18 9 26 Z" %s/>`,
	},
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shapes, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no shape for piece %v", piece)
	}
	attrs := `fill="#f8f8f8" stroke="#1a1a1a" stroke-width="1.5"`
	if piece.Color() == nchess.Black {
		attrs = `fill="#1f1f1f" stroke="#e8e8e8" stroke-width="1.5"`
	}
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	for _, s := range shapes {
		fmt.Fprintf(&b, s, attrs)
	}
	b.WriteString(`</svg>`)
	return []byte(b.String()), nil
}

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}
