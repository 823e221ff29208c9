package relay

import (
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/protocol"
)

// StatusLine projects the held snapshot into the one-line status text.
// It is a pure function of its arguments.
func StatusLine(cat *msgcat.Catalog, color protocol.Color, snap *protocol.Snapshot) string {
	if snap == nil {
		return cat.Text("status.waiting", nil)
	}
	toMove := snap.Turn.Color()

	if snap.IsGameOver {
		line := cat.Text("status.over", nil)
		switch {
		case snap.IsCheckmate:
			line += cat.Text("status.checkmate", map[string]any{
				"Winner": cat.Text("side."+string(toMove.Opposite()), nil),
			})
		case snap.IsStalemate:
			line += cat.Text("status.stalemate", nil)
		case snap.IsDraw:
			line += cat.Text("status.draw", nil)
		}
		return line
	}

	line := cat.Text("status.playing", map[string]any{
		"Color": cat.Text("color."+string(color), nil),
		"Turn":  cat.Text("side."+string(toMove), nil),
	})
	if snap.IsCheck {
		line += cat.Text("status.check", map[string]any{
			"Side": cat.Text("check_side."+string(toMove), nil),
		})
	}
	return line
}
