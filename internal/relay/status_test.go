package relay

import (
	"testing"

	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/protocol"
)

func TestStatusLine(t *testing.T) {
	en, err := msgcat.New("en", "")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	tests := []struct {
		name  string
		color protocol.Color
		snap  *protocol.Snapshot
		want  string
	}{
		{"waiting", protocol.White, nil, "Waiting for the server..."},
		{"playing", protocol.White, &protocol.Snapshot{Turn: protocol.SideWhite}, "You play: white. Turn: White."},
		{"opponent to move", protocol.Black, &protocol.Snapshot{Turn: protocol.SideWhite}, "You play: black. Turn: White."},
		{"check", protocol.White, &protocol.Snapshot{Turn: protocol.SideBlack, IsCheck: true}, "You play: white. Turn: Black. Black in check!"},
		{"checkmate winner is side not to move", protocol.White, &protocol.Snapshot{Turn: protocol.SideBlack, IsCheck: true, IsGameOver: true, IsCheckmate: true}, "Game over! White wins (checkmate)."},
		{"black mates", protocol.White, &protocol.Snapshot{Turn: protocol.SideWhite, IsGameOver: true, IsCheckmate: true}, "Game over! Black wins (checkmate)."},
		{"stalemate", protocol.Black, &protocol.Snapshot{Turn: protocol.SideBlack, IsGameOver: true, IsStalemate: true, IsDraw: true}, "Game over! Stalemate (draw)."},
		{"draw", protocol.Black, &protocol.Snapshot{Turn: protocol.SideWhite, IsGameOver: true, IsDraw: true}, "Game over! Draw."},
		{"over without reason", protocol.Black, &protocol.Snapshot{Turn: protocol.SideWhite, IsGameOver: true}, "Game over!"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusLine(en, tc.color, tc.snap); got != tc.want {
				t.Fatalf("StatusLine = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatusLineRussian(t *testing.T) {
	ru, err := msgcat.New("ru", "")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	got := StatusLine(ru, protocol.White, &protocol.Snapshot{Turn: protocol.SideWhite})
	want := ru.Text("status.playing", map[string]any{
		"Color": ru.Text("color.white", nil),
		"Turn":  ru.Text("side.white", nil),
	})
	if got != want || got == "status.playing" {
		t.Fatalf("StatusLine = %q, want %q", got, want)
	}
}
