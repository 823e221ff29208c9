package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/park285/chess-relay/internal/protocol"
	"go.uber.org/zap"
)

// BoardView is the JSON body of GET /api/board/{room}.
type BoardView struct {
	Room      string   `json:"room"`
	GameID    string   `json:"game_id"`
	Status    Status   `json:"status"`
	White     string   `json:"white,omitempty"`
	Black     string   `json:"black,omitempty"`
	MovesSAN  []string `json:"moves_san"`
	Outcome   string   `json:"outcome,omitempty"`
	Method    string   `json:"method,omitempty"`
	Peers     int      `json:"peers"`
	UpdatedAt string   `json:"updated_at"`
	protocol.Snapshot
}

// Handler routes the socket endpoint, the board lookup and the health check.
func Handler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.BoardPath+"{room}/{user}", h.Serve)
	mux.HandleFunc("GET /api/board/{room}", h.serveBoard)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (h *Hub) serveBoard(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.PathValue("room"))
	g, err := h.store.Load(r.Context(), roomID)
	if errors.Is(err, ErrGameNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "game not found"})
		return
	}
	if err != nil {
		h.logger.Error("relay_board_lookup_error", zap.String("room_id", roomID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": MsgInternal})
		return
	}
	writeJSON(w, http.StatusOK, BoardView{
		Room:      g.Room,
		GameID:    g.ID,
		Status:    g.Status,
		White:     g.WhiteName,
		Black:     g.BlackName,
		MovesSAN:  g.MovesSAN,
		Outcome:   g.Outcome,
		Method:    g.Method,
		Peers:     h.Peers(roomID),
		UpdatedAt: g.UpdatedAt.UTC().Format(time.RFC3339),
		Snapshot:  g.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
