package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-relay/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Error texts sent to the player whose move was rejected.
const (
	MsgIllegalMove   = "illegal move"
	MsgInvalidFormat = "invalid move format"
	MsgNotYourTurn   = "not your turn"
	MsgGameOver      = "game is over"
	MsgInternal      = "internal error"
)

const readLimit = 4096

// HubOptions configures a Hub. Zero values pick defaults.
type HubOptions struct {
	Logger         *zap.Logger
	Results        ResultSink
	OriginPatterns []string
	WriteTimeout   time.Duration
	Now            func() time.Time
}

// Hub tracks live connections per room and routes moves through the store.
type Hub struct {
	store   Store
	results ResultSink
	logger  *zap.Logger
	origins []string
	writeTO time.Duration
	now     func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
}

// room serializes joins and moves so every peer sees frames in one order.
type room struct {
	id    string
	mu    sync.Mutex
	peers map[string]*peer
	dead  bool
}

type peer struct {
	userID   string
	username string
	color    protocol.Color
	ws       *websocket.Conn
}

func NewHub(store Store, opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	writeTO := opts.WriteTimeout
	if writeTO <= 0 {
		writeTO = 5 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Hub{
		store:   store,
		results: opts.Results,
		logger:  logger,
		origins: opts.OriginPatterns,
		writeTO: writeTO,
		now:     now,
		rooms:   make(map[string]*room),
	}
}

// Serve handles GET /ws/board/{room}/{user}?username=NAME.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.PathValue("room"))
	userID := strings.TrimSpace(r.PathValue("user"))
	if roomID == "" || userID == "" {
		http.Error(w, "room and user are required", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	if !q.Has("username") {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(q.Get("username"))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.origins,
		InsecureSkipVerify: len(h.origins) == 0,
	})
	if err != nil {
		h.logger.Warn("relay_accept_error", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	ws.SetReadLimit(readLimit)

	ctx := r.Context()
	p := &peer{userID: userID, username: username, ws: ws}
	rm, err := h.join(ctx, roomID, p)
	if rm != nil {
		defer h.leave(rm, p)
	}
	if err != nil {
		h.logger.Error("relay_join_error", zap.String("room_id", roomID), zap.String("user_id", userID), zap.Error(err))
		_ = ws.Close(websocket.StatusInternalError, "join failed")
		return
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			h.logger.Debug("relay_peer_read_end", zap.String("room_id", roomID), zap.String("user_id", userID), zap.Error(err))
			return
		}
		if typ != websocket.MessageText {
			h.sendError(ctx, p, MsgInvalidFormat)
			continue
		}
		h.handleMove(ctx, rm, p, data)
	}
}

// join seats p and sends its init frame. The first peer of a room with no
// live connections starts a fresh game as white; everyone after plays black.
func (h *Hub) join(ctx context.Context, roomID string, p *peer) (*room, error) {
	for {
		h.mu.Lock()
		rm, ok := h.rooms[roomID]
		if !ok {
			rm = &room{id: roomID, peers: make(map[string]*peer)}
			h.rooms[roomID] = rm
		}
		h.mu.Unlock()

		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		g, err := h.seat(ctx, rm, p)
		if err != nil {
			rm.mu.Unlock()
			h.dropIfEmpty(rm)
			return nil, err
		}
		if old, ok := rm.peers[p.userID]; ok {
			_ = old.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		}
		rm.peers[p.userID] = p
		h.logger.Info("relay_join",
			zap.String("room_id", roomID),
			zap.String("user_id", p.userID),
			zap.String("username", p.username),
			zap.String("color", string(p.color)),
			zap.String("game_id", g.ID),
		)
		err = h.write(ctx, p, &protocol.Init{Color: p.color, Snapshot: g.Snapshot()})
		rm.mu.Unlock()
		return rm, err
	}
}

func (h *Hub) seat(ctx context.Context, rm *room, p *peer) (*Game, error) {
	if len(rm.peers) == 0 {
		p.color = protocol.White
		g := NewGame(rm.id, p.userID, p.username, h.now())
		if err := h.store.Create(ctx, g); err != nil {
			return nil, err
		}
		return g, nil
	}
	p.color = protocol.Black
	return h.store.Apply(ctx, rm.id, func(g *Game) error {
		g.Seat(protocol.Black, p.userID, p.username)
		return nil
	})
}

func (h *Hub) leave(rm *room, p *peer) {
	rm.mu.Lock()
	if cur, ok := rm.peers[p.userID]; ok && cur == p {
		delete(rm.peers, p.userID)
	}
	rm.mu.Unlock()
	_ = p.ws.CloseNow()
	h.logger.Info("relay_leave", zap.String("room_id", rm.id), zap.String("user_id", p.userID))
	h.dropIfEmpty(rm)
}

func (h *Hub) dropIfEmpty(rm *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.peers) == 0 && !rm.dead {
		rm.dead = true
		if h.rooms[rm.id] == rm {
			delete(h.rooms, rm.id)
		}
	}
}

func (h *Hub) handleMove(ctx context.Context, rm *room, p *peer, data []byte) {
	mv, err := protocol.DecodeMove(data)
	if err != nil {
		h.sendError(ctx, p, MsgInvalidFormat)
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	g, err := h.store.Apply(ctx, rm.id, func(g *Game) error {
		if g.Active() && g.Turn != p.color {
			return ErrNotYourTurn
		}
		return g.Play(mv.From, mv.To, h.now())
	})
	if err != nil {
		h.logger.Info("relay_move_rejected",
			zap.String("room_id", rm.id),
			zap.String("user_id", p.userID),
			zap.String("move", mv.UCI()),
			zap.Error(err),
		)
		h.sendError(ctx, p, rejectMessage(err))
		return
	}

	h.logger.Info("relay_move",
		zap.String("room_id", rm.id),
		zap.String("game_id", g.ID),
		zap.String("user_id", p.userID),
		zap.String("uci", mv.UCI()),
		zap.String("turn", string(g.Turn)),
		zap.String("status", string(g.Status)),
	)
	update := &protocol.Update{Snapshot: g.Snapshot()}
	bctx := context.WithoutCancel(ctx)
	for _, other := range rm.peers {
		if err := h.write(bctx, other, update); err != nil {
			h.logger.Warn("relay_broadcast_error", zap.String("room_id", rm.id), zap.String("user_id", other.userID), zap.Error(err))
		}
	}
	if !g.Active() {
		h.persist(g)
	}
}

func (h *Hub) persist(g *Game) {
	if h.results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.results.SaveResult(ctx, g); err != nil {
		h.logger.Error("relay_result_persist_error", zap.String("game_id", g.ID), zap.String("outcome", g.Outcome), zap.Error(err))
		return
	}
	h.logger.Info("relay_result_persist", zap.String("game_id", g.ID), zap.String("outcome", g.Outcome), zap.String("method", g.Method))
}

func (h *Hub) sendError(ctx context.Context, p *peer, msg string) {
	if err := h.write(ctx, p, &protocol.Error{Message: msg}); err != nil {
		h.logger.Debug("relay_error_send_failed", zap.String("user_id", p.userID), zap.Error(err))
	}
}

func (h *Hub) write(ctx context.Context, p *peer, msg protocol.Inbound) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTO)
	defer cancel()
	return p.ws.Write(wctx, websocket.MessageText, b)
}

// Peers returns the number of live connections in room.
func (h *Hub) Peers(roomID string) int {
	h.mu.Lock()
	rm, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.peers)
}

func rejectMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFormat):
		return MsgInvalidFormat
	case errors.Is(err, ErrIllegalMove):
		return MsgIllegalMove
	case errors.Is(err, ErrNotYourTurn):
		return MsgNotYourTurn
	case errors.Is(err, ErrGameOver):
		return MsgGameOver
	default:
		return MsgInternal
	}
}
