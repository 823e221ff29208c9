package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-relay/internal/board"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/protocol"
	"github.com/park285/chess-relay/internal/wsconn"
)

const (
	startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4  = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
)

type fakeTransport struct {
	mu         sync.Mutex
	onMessage  []wsconn.MessageCallback
	onState    []wsconn.StateCallback
	sent       []protocol.MoveAttempt
	sendErr    error
	connectErr error
	closed     bool
}

func (f *fakeTransport) OnMessage(cb wsconn.MessageCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = append(f.onMessage, cb)
	return len(f.onMessage)
}

func (f *fakeTransport) OnStateChange(cb wsconn.StateCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = append(f.onState, cb)
	return len(f.onState)
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		f.state(wsconn.StateFailed)
		return f.connectErr
	}
	f.state(wsconn.StateConnected)
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, v.(protocol.MoveAttempt))
	return nil
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) deliver(raw string) {
	f.mu.Lock()
	cbs := append([]wsconn.MessageCallback(nil), f.onMessage...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb([]byte(raw))
	}
}

func (f *fakeTransport) state(st wsconn.State) {
	f.mu.Lock()
	cbs := append([]wsconn.StateCallback(nil), f.onState...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(st)
	}
}

func (f *fakeTransport) sentMoves() []protocol.MoveAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.MoveAttempt(nil), f.sent...)
}

type recorder struct {
	mu     sync.Mutex
	status []string
	alerts []string
}

func (r *recorder) SetStatus(text string) {
	r.mu.Lock()
	r.status = append(r.status, text)
	r.mu.Unlock()
}

func (r *recorder) Alert(text string) {
	r.mu.Lock()
	r.alerts = append(r.alerts, text)
	r.mu.Unlock()
}

func (r *recorder) lastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.status) == 0 {
		return ""
	}
	return r.status[len(r.status)-1]
}

func (r *recorder) alertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type harness struct {
	s      *Session
	conn   *fakeTransport
	rec    *recorder
	boards []*board.TextWidget
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := msgcat.New("en", "")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	h := &harness{conn: &fakeTransport{}, rec: &recorder{}}
	factory := func(cfg board.Config) (board.Widget, error) {
		w, err := board.NewText(io.Discard, false, cfg)
		if err != nil {
			return nil, err
		}
		h.boards = append(h.boards, w)
		return w, nil
	}
	s, err := New(protocol.Identity{Origin: "http://localhost:8000", RoomID: "7", UserID: "42", Username: "alice"}, Options{
		Transport: h.conn,
		Boards:    factory,
		Status:    h.rec,
		Alerts:    h.rec,
		Catalog:   cat,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.s = s
	return h
}

func initFrame(color, fen, turn string) string {
	b, _ := json.Marshal(map[string]any{"type": "init", "color": color, "fen": fen, "turn": turn})
	return string(b)
}

func updateFrame(fen, turn string, flags map[string]bool) string {
	m := map[string]any{"type": "update", "fen": fen, "turn": turn}
	for k, v := range flags {
		m[k] = v
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func (h *harness) msg(t *testing.T, raw string) {
	t.Helper()
	if err := h.s.handleMessage([]byte(raw)); err != nil {
		t.Fatalf("handle message: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(protocol.Identity{Origin: "http://x", RoomID: "1", UserID: "1"}, Options{}); err == nil {
		t.Fatalf("expected error for missing collaborators")
	}
}

func TestInitSetsColorSnapshotAndBoard(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("black", startFEN, "w"))

	if h.s.color != protocol.Black || h.s.snap == nil || h.s.snap.FEN != startFEN {
		t.Fatalf("unexpected state color=%q snap=%+v", h.s.color, h.s.snap)
	}
	if len(h.boards) != 1 {
		t.Fatalf("boards = %d, want 1", len(h.boards))
	}
	if h.boards[0].Orientation() != protocol.Black || !h.boards[0].Draggable() {
		t.Fatalf("board not oriented/draggable")
	}
	if got := h.rec.lastStatus(); got != "You play: black. Turn: White." {
		t.Fatalf("status = %q", got)
	}
}

func TestSecondInitIgnored(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	h.msg(t, initFrame("black", afterE4, "b"))

	if h.s.color != protocol.White {
		t.Fatalf("color changed to %q", h.s.color)
	}
	if h.s.snap.FEN != startFEN {
		t.Fatalf("snapshot changed by second init")
	}
	if len(h.boards) != 1 {
		t.Fatalf("second board created")
	}
}

func TestInitWithBadPositionFails(t *testing.T) {
	h := newHarness(t)
	if err := h.s.handleMessage([]byte(initFrame("white", "not a fen", "w"))); err == nil {
		t.Fatalf("expected error for unrenderable init")
	}
	if h.s.assigned {
		t.Fatalf("color assigned despite failure")
	}
}

func TestUpdateReplacesSnapshotWholesale(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	h.msg(t, updateFrame(startFEN, "w", map[string]bool{"is_check": true}))
	if !h.s.snap.IsCheck {
		t.Fatalf("check flag not applied")
	}
	h.msg(t, updateFrame(afterE4, "b", nil))

	if h.s.snap.IsCheck {
		t.Fatalf("stale flag survived update")
	}
	if h.s.snap.FEN != afterE4 || h.s.snap.Turn != protocol.SideBlack {
		t.Fatalf("snapshot = %+v", h.s.snap)
	}
	if h.boards[0].Position() != afterE4 {
		t.Fatalf("board not re-rendered")
	}
	if got := h.rec.lastStatus(); got != "You play: white. Turn: Black." {
		t.Fatalf("status = %q", got)
	}
}

func TestUpdateBeforeInitIgnored(t *testing.T) {
	h := newHarness(t)
	h.msg(t, updateFrame(afterE4, "b", nil))
	if h.s.snap != nil || len(h.boards) != 0 {
		t.Fatalf("update before init changed state")
	}
}

func TestUpdateWithBadPositionKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	h.msg(t, updateFrame("garbage", "b", nil))
	if h.s.snap.FEN != startFEN || h.boards[0].Position() != startFEN {
		t.Fatalf("bad update applied")
	}
}

func TestErrorAlertsWithoutTouchingSnapshot(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	before := *h.s.snap
	statuses := len(h.rec.status)

	h.msg(t, `{"type":"error","message":"illegal move"}`)

	if *h.s.snap != before {
		t.Fatalf("snapshot mutated by error")
	}
	if len(h.rec.alerts) != 1 || h.rec.alerts[0] != "Error: illegal move" {
		t.Fatalf("alerts = %v", h.rec.alerts)
	}
	if len(h.rec.status) != statuses {
		t.Fatalf("status refreshed on error")
	}
}

func TestUnknownAndMalformedFramesDropped(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	for _, raw := range []string{`{"type":"chat","text":"hi"}`, `{oops`, `{"fen":"x"}`} {
		h.msg(t, raw)
	}
	if h.s.snap.FEN != startFEN || h.rec.alertCount() != 0 {
		t.Fatalf("state changed by dropped frames")
	}
}

func TestGateTable(t *testing.T) {
	cases := []struct {
		name   string
		color  string
		turn   string
		piece  string
		sent   bool
		reason RejectReason
	}{
		{"own piece own turn", "white", "w", "wP", true, Accepted},
		{"black own piece own turn", "black", "b", "bN", true, Accepted},
		{"not my turn", "white", "b", "wP", false, RejectNotYourTurn},
		{"opponent piece", "white", "w", "bP", false, RejectNotYourPiece},
		{"opponent piece on their turn", "white", "b", "bP", false, RejectNotYourTurn},
		{"empty piece", "white", "w", "", false, RejectNoPiece},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.msg(t, initFrame(tc.color, startFEN, tc.turn))
			res := h.s.handleDrop(context.Background(), Gesture{From: "e2", To: "e4", Piece: tc.piece})
			if res.Sent != tc.sent || res.Reason != tc.reason {
				t.Fatalf("result = %+v, want sent=%v reason=%q", res, tc.sent, tc.reason)
			}
			moves := h.conn.sentMoves()
			if tc.sent {
				if len(moves) != 1 || moves[0] != (protocol.MoveAttempt{From: "e2", To: "e4"}) {
					t.Fatalf("sent = %+v", moves)
				}
			} else if len(moves) != 0 {
				t.Fatalf("rejected gesture sent %+v", moves)
			}
			if h.boards[0].Snapbacks() != 1 {
				t.Fatalf("snapbacks = %d, want 1", h.boards[0].Snapbacks())
			}
		})
	}
}

func TestDropBeforeInitRejected(t *testing.T) {
	h := newHarness(t)
	res := h.s.handleDrop(context.Background(), Gesture{From: "e2", To: "e4", Piece: "wP"})
	if res.Reason != RejectNotReady || len(h.conn.sentMoves()) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestDropAfterCloseRejected(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	if err := h.s.handleState(wsconn.StateDisconnected); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("handleState err = %v", err)
	}
	if got := h.rec.lastStatus(); got != "Connection closed. Restart the client." {
		t.Fatalf("status = %q", got)
	}
	res := h.s.handleDrop(context.Background(), Gesture{From: "e2", To: "e4", Piece: "wP"})
	if res.Reason != RejectClosed || len(h.conn.sentMoves()) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestDropSendFailure(t *testing.T) {
	h := newHarness(t)
	h.conn.sendErr = wsconn.ErrNotConnected
	h.msg(t, initFrame("white", startFEN, "w"))
	res := h.s.handleDrop(context.Background(), Gesture{From: "e2", To: "e4", Piece: "wP"})
	if res.Sent || res.Reason != RejectSendFailed {
		t.Fatalf("result = %+v", res)
	}
	if h.boards[0].Snapbacks() != 1 {
		t.Fatalf("snapback not requested")
	}
}

func TestSentMoveDoesNotChangeBoard(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	res := h.s.handleDrop(context.Background(), h.s.gestureFor("E2", "E4"))
	if !res.Sent {
		t.Fatalf("result = %+v", res)
	}
	if h.boards[0].Position() != startFEN || h.s.snap.FEN != startFEN {
		t.Fatalf("position advanced without update")
	}
}

func TestGestureForReadsBoard(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("black", startFEN, "w"))
	g := h.s.gestureFor("g8", "f6")
	if g.Piece != "bN" || g.OldPos != startFEN || g.Orientation != protocol.Black {
		t.Fatalf("gesture = %+v", g)
	}
	if g := h.s.gestureFor("e4", "e5"); g.Piece != "" {
		t.Fatalf("empty square piece = %q", g.Piece)
	}
}

func TestRunProcessesEventsInOrder(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.s.Run(ctx) }()

	waitUntil(t, func() bool {
		h.conn.mu.Lock()
		defer h.conn.mu.Unlock()
		return len(h.conn.onMessage) > 0
	})
	h.conn.deliver(initFrame("white", startFEN, "w"))

	if res := h.s.Move(ctx, "e2", "e4"); !res.Sent {
		t.Fatalf("move result = %+v", res)
	}
	if res := h.s.Move(ctx, "e7", "e5"); res.Reason != RejectNotYourPiece {
		t.Fatalf("move result = %+v", res)
	}

	h.conn.deliver(updateFrame(afterE4, "b", nil))
	if res := h.s.Move(ctx, "d2", "d4"); res.Reason != RejectNotYourTurn {
		t.Fatalf("move result = %+v", res)
	}

	h.conn.state(wsconn.StateDisconnected)
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("run err = %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("run did not stop")
	}
	if res := h.s.Move(ctx, "d2", "d4"); res.Reason != RejectClosed {
		t.Fatalf("move after stop = %+v", res)
	}
	if got := len(h.conn.sentMoves()); got != 1 {
		t.Fatalf("sent %d moves, want 1", got)
	}
}

func TestRunClosesTransportOnDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.s.Run(ctx) }()

	waitUntil(t, func() bool {
		h.conn.mu.Lock()
		defer h.conn.mu.Unlock()
		return len(h.conn.onState) > 0
	})
	h.conn.state(wsconn.StateDisconnected)
	if err := <-errCh; !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("run err = %v", err)
	}
	h.conn.mu.Lock()
	closed := h.conn.closed
	h.conn.mu.Unlock()
	if !closed {
		t.Fatalf("transport left open after run returned")
	}
}

func TestDropWithCancelledContextNotSent(t *testing.T) {
	h := newHarness(t)
	h.msg(t, initFrame("white", startFEN, "w"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.s.handleDrop(ctx, Gesture{From: "e2", To: "e4", Piece: "wP"})
	if res.Sent || res.Reason != RejectCancelled {
		t.Fatalf("result = %+v", res)
	}
	if len(h.conn.sentMoves()) != 0 {
		t.Fatalf("cancelled move was sent")
	}
	if h.boards[0].Snapbacks() != 1 {
		t.Fatalf("snapback not requested")
	}
}

func TestMoveWithCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go h.s.Run(ctx)
	defer h.s.Close(ctx)

	waitUntil(t, func() bool {
		h.conn.mu.Lock()
		defer h.conn.mu.Unlock()
		return len(h.conn.onMessage) > 0
	})
	h.conn.deliver(initFrame("white", startFEN, "w"))

	gone, stop := context.WithCancel(ctx)
	stop()
	if res := h.s.Move(gone, "e2", "e4"); res.Reason != RejectCancelled {
		t.Fatalf("move result = %+v", res)
	}
	if res := h.s.Move(ctx, "d2", "d4"); !res.Sent {
		t.Fatalf("move result = %+v", res)
	}
	moves := h.conn.sentMoves()
	if len(moves) != 1 || moves[0].From != "d2" {
		t.Fatalf("sent = %+v", moves)
	}
}

func TestRunConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.conn.connectErr = errors.New("refused")
	if err := h.s.Run(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
}

func TestCloseStopsRun(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- h.s.Run(ctx) }()

	waitUntil(t, func() bool { return h.s.started.Load() })
	if err := h.s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("run err = %v", err)
	}
	if err := h.s.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}
