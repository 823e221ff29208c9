// Package relay is the move relay client: it holds the server snapshot,
// filters drag gestures locally, forwards move attempts and renders what the
// server confirms. It never applies a move on its own.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/chess-relay/internal/board"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/protocol"
	"github.com/park285/chess-relay/internal/wsconn"
	"go.uber.org/zap"
)

// ErrConnectionClosed is returned by Run when the server side goes away.
var ErrConnectionClosed = errors.New("connection closed")

// Transport is the connection the session registers its handlers on.
// Callbacks must be invoked sequentially, in arrival order.
type Transport interface {
	OnMessage(cb wsconn.MessageCallback) int
	OnStateChange(cb wsconn.StateCallback) int
	Connect(ctx context.Context) error
	Send(ctx context.Context, v any) error
	Close(ctx context.Context) error
}

// StatusSink receives the status line after every init and update.
type StatusSink interface {
	SetStatus(text string)
}

// Alerter shows a blocking notification; Alert returns once it is dismissed.
type Alerter interface {
	Alert(text string)
}

// Gesture is a drag-release reported by the board.
type Gesture struct {
	From        string
	To          string
	Piece       string // "wP", "bN", ...
	NewPos      string
	OldPos      string
	Orientation protocol.Color
}

// RejectReason says why a gesture was not sent. Accepted is the empty value.
type RejectReason string

const (
	Accepted           RejectReason = ""
	RejectNotReady     RejectReason = "not_ready"
	RejectClosed       RejectReason = "closed"
	RejectNoPiece      RejectReason = "no_piece"
	RejectNotYourTurn  RejectReason = "not_your_turn"
	RejectNotYourPiece RejectReason = "not_your_piece"
	RejectSendFailed   RejectReason = "send_failed"
	RejectCancelled    RejectReason = "cancelled"
)

// DropResult reports the outcome of one gesture. The board snaps back in
// every case; only a later update moves the piece. RejectCancelled means the
// caller stopped waiting; the move is not sent unless its send had begun.
type DropResult struct {
	Sent   bool
	Reason RejectReason
}

// Options wires the session's collaborators. Boards, Status, Alerts and
// Catalog are required.
type Options struct {
	Transport   Transport
	Boards      board.Factory
	Status      StatusSink
	Alerts      Alerter
	Catalog     *msgcat.Catalog
	Logger      *zap.Logger
	SendTimeout time.Duration
	Headers     wsconn.HeaderProvider
}

type eventKind int

const (
	evMessage eventKind = iota
	evState
	evGesture
	evInput
)

type event struct {
	kind    eventKind
	raw     []byte
	state   wsconn.State
	gesture Gesture
	caller  context.Context
	reply   chan DropResult
}

// Session is one page view's worth of relay state. Everything below the
// events channel is owned by the Run goroutine.
type Session struct {
	id          protocol.Identity
	target      string
	conn        Transport
	boards      board.Factory
	status      StatusSink
	alerts      Alerter
	cat         *msgcat.Catalog
	logger      *zap.Logger
	sendTimeout time.Duration

	events    chan event
	done      chan struct{}
	stopped   chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	color    protocol.Color
	assigned bool
	snap     *protocol.Snapshot
	board    board.Widget
	open     bool
	closed   bool
}

// New builds a session for id. Unless opts.Transport is set, a websocket
// transport is created for the derived target URL.
func New(id protocol.Identity, opts Options) (*Session, error) {
	if opts.Boards == nil || opts.Status == nil || opts.Alerts == nil || opts.Catalog == nil {
		return nil, errors.New("relay: boards, status, alerts and catalog are required")
	}
	target, err := protocol.Target(id)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	conn := opts.Transport
	if conn == nil {
		conn = wsconn.New(target, wsconn.WithHeaderProvider(opts.Headers))
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Session{
		id:          id,
		target:      target,
		conn:        conn,
		boards:      opts.Boards,
		status:      opts.Status,
		alerts:      opts.Alerts,
		cat:         opts.Catalog,
		logger:      logger.With(zap.String("room_id", id.RoomID), zap.String("user_id", id.UserID)),
		sendTimeout: timeout,
		events:      make(chan event, 64),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}, nil
}

// Target is the socket URL the session dials.
func (s *Session) Target() string { return s.target }

// Run connects and processes events until the connection closes, Close is
// called or ctx is cancelled. It must be called at most once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("relay: session already running")
	}
	defer close(s.stopped)
	defer s.teardown()

	s.conn.OnMessage(func(raw []byte) {
		s.enqueue(ctx, event{kind: evMessage, raw: raw})
	})
	s.conn.OnStateChange(func(st wsconn.State) {
		s.enqueue(ctx, event{kind: evState, state: st})
	})

	s.status.SetStatus(s.cat.Text("status.waiting", nil))
	s.logger.Info("relay_connect", zap.String("target", s.target))
	if err := s.conn.Connect(ctx); err != nil {
		s.logger.Error("relay_connect_error", zap.Error(err))
		return fmt.Errorf("connect %s: %w", s.target, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case ev := <-s.events:
			if err := s.dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Drop submits a gesture and waits for the gate's verdict.
func (s *Session) Drop(ctx context.Context, g Gesture) DropResult {
	return s.submit(ctx, event{kind: evGesture, gesture: g})
}

// Move submits a gesture described only by its squares; the piece and
// positions are read from the board inside the event loop.
func (s *Session) Move(ctx context.Context, from, to string) DropResult {
	return s.submit(ctx, event{kind: evInput, gesture: Gesture{From: from, To: to}})
}

func (s *Session) submit(ctx context.Context, ev event) DropResult {
	ev.caller = ctx
	ev.reply = make(chan DropResult, 1)
	if !s.enqueue(ctx, ev) {
		if ctx.Err() != nil {
			return DropResult{Reason: RejectCancelled}
		}
		return DropResult{Reason: RejectClosed}
	}
	select {
	case r := <-ev.reply:
		return r
	case <-s.stopped:
		return DropResult{Reason: RejectClosed}
	case <-ctx.Done():
		// The loop checks this ctx before sending; only a send that had
		// already begun can still go out.
		select {
		case r := <-ev.reply:
			return r
		default:
			return DropResult{Reason: RejectCancelled}
		}
	}
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	err := s.shutdown(ctx)
	if !s.started.Load() {
		return err
	}
	select {
	case <-s.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Session) enqueue(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-s.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// shutdown stops callbacks from queueing and closes the transport once.
func (s *Session) shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close(ctx)
	})
	return err
}

func (s *Session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		s.logger.Warn("relay_transport_close_error", zap.Error(err))
	}
	if s.board != nil {
		if err := s.board.Close(); err != nil {
			s.logger.Warn("relay_board_close_error", zap.Error(err))
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ev event) error {
	switch ev.kind {
	case evMessage:
		return s.handleMessage(ev.raw)
	case evState:
		return s.handleState(ev.state)
	case evGesture:
		ev.reply <- s.handleDrop(callerCtx(ctx, ev), ev.gesture)
	case evInput:
		ev.reply <- s.handleDrop(callerCtx(ctx, ev), s.gestureFor(ev.gesture.From, ev.gesture.To))
	}
	return nil
}

func callerCtx(ctx context.Context, ev event) context.Context {
	if ev.caller != nil {
		return ev.caller
	}
	return ctx
}

func (s *Session) handleState(st wsconn.State) error {
	switch st {
	case wsconn.StateConnected:
		s.open = true
		s.logger.Info("relay_open")
	case wsconn.StateDisconnected, wsconn.StateFailed, wsconn.StateClosed:
		if s.closed {
			return nil
		}
		s.closed = true
		s.open = false
		s.status.SetStatus(s.cat.Text("status.closed", nil))
		s.logger.Info("relay_closed", zap.String("state", string(st)))
		select {
		case <-s.done:
			return nil
		default:
			return ErrConnectionClosed
		}
	}
	return nil
}

// handleMessage decodes one frame and applies it. Unknown or malformed
// frames are logged and dropped.
func (s *Session) handleMessage(raw []byte) error {
	msg, err := protocol.Decode(raw)
	if err != nil {
		var unk *protocol.UnknownTagError
		if errors.As(err, &unk) {
			s.logger.Warn("relay_unknown_message", zap.String("type", unk.Tag))
		} else {
			s.logger.Warn("relay_decode_error", zap.Error(err), zap.Int("bytes", len(raw)))
		}
		return nil
	}
	switch m := msg.(type) {
	case *protocol.Init:
		return s.applyInit(m)
	case *protocol.Update:
		s.applyUpdate(m)
	case *protocol.Error:
		s.applyError(m)
	default:
		s.logger.Warn("relay_unhandled_message", zap.String("type", msg.Tag()))
	}
	return nil
}

func (s *Session) applyInit(m *protocol.Init) error {
	if s.assigned {
		s.logger.Warn("relay_duplicate_init", zap.String("color", string(m.Color)))
		return nil
	}
	w, err := s.boards(board.Config{
		Position:    m.Snapshot.FEN,
		Orientation: m.Color,
		Draggable:   true,
	})
	if err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	snap := m.Snapshot
	s.color = m.Color
	s.assigned = true
	s.snap = &snap
	s.board = w
	s.logger.Info("relay_init", zap.String("color", string(s.color)), zap.String("fen", snap.FEN))
	s.refreshStatus()
	return nil
}

func (s *Session) applyUpdate(m *protocol.Update) {
	if s.board == nil {
		s.logger.Warn("relay_update_before_init", zap.String("fen", m.Snapshot.FEN))
		return
	}
	if err := s.board.SetPosition(m.Snapshot.FEN); err != nil {
		s.logger.Warn("relay_update_render_error", zap.String("fen", m.Snapshot.FEN), zap.Error(err))
		return
	}
	snap := m.Snapshot
	s.snap = &snap
	s.logger.Debug("relay_update", zap.String("fen", snap.FEN), zap.String("turn", string(snap.Turn)))
	s.refreshStatus()
}

func (s *Session) applyError(m *protocol.Error) {
	s.logger.Info("relay_server_error", zap.String("message", m.Message))
	s.alerts.Alert(s.cat.Text("alert.error", map[string]any{"Message": m.Message}))
}

func (s *Session) refreshStatus() {
	line := StatusLine(s.cat, s.color, s.snap)
	s.status.SetStatus(line)
	if c, ok := s.board.(board.Captioner); ok {
		c.SetCaption(line)
	}
}

// gestureFor completes a square pair with what the board currently shows.
func (s *Session) gestureFor(from, to string) Gesture {
	g := Gesture{From: strings.ToLower(from), To: strings.ToLower(to)}
	if s.board == nil {
		return g
	}
	g.Piece, _ = s.board.PieceAt(g.From)
	g.OldPos = s.board.Position()
	g.Orientation = s.board.Orientation()
	return g
}

// handleDrop runs the local gate and forwards the move if it passes.
// The board is told to snap back regardless of the verdict. ctx belongs to
// the caller; once a send starts it is bounded by the send timeout only.
func (s *Session) handleDrop(ctx context.Context, g Gesture) DropResult {
	if s.board != nil {
		defer s.board.Snapback()
	}
	if reason := s.gate(g); reason != Accepted {
		s.logger.Debug("relay_gesture_rejected",
			zap.String("from", g.From), zap.String("to", g.To),
			zap.String("piece", g.Piece), zap.String("reason", string(reason)))
		return DropResult{Reason: reason}
	}
	if ctx.Err() != nil {
		s.logger.Debug("relay_gesture_cancelled", zap.String("from", g.From), zap.String("to", g.To))
		return DropResult{Reason: RejectCancelled}
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
	defer cancel()
	if err := s.conn.Send(sendCtx, protocol.MoveAttempt{From: g.From, To: g.To}); err != nil {
		s.logger.Warn("relay_send_error", zap.String("from", g.From), zap.String("to", g.To), zap.Error(err))
		return DropResult{Reason: RejectSendFailed}
	}
	s.logger.Debug("relay_move_sent", zap.String("from", g.From), zap.String("to", g.To))
	return DropResult{Sent: true}
}

// gate is the optimistic pre-send check. The server remains the only judge
// of legality.
func (s *Session) gate(g Gesture) RejectReason {
	switch {
	case s.closed:
		return RejectClosed
	case !s.assigned || s.snap == nil:
		return RejectNotReady
	case strings.TrimSpace(g.Piece) == "":
		return RejectNoPiece
	}
	pieceColor := protocol.Black
	if strings.HasPrefix(g.Piece, "w") {
		pieceColor = protocol.White
	}
	if s.color != s.snap.Turn.Color() {
		return RejectNotYourTurn
	}
	if s.color != pieceColor {
		return RejectNotYourPiece
	}
	return Accepted
}
