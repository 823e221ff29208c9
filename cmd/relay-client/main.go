package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/park285/chess-relay/internal/board"
	appcfg "github.com/park285/chess-relay/internal/config"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/probe"
	"github.com/park285/chess-relay/internal/protocol"
	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.LoadClient()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	flag.StringVar(&cfg.Origin, "origin", cfg.Origin, "page origin of the board server (http or https)")
	flag.StringVar(&cfg.RoomID, "room", cfg.RoomID, "room id")
	flag.StringVar(&cfg.UserID, "user", cfg.UserID, "user id")
	flag.StringVar(&cfg.Username, "username", cfg.Username, "display name")
	flag.StringVar(&cfg.Locale, "locale", cfg.Locale, "message locale ("+strings.Join(msgcat.Locales(), ", ")+")")
	flag.StringVar(&cfg.BoardPNG, "png", cfg.BoardPNG, "also write the board to this PNG file")
	flag.BoolVar(&cfg.Unicode, "unicode", cfg.Unicode, "draw pieces with unicode glyphs")
	doProbe := flag.Bool("probe", false, "query the server's board endpoint before connecting")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("logs/relay-client.log"); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	defer obslog.Sync()

	cat, err := msgcat.New(cfg.Locale, cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages error: %v", err)
	}

	if *doProbe {
		probeBoard(cfg)
	}

	out := os.Stdout
	alerts := newTerminalAlert(out)
	lines := make(chan string)
	go readLines(os.Stdin, lines, alerts)

	factory := func(c board.Config) (board.Widget, error) {
		w, err := board.NewText(out, cfg.Unicode, c)
		if err != nil {
			return nil, err
		}
		return captionless{w}, nil
	}
	if cfg.BoardPNG != "" {
		factory = board.ImageFactory(out, cfg.Unicode, cfg.BoardPNG, board.NewRenderer(cfg.SquareSize))
	}

	session, err := relay.New(protocol.Identity{
		Origin:   cfg.Origin,
		RoomID:   cfg.RoomID,
		UserID:   cfg.UserID,
		Username: cfg.Username,
	}, relay.Options{
		Boards:  factory,
		Status:  &terminalStatus{out: out},
		Alerts:  alerts,
		Catalog: cat,
		Logger:  obslog.L(),
	})
	if err != nil {
		log.Fatalf("session error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	fmt.Fprintf(out, "Connecting to %s\nEnter moves as e2e4 or \"e2 e4\".\n", session.Target())
	for {
		select {
		case err := <-runErr:
			finish(err)
			return
		case <-ctx.Done():
			alerts.release()
			closeSession(session)
			finish(<-runErr)
			return
		case line, ok := <-lines:
			if !ok {
				alerts.release()
				closeSession(session)
				finish(<-runErr)
				return
			}
			from, to, ok := parseMove(line)
			if !ok {
				if strings.TrimSpace(line) != "" {
					fmt.Fprintln(out, "? expected a move like e2e4")
				}
				continue
			}
			res := session.Move(ctx, from, to)
			obslog.L().Debug("relay_cli_move", zap.String("from", from), zap.String("to", to), zap.Bool("sent", res.Sent), zap.String("reason", string(res.Reason)))
		}
	}
}

func finish(err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, relay.ErrConnectionClosed):
		obslog.Sync()
		os.Exit(1)
	default:
		log.Fatalf("relay error: %v", err)
	}
}

func closeSession(s *relay.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.Close(ctx)
}

func probeBoard(cfg *appcfg.ClientConfig) {
	client := probe.NewClient(cfg.Origin, probe.WithTimeout(3*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := client.Board(ctx, cfg.RoomID)
	switch {
	case errors.Is(err, probe.ErrNotFound):
		fmt.Printf("room %s has no game yet; you will play white\n", cfg.RoomID)
	case err != nil:
		fmt.Printf("probe failed: %v\n", err)
	default:
		fmt.Printf("room %s: %d connected, %d moves, status %s\n", b.Room, b.Peers, len(b.MovesSAN), b.Status)
	}
}

// parseMove accepts "e2e4", "e2 e4" and "e2-e4".
func parseMove(line string) (string, string, bool) {
	s := strings.ToLower(strings.TrimSpace(line))
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	if len(s) != 4 {
		return "", "", false
	}
	from, to := s[:2], s[2:]
	if _, err := board.ParseSquare(from); err != nil {
		return "", "", false
	}
	if _, err := board.ParseSquare(to); err != nil {
		return "", "", false
	}
	return from, to, true
}

// readLines is the only stdin consumer. A line dismisses the pending alert
// if there is one and is forwarded as a move otherwise.
func readLines(r io.Reader, out chan<- string, alerts *terminalAlert) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		alerts.route(sc.Text(), out)
	}
}

// captionless hides the text widget's caption so the status line prints once.
type captionless struct{ board.Widget }

type terminalStatus struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (s *terminalStatus) SetStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.last {
		return
	}
	s.last = text
	fmt.Fprintln(s.out, "» "+text)
}

// terminalAlert blocks until the next input line, like a modal dialog.
type terminalAlert struct {
	out    io.Writer
	raised chan struct{}
	quit   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending chan struct{}
}

func newTerminalAlert(out io.Writer) *terminalAlert {
	return &terminalAlert{
		out:    out,
		raised: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

func (a *terminalAlert) Alert(text string) {
	ack := make(chan struct{})
	a.mu.Lock()
	a.pending = ack
	a.mu.Unlock()
	select {
	case a.raised <- struct{}{}:
	default:
	}

	fmt.Fprintf(a.out, "\a! %s (press Enter)\n", text)
	select {
	case <-ack:
	case <-a.quit:
	}
}

// route hands line to the pending alert, or to out when none is up. An alert
// raised while out is not being drained takes the line instead.
func (a *terminalAlert) route(line string, out chan<- string) {
	for {
		if a.dismiss() {
			return
		}
		select {
		case out <- line:
			return
		case <-a.raised:
		}
	}
}

func (a *terminalAlert) dismiss() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return false
	}
	close(a.pending)
	a.pending = nil
	return true
}

// release unblocks any alert for good; used on shutdown.
func (a *terminalAlert) release() {
	a.once.Do(func() { close(a.quit) })
}
