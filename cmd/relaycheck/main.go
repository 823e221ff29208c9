package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/chess-relay/internal/probe"
	"github.com/park285/chess-relay/internal/protocol"
	"github.com/park285/chess-relay/internal/wsconn"
)

func main() {
	origin := os.Getenv("RELAY_ORIGIN")
	room := os.Getenv("RELAY_ROOM_ID")
	if origin == "" {
		log.Fatal("RELAY_ORIGIN is required")
	}

	client := probe.NewClient(origin, probe.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := client.Health(ctx)
	if err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz ok: status=%s", h.Status)
	}

	if room == "" {
		log.Println("RELAY_ROOM_ID not set; skipping board and WS checks")
		return
	}

	if b, err := client.Board(ctx, room); err != nil {
		log.Printf("/api/board/%s error: %v", room, err)
	} else {
		log.Printf("/api/board/%s ok: status=%s turn=%s peers=%d moves=%s", room, b.Status, b.Turn, b.Peers, strings.Join(b.MovesSAN, " "))
	}

	// Joining a room takes a seat, so the WS check uses a throwaway user.
	target, err := protocol.Target(protocol.Identity{Origin: origin, RoomID: room, UserID: "relaycheck", Username: "relaycheck"})
	if err != nil {
		log.Fatalf("target: %v", err)
	}
	ws := wsconn.New(target)
	ws.OnStateChange(func(state wsconn.State) {
		log.Printf("WS state: %s", state)
	})
	first := make(chan struct{}, 1)
	ws.OnMessage(func(raw []byte) {
		msg, err := protocol.Decode(raw)
		if err != nil {
			fmt.Printf("WS frame (undecodable): %s\n", raw)
			return
		}
		fmt.Printf("WS %s: %s\n", msg.Tag(), raw)
		select {
		case first <- struct{}{}:
		default:
		}
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	// Observe until the init frame arrives or a short window passes
	t := time.NewTimer(10 * time.Second)
	defer t.Stop()
	select {
	case <-first:
	case <-t.C:
		log.Println("WS: no init frame within 10s")
	}

	_ = ws.Close(context.Background())
}
