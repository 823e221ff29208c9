package server

import (
	"context"
	"strings"
	"sync"
)

// Store persists one game per room. Apply is an atomic read-modify-write:
// fn sees a private copy and the change is kept only when fn returns nil.
type Store interface {
	Load(ctx context.Context, room string) (*Game, error)
	Create(ctx context.Context, g *Game) error
	Apply(ctx context.Context, room string, fn func(g *Game) error) (*Game, error)
	Close() error
}

// MemoryStore keeps games in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	games map[string]*Game
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]*Game)}
}

func (s *MemoryStore) Load(_ context.Context, room string) (*Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[roomKey(room)]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g.Clone(), nil
}

// Create stores g, replacing whatever the room held before.
func (s *MemoryStore) Create(_ context.Context, g *Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[roomKey(g.Room)] = g.Clone()
	return nil
}

func (s *MemoryStore) Apply(_ context.Context, room string, fn func(g *Game) error) (*Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.games[roomKey(room)]
	if !ok {
		return nil, ErrGameNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.games[roomKey(room)] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }

func roomKey(room string) string { return strings.TrimSpace(room) }
