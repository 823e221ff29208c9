package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/chess-relay/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultGameTTL = 24 * time.Hour
	maxApplyTries  = 3
)

// RedisStore keeps one JSON game record per room with a sliding TTL.
// Apply uses WATCH so concurrent writers never interleave.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultGameTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) Load(ctx context.Context, room string) (*Game, error) {
	raw, err := s.rdb.Get(ctx, gameKey(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", room, err)
	}
	return &g, nil
}

func (s *RedisStore) Create(ctx context.Context, g *Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, gameKey(g.Room), raw, s.ttl).Err()
}

func (s *RedisStore) Apply(ctx context.Context, room string, fn func(g *Game) error) (*Game, error) {
	key := gameKey(room)
	var out *Game
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrGameNotFound
		}
		if err != nil {
			return err
		}
		var cur Game
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode game %s: %w", room, err)
		}
		if err := fn(&cur); err != nil {
			return err
		}
		newRaw, err := json.Marshal(&cur)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = &cur
		return nil
	}

	for attempt := 1; attempt <= maxApplyTries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		obslog.L().Warn("relay_store_conflict", zap.String("room_id", room), zap.Int("attempt", attempt))
	}
	return nil, ErrConflict
}

func gameKey(room string) string { return "relay:game:" + roomKey(room) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
