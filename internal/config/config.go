package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClientConfig is the identity and presentation settings of one relay client.
type ClientConfig struct {
	Origin   string
	RoomID   string
	UserID   string
	Username string

	Locale      string
	MessagesDir string
	BoardPNG    string
	Unicode     bool
	SquareSize  int
}

// ServerConfig configures the board server.
type ServerConfig struct {
	ListenAddr     string
	RedisURL       string
	DatabaseURL    string
	GameTTL        time.Duration
	AllowedOrigins []string
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		Origin:     "http://localhost:8000",
		Locale:     "en",
		Unicode:    true,
		SquareSize: 64,
	}

	if v := env("RELAY_ORIGIN"); v != "" {
		cfg.Origin = v
	}
	cfg.RoomID = env("RELAY_ROOM_ID")
	cfg.UserID = env("RELAY_USER_ID")
	cfg.Username = env("RELAY_USERNAME")
	if v := env("RELAY_LOCALE"); v != "" {
		cfg.Locale = v
	}
	cfg.MessagesDir = env("RELAY_MESSAGES_DIR")
	cfg.BoardPNG = env("RELAY_BOARD_PNG")
	if v := env("RELAY_UNICODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Unicode = b
		}
	}
	if v := env("RELAY_SQUARE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SquareSize = n
		}
	}

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if cfg.Username == "" {
		cfg.Username = "player-" + cfg.UserID[:min(8, len(cfg.UserID))]
	}
	return cfg, nil
}

// Validate reports the first missing required field. Flags may fill fields
// after LoadClient, so validation is separate.
func (c *ClientConfig) Validate() error {
	if c.Origin == "" {
		return errors.New("RELAY_ORIGIN is required")
	}
	if c.RoomID == "" {
		return errors.New("RELAY_ROOM_ID is required")
	}
	return nil
}

func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		ListenAddr: ":8000",
		GameTTL:    24 * time.Hour,
	}
	if v := env("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	if v := env("GAME_TTL_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("GAME_TTL_SEC must be a positive integer")
		}
		cfg.GameTTL = time.Duration(n) * time.Second
	}
	if v := env("ALLOWED_ORIGINS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}
	return cfg, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }
