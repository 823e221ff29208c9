package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ResultSink receives games once they are no longer active.
type ResultSink interface {
	SaveResult(ctx context.Context, g *Game) error
}

// Repository stores finished games in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS relay_games (
    game_id     TEXT PRIMARY KEY,
    room_id     TEXT NOT NULL,
    white_id    TEXT NOT NULL DEFAULT '',
    white_name  TEXT NOT NULL DEFAULT '',
    black_id    TEXT NOT NULL DEFAULT '',
    black_name  TEXT NOT NULL DEFAULT '',
    result      TEXT NOT NULL,
    result_method TEXT NOT NULL DEFAULT '',
    moves_uci   JSONB NOT NULL,
    moves_san   JSONB NOT NULL,
    pgn         TEXT NOT NULL,
    final_fen   TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL
)`

// EnsureSchema creates the results table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schemaSQL)
	return err
}

// SaveResult upserts a finished game.
func (r *Repository) SaveResult(ctx context.Context, g *Game) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}
	pgnResult := mapResultToPGN(g.Outcome)
	pgn := buildPGN(g, pgnResult)

	movesUCIRaw, _ := json.Marshal(g.MovesUCI)
	movesSANRaw, _ := json.Marshal(g.MovesSAN)
	duration := g.UpdatedAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO relay_games (
        game_id, room_id, white_id, white_name, black_id, black_name,
        result, result_method, moves_uci, moves_san, pgn, final_fen,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (game_id) DO UPDATE SET
        white_id=EXCLUDED.white_id,
        white_name=EXCLUDED.white_name,
        black_id=EXCLUDED.black_id,
        black_name=EXCLUDED.black_name,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        final_fen=EXCLUDED.final_fen,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, g.Room,
		g.WhiteID, g.WhiteName,
		g.BlackID, g.BlackName,
		strings.TrimSpace(g.Outcome), strings.TrimSpace(g.Method),
		string(movesUCIRaw), string(movesSANRaw), pgn, g.FEN,
		g.CreatedAt, g.UpdatedAt, duration,
	)
	return err
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g *Game, pgnResult string) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Relay\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"room %s\"]\n", sanitizePGN(g.Room)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackName)))
	if m := strings.TrimSpace(g.Method); m != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(m)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(g.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(g.MovesSAN[i])))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
