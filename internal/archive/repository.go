// Package archive persists finished games to Postgres with their PGN.
package archive

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"

    "github.com/park285/cheese-chess-session/internal/rules"
    "github.com/park285/cheese-chess-session/internal/session"
)

const schema = `CREATE TABLE IF NOT EXISTS session_games (
    game_id       TEXT PRIMARY KEY,
    result        TEXT NOT NULL,
    result_method TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    final_fen     TEXT NOT NULL,
    moves_uci     JSONB NOT NULL,
    moves_san     JSONB NOT NULL,
    pgn           TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL
)`

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
    db.SetMaxOpenConns(4)
    db.SetMaxIdleConns(2)
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
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// EnsureSchema creates the results table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
    if r == nil || r.db == nil { return nil }
    _, err := r.db.ExecContext(ctx, schema)
    return err
}

// SaveResult upserts a finished game keyed by its game id.
func (r *Repository) SaveResult(ctx context.Context, rec session.Record) error {
    if r == nil || r.db == nil { return nil }

    pgnResult := mapResultToPGN(rec.Outcome)
    pgn := buildPGN(rec, pgnResult)
    movesUCIRaw, _ := json.Marshal(nonNil(rec.MovesUCI))
    movesSANRaw, _ := json.Marshal(nonNil(rec.MovesSAN))
    duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
    if duration < 0 { duration = 0 }

    q := `INSERT INTO session_games (
        game_id, result, result_method, description, final_fen,
        moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
      ) ON CONFLICT (game_id) DO UPDATE SET
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        description=EXCLUDED.description,
        final_fen=EXCLUDED.final_fen,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

    _, err := r.db.ExecContext(ctx, q,
        rec.GameID, string(rec.Outcome), strings.TrimSpace(rec.Method), rec.Description, rec.FEN,
        string(movesUCIRaw), string(movesSANRaw), pgn,
        rec.StartedAt, rec.EndedAt, duration,
    )
    return err
}

func nonNil(s []string) []string {
    if s == nil { return []string{} }
    return s
}

func mapResultToPGN(o rules.Outcome) string {
    switch o {
    case rules.OutcomeWhite:
        return "1-0"
    case rules.OutcomeBlack:
        return "0-1"
    case rules.OutcomeDraw:
        return "1/2-1/2"
    default:
        return "*"
    }
}

func buildPGN(rec session.Record, pgnResult string) string {
    var b strings.Builder
    date := rec.EndedAt
    if date.IsZero() {
        date = time.Now()
    }
    b.WriteString("[Event \"Shared board\"]\n")
    b.WriteString("[Site \"chess-session\"]\n")
    b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
    b.WriteString("[White \"White\"]\n")
    b.WriteString("[Black \"Black\"]\n")
    if strings.TrimSpace(rec.Method) != "" {
        b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(rec.Method))))
    }
    b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

    for i := 0; i < len(rec.MovesSAN); i += 2 {
        b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rec.MovesSAN[i])))
        if i+1 < len(rec.MovesSAN) {
            b.WriteString(" ")
            b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
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
