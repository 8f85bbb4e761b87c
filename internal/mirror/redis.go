// Package mirror keeps a Redis copy of the live session and recent results
// so other processes can read them without a WebSocket.
package mirror

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/park285/cheese-chess-session/internal/session"
)

const (
    keyState     = "chess:session:state"
    keyResults   = "chess:session:results"
    channelState = "chess:session:updates"

    stateTTL   = 24 * time.Hour
    resultTTL  = 7 * 24 * time.Hour
    keepRecent = 50
)

type Mirror struct {
    rdb *redis.Client
}

func New(redisURL string) (*Mirror, error) {
    if strings.TrimSpace(redisURL) == "" {
        return nil, fmt.Errorf("REDIS_URL required for mirror")
    }
    opts, err := parseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opts)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return &Mirror{rdb: rdb}, nil
}

// NewWithClient wraps an existing client; the caller keeps ownership.
func NewWithClient(rdb *redis.Client) *Mirror { return &Mirror{rdb: rdb} }

func (m *Mirror) Close() error {
    if m == nil || m.rdb == nil { return nil }
    return m.rdb.Close()
}

// PublishState stores the snapshot and announces it on the updates channel.
func (m *Mirror) PublishState(ctx context.Context, st session.Status) error {
    raw, err := json.Marshal(st)
    if err != nil { return err }
    if err := m.rdb.Set(ctx, keyState, raw, stateTTL).Err(); err != nil { return err }
    return m.rdb.Publish(ctx, channelState, raw).Err()
}

// SaveResult prepends the record to the capped recent-results list and
// keeps a per-game copy.
func (m *Mirror) SaveResult(ctx context.Context, rec session.Record) error {
    raw, err := json.Marshal(rec)
    if err != nil { return err }
    _, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
        p.LPush(ctx, keyResults, raw)
        p.LTrim(ctx, keyResults, 0, keepRecent-1)
        p.Set(ctx, gameKey(rec.GameID), raw, resultTTL)
        return nil
    })
    return err
}

// Game returns one archived record by id, or nil when it expired or never existed.
func (m *Mirror) Game(ctx context.Context, id string) (*session.Record, error) {
    raw, err := m.rdb.Get(ctx, gameKey(id)).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    var rec session.Record
    if err := json.Unmarshal(raw, &rec); err != nil { return nil, err }
    return &rec, nil
}

// Recent returns up to limit finished games, newest first.
func (m *Mirror) Recent(ctx context.Context, limit int) ([]session.Record, error) {
    if limit <= 0 || limit > keepRecent { limit = keepRecent }
    items, err := m.rdb.LRange(ctx, keyResults, 0, int64(limit-1)).Result()
    if err != nil { return nil, err }
    out := make([]session.Record, 0, len(items))
    for _, it := range items {
        var rec session.Record
        if err := json.Unmarshal([]byte(it), &rec); err != nil { continue }
        out = append(out, rec)
    }
    return out, nil
}

func gameKey(id string) string { return "chess:session:game:" + strings.TrimSpace(id) }

// parseRedisURL accepts redis:// and rediss:// URLs; rediss enables TLS.
func parseRedisURL(raw string) (*redis.Options, error) {
    opts, err := redis.ParseURL(strings.TrimSpace(raw))
    if err != nil { return nil, fmt.Errorf("parse REDIS_URL: %w", err) }
    return opts, nil
}
