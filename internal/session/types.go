package session

import (
	"errors"
	"time"

	"github.com/park285/cheese-chess-session/internal/rules"
)

// Role is the seat a client holds for the lifetime of its connection.
type Role string

const (
	RoleWhite     Role = "White"
	RoleBlack     Role = "Black"
	RoleSpectator Role = "Spectator"
)

// Lifecycle is the session-level phase.
type Lifecycle string

const (
	LifecycleEmpty    Lifecycle = "Empty"
	LifecycleActive   Lifecycle = "Active"
	LifecycleGameOver Lifecycle = "GameOver"
)

// Message types exchanged with clients.
const (
	MsgRole        = "role"
	MsgSpectator   = "spectator"
	MsgMove        = "move"
	MsgInvalidMove = "invalidMove"
	MsgUpdateState = "updateState"
	MsgGameOver    = "gameOver"
	MsgResetGame   = "resetGame"
)

var ErrStopped = errors.New("session coordinator stopped")

// Players reports seat occupancy without disclosing client ids.
type Players struct {
	White bool `json:"white"`
	Black bool `json:"black"`
}

// Snapshot is the full state broadcast to every client as updateState.
type Snapshot struct {
	Players    Players    `json:"players"`
	Position   string     `json:"position"`
	Turn       rules.Side `json:"turn"`
	IsGameOver bool       `json:"isGameOver"`
}

// Status is a Snapshot plus server-side details for observers and the HTTP API.
type Status struct {
	Snapshot
	Lifecycle Lifecycle `json:"lifecycle"`
	GameID    string    `json:"gameId"`
	Board     string    `json:"board"`
	MovesSAN  []string  `json:"moves"`
	StartedAt time.Time `json:"startedAt"`
}

// Record describes a finished game.
type Record struct {
	GameID      string        `json:"gameId"`
	Outcome     rules.Outcome `json:"outcome"`
	Method      string        `json:"method"`
	Description string        `json:"description"`
	FEN         string        `json:"fen"`
	Board       string        `json:"board"`
	MovesUCI    []string      `json:"movesUci"`
	MovesSAN    []string      `json:"movesSan"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     time.Time     `json:"endedAt"`
}

// Engine is the rules capability the coordinator drives. *rules.Engine
// implements it.
type Engine interface {
	Apply(m rules.Move) (*rules.Result, error)
	Turn() rules.Side
	IsGameOver() bool
	IsCheckmate() bool
	IsDraw() bool
	Outcome() rules.Outcome
	Method() string
	FEN() string
	Load(fen string) error
	Reset()
	Draw() string
	MovesUCI() []string
	MovesSAN() []string
}

// Transport delivers messages to connected clients. Both calls must not
// block; delivery is best effort.
type Transport interface {
	SendTo(clientID, msgType string, payload any)
	Broadcast(msgType string, payload any)
}

// Observer receives copies of session changes after each event is handled.
// Implementations must return quickly; they run on the event loop.
type Observer interface {
	StateChanged(s Status)
	GameFinished(r Record)
}

// Catalog renders user-facing strings; *msgcat.Catalog implements it.
type Catalog interface {
	Text(key string, data any, fallback string) string
}

// Timer is the cancellable handle of a scheduled reset.
type Timer interface {
	Stop() bool
}

type nopObserver struct{}

func (nopObserver) StateChanged(Status) {}
func (nopObserver) GameFinished(Record) {}

type fallbackCatalog struct{}

func (fallbackCatalog) Text(_ string, _ any, fallback string) string { return fallback }
