// Package session owns the shared game: seats, turn gating, state broadcast
// and the game-over/reset lifecycle. All state is touched by a single
// goroutine (Run); every other caller goes through the event queue.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-session/internal/obslog"
	"github.com/park285/cheese-chess-session/internal/rules"
)

const (
	DefaultResetDelay  = 5 * time.Second
	DefaultEventBuffer = 128
)

type event struct {
	name string
	fn   func()
	done chan struct{}
}

// Coordinator serializes every session mutation onto one event loop.
type Coordinator struct {
	engine    Engine
	transport Transport
	observer  Observer
	catalog   Catalog
	logger    *zap.Logger

	resetDelay time.Duration
	afterFunc  func(time.Duration, func()) Timer
	now        func() time.Time
	newID      func() string

	events  chan event
	stopped chan struct{}

	// loop-owned
	white     string
	black     string
	lifecycle Lifecycle
	epoch     uint64
	pending   Timer
	gameID    string
	startedAt time.Time
}

type Option func(*Coordinator)

func WithResetDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.resetDelay = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithCatalog(cat Catalog) Option {
	return func(c *Coordinator) {
		if cat != nil {
			c.catalog = cat
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithEventBuffer(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.events = make(chan event, n)
		}
	}
}

// WithTimerFunc replaces time.AfterFunc for scheduling the post-game reset.
func WithTimerFunc(f func(time.Duration, func()) Timer) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.afterFunc = f
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a coordinator in the Empty state with the starting position.
// Run must be started before any other method is used.
func New(engine Engine, transport Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:     engine,
		transport:  transport,
		observer:   nopObserver{},
		catalog:    fallbackCatalog{},
		resetDelay: DefaultResetDelay,
		afterFunc:  func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		now:        time.Now,
		newID:      uuid.NewString,
		events:     make(chan event, DefaultEventBuffer),
		stopped:    make(chan struct{}),
		lifecycle:  LifecycleEmpty,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = obslog.Named("session")
	}
	c.engine.Reset()
	c.gameID = c.newID()
	c.startedAt = c.now()
	return c
}

// Run processes events until ctx is done. It must be called exactly once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	c.logger.Info("session_started", zap.Duration("reset_delay", c.resetDelay))
	for {
		select {
		case <-ctx.Done():
			if c.pending != nil {
				c.pending.Stop()
				c.pending = nil
			}
			c.logger.Info("session_stopped")
			return nil
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Coordinator) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session_event_panic", zap.String("event", ev.name), zap.Any("panic", r))
		}
		if ev.done != nil {
			close(ev.done)
		}
	}()
	ev.fn()
}

// do enqueues fn and waits for the loop to finish it. Once enqueued, fn
// runs even if ctx is cancelled while waiting.
func (c *Coordinator) do(ctx context.Context, name string, fn func()) error {
	ev := event{name: name, fn: fn, done: make(chan struct{})}
	select {
	case c.events <- ev:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ev.done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting; used by the reset timer.
func (c *Coordinator) post(name string, fn func()) {
	select {
	case c.events <- event{name: name, fn: fn}:
	case <-c.stopped:
	}
}

// Connect seats clientID in the first free seat (White, then Black) or makes
// it a spectator, then broadcasts state.
func (c *Coordinator) Connect(ctx context.Context, clientID string) (Role, error) {
	var role Role
	err := c.do(ctx, "connect", func() { role = c.handleConnect(clientID) })
	return role, err
}

// Disconnect frees the client's seat, if any.
func (c *Coordinator) Disconnect(ctx context.Context, clientID string) error {
	return c.do(ctx, "disconnect", func() { c.handleDisconnect(clientID) })
}

// Move validates and applies a raw move payload from clientID.
func (c *Coordinator) Move(ctx context.Context, clientID string, payload json.RawMessage) error {
	return c.do(ctx, "move", func() { c.handleMove(clientID, payload) })
}

// Reset restarts the game when requested by a seated player.
func (c *Coordinator) Reset(ctx context.Context, clientID string) error {
	return c.do(ctx, "reset", func() { c.handleReset(clientID) })
}

// Status returns a copy of the current state.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, "status", func() { st = c.status() })
	return st, err
}

func (c *Coordinator) handleConnect(id string) Role {
	if role := c.seatOf(id); role != RoleSpectator {
		c.sendRole(id, role)
		c.broadcastState()
		return role
	}
	role := RoleSpectator
	switch {
	case id == "":
	case c.white == "":
		c.white = id
		role = RoleWhite
	case c.black == "":
		c.black = id
		role = RoleBlack
	}
	if role != RoleSpectator && c.lifecycle == LifecycleEmpty {
		c.lifecycle = LifecycleActive
		c.startedAt = c.now()
	}
	c.logger.Info("session_connect", zap.String("client_id", id), zap.String("role", string(role)))
	c.sendRole(id, role)
	c.broadcastState()
	return role
}

func (c *Coordinator) sendRole(id string, role Role) {
	if role == RoleSpectator {
		c.transport.SendTo(id, MsgSpectator, nil)
		return
	}
	c.transport.SendTo(id, MsgRole, string(role))
}

func (c *Coordinator) handleDisconnect(id string) {
	role := c.seatOf(id)
	switch role {
	case RoleWhite:
		c.white = ""
	case RoleBlack:
		c.black = ""
	}
	c.logger.Info("session_disconnect", zap.String("client_id", id), zap.String("role", string(role)))
	if role != RoleSpectator && c.white == "" && c.black == "" {
		c.bumpEpoch()
		c.newGame()
		c.lifecycle = LifecycleEmpty
		c.logger.Info("session_emptied", zap.Uint64("epoch", c.epoch))
	}
	c.broadcastState()
}

func (c *Coordinator) handleMove(id string, raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session_move_panic", zap.String("client_id", id), zap.Any("panic", r))
			c.reject(id, raw, "panic")
		}
	}()
	side := c.engine.Turn()
	if occ := c.occupant(side); c.lifecycle == LifecycleGameOver || occ == "" || occ != id {
		c.reject(id, raw, "not_your_turn")
		return
	}
	var m rules.Move
	if err := json.Unmarshal(raw, &m); err != nil {
		c.reject(id, raw, "malformed")
		return
	}
	res, err := c.engine.Apply(m)
	if err != nil {
		reason := "illegal"
		switch {
		case errors.Is(err, rules.ErrMalformedMove):
			reason = "malformed"
		case errors.Is(err, rules.ErrGameOver):
			reason = "game_over"
		}
		c.reject(id, raw, reason)
		return
	}
	c.logger.Info("session_move",
		zap.String("client_id", id),
		zap.String("side", string(side)),
		zap.String("uci", res.UCI),
		zap.String("san", res.SAN),
		zap.String("fen", c.engine.FEN()),
	)
	c.broadcastState()
	if c.engine.IsGameOver() {
		c.finish()
	}
}

func (c *Coordinator) reject(id string, raw json.RawMessage, reason string) {
	c.logger.Debug("session_move_rejected", zap.String("client_id", id), zap.String("reason", reason), zap.ByteString("payload", raw))
	var echo any = raw
	if len(raw) == 0 || !json.Valid(raw) {
		echo = string(raw)
	}
	c.transport.SendTo(id, MsgInvalidMove, echo)
}

// finish announces the outcome, enters GameOver and arms the reset timer
// for the new epoch.
func (c *Coordinator) finish() {
	desc := c.describe()
	c.transport.Broadcast(MsgGameOver, desc)
	c.lifecycle = LifecycleGameOver
	epoch := c.bumpEpoch()
	c.pending = c.afterFunc(c.resetDelay, func() {
		c.post("reset_due", func() { c.handleResetDue(epoch) })
	})

	rec := Record{
		GameID:      c.gameID,
		Outcome:     c.engine.Outcome(),
		Method:      c.engine.Method(),
		Description: desc,
		FEN:         c.engine.FEN(),
		Board:       c.engine.Draw(),
		MovesUCI:    c.engine.MovesUCI(),
		MovesSAN:    c.engine.MovesSAN(),
		StartedAt:   c.startedAt,
		EndedAt:     c.now(),
	}
	c.logger.Info("session_game_over",
		zap.String("game_id", rec.GameID),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("method", rec.Method),
		zap.Int("plies", len(rec.MovesUCI)),
		zap.Uint64("epoch", epoch),
	)
	c.observer.GameFinished(rec)
}

func (c *Coordinator) describe() string {
	if c.engine.IsCheckmate() {
		winner := c.engine.Turn().Opponent().Name()
		return c.catalog.Text("outcome.checkmate", map[string]any{"Winner": winner}, fmt.Sprintf("%s Wins by Checkmate!", winner))
	}
	return c.catalog.Text("outcome.draw", nil, "Draw")
}

func (c *Coordinator) handleResetDue(epoch uint64) {
	if epoch != c.epoch {
		c.logger.Debug("session_reset_stale", zap.Uint64("timer_epoch", epoch), zap.Uint64("epoch", c.epoch))
		return
	}
	c.pending = nil
	c.bumpEpoch()
	c.newGame()
	c.lifecycle = c.seatedLifecycle()
	c.logger.Info("session_reset", zap.String("trigger", "timer"), zap.Uint64("epoch", c.epoch))
	c.broadcastState()
}

func (c *Coordinator) handleReset(id string) {
	if c.seatOf(id) == RoleSpectator {
		c.logger.Debug("session_reset_ignored", zap.String("client_id", id))
		return
	}
	c.bumpEpoch()
	c.newGame()
	c.lifecycle = LifecycleActive
	c.logger.Info("session_reset", zap.String("trigger", "manual"), zap.String("client_id", id), zap.Uint64("epoch", c.epoch))
	c.broadcastState()
}

// bumpEpoch invalidates any scheduled reset.
func (c *Coordinator) bumpEpoch() uint64 {
	c.epoch++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	return c.epoch
}

func (c *Coordinator) newGame() {
	c.engine.Reset()
	c.gameID = c.newID()
	c.startedAt = c.now()
}

func (c *Coordinator) seatedLifecycle() Lifecycle {
	if c.white != "" || c.black != "" {
		return LifecycleActive
	}
	return LifecycleEmpty
}

func (c *Coordinator) seatOf(id string) Role {
	switch {
	case id == "":
		return RoleSpectator
	case id == c.white:
		return RoleWhite
	case id == c.black:
		return RoleBlack
	}
	return RoleSpectator
}

func (c *Coordinator) occupant(side rules.Side) string {
	if side == rules.Black {
		return c.black
	}
	return c.white
}

func (c *Coordinator) snapshot() Snapshot {
	return Snapshot{
		Players:    Players{White: c.white != "", Black: c.black != ""},
		Position:   c.engine.FEN(),
		Turn:       c.engine.Turn(),
		IsGameOver: c.engine.IsGameOver(),
	}
}

func (c *Coordinator) status() Status {
	return Status{
		Snapshot:  c.snapshot(),
		Lifecycle: c.lifecycle,
		GameID:    c.gameID,
		Board:     c.engine.Draw(),
		MovesSAN:  c.engine.MovesSAN(),
		StartedAt: c.startedAt,
	}
}

func (c *Coordinator) broadcastState() {
	c.transport.Broadcast(MsgUpdateState, c.snapshot())
	c.observer.StateChanged(c.status())
}
