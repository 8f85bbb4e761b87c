package notify

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-chess-session/internal/msgcat"
	"github.com/park285/cheese-chess-session/internal/rules"
	"github.com/park285/cheese-chess-session/internal/session"
)

func serve(t *testing.T, h fasthttp.RequestHandler) fasthttp.DialFunc {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return func(string) (net.Conn, error) { return ln.Dial() }
}

var finished = session.Record{
	GameID:      "g1",
	Outcome:     rules.OutcomeBlack,
	Method:      "checkmate",
	Description: "Black Wins by Checkmate!",
	MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
	Board:       "A B C\n8 ♜ ♞",
}

func TestNotifyPostsReply(t *testing.T) {
	var got ReplyRequest
	var user, path string
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Path())
		user = string(ctx.Request.Header.Peek("X-User-Id"))
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	c := NewClient("http://bridge/", "room-1", WithDial(dial), WithUserID("bot"))
	require.NoError(t, c.NotifyGameFinished(context.Background(), finished))

	assert.Equal(t, "/reply", path)
	assert.Equal(t, "bot", user)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "room-1", got.Room)
	assert.True(t, strings.HasPrefix(got.Data, "Game over: Black Wins by Checkmate!\nMoves: 4 (checkmate)"), got.Data)
	assert.Contains(t, got.Data, zeroWidthSpace)
	assert.True(t, strings.HasSuffix(got.Data, finished.Board))
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var calls int32
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	c := NewClient("http://bridge", "r", WithDial(dial), WithRetry(3))
	require.NoError(t, c.NotifyGameFinished(context.Background(), finished))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("no such room")
	})

	c := NewClient("http://bridge", "r", WithDial(dial), WithTimeout(time.Second))
	err := c.NotifyGameFinished(context.Background(), finished)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFormatResultUsesCatalog(t *testing.T) {
	cat, err := msgcat.New("")
	require.NoError(t, err)
	c := NewClient("http://bridge", "r", WithCatalog(cat))

	rec := finished
	rec.Board = ""
	out := c.FormatResult(rec)
	assert.Equal(t, "♟️ Game over: Black Wins by Checkmate!\nMoves: 4 (checkmate)", out)
}

func TestApplySeeMorePadding(t *testing.T) {
	assert.Equal(t, " ", applySeeMorePadding(" ", "hint"))
	out := applySeeMorePadding("board", "hint")
	assert.True(t, strings.HasPrefix(out, "hint"+zeroWidthSpace))
	assert.Equal(t, seeMorePadding, strings.Count(out, zeroWidthSpace))
	assert.True(t, strings.HasSuffix(out, "\nboard"))
}

func TestBackoffDuration(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDuration(0))
	assert.Equal(t, 400*time.Millisecond, backoffDuration(3))
	assert.Equal(t, 3200*time.Millisecond, backoffDuration(10))
}
