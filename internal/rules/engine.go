// Package rules wraps corentings/chess into the single mutable position the
// session coordinator drives.
package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Engine holds one game. It is not safe for concurrent use; the session
// coordinator is its only caller.
type Engine struct {
	game     *nchess.Game
	movesUCI []string
	movesSAN []string
}

func New() *Engine {
	return &Engine{game: nchess.NewGame()}
}

// Apply validates and plays m. On error the position is unchanged.
func (e *Engine) Apply(m Move) (*Result, error) {
	if e.IsGameOver() {
		return nil, ErrGameOver
	}
	uci, err := m.UCI()
	if err != nil {
		return nil, err
	}
	pos := e.game.Position()
	switch {
	case !e.promotes(pos, uci):
		uci = uci[:4]
	case len(uci) == 4:
		uci += "q"
	}
	if err := e.game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	last := lastMove(e.game)
	if last == nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, last)
	e.movesUCI = append(e.movesUCI, uci)
	e.movesSAN = append(e.movesSAN, san)
	e.claimDraw()
	return &Result{UCI: uci, SAN: san, Turn: e.Turn()}, nil
}

// promotes reports whether uci moves a pawn onto its last rank.
func (e *Engine) promotes(pos *nchess.Position, uci string) bool {
	from := squareOf(uci[0:2])
	piece := pos.Board().Piece(from)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return false
	}
	return (piece.Color() == nchess.White && uci[3] == '8') || (piece.Color() == nchess.Black && uci[3] == '1')
}

// claimDraw ends the game on threefold repetition or the fifty-move rule,
// which the library only offers as claimable draws.
func (e *Engine) claimDraw() {
	if e.game.Outcome() != nchess.NoOutcome {
		return
	}
	for _, m := range e.game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = e.game.Draw(m)
			return
		}
	}
}

func (e *Engine) Turn() Side {
	if e.game.Position().Turn() == nchess.Black {
		return Black
	}
	return White
}

func (e *Engine) IsGameOver() bool { return e.game.Outcome() != nchess.NoOutcome }

func (e *Engine) IsCheckmate() bool { return e.game.Method() == nchess.Checkmate }

func (e *Engine) IsDraw() bool { return e.game.Outcome() == nchess.Draw }

// Outcome maps the library outcome onto the session's vocabulary.
func (e *Engine) Outcome() Outcome {
	switch e.game.Outcome() {
	case nchess.WhiteWon:
		return OutcomeWhite
	case nchess.BlackWon:
		return OutcomeBlack
	case nchess.Draw:
		return OutcomeDraw
	default:
		return OutcomeNone
	}
}

// Method names how the game terminated, e.g. "checkmate" or "stalemate".
func (e *Engine) Method() string {
	if e.game.Method() == nchess.NoMethod {
		return ""
	}
	return strings.ToLower(e.game.Method().String())
}

// FEN serializes the current position.
func (e *Engine) FEN() string { return e.game.FEN() }

// Load replaces the game with the given position. Move history is cleared.
func (e *Engine) Load(fen string) error {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	e.game = nchess.NewGame(opt)
	e.movesUCI = nil
	e.movesSAN = nil
	return nil
}

// Reset reinitialises the starting layout.
func (e *Engine) Reset() {
	e.game = nchess.NewGame()
	e.movesUCI = nil
	e.movesSAN = nil
}

// Draw returns a textual board layout, rank 8 first.
func (e *Engine) Draw() string { return e.game.Position().Board().Draw() }

func (e *Engine) MovesUCI() []string { return append([]string(nil), e.movesUCI...) }

func (e *Engine) MovesSAN() []string { return append([]string(nil), e.movesSAN...) }

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func squareOf(s string) nchess.Square {
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1'))
}
