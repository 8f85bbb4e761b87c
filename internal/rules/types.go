package rules

import (
	"errors"
	"fmt"
	"strings"
)

// Side identifies the colour to move, encoded the way FEN does.
type Side string

const (
	White Side = "w"
	Black Side = "b"
)

// Name returns the capitalised colour name used in client messages.
func (s Side) Name() string {
	if s == Black {
		return "Black"
	}
	return "White"
}

func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

var (
	ErrMalformedMove     = errors.New("malformed move")
	ErrIllegalMove       = errors.New("illegal move")
	ErrGameOver          = errors.New("game is over")
	ErrMalformedPosition = errors.New("malformed position")
)

// Move is a candidate move as sent by clients.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI validates the squares and returns the move in UCI long notation.
func (m Move) UCI() (string, error) {
	from := strings.ToLower(strings.TrimSpace(m.From))
	to := strings.ToLower(strings.TrimSpace(m.To))
	if !validSquare(from) || !validSquare(to) {
		return "", fmt.Errorf("%w: squares %q -> %q", ErrMalformedMove, m.From, m.To)
	}
	if from == to {
		return "", fmt.Errorf("%w: null move on %s", ErrMalformedMove, from)
	}
	promo := strings.ToLower(strings.TrimSpace(m.Promotion))
	switch promo {
	case "", "q", "r", "b", "n":
	default:
		return "", fmt.Errorf("%w: promotion %q", ErrMalformedMove, m.Promotion)
	}
	return from + to + promo, nil
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// Outcome is the terminal classification of a finished game.
type Outcome string

const (
	OutcomeNone  Outcome = ""
	OutcomeWhite Outcome = "white"
	OutcomeBlack Outcome = "black"
	OutcomeDraw  Outcome = "draw"
)

// Result describes a move that was applied.
type Result struct {
	UCI  string
	SAN  string
	Turn Side
}
