package game

import (
	"testing"
)

func TestTwoPassesEndGame(t *testing.T) {
	b := NewBoard(5, 5)
	h := NewHistory(b, Rules{Komi: 7.5})
	h.MakeBoardMoveAssumeLegal(b, b.Loc(2, 2), Black)
	h.MakeBoardMoveAssumeLegal(b, PassLoc, White)
	if h.IsGameFinished {
		t.Fatalf("one pass should not end the game")
	}
	if !h.PassWouldEndGame(b, Black) {
		t.Fatalf("a second pass would end the game")
	}
	h.MakeBoardMoveAssumeLegal(b, PassLoc, Black)
	if !h.IsGameFinished {
		t.Fatalf("two passes should end the game")
	}
	// One black stone owns the whole board: 25 points against komi.
	if h.FinalWhiteMinusBlackScore != -25+7.5 {
		t.Errorf("expected score %.1f, got %.1f", -25+7.5, h.FinalWhiteMinusBlackScore)
	}
	if h.Winner != Black {
		t.Errorf("black should win, got %v", h.Winner)
	}
}

func TestGraphHashDistinguishesPassState(t *testing.T) {
	b := NewBoard(5, 5)
	h := NewHistory(b, DefaultRules())
	h.MakeBoardMoveAssumeLegal(b, b.Loc(2, 2), Black)
	hash0 := h.GraphHash(b, White, 11)
	h.MakeBoardMoveAssumeLegal(b, PassLoc, White)
	hash1 := h.GraphHash(b, Black, 11)
	if hash0 == hash1 {
		t.Errorf("pass state and player to move must affect the graph hash")
	}

	// Same stones, same pass state, same player: equal hashes through
	// different move orders.
	b2 := NewBoard(5, 5)
	h2 := NewHistory(b2, DefaultRules())
	h2.MakeBoardMoveAssumeLegal(b2, b2.Loc(1, 1), Black)
	h2.MakeBoardMoveAssumeLegal(b2, b2.Loc(3, 3), White)
	h2.MakeBoardMoveAssumeLegal(b2, b2.Loc(2, 2), Black)

	b3 := NewBoard(5, 5)
	h3 := NewHistory(b3, DefaultRules())
	h3.MakeBoardMoveAssumeLegal(b3, b3.Loc(2, 2), Black)
	h3.MakeBoardMoveAssumeLegal(b3, b3.Loc(3, 3), White)
	h3.MakeBoardMoveAssumeLegal(b3, b3.Loc(1, 1), Black)

	if h2.GraphHash(b2, White, 11) != h3.GraphHash(b3, White, 11) {
		t.Errorf("transposing move orders should reach the same graph hash")
	}
}

func TestIsLegalTolerantSamePlayerTwice(t *testing.T) {
	b := NewBoard(5, 5)
	h := NewHistory(b, DefaultRules())
	h.MakeBoardMoveAssumeLegal(b, b.Loc(2, 2), Black)
	// Black moving again is tolerated for external callers.
	if !h.IsLegalTolerant(b, b.Loc(3, 3), Black) {
		t.Errorf("same player twice should be tolerated")
	}
}

func TestClearKeepsTurnNumber(t *testing.T) {
	b := NewBoard(5, 5)
	h := NewHistory(b, DefaultRules())
	h.MakeBoardMoveAssumeLegal(b, b.Loc(2, 2), Black)
	h.MakeBoardMoveAssumeLegal(b, b.Loc(3, 3), White)
	h.Clear(b, h.Rules)
	if h.InitialTurnNumber != 2 {
		t.Errorf("expected initial turn number 2 after clear, got %d", h.InitialTurnNumber)
	}
	if len(h.MoveHistory) != 0 {
		t.Errorf("move history should be empty after clear")
	}
}
