package search

import (
	"sync"

	"github.com/flychenzhu/tengen/game"
)

// PatternBonusTable maps a local pattern hash to a utility adjustment.
// It is consulted read-only during search; population happens between
// searches (from game history, to discourage repeating patterns) or by
// an external caller supplying a prebuilt table.
type PatternBonusTable struct {
	mu      sync.RWMutex
	entries map[game.Hash128]float64
}

func NewPatternBonusTable() *PatternBonusTable {
	return &PatternBonusTable{entries: make(map[game.Hash128]float64)}
}

func (t *PatternBonusTable) Clone() *PatternBonusTable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := NewPatternBonusTable()
	for k, v := range t.entries {
		c.entries[k] = v
	}
	return c
}

// Hash derives the pattern key for pla having just played moveLoc;
// recentBoardHash is the position hash right after that move.
func (t *PatternBonusTable) Hash(pla game.Player, moveLoc game.Loc, recentBoardHash game.Hash128) game.Hash128 {
	return game.MixedHash128(0xa95c02d4e7f63b18,
		uint64(pla), uint64(int64(moveLoc)), recentBoardHash.Hi, recentBoardHash.Lo)
}

// Get returns the utility bonus for a pattern hash, zero if absent.
func (t *PatternBonusTable) Get(hash game.Hash128) float64 {
	if hash.IsZero() {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[hash]
}

func (t *PatternBonusTable) Add(hash game.Hash128, bonus float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[hash] += bonus
}

// AddBonusForGameMoves installs a bonus on the pattern of every move
// that pla already played in the game, so the search steers away from
// (or toward, for positive bonus) repeating them.
func (t *PatternBonusTable) AddBonusForGameMoves(hist *game.History, initialBoard *game.Board, bonus float64, pla game.Player) {
	b := initialBoard.Clone()
	for _, m := range hist.MoveHistory {
		b.PlayMoveAssumeLegal(m.Loc, m.Pla)
		if m.Pla == pla && m.Loc != game.PassLoc {
			t.Add(t.Hash(m.Pla, m.Loc, b.PosHash), bonus)
		}
	}
}
