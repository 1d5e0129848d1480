package search

import (
	"github.com/flychenzhu/tengen/game"

	"lukechampine.com/frand"
)

// moreNodeStats is the per-child scratch record used while recomputing
// a parent's statistics.
type moreNodeStats struct {
	stats          NodeStatsSnapshot
	selfUtility    float64
	weightAdjusted float64
	prevMoveLoc    game.Loc
}

// searchThread is the scratch state of one worker. Workers replay the
// root position down the tree on their private board copy, so the
// shared tree never needs board state of its own.
type searchThread struct {
	threadIdx int

	pla       game.Player
	board     *game.Board
	history   *game.History
	graphHash game.Hash128

	rand *frand.RNG

	statsBuf             []moreNodeStats
	policyBuf            []float64
	posesWithChild       []bool
	upperBoundVisitsLeft float64

	// illegalMoveHashes limits illegal-move warnings to once per
	// evaluator output per thread per search.
	illegalMoveHashes map[game.Hash128]bool
}

func (s *Search) newSearchThread(threadIdx int) *searchThread {
	t := &searchThread{
		threadIdx:            threadIdx,
		pla:                  s.rootPla,
		board:                s.rootBoard.Clone(),
		history:              s.rootHistory.Clone(),
		graphHash:            s.rootGraphHash,
		rand:                 newSeededRNG(s.randSeed, uint64(threadIdx), s.rootBoard.PosHash.Lo, uint64(len(s.rootHistory.MoveHistory)), uint64(s.numSearchesBegun)),
		statsBuf:             make([]moreNodeStats, s.policySize),
		policyBuf:            make([]float64, s.policySize),
		posesWithChild:       make([]bool, s.policySize),
		upperBoundVisitsLeft: 1e30,
		illegalMoveHashes:    make(map[game.Hash128]bool),
	}
	return t
}

// resetToRoot restores the thread scratch state after a playout.
func (t *searchThread) resetToRoot(s *Search) {
	t.pla = s.rootPla
	t.board = s.rootBoard.Clone()
	t.history = s.rootHistory.Clone()
	t.graphHash = s.rootGraphHash
}
