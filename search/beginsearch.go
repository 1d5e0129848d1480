package search

import (
	"fmt"

	"github.com/flychenzhu/tengen/game"
)

// beginSearch prepares all per-search state: root context, bias and
// pattern tables, symmetry pruning, root-child filtering after
// position changes, and the age bump that marks every node old.
//
// Searching from a finished position is fine; the history tolerates
// continuing and the root is forced non-terminal.
func (s *Search) beginSearch(pondering bool) error {
	if s.rootBoard.XSize > s.nnXLen || s.rootBoard.YSize > s.nnYLen {
		return fmt.Errorf("search: board %dx%d larger than evaluator dimensions %dx%d",
			s.rootBoard.XSize, s.rootBoard.YSize, s.nnXLen, s.nnYLen)
	}

	s.numSearchesBegun++
	// Avoid any issues in principle from the age rolling over.
	if s.searchNodeAge.Load() > 0x3FFFFFFF {
		s.ClearSearch()
	}

	if !pondering {
		s.plaThatSearchIsFor = s.rootPla
	}
	// A game-opening ponder: assume "we" are the opposing side until
	// shown otherwise.
	if s.plaThatSearchIsFor == game.Empty {
		s.plaThatSearchIsFor = game.Opp(s.rootPla)
	}

	if s.plaThatSearchIsForLastSearch != s.plaThatSearchIsFor {
		// Pattern bonuses are asymmetric between the players; with the
		// searched-for player changed, the playout distribution in the
		// old tree matches the wrong set of bonuses.
		if s.params.AvoidRepeatedPatternUtility != 0 || s.externalPatternBonusTable != nil {
			s.ClearSearch()
		}
	}
	s.plaThatSearchIsForLastSearch = s.plaThatSearchIsFor

	if err := s.computeRootValues(); err != nil {
		return err
	}

	if s.params.SubtreeValueBiasFactor != 0 && s.subtreeValueBiasTable == nil &&
		!(s.params.AntiMirror && s.mirroringPla != game.Empty) {
		s.subtreeValueBiasTable = newSubtreeValueBiasTable(s.params.SubtreeValueBiasTableNumShards)
	}

	// Refresh pattern bonuses.
	s.patternBonusTable = nil
	if s.params.AvoidRepeatedPatternUtility != 0 || s.externalPatternBonusTable != nil {
		if s.externalPatternBonusTable != nil {
			s.patternBonusTable = s.externalPatternBonusTable.Clone()
		} else {
			s.patternBonusTable = NewPatternBonusTable()
		}
		if s.params.AvoidRepeatedPatternUtility != 0 {
			bonus := s.params.AvoidRepeatedPatternUtility
			if s.plaThatSearchIsFor == game.White {
				bonus = -bonus
			}
			initialBoard := s.boardAtHistoryStart()
			s.patternBonusTable.AddBonusForGameMoves(s.rootHistory, initialBoard, bonus, s.plaThatSearchIsFor)
		}
		// Never bonus the root node's own position.
		if s.rootNode != nil {
			s.rootNode.PatternBonusHash = game.Hash128{}
		}
	}

	if s.params.RootSymmetryPruning {
		avoidMoveUntilByLoc := s.avoidMoveUntilByLocBlack
		if s.rootPla == game.White {
			avoidMoveUntilByLoc = s.avoidMoveUntilByLocWhite
		}
		var onlySymmetries []int
		if len(s.rootPruneOnlySymmetries) > 0 {
			onlySymmetries = s.rootPruneOnlySymmetries
		}
		s.rootSymDupLoc, s.rootSymmetries = game.MarkDuplicateMoveLocs(s.rootBoard, onlySymmetries, avoidMoveUntilByLoc)
	} else {
		s.rootSymDupLoc = nil
		s.rootSymmetries = []int{0}
	}

	if s.rootNode == nil {
		// The root is allocated directly, never via the table, so it
		// cannot be transposed into or be part of a cycle.
		s.rootNode = newSearchNode(s.rootPla, true, s.createMutexIdxForNode(s.nonSearchRand))
	} else {
		anyFiltered := s.filterIllegalRootChildren()
		// With dynamic score values or bias tables the whole tree's
		// utilities need recomputing against the fresh root context.
		if s.params.DynamicScoreUtilityFactor != 0 || s.params.SubtreeValueBiasFactor != 0 || s.patternBonusTable != nil {
			s.recursivelyRecomputeStats(s.rootNode)
			if anyFiltered {
				s.deleteAllOldTableNodesAndSubtreeValueBias()
			}
		} else if anyFiltered {
			s.applyRecursivelyAnyOrder([]*SearchNode{s.rootNode}, nil)
			s.deleteAllOldTableNodesAndSubtreeValueBias()
		}
	}

	if s.params.SubtreeValueBiasFactor != 0 && s.subtreeValueBiasTable != nil {
		s.subtreeValueBiasTable.clearUnusedSynchronous()
	}

	// Mark all nodes old so root evaluations refresh lazily.
	s.searchNodeAge.Add(1)
	return nil
}

// boardAtHistoryStart returns the board the root history started from:
// an empty board when replaying the history forward from empty
// reproduces the root position, otherwise a copy of the root board.
// Used to key pattern bonuses on past positions.
func (s *Search) boardAtHistoryStart() *game.Board {
	// Moves cannot be unplayed cheaply, so reconstruct by replaying
	// from an empty board only when the history began there.
	b := game.NewBoard(s.rootBoard.XSize, s.rootBoard.YSize)
	test := b.Clone()
	for _, m := range s.rootHistory.MoveHistory {
		test.PlayMoveAssumeLegal(m.Loc, m.Pla)
	}
	if test.PosHash == s.rootBoard.PosHash {
		return b
	}
	// The history started from a set-up position we no longer have; the
	// root board stands in, so the positions replayed on it for pattern
	// bonuses are not the game's own.
	return s.rootBoard.Clone()
}

// filterIllegalRootChildren deletes root children whose moves are no
// longer legal or allowed. This breaks the never-null-a-child
// invariant, which is fine: nothing else runs during this phase and
// the root is not in the table, so no other path can reach the nodes.
func (s *Search) filterIllegalRootChildren() bool {
	node := s.rootNode
	children := node.GetChildren(node.state.Load())
	if len(children) == 0 {
		return false
	}
	anyFiltered := false
	numGoodChildren := 0
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		edgeVisits := children[i].GetEdgeVisits()
		moveLoc := children[i].GetMoveLoc()
		children[i].store(nil)
		children[i].setEdgeVisits(0)
		children[i].setMoveLoc(game.NullLoc)
		// Strict legality here: odd graph interactions deeper in the
		// tree must never leave an illegal move at the root.
		if s.rootHistory.IsLegal(s.rootBoard, moveLoc, s.rootPla) && s.isAllowedRootMove(moveLoc) {
			children[numGoodChildren].store(child)
			children[numGoodChildren].setEdgeVisits(edgeVisits)
			children[numGoodChildren].setMoveLoc(moveLoc)
			numGoodChildren++
		} else {
			anyFiltered = true
		}
	}

	if anyFiltered {
		var newNumVisits int64
		for i := range children {
			if children[i].GetIfAllocated() == nil {
				break
			}
			newNumVisits += children[i].GetEdgeVisits()
		}
		// Plus the node's own visit.
		newNumVisits++

		node.dropSmallerChildArrays()

		node.statsLock.Lock()
		node.Stats.Visits.Store(newNumVisits)
		node.statsLock.Unlock()

		dummyThread := s.newSearchThread(0)
		s.recomputeNodeStats(node, dummyThread, 0, true)
	}
	return anyFiltered
}
