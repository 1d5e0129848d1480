package search

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"

	"lukechampine.com/frand"
)

// Search is the engine handle: it owns the root position, the node
// table, the worker coordination state, and every table the search
// consults. A Search is driven from one goroutine at a time; the
// internal workers it spawns are its own concern.
type Search struct {
	rootPla       game.Player
	rootBoard     *game.Board
	rootHistory   *game.History
	rootGraphHash game.Hash128

	rootHintLoc              game.Loc
	avoidMoveUntilByLocBlack []int
	avoidMoveUntilByLocWhite []int
	rootPruneOnlySymmetries  []int
	rootSymmetries           []int
	rootSymDupLoc            []bool
	rootSafeArea             []game.Color
	recentScoreCenter        float64
	alwaysIncludeOwnerMap    bool

	mirroringPla              game.Color
	mirrorAdvantage           float64
	mirrorCenterSymmetryError float64

	params           Params
	numSearchesBegun int
	searchNodeAge    atomic.Uint32

	plaThatSearchIsFor           game.Color
	plaThatSearchIsForLastSearch game.Color
	lastSearchNumPlayouts        int64
	effectiveSearchTimeCarriedOver float64

	randSeed      uint64
	nonSearchRand *frand.RNG

	valueWeightDistribution *distributionTable

	rootNode  *SearchNode
	nodeTable *nodeTable
	mutexPool *mutexPool

	evaluator  inference.Evaluator
	nnXLen     int
	nnYLen     int
	policySize int

	subtreeValueBiasTable     *subtreeValueBiasTable
	patternBonusTable         *PatternBonusTable
	externalPatternBonusTable *PatternBonusTable

	logger *slog.Logger
}

// NewSearch builds a Search over the given evaluator. The seed fully
// determines all randomness; equal seeds with one thread replay
// identical searches.
func NewSearch(params Params, evaluator inference.Evaluator, logger *slog.Logger, randSeed uint64) *Search {
	if logger == nil {
		logger = slog.Default()
	}
	nnXLen := evaluator.NNXLen()
	nnYLen := evaluator.NNYLen()
	if nnXLen <= 0 || nnXLen > game.MaxBoardLen || nnYLen <= 0 || nnYLen > game.MaxBoardLen {
		panic(fmt.Sprintf("search: evaluator nn dimensions %dx%d out of range", nnXLen, nnYLen))
	}
	s := &Search{
		rootPla:                 game.Black,
		rootHintLoc:             game.NullLoc,
		params:                  params,
		randSeed:                randSeed,
		nonSearchRand:           newSeededRNG(randSeed, 0x6e6f6e2d736561), // distinct stream from worker RNGs
		valueWeightDistribution: newDistributionTable(tdistCDF3, -50.0, 50.0, 2000),
		nodeTable:               newNodeTable(params.NodeTableShardsPowerOfTwo),
		mutexPool:               newMutexPool(params.MutexPoolSize),
		evaluator:               evaluator,
		nnXLen:                  nnXLen,
		nnYLen:                  nnYLen,
		policySize:              inference.PolicySize(nnXLen, nnYLen),
		logger:                  logger,
	}
	s.mirrorCenterSymmetryError = 1e10
	s.rootBoard = game.NewBoard(nnXLen, nnYLen)
	s.rootHistory = game.NewHistory(s.rootBoard, game.DefaultRules())
	return s
}

// Params returns a copy of the current parameters.
func (s *Search) Params() Params { return s.params }

func (s *Search) RootBoard() *game.Board     { return s.rootBoard.Clone() }
func (s *Search) RootHistory() *game.History { return s.rootHistory.Clone() }
func (s *Search) RootPla() game.Player       { return s.rootPla }

// SetPosition clears the search and installs a new root state.
func (s *Search) SetPosition(pla game.Player, board *game.Board, history *game.History) error {
	if board.XSize > s.nnXLen || board.YSize > s.nnYLen {
		return fmt.Errorf("board %dx%d exceeds evaluator dimensions %dx%d", board.XSize, board.YSize, s.nnXLen, s.nnYLen)
	}
	s.ClearSearch()
	s.rootPla = pla
	s.plaThatSearchIsFor = game.Empty
	s.rootBoard = board.Clone()
	s.rootHistory = history.Clone()
	s.avoidMoveUntilByLocBlack = nil
	s.avoidMoveUntilByLocWhite = nil
	return nil
}

// SetPlayerAndClearHistory keeps the stones but restarts history with
// pla to move.
func (s *Search) SetPlayerAndClearHistory(pla game.Player) {
	s.ClearSearch()
	s.rootPla = pla
	s.plaThatSearchIsFor = game.Empty
	s.rootBoard.ClearSimpleKoLoc()
	s.rootHistory.Clear(s.rootBoard, s.rootHistory.Rules)
	s.avoidMoveUntilByLocBlack = nil
	s.avoidMoveUntilByLocWhite = nil
}

func (s *Search) SetPlayerIfNew(pla game.Player) {
	if pla != s.rootPla {
		s.SetPlayerAndClearHistory(pla)
	}
}

func (s *Search) SetKomiIfNew(komi float64) {
	if s.rootHistory.Rules.Komi != komi {
		s.ClearSearch()
		s.rootHistory.Rules.Komi = komi
	}
}

// SetAvoidMoveUntilByLoc installs per-location depths until which each
// player must avoid a move. Nil slices clear the restriction.
func (s *Search) SetAvoidMoveUntilByLoc(black, white []int) {
	if intSlicesEqual(s.avoidMoveUntilByLocBlack, black) && intSlicesEqual(s.avoidMoveUntilByLocWhite, white) {
		return
	}
	s.ClearSearch()
	s.avoidMoveUntilByLocBlack = append([]int(nil), black...)
	s.avoidMoveUntilByLocWhite = append([]int(nil), white...)
}

// SetRootHintLoc suggests a move the search must keep well-explored.
func (s *Search) SetRootHintLoc(loc game.Loc) {
	// Clear so the hint is guaranteed to take effect in the root
	// policy shaping on the next search.
	if loc != game.NullLoc && s.rootHintLoc != loc {
		s.ClearSearch()
	}
	s.rootHintLoc = loc
}

func (s *Search) SetAlwaysIncludeOwnerMap(b bool) {
	if !s.alwaysIncludeOwnerMap && b {
		s.ClearSearch()
	}
	s.alwaysIncludeOwnerMap = b
}

func (s *Search) SetRootSymmetryPruningOnly(symmetries []int) {
	if intSlicesEqual(s.rootPruneOnlySymmetries, symmetries) {
		return
	}
	s.ClearSearch()
	s.rootPruneOnlySymmetries = append([]int(nil), symmetries...)
}

func (s *Search) SetParams(params Params) {
	s.ClearSearch()
	s.params = params
}

func (s *Search) SetParamsNoClearing(params Params) {
	s.params = params
}

func (s *Search) SetExternalPatternBonusTable(table *PatternBonusTable) {
	if table == s.externalPatternBonusTable {
		return
	}
	s.ClearSearch()
	s.externalPatternBonusTable = table
}

// ClearSearch deletes the whole tree: every table node and the root.
func (s *Search) ClearSearch() {
	s.effectiveSearchTimeCarriedOver = 0
	s.deleteAllTableNodes()
	s.rootNode = nil
	s.searchNodeAge.Store(0)
}

// IsLegalTolerant mirrors History.IsLegalTolerant on the root state.
func (s *Search) IsLegalTolerant(moveLoc game.Loc, movePla game.Player) bool {
	if movePla != s.rootPla {
		b := s.rootBoard.Clone()
		b.ClearSimpleKoLoc()
		return b.IsLegal(moveLoc, movePla, true)
	}
	return s.rootHistory.IsLegalTolerant(s.rootBoard, moveLoc, movePla)
}

func (s *Search) IsLegalStrict(moveLoc game.Loc, movePla game.Player) bool {
	return movePla == s.rootPla && s.rootHistory.IsLegal(s.rootBoard, moveLoc, movePla)
}

// MakeMove advances the root by a move, reusing the subtree below the
// matching root child when it has an evaluator output, and garbage
// collecting everything else. Returns false for an illegal move.
func (s *Search) MakeMove(moveLoc game.Loc, movePla game.Player) bool {
	if !s.IsLegalTolerant(moveLoc, movePla) {
		return false
	}
	if movePla != s.rootPla {
		s.SetPlayerAndClearHistory(movePla)
	}

	if s.rootNode != nil {
		var foundChild *SearchNode
		children := s.rootNode.GetChildren(s.rootNode.state.Load())
		for i := range children {
			child := children[i].GetIfAllocated()
			if child == nil {
				break
			}
			if foundChild == nil && children[i].GetMoveLoc() == moveLoc {
				foundChild = child
			}
		}
		// A child without an evaluator output carries nothing worth
		// keeping; this also guards odd node preservation into states
		// that were considered terminal.
		if foundChild != nil && foundChild.GetNNOutput() == nil {
			foundChild = nil
		}

		if foundChild != nil {
			rootVisits := s.rootNode.Stats.Visits.Load()
			childVisits := foundChild.Stats.Visits.Load()
			visitProportion := float64(childVisits) / float64(max64(rootVisits, 1))
			if visitProportion > 1 {
				visitProportion = 1
			}
			s.effectiveSearchTimeCarriedOver = s.effectiveSearchTimeCarriedOver * visitProportion * s.params.TreeReuseCarryOverTimeFactor

			// Promote via a copy so the root stays out of the node
			// table and can never be part of a cycle.
			s.rootNode = cloneNode(foundChild, true)
			s.applyRecursivelyAnyOrder([]*SearchNode{s.rootNode}, nil)
			s.deleteAllOldTableNodesAndSubtreeValueBias()
		} else {
			s.ClearSearch()
		}
	}

	s.rootHistory.MakeBoardMoveAssumeLegal(s.rootBoard, moveLoc, s.rootPla)
	s.rootPla = game.Opp(s.rootPla)

	// The caller must respecify avoid-move restrictions after a move.
	s.avoidMoveUntilByLocBlack = nil
	s.avoidMoveUntilByLocWhite = nil

	// Deeper in the tree a root pass was explored as ending the game;
	// under conservative pass the new root pass must not, so the old
	// subtree's assumption is wrong.
	if s.params.ConservativePass && s.rootHistory.PassWouldEndGame(s.rootBoard, s.rootPla) {
		s.ClearSearch()
	}
	return true
}

// RootVisits returns the root's visit count, zero without a root.
func (s *Search) RootVisits() int64 {
	if s.rootNode == nil {
		return 0
	}
	return s.rootNode.Stats.Visits.Load()
}

// RootNode exposes the root for read-only inspection (reporting,
// tests, live views).
func (s *Search) RootNode() *SearchNode { return s.rootNode }

// NodeTableSize counts table entries; only meaningful between
// searches.
func (s *Search) NodeTableSize() int { return s.nodeTable.size() }

func (s *Search) createMutexIdxForNode(rng *frand.RNG) uint32 {
	return uint32(rng.Uint64n(uint64(s.mutexPool.numMutexes())))
}

// forceNonTerminalHash salts the graph key of nodes that override
// terminal detection so they never collide with their terminal twin.
var forceNonTerminalHash = game.Hash128{Hi: 0xd4c31800cb8809e2, Lo: 0xf75f9d2083f2ffca}

// allocateOrFindNode returns the node for the position the thread just
// moved into, allocating and inserting it if the key is new. Under
// tree search the key embeds fresh randomness so nodes are never
// deduplicated. The node's bias and pattern fields are initialized
// under the shard mutex, so no other thread can observe them
// half-formed.
func (s *Search) allocateOrFindNode(thread *searchThread, nextPla game.Player, moveLoc game.Loc, forceNonTerminal bool, graphHash game.Hash128) *SearchNode {
	var childHash game.Hash128
	if s.params.UseGraphSearch {
		childHash = graphHash
		if forceNonTerminal {
			childHash = childHash.Xor(forceNonTerminalHash)
		}
	} else {
		childHash = thread.board.PosHash.Xor(game.Hash128{Hi: thread.rand.Uint64n(1 << 62), Lo: thread.rand.Uint64n(1 << 62)})
	}

	shard := s.nodeTable.shardFor(childHash)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if child, ok := shard.entries[childHash]; ok {
		return child
	}
	child := newSearchNode(nextPla, forceNonTerminal, s.createMutexIdxForNode(thread.rand))
	if s.params.SubtreeValueBiasFactor != 0 && s.subtreeValueBiasTable != nil {
		if n := len(thread.history.MoveHistory); n >= 2 {
			prevMoveLoc := thread.history.MoveHistory[n-2].Loc
			if prevMoveLoc != game.NullLoc {
				child.subtreeValueBiasEntry = s.subtreeValueBiasTable.get(game.Opp(thread.pla), prevMoveLoc, moveLoc, thread.board.PosHash)
			}
		}
	}
	if s.patternBonusTable != nil {
		child.PatternBonusHash = s.patternBonusTable.Hash(game.Opp(thread.pla), moveLoc, thread.board.PosHash)
	}
	shard.entries[childHash] = child
	return child
}

// performTaskWithThreads runs task on NumThreads workers, the calling
// goroutine acting as worker 0, and waits for all of them.
func (s *Search) performTaskWithThreads(task func(threadIdx int)) {
	numAdditional := s.params.NumThreads - 1
	if numAdditional <= 0 {
		task(0)
		return
	}
	var wg sync.WaitGroup
	for i := 1; i <= numAdditional; i++ {
		wg.Add(1)
		go func(threadIdx int) {
			defer wg.Done()
			task(threadIdx)
		}(i)
	}
	task(0)
	wg.Wait()
}

func intSlicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
