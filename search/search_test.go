package search

import (
	"log/slog"
	"testing"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testParams() Params {
	p := DefaultParams()
	p.NumThreads = 1
	p.UseUncertainty = false
	p.NodeTableShardsPowerOfTwo = 4
	return p
}

func newTestSearch(t *testing.T, size int, p Params, seed uint64, stub *inference.StubEvaluator) *Search {
	t.Helper()
	if stub == nil {
		stub = inference.NewStubEvaluator(size, size)
		stub.ShorttermError = 0.2
	}
	s := NewSearch(p, stub, quietLogger(), seed)
	b := game.NewBoard(size, size)
	h := game.NewHistory(b, game.DefaultRules())
	if err := s.SetPosition(game.Black, b, h); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}
	return s
}

func runVisits(t *testing.T, s *Search, pla game.Player, visits int64) {
	t.Helper()
	p := s.Params()
	p.MaxVisits = visits
	s.SetParamsNoClearing(p)
	if err := s.RunWholeSearch(pla, nil, false, TimeControls{}, 1.0); err != nil {
		t.Fatalf("RunWholeSearch failed: %v", err)
	}
}

func TestSingleVisitSearch(t *testing.T) {
	s := newTestSearch(t, 3, testParams(), 7, nil)
	runVisits(t, s, game.Black, 1)

	if got := s.RootVisits(); got != 1 {
		t.Fatalf("expected 1 root visit, got %d", got)
	}
	root := s.RootNode()
	if root.GetNNOutput() == nil {
		t.Fatalf("root must have an evaluator output")
	}
	if root.State() != stateExpanded0 {
		t.Errorf("root should be in EXPANDED0, got %d", root.State())
	}
	if n := root.CountChildren(); n != 0 {
		t.Errorf("no children should be expanded after a single visit, got %d", n)
	}
	weightSum := root.Stats.WeightSum.Load()
	if weightSum <= 0.99 || weightSum >= 1.01 {
		t.Errorf("root weight should be the single leaf weight, got %f", weightSum)
	}
}

func TestUniformSmallBoardSearch(t *testing.T) {
	s := newTestSearch(t, 3, testParams(), 11, nil)
	runVisits(t, s, game.Black, 100)

	root := s.RootNode()
	if got := s.RootVisits(); got != 100 {
		t.Fatalf("expected 100 root visits, got %d", got)
	}
	// 9 points plus pass, uniform policy: everything gets explored.
	numChildren := root.CountChildren()
	if numChildren != 10 {
		t.Errorf("expected all 10 legal children explored, got %d", numChildren)
	}
	children := root.GetChildren(root.State())
	var edgeSum int64
	for i := 0; i < numChildren; i++ {
		child := children[i].GetIfAllocated()
		if child.Stats.Visits.Load() == 0 {
			t.Errorf("child %d has zero visits", i)
		}
		edgeSum += children[i].GetEdgeVisits()
	}
	if edgeSum+1 != s.RootVisits() {
		t.Errorf("edge visits %d + 1 self-visit should equal root visits %d", edgeSum, s.RootVisits())
	}
	weightSum := root.Stats.WeightSum.Load()
	if weightSum < 95 || weightSum > 105 {
		t.Errorf("root weightSum should be near the visit count, got %f", weightSum)
	}
}

func TestTerminalAtDepthOne(t *testing.T) {
	// On a 1x1 board the only legal move is a pass, and after white's
	// pass below, a black pass ends the game immediately.
	p := testParams()
	stub := inference.NewStubEvaluator(1, 1)
	s := NewSearch(p, stub, quietLogger(), 3)
	b := game.NewBoard(1, 1)
	h := game.NewHistory(b, game.DefaultRules())
	h.MakeBoardMoveAssumeLegal(b, game.PassLoc, game.White)
	if err := s.SetPosition(game.Black, b, h); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}
	runVisits(t, s, game.Black, 50)

	root := s.RootNode()
	if root.CountChildren() != 1 {
		t.Fatalf("expected exactly one child (pass), got %d", root.CountChildren())
	}
	children := root.GetChildren(root.State())
	child := children[0].GetIfAllocated()
	if children[0].GetMoveLoc() != game.PassLoc {
		t.Fatalf("only legal child should be the pass")
	}
	childVisits := child.Stats.Visits.Load()
	edgeVisits := children[0].GetEdgeVisits()
	if childVisits != 49 {
		t.Errorf("expected 49 child visits under 50 root visits, got %d", childVisits)
	}
	if edgeVisits != childVisits {
		t.Errorf("edge visits %d should equal child visits %d", edgeVisits, childVisits)
	}
	// Empty 1x1 board scores zero, so komi decides it for white.
	if wl := child.Stats.WinLossValueAvg.Load(); wl != 1.0 {
		t.Errorf("terminal child should hold the exact terminal value, got %f", wl)
	}
	if s.NodeTableSize() != 1 {
		t.Errorf("expected exactly one table node, got %d", s.NodeTableSize())
	}
}

func TestDeterministicWithFixedSeed(t *testing.T) {
	stub1 := inference.NewStubEvaluator(5, 5)
	stub1.HashValues = true
	stub1.PolicyBias = 0.5
	stub2 := inference.NewStubEvaluator(5, 5)
	stub2.HashValues = true
	stub2.PolicyBias = 0.5

	s1 := newTestSearch(t, 5, testParams(), 42, stub1)
	s2 := newTestSearch(t, 5, testParams(), 42, stub2)
	runVisits(t, s1, game.Black, 300)
	runVisits(t, s2, game.Black, 300)

	if s1.RootVisits() != s2.RootVisits() {
		t.Errorf("visit counts differ: %d vs %d", s1.RootVisits(), s2.RootVisits())
	}
	move1 := s1.ChosenMoveLoc()
	move2 := s2.ChosenMoveLoc()
	if move1 != move2 {
		t.Errorf("chosen moves differ: %d vs %d", move1, move2)
	}
	v1, ok1 := s1.RootValues()
	v2, ok2 := s2.RootValues()
	if !ok1 || !ok2 {
		t.Fatalf("both searches should report values")
	}
	if v1.WinLossValue != v2.WinLossValue || v1.ScoreMean != v2.ScoreMean {
		t.Errorf("reported values differ: %+v vs %+v", v1, v2)
	}
}

func TestGraphTranspositionInvariants(t *testing.T) {
	p := testParams()
	p.NumThreads = 4
	stub := inference.NewStubEvaluator(5, 5)
	stub.HashValues = true
	stub.PolicyBias = 0.5
	s := newTestSearch(t, 5, p, 13, stub)
	runVisits(t, s, game.Black, 200)

	// At quiescence every edge's visits stay at or below the child's
	// own visits, and root edge visits account for all root visits.
	root := s.RootNode()
	children := root.GetChildren(root.State())
	var edgeSum int64
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		edge := children[i].GetEdgeVisits()
		if edge > child.Stats.Visits.Load() {
			t.Errorf("edge visits %d exceed child visits %d", edge, child.Stats.Visits.Load())
		}
		edgeSum += edge
	}
	if edgeSum+1 != s.RootVisits() {
		t.Errorf("edge visits %d + 1 != root visits %d", edgeSum, s.RootVisits())
	}

	for _, node := range s.enumerateTreePostOrder() {
		if node.State() >= stateExpanded0 && node.GetNNOutput() == nil {
			t.Errorf("expanded node without nn output")
		}
		weightSum := node.Stats.WeightSum.Load()
		if weightSum < 0 || node.Stats.WeightSqSum.Load() < 0 {
			t.Errorf("negative weight sums")
		}
		if node.Stats.Visits.Load() == 0 && weightSum != 0 {
			t.Errorf("zero visits with nonzero weight %f", weightSum)
		}
	}
}

func TestMakeMoveReusesSubtree(t *testing.T) {
	stub := inference.NewStubEvaluator(5, 5)
	stub.HashValues = true
	stub.PolicyBias = 0.5
	s := newTestSearch(t, 5, testParams(), 17, stub)
	runVisits(t, s, game.Black, 200)

	root := s.RootNode()
	children := root.GetChildren(root.State())
	bestIdx := -1
	var bestVisits int64
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		if v := child.Stats.Visits.Load(); v > bestVisits {
			bestVisits = v
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		t.Fatalf("no children after search")
	}
	bestMove := children[bestIdx].GetMoveLoc()
	bestEdgeVisits := children[bestIdx].GetEdgeVisits()
	bestChildStats := children[bestIdx].GetIfAllocated().Stats.Snapshot()

	if !s.MakeMove(bestMove, game.Black) {
		t.Fatalf("MakeMove rejected a legal move")
	}
	if got := s.RootVisits(); got+1 < bestEdgeVisits {
		t.Errorf("new root visits %d below previous edge visits %d", got, bestEdgeVisits)
	}
	newValues, ok := s.RootValues()
	if !ok {
		t.Fatalf("promoted root should report values")
	}
	if diff := newValues.WinLossValue - bestChildStats.WinLossValueAvg; diff > 0.2 || diff < -0.2 {
		t.Errorf("promoted root stats drifted too far: %f vs %f", newValues.WinLossValue, bestChildStats.WinLossValueAvg)
	}

	// A second mark-and-sweep deletes nothing.
	sizeBefore := s.NodeTableSize()
	s.applyRecursivelyAnyOrder([]*SearchNode{s.RootNode()}, nil)
	s.deleteAllOldTableNodesAndSubtreeValueBias()
	if sizeAfter := s.NodeTableSize(); sizeAfter != sizeBefore {
		t.Errorf("second sweep changed table size: %d -> %d", sizeBefore, sizeAfter)
	}
}

func TestClearSearchEmptiesEverything(t *testing.T) {
	s := newTestSearch(t, 5, testParams(), 19, nil)
	runVisits(t, s, game.Black, 100)
	if s.NodeTableSize() == 0 {
		t.Fatalf("search should have populated the table")
	}
	s.ClearSearch()
	if s.NodeTableSize() != 0 {
		t.Errorf("table should be empty after ClearSearch, got %d", s.NodeTableSize())
	}
	if s.RootNode() != nil {
		t.Errorf("root should be nil after ClearSearch")
	}
}

func TestAvoidAllMoves(t *testing.T) {
	s := newTestSearch(t, 3, testParams(), 23, nil)
	// Mask every board point and the pass for many plies.
	avoid := make([]int, 3*3+1)
	for i := range avoid {
		avoid[i] = 100
	}
	s.SetAvoidMoveUntilByLoc(avoid, avoid)
	runVisits(t, s, game.Black, 20)

	root := s.RootNode()
	if root.CountChildren() != 0 {
		t.Errorf("no children should be expanded when all moves are avoided, got %d", root.CountChildren())
	}
	if s.RootVisits() != 20 {
		t.Errorf("visits should still accumulate on the root, got %d", s.RootVisits())
	}
}

func TestIllegalHintNeverChosen(t *testing.T) {
	stub := inference.NewStubEvaluator(5, 5)
	stub.PolicyBias = 0.5
	s := NewSearch(testParams(), stub, quietLogger(), 29)
	b := game.NewBoard(5, 5)
	h := game.NewHistory(b, game.DefaultRules())
	h.MakeBoardMoveAssumeLegal(b, b.Loc(2, 2), game.White)
	if err := s.SetPosition(game.Black, b, h); err != nil {
		t.Fatal(err)
	}
	// Hint the occupied point.
	s.SetRootHintLoc(b.Loc(2, 2))
	runVisits(t, s, game.Black, 100)

	move := s.ChosenMoveLoc()
	if move == b.Loc(2, 2) {
		t.Errorf("hint boost selected an illegal move")
	}
	if !s.RootHistory().IsLegal(s.RootBoard(), move, game.Black) {
		t.Errorf("chosen move %d is illegal", move)
	}
}

func TestMakeMoveRejectsIllegal(t *testing.T) {
	s := newTestSearch(t, 5, testParams(), 31, nil)
	if !s.MakeMove(game.Loc(0), game.Black) {
		t.Fatalf("legal move rejected")
	}
	if s.MakeMove(game.Loc(0), game.White) {
		t.Errorf("occupied point accepted")
	}
}

func TestMultithreadedStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	p := testParams()
	p.NumThreads = 8
	stub := inference.NewStubEvaluator(7, 7)
	stub.HashValues = true
	stub.PolicyBias = 0.5
	s := newTestSearch(t, 7, p, 37, stub)
	runVisits(t, s, game.Black, 3000)

	// Workers race the stop check, so a small overshoot is possible.
	if v := s.RootVisits(); v < 3000 || v > 3000+8 {
		t.Errorf("expected about 3000 visits, got %d", v)
	}
	for _, node := range s.enumerateTreePostOrder() {
		if node.State() >= stateExpanded0 && node.GetNNOutput() == nil {
			t.Errorf("expanded node without nn output")
		}
		if node.Stats.WeightSum.Load() < 0 {
			t.Errorf("negative weight sum")
		}
	}
	// Keep searching after a move; tree reuse must stay consistent.
	move := s.ChosenMoveLoc()
	if move == game.NullLoc || !s.MakeMove(move, game.Black) {
		t.Fatalf("failed to make chosen move")
	}
	runVisits(t, s, game.White, 2000)
	if s.RootVisits() < 2000 {
		t.Errorf("expected at least 2000 visits after reuse, got %d", s.RootVisits())
	}
}

func TestAntiMirrorDetectionAndSearch(t *testing.T) {
	p := testParams()
	p.AntiMirror = true
	stub := inference.NewStubEvaluator(9, 9)
	stub.HashValues = true
	stub.PolicyBias = 0.5
	s := NewSearch(p, stub, quietLogger(), 41)

	b := game.NewBoard(9, 9)
	h := game.NewHistory(b, game.DefaultRules())
	// Black builds in one corner, white mirrors every move into the
	// opposite corner; enough plies to trip the mirror detector.
	var blackMoves []game.Loc
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			blackMoves = append(blackMoves, b.Loc(x, y))
		}
	}
	for _, m := range blackMoves {
		if !h.IsLegal(b, m, game.Black) {
			continue
		}
		h.MakeBoardMoveAssumeLegal(b, m, game.Black)
		mirror := game.MirrorLoc(m, 9, 9)
		if !h.IsLegal(b, mirror, game.White) {
			h.MakeBoardMoveAssumeLegal(b, game.PassLoc, game.White)
			continue
		}
		h.MakeBoardMoveAssumeLegal(b, mirror, game.White)
	}
	if err := s.SetPosition(game.Black, b, h); err != nil {
		t.Fatal(err)
	}
	runVisits(t, s, game.Black, 500)

	if s.mirroringPla != game.White {
		t.Fatalf("expected white detected as mirroring, got %v", s.mirroringPla)
	}
	// The forced exploration must have pushed real weight into root
	// children despite the mirror-skewed values.
	infos := s.RootChildrenInfo()
	if len(infos) == 0 {
		t.Fatalf("no root children explored")
	}
	totalWeight := 0.0
	maxWeight := 0.0
	for _, info := range infos {
		totalWeight += info.Weight
		if info.Weight > maxWeight {
			maxWeight = info.Weight
		}
	}
	if totalWeight <= 0 {
		t.Fatalf("no weight accumulated at root")
	}
}
