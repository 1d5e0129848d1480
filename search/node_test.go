package search

import (
	"sync"
	"testing"

	"github.com/flychenzhu/tengen/game"
)

func TestChildrenCapacityTiers(t *testing.T) {
	n := newSearchNode(game.Black, false, 0)
	if n.childrenCapacity(n.State()) != 0 {
		t.Fatalf("unevaluated node has no children array")
	}
	n.initializeChildren()
	n.state.Store(stateExpanded0)
	if got := n.childrenCapacity(n.State()); got != children0Size {
		t.Fatalf("expected capacity %d, got %d", children0Size, got)
	}

	// Fill tier 0 completely, then grow.
	children := n.GetChildren(n.State())
	for i := 0; i < children0Size; i++ {
		child := newSearchNode(game.White, false, 0)
		children[i].setMoveLoc(game.Loc(i))
		children[i].setEdgeVisits(int64(i + 1))
		children[i].store(child)
	}
	st := n.State()
	if !n.maybeExpandChildrenCapacityForNewChild(&st, children0Size+1) {
		t.Fatalf("growth should succeed")
	}
	if st != stateExpanded1 {
		t.Fatalf("state should be EXPANDED1, got %d", st)
	}
	grown := n.GetChildren(st)
	if len(grown) != children1Size {
		t.Fatalf("expected capacity %d, got %d", children1Size, len(grown))
	}
	for i := 0; i < children0Size; i++ {
		if grown[i].GetIfAllocated() == nil {
			t.Errorf("slot %d lost its child during growth", i)
		}
		if grown[i].GetMoveLoc() != game.Loc(i) {
			t.Errorf("slot %d lost its move during growth", i)
		}
		if grown[i].GetEdgeVisits() != int64(i+1) {
			t.Errorf("slot %d lost its edge visits during growth", i)
		}
	}
	// Old array still readable for anyone who observed the old state.
	old := n.GetChildren(stateExpanded0)
	if len(old) != children0Size || old[0].GetIfAllocated() == nil {
		t.Errorf("old tier should remain intact")
	}
}

func TestGrowthRaceSingleWinner(t *testing.T) {
	n := newSearchNode(game.Black, false, 0)
	n.initializeChildren()
	n.state.Store(stateExpanded0)
	children := n.GetChildren(n.State())
	for i := 0; i < children0Size; i++ {
		children[i].setMoveLoc(game.Loc(i))
		children[i].store(newSearchNode(game.White, false, 0))
	}

	var wg sync.WaitGroup
	wins := make([]bool, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			st := n.State()
			wins[idx] = n.maybeExpandChildrenCapacityForNewChild(&st, children0Size+1)
		}(g)
	}
	wg.Wait()

	if n.State() != stateExpanded1 {
		t.Fatalf("node should end in EXPANDED1, got %d", n.State())
	}
	numWinners := 0
	for _, w := range wins {
		if w {
			numWinners++
		}
	}
	if numWinners < 1 {
		t.Errorf("at least one grower must succeed")
	}
}

func TestStateMonotonic(t *testing.T) {
	// A node that loses the evaluating CAS never regresses.
	n := newSearchNode(game.Black, false, 0)
	if !n.state.CompareAndSwap(stateUnevaluated, stateEvaluating) {
		t.Fatalf("first CAS should succeed")
	}
	if n.state.CompareAndSwap(stateUnevaluated, stateEvaluating) {
		t.Fatalf("second CAS should fail")
	}
	n.state.Store(stateExpanded0)
	if n.State() != stateExpanded0 {
		t.Fatalf("state store lost")
	}
}

func TestCloneNodeNeverCopiesSubtreeValueBias(t *testing.T) {
	n := newSearchNode(game.Black, false, 3)
	entry := &subtreeValueBiasEntry{}
	n.subtreeValueBiasEntry = entry
	n.lastSubtreeValueBiasDeltaSum = 1.5
	n.lastSubtreeValueBiasWeight = 2.0
	n.Stats.Visits.Store(10)
	n.Stats.WeightSum.Store(10)

	c := cloneNode(n, true)
	if c.subtreeValueBiasEntry != nil {
		t.Errorf("clone must not share the bias entry: deleting either node would double-subtract")
	}
	if c.lastSubtreeValueBiasDeltaSum != 0 || c.lastSubtreeValueBiasWeight != 0 {
		t.Errorf("clone must start with zero bias contribution")
	}
	if !c.ForceNonTerminal {
		t.Errorf("clone should carry the forced non-terminal flag")
	}
	if c.Stats.Visits.Load() != 10 {
		t.Errorf("clone should copy stats")
	}
}

func TestNodeTableSharding(t *testing.T) {
	table := newNodeTable(4)
	if len(table.shards) != 16 {
		t.Fatalf("expected 16 shards, got %d", len(table.shards))
	}
	key1 := game.MixedHash128(1, 2, 3)
	key2 := game.MixedHash128(4, 5, 6)
	table.shardFor(key1).entries[key1] = newSearchNode(game.Black, false, 0)
	table.shardFor(key2).entries[key2] = newSearchNode(game.White, false, 0)
	if table.size() != 2 {
		t.Errorf("expected table size 2, got %d", table.size())
	}
}
