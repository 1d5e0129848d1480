package search

import (
	"sync/atomic"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
)

// Node expansion states. The state of a node only ever advances.
const (
	stateUnevaluated int32 = iota
	stateEvaluating
	stateExpanded0
	stateGrowing1
	stateExpanded1
	stateGrowing2
	stateExpanded2
)

// Children array capacity tiers. Most nodes never outgrow the
// smallest tier; growth amortizes allocation while keeping readers
// lock-free.
const (
	children0Size = 8
	children1Size = 64
	// children2Size covers every possible move on the largest board.
	children2Size = game.MaxBoardLen*game.MaxBoardLen + 1
)

type childArray []ChildPointer

func newChildArray(capacity int) *childArray {
	arr := make(childArray, capacity)
	for i := range arr {
		arr[i].init()
	}
	return &arr
}

// SearchNode is one node of the search graph: one distinct position
// under graph search, one tree edge otherwise. Non-root nodes are
// owned by the node table; the root is always owned directly by the
// Search.
type SearchNode struct {
	NextPla          game.Player
	ForceNonTerminal bool
	PatternBonusHash game.Hash128
	// mutexIdx picks this node's mutex from the shared pool, used only
	// for rare operations (child install, post-order marking).
	mutexIdx uint32

	state    atomic.Int32
	nnOutput atomic.Pointer[inference.NNOutput]
	nodeAge  atomic.Uint32

	children0 atomic.Pointer[childArray]
	children1 atomic.Pointer[childArray]
	children2 atomic.Pointer[childArray]

	Stats         NodeStats
	statsLock     spinLock
	virtualLosses atomic.Int32
	dirtyCounter  atomic.Int32

	// Subtree value bias bookkeeping: the entry this node contributes
	// to, and the contribution last swapped in. The last* fields are
	// only mutated while holding the entry's lock.
	subtreeValueBiasEntry        *subtreeValueBiasEntry
	lastSubtreeValueBiasDeltaSum float64
	lastSubtreeValueBiasWeight   float64
}

// newSearchNode makes a node for a position where pla is to move.
func newSearchNode(pla game.Player, forceNonTerminal bool, mutexIdx uint32) *SearchNode {
	return &SearchNode{
		NextPla:          pla,
		ForceNonTerminal: forceNonTerminal,
		mutexIdx:         mutexIdx,
	}
}

// cloneNode copies a node without linking it into the table. Subtree
// value bias is never copied: if the clone were later deleted we would
// double-subtract its contribution from the shared entry.
func cloneNode(other *SearchNode, forceNonTerminal bool) *SearchNode {
	n := &SearchNode{
		NextPla:          other.NextPla,
		ForceNonTerminal: forceNonTerminal,
		PatternBonusHash: other.PatternBonusHash,
		mutexIdx:         other.mutexIdx,
	}
	n.state.Store(other.state.Load())
	n.nnOutput.Store(other.nnOutput.Load())
	n.nodeAge.Store(other.nodeAge.Load())
	n.Stats.copyFrom(&other.Stats)
	n.virtualLosses.Store(other.virtualLosses.Load())
	n.dirtyCounter.Store(other.dirtyCounter.Load())
	for tier, src := range []*atomic.Pointer[childArray]{&other.children0, &other.children1, &other.children2} {
		old := src.Load()
		if old == nil {
			continue
		}
		arr := newChildArray(len(*old))
		for i := range *old {
			(*arr)[i].storeAll(&(*old)[i])
		}
		switch tier {
		case 0:
			n.children0.Store(arr)
		case 1:
			n.children1.Store(arr)
		case 2:
			n.children2.Store(arr)
		}
	}
	return n
}

func (n *SearchNode) State() int32 { return n.state.Load() }

// GetNNOutput returns the node's current evaluator output, or nil if
// the node has not been evaluated yet.
func (n *SearchNode) GetNNOutput() *inference.NNOutput {
	return n.nnOutput.Load()
}

// storeNNOutput unconditionally replaces the output. Returns true if
// there was no previous output.
func (n *SearchNode) storeNNOutput(out *inference.NNOutput) bool {
	return n.nnOutput.Swap(out) == nil
}

// storeNNOutputIfNull installs the output only if the node has none;
// the first writer wins.
func (n *SearchNode) storeNNOutputIfNull(out *inference.NNOutput) bool {
	return n.nnOutput.CompareAndSwap(nil, out)
}

// GetChildren returns the live children array for the given observed
// state along with its capacity. Callers that already loaded the state
// must pass that same value so they read the array the state promised.
func (n *SearchNode) GetChildren(stateValue int32) []ChildPointer {
	switch {
	case stateValue >= stateExpanded2:
		return *n.children2.Load()
	case stateValue >= stateExpanded1:
		return *n.children1.Load()
	case stateValue >= stateExpanded0:
		return *n.children0.Load()
	}
	return nil
}

func (n *SearchNode) childrenCapacity(stateValue int32) int {
	switch {
	case stateValue >= stateExpanded2:
		return children2Size
	case stateValue >= stateExpanded1:
		return children1Size
	case stateValue >= stateExpanded0:
		return children0Size
	}
	return 0
}

// CountChildren walks the current children array counting contiguous
// filled slots.
func (n *SearchNode) CountChildren() int {
	return countChildrenInArray(n.GetChildren(n.state.Load()))
}

func countChildrenInArray(children []ChildPointer) int {
	num := 0
	for i := range children {
		if children[i].GetIfAllocated() == nil {
			break
		}
		num++
	}
	return num
}

func (n *SearchNode) initializeChildren() {
	n.children0.Store(newChildArray(children0Size))
}

// maybeExpandChildrenCapacityForNewChild grows the children array if
// the observed tier is full and a new child needs a slot. Returns
// false when another goroutine is mid-growth, in which case the caller
// should back off and retry. On success stateValue is updated to the
// post-growth state.
func (n *SearchNode) maybeExpandChildrenCapacityForNewChild(stateValue *int32, numChildrenFullPlusOne int) bool {
	capacity := n.childrenCapacity(*stateValue)
	if capacity < numChildrenFullPlusOne {
		return n.tryExpandingChildrenCapacityAssumeFull(stateValue)
	}
	return true
}

// Precondition: every slot of the tier indicated by stateValue has
// been observed non-nil, so relaxed re-reads below cannot see nil.
func (n *SearchNode) tryExpandingChildrenCapacityAssumeFull(stateValue *int32) bool {
	switch {
	case *stateValue < stateExpanded1:
		if *stateValue == stateGrowing1 {
			return false
		}
		if !n.state.CompareAndSwap(stateExpanded0, stateGrowing1) {
			return false
		}
		arr := newChildArray(children1Size)
		old := *n.children0.Load()
		for i := range old {
			child := old[i].GetIfAllocated()
			// Edge visits copied here may be slightly stale if other
			// goroutines are searching during the growth; they
			// self-correct with subsequent playouts.
			(*arr)[i].store(child)
			(*arr)[i].setEdgeVisits(old[i].GetEdgeVisits())
			(*arr)[i].setMoveLoc(old[i].GetMoveLoc())
		}
		n.children1.Store(arr)
		n.state.Store(stateExpanded1)
		*stateValue = stateExpanded1
	case *stateValue < stateExpanded2:
		if *stateValue == stateGrowing2 {
			return false
		}
		if !n.state.CompareAndSwap(stateExpanded1, stateGrowing2) {
			return false
		}
		arr := newChildArray(children2Size)
		old := *n.children1.Load()
		for i := range old {
			child := old[i].GetIfAllocated()
			(*arr)[i].store(child)
			(*arr)[i].setEdgeVisits(old[i].GetEdgeVisits())
			(*arr)[i].setMoveLoc(old[i].GetMoveLoc())
		}
		n.children2.Store(arr)
		n.state.Store(stateExpanded2)
		*stateValue = stateExpanded2
	default:
		panic("search: children capacity already at maximum")
	}
	return true
}

// dropSmallerChildArrays discards superseded tiers. Only safe in
// single-threaded phases between searches.
func (n *SearchNode) dropSmallerChildArrays() {
	st := n.state.Load()
	if st >= stateExpanded2 {
		n.children1.Store(nil)
		n.children0.Store(nil)
	} else if st >= stateExpanded1 {
		n.children0.Store(nil)
	}
}
