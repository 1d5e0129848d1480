package search

import (
	"sync/atomic"

	"github.com/flychenzhu/tengen/game"
)

// ChildPointer is one slot of a node's children array: an atomic
// triple of {child node, edge visit count, move}. Under graph search
// the edge visit count may lag the child's own visit count, since a
// child reached through several parents accumulates more visits than
// any single incoming edge contributes.
type ChildPointer struct {
	child      atomic.Pointer[SearchNode]
	edgeVisits atomic.Int64
	moveLoc    atomic.Int32
}

func (c *ChildPointer) init() {
	c.moveLoc.Store(int32(game.NullLoc))
}

// GetIfAllocated returns the child node or nil if this slot has not
// been filled yet.
func (c *ChildPointer) GetIfAllocated() *SearchNode {
	return c.child.Load()
}

func (c *ChildPointer) store(n *SearchNode) {
	c.child.Store(n)
}

// storeIfNull installs the child only if the slot is still empty.
func (c *ChildPointer) storeIfNull(n *SearchNode) bool {
	return c.child.CompareAndSwap(nil, n)
}

func (c *ChildPointer) GetEdgeVisits() int64 {
	return c.edgeVisits.Load()
}

func (c *ChildPointer) setEdgeVisits(x int64) {
	c.edgeVisits.Store(x)
}

func (c *ChildPointer) AddEdgeVisits(delta int64) {
	c.edgeVisits.Add(delta)
}

func (c *ChildPointer) casEdgeVisits(expected, desired int64) bool {
	return c.edgeVisits.CompareAndSwap(expected, desired)
}

func (c *ChildPointer) GetMoveLoc() game.Loc {
	return game.Loc(c.moveLoc.Load())
}

func (c *ChildPointer) setMoveLoc(loc game.Loc) {
	c.moveLoc.Store(int32(loc))
}

// storeAll copies another slot's contents, used when cloning a node.
func (c *ChildPointer) storeAll(other *ChildPointer) {
	n := other.child.Load()
	e := other.edgeVisits.Load()
	m := other.moveLoc.Load()
	c.moveLoc.Store(m)
	c.edgeVisits.Store(e)
	c.child.Store(n)
}
