package search

import (
	"sync/atomic"

	"github.com/flychenzhu/tengen/game"

	"lukechampine.com/frand"
)

// Parallel traversals over the search graph. Both traversals bump the
// global node age and use it as the "done" marker, so as a side effect
// exactly the reachable nodes end up with nodeAge == searchNodeAge;
// the sweep phases of GC exploit that. Cycles (possible in graph
// search) are truncated with a per-goroutine in-progress set.

// shuffledIndexOrder returns child visit order for a goroutine; worker
// 0 walks in order, others randomize to spread into different parts of
// the graph.
func shuffledIndexOrder(n int, rng *frand.RNG, buf []int) []int {
	buf = buf[:0]
	for i := 0; i < n; i++ {
		buf = append(buf, i)
	}
	if rng != nil {
		for i := 1; i < n; i++ {
			j := int(rng.Uint64n(uint64(i + 1)))
			buf[i], buf[j] = buf[j], buf[i]
		}
	}
	return buf
}

// applyRecursivelyPostOrder walks nodes and their descendants calling
// f children-first, each node exactly once across all goroutines. The
// graph must not be mutated concurrently; f may mutate the node it is
// given and that node's subtree.
func (s *Search) applyRecursivelyPostOrder(nodes []*SearchNode, f func(*SearchNode, int)) {
	age := s.searchNodeAge.Add(1)
	s.performTaskWithThreads(func(threadIdx int) {
		var rng *frand.RNG
		if threadIdx != 0 {
			rng = newSeededRNG(s.randSeed, 0x74726176, uint64(threadIdx), uint64(age))
		}
		inProgress := make(map[*SearchNode]bool)
		order := shuffledIndexOrder(len(nodes), rng, nil)
		for _, idx := range order {
			s.applyPostOrderHelper(nodes[idx], threadIdx, age, rng, inProgress, f)
		}
	})
}

func (s *Search) applyPostOrderHelper(node *SearchNode, threadIdx int, age uint32, rng *frand.RNG, inProgress map[*SearchNode]bool, f func(*SearchNode, int)) {
	if node.nodeAge.Load() == age {
		return
	}
	// Cycle: treat the node as already done.
	if inProgress[node] {
		return
	}
	children := node.GetChildren(node.state.Load())
	numChildren := countChildrenInArray(children)
	if numChildren > 0 {
		inProgress[node] = true
		order := shuffledIndexOrder(numChildren, rng, nil)
		for _, idx := range order {
			s.applyPostOrderHelper(children[idx].GetIfAllocated(), threadIdx, age, rng, inProgress, f)
		}
		delete(inProgress, node)
	}
	// The post-order call is protected by the node's pooled mutex so
	// that f never runs twice or concurrently on one node.
	mu := s.mutexPool.get(node.mutexIdx)
	mu.Lock()
	defer mu.Unlock()
	if node.nodeAge.Load() == age {
		return
	}
	if f != nil {
		f(node, threadIdx)
	}
	node.nodeAge.Store(age)
}

// applyRecursivelyAnyOrder is the unordered variant: f still runs
// exactly once per node, with no ordering guarantee.
func (s *Search) applyRecursivelyAnyOrder(nodes []*SearchNode, f func(*SearchNode, int)) {
	age := s.searchNodeAge.Add(1)
	s.performTaskWithThreads(func(threadIdx int) {
		var rng *frand.RNG
		if threadIdx != 0 {
			rng = newSeededRNG(s.randSeed, 0x616e796f, uint64(threadIdx), uint64(age))
		}
		inProgress := make(map[*SearchNode]bool)
		order := shuffledIndexOrder(len(nodes), rng, nil)
		for _, idx := range order {
			s.applyAnyOrderHelper(nodes[idx], threadIdx, age, rng, inProgress, f)
		}
	})
}

func (s *Search) applyAnyOrderHelper(node *SearchNode, threadIdx int, age uint32, rng *frand.RNG, inProgress map[*SearchNode]bool, f func(*SearchNode, int)) {
	if node.nodeAge.Load() == age {
		return
	}
	// Cycle: treat the node as already done.
	if inProgress[node] {
		return
	}
	children := node.GetChildren(node.state.Load())
	numChildren := countChildrenInArray(children)
	if numChildren > 0 {
		inProgress[node] = true
		order := shuffledIndexOrder(numChildren, rng, nil)
		for _, idx := range order {
			s.applyAnyOrderHelper(children[idx].GetIfAllocated(), threadIdx, age, rng, inProgress, f)
		}
		delete(inProgress, node)
	}
	// First thread to flip the age wins and performs the action.
	if node.nodeAge.Swap(age) == age {
		return
	}
	if f != nil {
		f(node, threadIdx)
	}
}

// removeSubtreeValueBias withdraws the node's contribution from its
// shared bias entry before the node is deleted.
func (s *Search) removeSubtreeValueBias(node *SearchNode) {
	if node.subtreeValueBiasEntry == nil {
		return
	}
	deltaToSubtract := node.lastSubtreeValueBiasDeltaSum * s.params.SubtreeValueBiasFreeProp
	weightToSubtract := node.lastSubtreeValueBiasWeight * s.params.SubtreeValueBiasFreeProp
	entry := node.subtreeValueBiasEntry
	entry.lock.Lock()
	entry.deltaUtilSum -= deltaToSubtract
	entry.weightSum -= weightToSubtract
	entry.lock.Unlock()
	node.subtreeValueBiasEntry = nil
}

// deleteAllOldTableNodesAndSubtreeValueBias sweeps every table node
// whose age predates the current marking pass, withdrawing its bias
// contribution as it goes.
func (s *Search) deleteAllOldTableNodesAndSubtreeValueBias() {
	age := s.searchNodeAge.Load()
	s.performTaskWithThreads(func(threadIdx int) {
		numWorkers := s.params.NumThreads
		if numWorkers < 1 {
			numWorkers = 1
		}
		idx0 := threadIdx * len(s.nodeTable.shards) / numWorkers
		idx1 := (threadIdx + 1) * len(s.nodeTable.shards) / numWorkers
		for i := idx0; i < idx1; i++ {
			shard := &s.nodeTable.shards[i]
			shard.mu.Lock()
			for key, node := range shard.entries {
				if node.nodeAge.Load() < age {
					s.removeSubtreeValueBias(node)
					delete(shard.entries, key)
				}
			}
			shard.mu.Unlock()
		}
	})
}

// deleteAllTableNodes drops every entry without bias bookkeeping; used
// when the bias table itself is also being discarded.
func (s *Search) deleteAllTableNodes() {
	s.performTaskWithThreads(func(threadIdx int) {
		numWorkers := s.params.NumThreads
		if numWorkers < 1 {
			numWorkers = 1
		}
		idx0 := threadIdx * len(s.nodeTable.shards) / numWorkers
		idx1 := (threadIdx + 1) * len(s.nodeTable.shards) / numWorkers
		for i := idx0; i < idx1; i++ {
			shard := &s.nodeTable.shards[i]
			shard.mu.Lock()
			shard.entries = make(map[game.Hash128]*SearchNode)
			shard.mu.Unlock()
		}
	})
}

// recursivelyRecomputeStats rebuilds every node's derived statistics
// from its children, children first. Used between searches when the
// utility definition shifted (dynamic score center, bias tables).
func (s *Search) recursivelyRecomputeStats(root *SearchNode) {
	threads := make([]*searchThread, s.params.NumThreads)
	for i := range threads {
		threads[i] = s.newSearchThread(i)
	}
	f := func(node *SearchNode, threadIdx int) {
		thread := threads[threadIdx]
		children := node.GetChildren(node.state.Load())
		foundAnyChildren := len(children) > 0 && children[0].GetIfAllocated() != nil
		isRoot := node == s.rootNode

		if !foundAnyChildren {
			weightSum := node.Stats.WeightSum.Load()
			// A zero-weight leaf is only legitimate as a fresh root.
			if weightSum <= 0 {
				return
			}
			resultUtility := s.getResultUtility(node.Stats.WinLossValueAvg.Load(), node.Stats.NoResultValueAvg.Load())
			scoreUtility := s.getScoreUtility(node.Stats.ScoreMeanAvg.Load(), node.Stats.ScoreMeanSqAvg.Load())
			newUtility := resultUtility + scoreUtility
			newUtility += s.getPatternBonus(node.PatternBonusHash, game.Opp(node.NextPla))
			node.statsLock.Lock()
			node.Stats.UtilityAvg.Store(newUtility)
			node.Stats.UtilitySqAvg.Store(newUtility * newUtility)
			node.statsLock.Unlock()
			return
		}
		s.recomputeNodeStats(node, thread, 0, isRoot)
	}
	s.applyRecursivelyPostOrder([]*SearchNode{root}, f)
}

// enumerateTreePostOrder collects every reachable node; mainly for
// tests.
func (s *Search) enumerateTreePostOrder() []*SearchNode {
	if s.rootNode == nil {
		return nil
	}
	var sizeCounter atomic.Int64
	s.applyRecursivelyPostOrder([]*SearchNode{s.rootNode}, func(*SearchNode, int) {
		sizeCounter.Add(1)
	})
	nodes := make([]*SearchNode, sizeCounter.Load())
	var indexCounter atomic.Int64
	s.applyRecursivelyPostOrder([]*SearchNode{s.rootNode}, func(node *SearchNode, _ int) {
		nodes[indexCounter.Add(1)-1] = node
	})
	return nodes
}
