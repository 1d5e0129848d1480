package search

import (
	"sync"

	"github.com/flychenzhu/tengen/game"
)

// nodeTable owns every non-root node, sharded by the low bits of the
// high word of the node's 128-bit key. Shard mutexes cover the slower operations:
// lookup, allocation, insertion, sweep deletion.
type nodeTable struct {
	shards []nodeTableShard
	mask   uint64
}

type nodeTableShard struct {
	mu      sync.Mutex
	entries map[game.Hash128]*SearchNode
}

func newNodeTable(shardsPowerOfTwo int) *nodeTable {
	if shardsPowerOfTwo < 0 {
		shardsPowerOfTwo = 0
	}
	if shardsPowerOfTwo > 20 {
		shardsPowerOfTwo = 20
	}
	numShards := 1 << shardsPowerOfTwo
	t := &nodeTable{
		shards: make([]nodeTableShard, numShards),
		mask:   uint64(numShards - 1),
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[game.Hash128]*SearchNode)
	}
	return t
}

func (t *nodeTable) shardFor(key game.Hash128) *nodeTableShard {
	return &t.shards[key.Hi&t.mask]
}

// size counts all entries. Only meaningful in quiescent phases.
func (t *nodeTable) size() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].entries)
		t.shards[i].mu.Unlock()
	}
	return n
}
