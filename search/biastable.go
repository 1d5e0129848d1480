package search

import (
	"sync"

	"github.com/flychenzhu/tengen/game"
)

// subtreeValueBiasEntry accumulates, across all nodes sharing a local
// context, the observed gap between a node's own evaluation and the
// averaged utility of its subtree. Entries are tiny and contended, so
// they use a spinlock rather than a mutex.
type subtreeValueBiasEntry struct {
	lock         spinLock
	deltaUtilSum float64
	weightSum    float64
}

// subtreeValueBiasTable maps {mover, previous move, move, recent board
// hash} to a shared bias entry. Nodes keep weak back-references to
// their entry and swap their contribution in and out as their stats
// are recomputed.
type subtreeValueBiasTable struct {
	shards []subtreeValueBiasShard
}

type subtreeValueBiasShard struct {
	mu      sync.Mutex
	entries map[game.Hash128]*subtreeValueBiasEntry
}

func newSubtreeValueBiasTable(numShards int) *subtreeValueBiasTable {
	if numShards <= 0 {
		numShards = 1024
	}
	n := 1
	for n < numShards {
		n <<= 1
	}
	t := &subtreeValueBiasTable{shards: make([]subtreeValueBiasShard, n)}
	for i := range t.shards {
		t.shards[i].entries = make(map[game.Hash128]*subtreeValueBiasEntry)
	}
	return t
}

func biasKey(pla game.Player, prevMoveLoc, moveLoc game.Loc, recentBoardHash game.Hash128) game.Hash128 {
	return game.MixedHash128(0x4be6a2c90d71f835,
		uint64(pla), uint64(int64(prevMoveLoc)), uint64(int64(moveLoc)),
		recentBoardHash.Hi, recentBoardHash.Lo)
}

// get returns the entry for the context, creating it if needed.
func (t *subtreeValueBiasTable) get(pla game.Player, prevMoveLoc, moveLoc game.Loc, recentBoardHash game.Hash128) *subtreeValueBiasEntry {
	key := biasKey(pla, prevMoveLoc, moveLoc, recentBoardHash)
	shard := &t.shards[key.Hi&uint64(len(t.shards)-1)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	entry, ok := shard.entries[key]
	if !ok {
		entry = &subtreeValueBiasEntry{}
		shard.entries[key] = entry
	}
	return entry
}

// clearUnusedSynchronous drops entries that no longer carry any
// weight. Must not run concurrently with a search.
func (t *subtreeValueBiasTable) clearUnusedSynchronous() {
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			entry.lock.Lock()
			unused := entry.weightSum <= 1e-10 && entry.deltaUtilSum >= -1e-10 && entry.deltaUtilSum <= 1e-10
			entry.lock.Unlock()
			if unused {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}
