package search

import (
	"math"
	"runtime"
	"sync/atomic"
)

// atomicFloat64 is a float64 readable and writable without tearing,
// bit-cast through a uint64.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// spinLock is a test-and-set busy-wait lock for very short critical
// sections (single-node stats writes, bias-table entries).
type spinLock struct {
	held atomic.Bool
}

func (l *spinLock) Lock() {
	for i := 0; l.held.Swap(true); i++ {
		// Back off to the scheduler if the holder got preempted.
		if i >= 16 {
			runtime.Gosched()
		}
	}
}

func (l *spinLock) Unlock() {
	l.held.Store(false)
}

// NodeStats is the per-node running statistics block. Every field is
// individually atomic so readers never observe torn numerics; writers
// serialize through the owning node's statsLock so that a full
// snapshot is internally consistent or at worst slightly stale.
type NodeStats struct {
	Visits atomic.Int64

	WinLossValueAvg  atomicFloat64
	NoResultValueAvg atomicFloat64
	ScoreMeanAvg     atomicFloat64
	ScoreMeanSqAvg   atomicFloat64
	LeadAvg          atomicFloat64
	UtilityAvg       atomicFloat64
	UtilitySqAvg     atomicFloat64
	WeightSum        atomicFloat64
	WeightSqSum      atomicFloat64
}

// NodeStatsSnapshot is a plain-value copy of NodeStats.
type NodeStatsSnapshot struct {
	Visits           int64
	WinLossValueAvg  float64
	NoResultValueAvg float64
	ScoreMeanAvg     float64
	ScoreMeanSqAvg   float64
	LeadAvg          float64
	UtilityAvg       float64
	UtilitySqAvg     float64
	WeightSum        float64
	WeightSqSum      float64
}

func (s *NodeStats) Snapshot() NodeStatsSnapshot {
	return NodeStatsSnapshot{
		Visits:           s.Visits.Load(),
		WinLossValueAvg:  s.WinLossValueAvg.Load(),
		NoResultValueAvg: s.NoResultValueAvg.Load(),
		ScoreMeanAvg:     s.ScoreMeanAvg.Load(),
		ScoreMeanSqAvg:   s.ScoreMeanSqAvg.Load(),
		LeadAvg:          s.LeadAvg.Load(),
		UtilityAvg:       s.UtilityAvg.Load(),
		UtilitySqAvg:     s.UtilitySqAvg.Load(),
		WeightSum:        s.WeightSum.Load(),
		WeightSqSum:      s.WeightSqSum.Load(),
	}
}

func (s *NodeStats) copyFrom(other *NodeStats) {
	s.Visits.Store(other.Visits.Load())
	s.WinLossValueAvg.Store(other.WinLossValueAvg.Load())
	s.NoResultValueAvg.Store(other.NoResultValueAvg.Load())
	s.ScoreMeanAvg.Store(other.ScoreMeanAvg.Load())
	s.ScoreMeanSqAvg.Store(other.ScoreMeanSqAvg.Load())
	s.LeadAvg.Store(other.LeadAvg.Load())
	s.UtilityAvg.Store(other.UtilityAvg.Load())
	s.UtilitySqAvg.Store(other.UtilitySqAvg.Load())
	s.WeightSum.Store(other.WeightSum.Load())
	s.WeightSqSum.Store(other.WeightSqSum.Load())
}
