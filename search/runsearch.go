package search

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/flychenzhu/tengen/game"

	"golang.org/x/sync/errgroup"
)

// RunWholeSearch searches until a stop condition fires: visit or
// playout caps, a time cap, the computed time-control limit, or the
// external shouldStopNow flag. Unrecoverable conditions (evaluator
// failure, bad configuration) surface as the returned error.
func (s *Search) RunWholeSearch(movePla game.Player, shouldStopNow *atomic.Bool, pondering bool, tc TimeControls, searchFactor float64) error {
	if movePla != s.rootPla {
		s.SetPlayerAndClearHistory(movePla)
	}
	if shouldStopNow == nil {
		shouldStopNow = &atomic.Bool{}
	}

	startTime := time.Now()
	var numPlayoutsShared atomic.Int64

	if err := s.beginSearch(pondering); err != nil {
		return err
	}
	numNonPlayoutVisits := s.RootVisits()

	maxVisits := s.params.MaxVisits
	maxPlayouts := s.params.MaxPlayouts
	maxTime := s.params.MaxTime
	if pondering {
		maxVisits = s.params.MaxVisitsPondering
		maxPlayouts = s.params.MaxPlayoutsPondering
		maxTime = s.params.MaxTimePondering
	}

	// Human friendliness: think less after passes.
	moves := s.rootHistory.MoveHistory
	if len(moves) >= 1 && moves[len(moves)-1].Loc == game.PassLoc {
		if len(moves) >= 3 && moves[len(moves)-3].Loc == game.PassLoc {
			searchFactor *= s.params.SearchFactorAfterTwoPass
		} else {
			searchFactor *= s.params.SearchFactorAfterOnePass
		}
	}
	if searchFactor != 1.0 {
		cap := float64(int64(1) << 62)
		maxVisits = int64(math.Ceil(math.Min(cap, float64(maxVisits)*searchFactor)))
		maxPlayouts = int64(math.Ceil(math.Min(cap, float64(maxPlayouts)*searchFactor)))
		maxTime = maxTime * searchFactor
	}

	// The two time atomics don't need to stay in sync with each other.
	var tcMaxTime atomicFloat64
	var upperBoundVisitsLeftDueToTime atomicFloat64
	tcMaxTime.Store(1e30)
	upperBoundVisitsLeftDueToTime.Store(1e30)
	hasMaxTime := maxTime < 1.0e12
	hasTc := !pondering && !tc.IsEffectivelyUnlimitedTime()

	recomputeTimeLimits := func(timeUsed float64) {
		rootVisits := numPlayoutsShared.Load() + numNonPlayoutVisits
		tcLimit := 1e30
		if hasTc {
			tcLimit = s.recomputeSearchTimeLimit(tc, timeUsed, searchFactor, rootVisits)
			tcMaxTime.Store(tcLimit)
		}
		upperBound := s.computeUpperBoundVisitsLeftDueToTime(rootVisits, timeUsed, math.Min(tcLimit, maxTime))
		upperBoundVisitsLeftDueToTime.Store(upperBound)
	}
	if !pondering && (hasTc || hasMaxTime) {
		recomputeTimeLimits(time.Since(startTime).Seconds())
	}

	searchLoop := func(threadIdx int) error {
		thread := s.newSearchThread(threadIdx)
		numPlayouts := numPlayoutsShared.Load()
		lastTimeUsedRecomputingTcLimit := 0.0
		for {
			timeUsed := 0.0
			if hasTc || hasMaxTime {
				timeUsed = time.Since(startTime).Seconds()
			}
			tcMaxTimeLimit := 0.0
			if hasTc {
				tcMaxTimeLimit = tcMaxTime.Load()
			}

			shouldStop := numPlayouts >= maxPlayouts ||
				numPlayouts+numNonPlayoutVisits >= maxVisits
			if hasMaxTime && numPlayouts >= 2 && timeUsed >= maxTime {
				shouldStop = true
			}
			if hasTc && numPlayouts >= 2 && timeUsed >= tcMaxTimeLimit {
				shouldStop = true
			}
			if shouldStop || shouldStopNow.Load() {
				shouldStopNow.Store(true)
				return nil
			}

			// Worker 0 alone recomputes time limits, at most 10 Hz.
			if !pondering && (hasTc || hasMaxTime) && threadIdx == 0 && timeUsed >= lastTimeUsedRecomputingTcLimit+0.1 {
				lastTimeUsedRecomputingTcLimit = timeUsed
				recomputeTimeLimits(timeUsed)
			}

			upperBoundVisitsLeft := 1e30
			if hasTc {
				upperBoundVisitsLeft = upperBoundVisitsLeftDueToTime.Load()
			}
			upperBoundVisitsLeft = math.Min(upperBoundVisitsLeft, float64(maxPlayouts-numPlayouts))
			upperBoundVisitsLeft = math.Min(upperBoundVisitsLeft, float64(maxVisits-numPlayouts-numNonPlayoutVisits))

			finishedPlayout, err := s.runSinglePlayout(thread, upperBoundVisitsLeft)
			if err != nil {
				// Terminate the whole search; the other workers see
				// the stop flag on their next boundary.
				shouldStopNow.Store(true)
				s.logger.Error("search thread failed", "threadIdx", threadIdx, "error", err)
				return err
			}
			if finishedPlayout {
				numPlayouts = numPlayoutsShared.Add(1)
			} else {
				// No progress this iteration (racing expansion or lost
				// install); give other goroutines a chance so we come
				// unstuck.
				numPlayouts = numPlayoutsShared.Load()
				runtime.Gosched()
			}
		}
	}

	actualSearchStartTime := time.Now()
	var g errgroup.Group
	for i := 1; i < s.params.NumThreads; i++ {
		threadIdx := i
		g.Go(func() error { return searchLoop(threadIdx) })
	}
	err0 := searchLoop(0)
	err := g.Wait()
	if err0 != nil {
		err = err0
	}

	s.lastSearchNumPlayouts = numPlayoutsShared.Load()
	s.effectiveSearchTimeCarriedOver += time.Since(actualSearchStartTime).Seconds()
	return err
}

// RunWholeSearchAndGetMove runs a full search and samples the chosen
// move.
func (s *Search) RunWholeSearchAndGetMove(movePla game.Player) (game.Loc, error) {
	if err := s.RunWholeSearch(movePla, nil, false, TimeControls{}, 1.0); err != nil {
		return game.NullLoc, err
	}
	return s.ChosenMoveLoc(), nil
}

// LastSearchNumPlayouts reports the playout count of the most recent
// search.
func (s *Search) LastSearchNumPlayouts() int64 {
	return s.lastSearchNumPlayouts
}
