package search

import (
	"math"

	"github.com/flychenzhu/tengen/game"
)

// updateStatsAfterPlayout coalesces concurrent backup requests through
// the node's dirty counter: the thread that bumps it from zero owns
// the recomputation and loops until it has accounted for every visit
// other threads added in the meantime; everyone else just increments
// and leaves.
func (s *Search) updateStatsAfterPlayout(node *SearchNode, thread *searchThread, isRoot bool) {
	oldDirtyCounter := node.dirtyCounter.Add(1) - 1
	if oldDirtyCounter > 0 {
		return
	}
	numVisitsCompleted := int32(1)
	for {
		s.recomputeNodeStats(node, thread, int64(numVisitsCompleted), isRoot)
		newDirtyCounter := node.dirtyCounter.Add(-numVisitsCompleted)
		if newDirtyCounter <= 0 {
			break
		}
		numVisitsCompleted = newDirtyCounter
	}
}

// pruneNoiseWeight walks children once in order: a child whose own
// utility sits below the running weighted average, and whose weight
// exceeds twice its raw-policy-proportional share, loses the excess
// scaled by how large the utility gap is. Returns the new total
// weight.
func (s *Search) pruneNoiseWeight(statsBuf []moreNodeStats, numChildren int, totalChildWeight float64, policyProbsBuf []float64) float64 {
	if numChildren <= 1 || totalChildWeight <= 0.00001 {
		return totalChildWeight
	}
	utilitySumSoFar := 0.0
	weightSumSoFar := 0.0
	rawPolicySumSoFar := 0.0
	for i := 0; i < numChildren; i++ {
		utility := statsBuf[i].selfUtility
		oldWeight := statsBuf[i].weightAdjusted
		rawPolicy := policyProbsBuf[i]

		newWeight := oldWeight
		if weightSumSoFar > 0 && rawPolicySumSoFar > 0 {
			avgUtilitySoFar := utilitySumSoFar / weightSumSoFar
			utilityGap := avgUtilitySoFar - utility
			if utilityGap > 0 {
				weightShareFromRawPolicy := weightSumSoFar * rawPolicy / rawPolicySumSoFar
				lenientWeightShare := 2.0 * weightShareFromRawPolicy
				if oldWeight > lenientWeightShare {
					excessWeight := oldWeight - lenientWeightShare
					weightToSubtract := excessWeight * (1.0 - math.Exp(-utilityGap/s.params.NoisePruneUtilityScale))
					if weightToSubtract > s.params.NoisePruningCap {
						weightToSubtract = s.params.NoisePruningCap
					}
					newWeight = oldWeight - weightToSubtract
					statsBuf[i].weightAdjusted = newWeight
				}
			}
		}
		utilitySumSoFar += utility * newWeight
		weightSumSoFar += newWeight
		rawPolicySumSoFar += rawPolicy
	}
	return weightSumSoFar
}

// downweightBadChildrenAndNormalizeWeight applies the value-weight
// reweighting: each child's weight is multiplied by the t-distribution
// CDF of its utility z-score against the weighted sibling mean, raised
// to ValueWeightExponent, then everything renormalizes to the desired
// total.
func (s *Search) downweightBadChildrenAndNormalizeWeight(
	numChildren int,
	currentTotalWeight, desiredTotalWeight float64,
	amountToSubtract, amountToPrune float64,
	statsBuf []moreNodeStats,
) {
	if numChildren <= 0 || currentTotalWeight <= 0 {
		return
	}

	if s.params.ValueWeightExponent == 0 || s.mirroringPla != game.Empty {
		for i := 0; i < numChildren; i++ {
			if statsBuf[i].weightAdjusted < amountToPrune {
				currentTotalWeight -= statsBuf[i].weightAdjusted
				statsBuf[i].weightAdjusted = 0
				continue
			}
			newWeight := statsBuf[i].weightAdjusted - amountToSubtract
			if newWeight <= 0 {
				currentTotalWeight -= statsBuf[i].weightAdjusted
				statsBuf[i].weightAdjusted = 0
			} else {
				currentTotalWeight -= amountToSubtract
				statsBuf[i].weightAdjusted = newWeight
			}
		}
		if currentTotalWeight != desiredTotalWeight {
			factor := desiredTotalWeight / currentTotalWeight
			for i := 0; i < numChildren; i++ {
				statsBuf[i].weightAdjusted *= factor
			}
		}
		return
	}

	stdevs := make([]float64, numChildren)
	simpleValueSum := 0.0
	for i := 0; i < numChildren; i++ {
		if statsBuf[i].stats.Visits == 0 {
			continue
		}
		weight := statsBuf[i].weightAdjusted
		precision := 1.5 * math.Sqrt(weight)
		// Some minimum variance for stability regardless of the
		// formula above.
		const minVariance = 0.00000001
		stdevs[i] = math.Sqrt(minVariance + 1.0/precision)
		simpleValueSum += statsBuf[i].selfUtility * weight
	}
	simpleValue := simpleValueSum / currentTotalWeight

	totalNewUnnormWeight := 0.0
	for i := 0; i < numChildren; i++ {
		if statsBuf[i].stats.Visits == 0 {
			continue
		}
		if statsBuf[i].weightAdjusted < amountToPrune {
			currentTotalWeight -= statsBuf[i].weightAdjusted
			statsBuf[i].weightAdjusted = 0
			continue
		}
		newWeight := statsBuf[i].weightAdjusted - amountToSubtract
		if newWeight <= 0 {
			currentTotalWeight -= statsBuf[i].weightAdjusted
			statsBuf[i].weightAdjusted = 0
		} else {
			currentTotalWeight -= amountToSubtract
			statsBuf[i].weightAdjusted = newWeight
		}

		z := (statsBuf[i].selfUtility - simpleValue) / stdevs[i]
		// A tiny floor keeps weights from vanishing entirely.
		p := s.valueWeightDistribution.getCDF(z) + 0.0001
		statsBuf[i].weightAdjusted *= math.Pow(p, s.params.ValueWeightExponent)
		totalNewUnnormWeight += statsBuf[i].weightAdjusted
	}

	factor := desiredTotalWeight / totalNewUnnormWeight
	for i := 0; i < numChildren; i++ {
		statsBuf[i].weightAdjusted *= factor
	}
}

// recomputeNodeStats re-derives every child-dependent statistic of the
// node: child snapshots, noise pruning, value reweighting, the node's
// own evaluation as a pseudo-child, subtree value bias, and pattern
// bonus. Visits and virtual losses are not child-dependent; visits
// advance by numVisitsToAdd under the stats lock.
func (s *Search) recomputeNodeStats(node *SearchNode, thread *searchThread, numVisitsToAdd int64, isRoot bool) {
	statsBuf := thread.statsBuf
	numGoodChildren := 0

	nodeState := node.state.Load()
	children := node.GetChildren(nodeState)
	origTotalChildWeight := 0.0
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		stats := &statsBuf[numGoodChildren]
		moveLoc := children[i].GetMoveLoc()
		edgeVisits := children[i].GetEdgeVisits()
		stats.stats = child.Stats.Snapshot()
		if stats.stats.Visits <= 0 || stats.stats.WeightSum <= 0 || edgeVisits <= 0 {
			continue
		}
		childWeight := stats.stats.WeightSum * float64(edgeVisits) / float64(stats.stats.Visits)
		childUtility := stats.stats.UtilityAvg
		if node.NextPla == game.White {
			stats.selfUtility = childUtility
		} else {
			stats.selfUtility = -childUtility
		}
		stats.weightAdjusted = childWeight
		stats.prevMoveLoc = moveLoc

		origTotalChildWeight += stats.weightAdjusted
		numGoodChildren++
	}

	currentTotalChildWeight := origTotalChildWeight

	if s.params.UseNoisePruning && numGoodChildren > 0 && !(s.params.AntiMirror && s.mirroringPla != game.Empty) {
		policyProbsBuf := thread.policyBuf
		policyProbs := node.GetNNOutput().PolicyProbsMaybeNoised()
		for i := 0; i < numGoodChildren; i++ {
			policyProbsBuf[i] = math.Max(1e-30, float64(policyProbs[s.getPos(statsBuf[i].prevMoveLoc)]))
		}
		currentTotalChildWeight = s.pruneNoiseWeight(statsBuf, numGoodChildren, currentTotalChildWeight, policyProbsBuf)
	}

	{
		amountToSubtract := 0.0
		amountToPrune := 0.0
		if isRoot && s.params.RootNoiseEnabled && !s.params.UseNoisePruning {
			maxChildWeight := 0.0
			for i := 0; i < numGoodChildren; i++ {
				if statsBuf[i].weightAdjusted > maxChildWeight {
					maxChildWeight = statsBuf[i].weightAdjusted
				}
			}
			amountToSubtract = math.Min(s.params.ChosenMoveSubtract, maxChildWeight/64.0)
			amountToPrune = math.Min(s.params.ChosenMovePrune, maxChildWeight/64.0)
		}
		s.downweightBadChildrenAndNormalizeWeight(
			numGoodChildren, currentTotalChildWeight, currentTotalChildWeight,
			amountToSubtract, amountToPrune, statsBuf,
		)
	}

	winLossValueSum := 0.0
	noResultValueSum := 0.0
	scoreMeanSum := 0.0
	scoreMeanSqSum := 0.0
	leadSum := 0.0
	utilitySum := 0.0
	utilitySqSum := 0.0
	weightSqSum := 0.0
	weightSum := currentTotalChildWeight
	for i := 0; i < numGoodChildren; i++ {
		stats := &statsBuf[i].stats
		desiredWeight := statsBuf[i].weightAdjusted
		weightScaling := desiredWeight / stats.WeightSum

		winLossValueSum += desiredWeight * stats.WinLossValueAvg
		noResultValueSum += desiredWeight * stats.NoResultValueAvg
		scoreMeanSum += desiredWeight * stats.ScoreMeanAvg
		scoreMeanSqSum += desiredWeight * stats.ScoreMeanSqAvg
		leadSum += desiredWeight * stats.LeadAvg
		utilitySum += desiredWeight * stats.UtilityAvg
		utilitySqSum += desiredWeight * stats.UtilitySqAvg
		weightSqSum += weightScaling * weightScaling * stats.WeightSqSum
	}

	// Add the node's own direct evaluation as a pseudo-child.
	{
		nnOutput := node.GetNNOutput()
		winProb := float64(nnOutput.WhiteWinProb)
		lossProb := float64(nnOutput.WhiteLossProb)
		noResultProb := float64(nnOutput.WhiteNoResultProb)
		scoreMean := float64(nnOutput.WhiteScoreMean)
		scoreMeanSq := float64(nnOutput.WhiteScoreMeanSq)
		lead := float64(nnOutput.WhiteLead)
		utility := s.getResultUtility(winProb-lossProb, noResultProb) + s.getScoreUtility(scoreMean, scoreMeanSq)

		if s.params.SubtreeValueBiasFactor != 0 && node.subtreeValueBiasEntry != nil {
			entry := node.subtreeValueBiasEntry
			var newEntryDeltaUtilitySum, newEntryWeightSum float64
			if currentTotalChildWeight > 1e-10 {
				utilityChildren := utilitySum / currentTotalChildWeight
				subtreeValueBiasWeight := math.Pow(origTotalChildWeight, s.params.SubtreeValueBiasWeightExponent)
				subtreeValueBiasDeltaSum := (utilityChildren - utility) * subtreeValueBiasWeight

				// Swap this node's previous contribution out of the
				// shared entry and the new one in.
				entry.lock.Lock()
				entry.deltaUtilSum += subtreeValueBiasDeltaSum - node.lastSubtreeValueBiasDeltaSum
				entry.weightSum += subtreeValueBiasWeight - node.lastSubtreeValueBiasWeight
				newEntryDeltaUtilitySum = entry.deltaUtilSum
				newEntryWeightSum = entry.weightSum
				node.lastSubtreeValueBiasDeltaSum = subtreeValueBiasDeltaSum
				node.lastSubtreeValueBiasWeight = subtreeValueBiasWeight
				entry.lock.Unlock()
			} else {
				entry.lock.Lock()
				newEntryDeltaUtilitySum = entry.deltaUtilSum
				newEntryWeightSum = entry.weightSum
				entry.lock.Unlock()
			}
			if newEntryWeightSum > 0.001 {
				utility += s.params.SubtreeValueBiasFactor * newEntryDeltaUtilitySum / newEntryWeightSum
			}
		}

		weight := s.computeWeightFromNNOutput(nnOutput)
		winLossValueSum += (winProb - lossProb) * weight
		noResultValueSum += noResultProb * weight
		scoreMeanSum += scoreMean * weight
		scoreMeanSqSum += scoreMeanSq * weight
		leadSum += lead * weight
		utilitySum += utility * weight
		utilitySqSum += utility * utility * weight
		weightSqSum += weight * weight
		weightSum += weight
	}

	winLossValueAvg := winLossValueSum / weightSum
	noResultValueAvg := noResultValueSum / weightSum
	scoreMeanAvg := scoreMeanSum / weightSum
	scoreMeanSqAvg := scoreMeanSqSum / weightSum
	leadAvg := leadSum / weightSum
	utilityAvg := utilitySum / weightSum
	utilitySqAvg := utilitySqSum / weightSum

	oldUtilityAvg := utilityAvg
	utilityAvg += s.getPatternBonus(node.PatternBonusHash, game.Opp(node.NextPla))
	utilitySqAvg = utilitySqAvg + (utilityAvg*utilityAvg - oldUtilityAvg*oldUtilityAvg)

	node.statsLock.Lock()
	node.Stats.WinLossValueAvg.Store(winLossValueAvg)
	node.Stats.NoResultValueAvg.Store(noResultValueAvg)
	node.Stats.ScoreMeanAvg.Store(scoreMeanAvg)
	node.Stats.ScoreMeanSqAvg.Store(scoreMeanSqAvg)
	node.Stats.LeadAvg.Store(leadAvg)
	node.Stats.UtilityAvg.Store(utilityAvg)
	node.Stats.UtilitySqAvg.Store(utilitySqAvg)
	node.Stats.WeightSqSum.Store(weightSqSum)
	node.Stats.WeightSum.Store(weightSum)
	node.Stats.Visits.Add(numVisitsToAdd)
	node.statsLock.Unlock()
}

// addLeafValue performs the simple incremental update for a leaf
// visit: either a fresh first-visit store or a weighted running
// average merge.
func (s *Search) addLeafValue(
	node *SearchNode,
	winLossValue, noResultValue, scoreMean, scoreMeanSq, lead float64,
	weight float64,
	isTerminal, assumeNoExistingWeight bool,
) {
	utility := s.getResultUtility(winLossValue, noResultValue) + s.getScoreUtility(scoreMean, scoreMeanSq)

	if s.params.SubtreeValueBiasFactor != 0 && !isTerminal && node.subtreeValueBiasEntry != nil {
		entry := node.subtreeValueBiasEntry
		entry.lock.Lock()
		newEntryDeltaUtilitySum := entry.deltaUtilSum
		newEntryWeightSum := entry.weightSum
		entry.lock.Unlock()
		if newEntryWeightSum > 0.001 {
			utility += s.params.SubtreeValueBiasFactor * newEntryDeltaUtilitySum / newEntryWeightSum
		}
	}

	utility += s.getPatternBonus(node.PatternBonusHash, game.Opp(node.NextPla))

	utilitySq := utility * utility
	weightSq := weight * weight

	if assumeNoExistingWeight {
		node.statsLock.Lock()
		node.Stats.WinLossValueAvg.Store(winLossValue)
		node.Stats.NoResultValueAvg.Store(noResultValue)
		node.Stats.ScoreMeanAvg.Store(scoreMean)
		node.Stats.ScoreMeanSqAvg.Store(scoreMeanSq)
		node.Stats.LeadAvg.Store(lead)
		node.Stats.UtilityAvg.Store(utility)
		node.Stats.UtilitySqAvg.Store(utilitySq)
		node.Stats.WeightSqSum.Store(weightSq)
		node.Stats.WeightSum.Store(weight)
		oldVisits := node.Stats.Visits.Add(1) - 1
		node.statsLock.Unlock()
		if oldVisits != 0 {
			panic("search: addLeafValue assumeNoExistingWeight but node had visits")
		}
	} else {
		node.statsLock.Lock()
		oldWeightSum := node.Stats.WeightSum.Load()
		newWeightSum := oldWeightSum + weight
		node.Stats.WinLossValueAvg.Store((node.Stats.WinLossValueAvg.Load()*oldWeightSum + winLossValue*weight) / newWeightSum)
		node.Stats.NoResultValueAvg.Store((node.Stats.NoResultValueAvg.Load()*oldWeightSum + noResultValue*weight) / newWeightSum)
		node.Stats.ScoreMeanAvg.Store((node.Stats.ScoreMeanAvg.Load()*oldWeightSum + scoreMean*weight) / newWeightSum)
		node.Stats.ScoreMeanSqAvg.Store((node.Stats.ScoreMeanSqAvg.Load()*oldWeightSum + scoreMeanSq*weight) / newWeightSum)
		node.Stats.LeadAvg.Store((node.Stats.LeadAvg.Load()*oldWeightSum + lead*weight) / newWeightSum)
		node.Stats.UtilityAvg.Store((node.Stats.UtilityAvg.Load()*oldWeightSum + utility*weight) / newWeightSum)
		node.Stats.UtilitySqAvg.Store((node.Stats.UtilitySqAvg.Load()*oldWeightSum + utilitySq*weight) / newWeightSum)
		node.Stats.WeightSqSum.Store(node.Stats.WeightSqSum.Load() + weightSq)
		node.Stats.WeightSum.Store(newWeightSum)
		node.Stats.Visits.Add(1)
		node.statsLock.Unlock()
	}
}

// addCurrentNNOutputAsLeafValue backs up the node's own evaluation as
// a leaf visit.
func (s *Search) addCurrentNNOutputAsLeafValue(node *SearchNode, assumeNoExistingWeight bool) {
	out := node.GetNNOutput()
	weight := s.computeWeightFromNNOutput(out)
	s.addLeafValue(node,
		float64(out.WhiteWinProb-out.WhiteLossProb),
		float64(out.WhiteNoResultProb),
		float64(out.WhiteScoreMean),
		float64(out.WhiteScoreMeanSq),
		float64(out.WhiteLead),
		weight, false, assumeNoExistingWeight)
}
