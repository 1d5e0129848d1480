package search

import (
	"math"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
)

const (
	// policyIllegalSelectionValue marks moves that must never win the
	// selection argmax.
	policyIllegalSelectionValue = -1e50
	// futileVisitsPruneValue drops children that can no longer catch
	// up within the remaining visit budget.
	futileVisitsPruneValue = -1e40
	// Tiny constant added to the numerator of the puct formula so it
	// stays positive even at zero weight.
	totalChildWeightPuctOffset = 0.01
)

func cpuctExploration(totalChildWeight float64, params *Params) float64 {
	return params.CpuctExploration +
		params.CpuctExplorationLog*math.Log((totalChildWeight+params.CpuctExplorationBase)/params.CpuctExplorationBase)
}

// getExploreSelectionValue is the core PUCT score: the child's utility
// from the mover's perspective plus an exploration bonus shaped by the
// policy prior and the parent's utility spread.
func (s *Search) getExploreSelectionValue(
	nnPolicyProb float64, totalChildWeight, childWeight float64,
	childUtility, parentUtilityStdevFactor float64, pla game.Player,
) float64 {
	if nnPolicyProb < 0 {
		return policyIllegalSelectionValue
	}
	exploreComponent := cpuctExploration(totalChildWeight, &s.params) *
		parentUtilityStdevFactor *
		nnPolicyProb *
		math.Sqrt(totalChildWeight+totalChildWeightPuctOffset) /
		(1.0 + childWeight)

	valueComponent := childUtility
	if pla == game.Black {
		valueComponent = -childUtility
	}
	return exploreComponent + valueComponent
}

// getExploreSelectionValueInverse returns the childWeight that would
// make getExploreSelectionValue produce the given score, or 0 if that
// weight would be negative.
func (s *Search) getExploreSelectionValueInverse(
	exploreSelectionValue, nnPolicyProb, totalChildWeight float64,
	childUtility, parentUtilityStdevFactor float64, pla game.Player,
) float64 {
	if nnPolicyProb < 0 {
		return 0
	}
	valueComponent := childUtility
	if pla == game.Black {
		valueComponent = -childUtility
	}
	exploreComponent := exploreSelectionValue - valueComponent
	exploreComponentScaling := cpuctExploration(totalChildWeight, &s.params) *
		parentUtilityStdevFactor *
		nnPolicyProb *
		math.Sqrt(totalChildWeight+totalChildWeightPuctOffset)
	if exploreComponent <= 0 {
		return 1e100
	}
	childWeight := exploreComponentScaling/exploreComponent - 1
	if childWeight < 0 {
		childWeight = 0
	}
	return childWeight
}

// getFpuValueForChildrenAssumeVisited computes the first-play-urgency
// value for this node's unvisited children and, alongside it, the
// parent quantities every child's selection score needs.
func (s *Search) getFpuValueForChildrenAssumeVisited(
	node *SearchNode, pla game.Player, isRoot bool, policyProbMassVisited float64,
) (fpuValue, parentUtility, parentWeightPerVisit, parentUtilityStdevFactor float64) {
	visits := node.Stats.Visits.Load()
	weightSum := node.Stats.WeightSum.Load()
	utilityAvg := node.Stats.UtilityAvg.Load()
	utilitySqAvg := node.Stats.UtilitySqAvg.Load()

	parentWeightPerVisit = weightSum / float64(max64(visits, 1))
	parentUtility = utilityAvg

	variancePrior := s.params.CpuctUtilityStdevPrior * s.params.CpuctUtilityStdevPrior
	variancePriorWeight := s.params.CpuctUtilityStdevPriorWeight
	var parentUtilityStdev float64
	if visits <= 0 || weightSum <= 1 {
		parentUtilityStdev = s.params.CpuctUtilityStdevPrior
	} else {
		utilitySq := parentUtility * parentUtility
		// Guard against numerical precision or thread desync producing
		// negative variance.
		if utilitySqAvg < utilitySq {
			utilitySqAvg = utilitySq
		}
		parentUtilityStdev = math.Sqrt(math.Max(
			0.0,
			((utilitySq+variancePrior)*variancePriorWeight+utilitySqAvg*weightSum)/
				(variancePriorWeight+weightSum-1.0)-utilitySq,
		))
	}
	parentUtilityStdevFactor = 1.0 + s.params.CpuctUtilityStdevScale*(parentUtilityStdev/s.params.CpuctUtilityStdevPrior-1.0)

	if s.params.FpuParentWeight > 0 {
		parentUtility = s.params.FpuParentWeight*s.getUtilityFromNN(node.GetNNOutput()) + (1.0-s.params.FpuParentWeight)*parentUtility
	}

	fpuReductionMax := s.params.FpuReductionMax
	fpuLossProp := s.params.FpuLossProp
	if isRoot {
		fpuReductionMax = s.params.RootFpuReductionMax
		fpuLossProp = s.params.RootFpuLossProp
	}
	utilityRadius := s.params.UtilityRadius()
	reduction := fpuReductionMax * math.Sqrt(policyProbMassVisited)
	if pla == game.White {
		fpuValue = parentUtility - reduction
	} else {
		fpuValue = parentUtility + reduction
	}
	lossValue := utilityRadius
	if pla == game.White {
		lossValue = -utilityRadius
	}
	fpuValue = fpuValue + (lossValue-fpuValue)*fpuLossProp
	return fpuValue, parentUtility, parentWeightPerVisit, parentUtilityStdevFactor
}

// maybeApplyWideRootNoise randomly perturbs a root child's utility and
// flattens its policy so the root explores more broadly.
func (s *Search) maybeApplyWideRootNoise(childUtility *float64, nnPolicyProb *float64, thread *searchThread, parent *SearchNode) {
	*nnPolicyProb = math.Pow(*nnPolicyProb, 1.0/(4.0*s.params.WideRootNoise+1.0))
	if randBool(thread.rand, 0.5) {
		bonus := s.params.WideRootNoise * math.Abs(randGaussian(thread.rand))
		if parent.NextPla == game.White {
			*childUtility += bonus
		} else {
			*childUtility -= bonus
		}
	}
}

// getExploreSelectionValueOfChild scores an existing child for
// descent, including virtual-loss repulsion, futile-visit pruning, the
// hint-move weight floor, wide-root noise, and anti-mirror forcing.
func (s *Search) getExploreSelectionValueOfChild(
	node *SearchNode, parentPolicyProbs []float32, child *SearchNode,
	moveLoc game.Loc, totalChildWeight float64, childEdgeVisits int64,
	fpuValue, parentUtility, parentWeightPerVisit, parentUtilityStdevFactor float64,
	isDuringSearch, antiMirror bool, maxChildWeight float64, thread *searchThread,
) float64 {
	movePos := s.getPos(moveLoc)
	nnPolicyProb := float64(parentPolicyProbs[movePos])

	childVisits := child.Stats.Visits.Load()
	rawChildWeight := child.Stats.WeightSum.Load()
	utilityAvg := child.Stats.UtilityAvg.Load()
	scoreMeanAvg := child.Stats.ScoreMeanAvg.Load()
	scoreMeanSqAvg := child.Stats.ScoreMeanSqAvg.Load()
	childVirtualLosses := child.virtualLosses.Load()

	childWeight := rawChildWeight * float64(childEdgeVisits) / float64(max64(childVisits, 1))

	// childVisits can be 0 while another thread is mid-first-visit, and
	// weight can be out of sync with visits; fall back to fpu then.
	var childUtility float64
	if childVisits <= 0 || childWeight <= 0 {
		childUtility = fpuValue
	} else {
		childUtility = utilityAvg
		if endingScoreBonus := s.getEndingWhiteScoreBonus(node, moveLoc); endingScoreBonus != 0 {
			childUtility += s.getScoreUtilityDiff(scoreMeanAvg, scoreMeanSqAvg, endingScoreBonus)
		}
	}

	if totalChildWeight < childWeight {
		totalChildWeight = childWeight
	}

	if childVirtualLosses > 0 {
		virtualLossWeight := float64(childVirtualLosses) * s.params.NumVirtualLossesPerThread
		utilityRadius := s.params.UtilityRadius()
		virtualLossUtility := utilityRadius
		if node.NextPla == game.White {
			virtualLossUtility = -utilityRadius
		}
		virtualLossWeightFrac := virtualLossWeight / (virtualLossWeight + math.Max(0.25, childWeight))
		childUtility = childUtility + (virtualLossUtility-childUtility)*virtualLossWeightFrac
		childWeight += virtualLossWeight
	}

	if isDuringSearch && node == s.rootNode {
		// Futile visits pruning: the most this child can gain in the
		// remaining budget cannot overtake the leader. childVisits
		// rather than edge visits: catching up edge visits is instant.
		if s.params.FutileVisitsThreshold > 0 {
			requiredWeight := s.params.FutileVisitsThreshold * maxChildWeight
			averageVisitsPerWeight := (float64(childEdgeVisits) + 1.0) / (childWeight + parentWeightPerVisit)
			estimatedRequiredVisits := requiredWeight * averageVisitsPerWeight
			if float64(childVisits)+thread.upperBoundVisitsLeft < estimatedRequiredVisits {
				return futileVisitsPruneValue
			}
		}
		// Funnel more root visits down every child with real policy.
		if s.params.RootDesiredPerChildVisitsCoeff > 0 {
			if childWeight < math.Sqrt(nnPolicyProb*totalChildWeight*s.params.RootDesiredPerChildVisitsCoeff) {
				return 1e20
			}
		}
		// The hint move must stay within 0.8x of any sibling's weight.
		if s.rootHintLoc != game.NullLoc && moveLoc == s.rootHintLoc {
			averageWeightPerVisit := (childWeight + parentWeightPerVisit) / (float64(childVisits) + 1.0)
			children := node.GetChildren(node.state.Load())
			for i := range children {
				c := children[i].GetIfAllocated()
				if c == nil {
					break
				}
				cEdgeVisits := children[i].GetEdgeVisits()
				cVisits := c.Stats.Visits.Load()
				cWeight := c.Stats.WeightSum.Load() * float64(cEdgeVisits) / float64(max64(cVisits, 1))
				if childWeight+averageWeightPerVisit < cWeight*0.8 {
					return 1e20
				}
			}
		}
		if s.params.WideRootNoise > 0 {
			s.maybeApplyWideRootNoise(&childUtility, &nnPolicyProb, thread, node)
		}
	}
	if isDuringSearch && antiMirror {
		s.maybeApplyAntiMirrorPolicy(&nnPolicyProb, moveLoc, parentPolicyProbs, node.NextPla, thread)
		s.maybeApplyAntiMirrorForcedExplore(&childUtility, parentUtility, moveLoc, parentPolicyProbs, childWeight, totalChildWeight, node.NextPla, thread, node)
	}

	return s.getExploreSelectionValue(nnPolicyProb, totalChildWeight, childWeight, childUtility, parentUtilityStdevFactor, node.NextPla)
}

// getNewExploreSelectionValue scores expanding a not-yet-tried move.
func (s *Search) getNewExploreSelectionValue(
	node *SearchNode, nnPolicyProb float64,
	totalChildWeight, fpuValue, parentWeightPerVisit, parentUtilityStdevFactor float64,
	maxChildWeight float64, thread *searchThread,
) float64 {
	childWeight := 0.0
	childUtility := fpuValue
	if node == s.rootNode {
		if s.params.FutileVisitsThreshold > 0 {
			averageVisitsPerWeight := 1.0 / parentWeightPerVisit
			requiredWeight := s.params.FutileVisitsThreshold * maxChildWeight
			estimatedRequiredVisits := requiredWeight * averageVisitsPerWeight
			if thread.upperBoundVisitsLeft < estimatedRequiredVisits {
				return futileVisitsPruneValue
			}
		}
		if s.params.WideRootNoise > 0 {
			s.maybeApplyWideRootNoise(&childUtility, &nnPolicyProb, thread, node)
		}
	}
	return s.getExploreSelectionValue(nnPolicyProb, totalChildWeight, childWeight, childUtility, parentUtilityStdevFactor, node.NextPla)
}

// getReducedPlaySelectionWeight trims a root child's reported weight
// down to the weight the search would retrospectively have given it
// under the best child's selection score.
func (s *Search) getReducedPlaySelectionWeight(
	node *SearchNode, parentPolicyProbs []float32, child *SearchNode,
	moveLoc game.Loc, totalChildWeight float64, childEdgeVisits int64,
	parentUtilityStdevFactor, bestChildExploreSelectionValue float64,
) float64 {
	movePos := s.getPos(moveLoc)
	nnPolicyProb := float64(parentPolicyProbs[movePos])

	childVisits := child.Stats.Visits.Load()
	rawChildWeight := child.Stats.WeightSum.Load()
	scoreMeanAvg := child.Stats.ScoreMeanAvg.Load()
	scoreMeanSqAvg := child.Stats.ScoreMeanSqAvg.Load()
	utilityAvg := child.Stats.UtilityAvg.Load()

	childWeight := rawChildWeight * float64(childEdgeVisits) / float64(max64(childVisits, 1))
	if childVisits <= 0 || childWeight <= 0 {
		return 0
	}
	childUtility := utilityAvg
	if endingScoreBonus := s.getEndingWhiteScoreBonus(node, moveLoc); endingScoreBonus != 0 {
		childUtility += s.getScoreUtilityDiff(scoreMeanAvg, scoreMeanSqAvg, endingScoreBonus)
	}
	childWeightWeRetrospectivelyWanted := s.getExploreSelectionValueInverse(
		bestChildExploreSelectionValue, nnPolicyProb, totalChildWeight, childUtility, parentUtilityStdevFactor, node.NextPla,
	)
	if childWeight > childWeightWeRetrospectivelyWanted {
		return childWeightWeRetrospectivelyWanted
	}
	return childWeight
}

// selectBestChildToDescend picks the child (or new move) with the
// highest selection score. bestChildIdx == numChildrenFound signals a
// new child; -1 signals that nothing is selectable.
func (s *Search) selectBestChildToDescend(
	thread *searchThread, node *SearchNode, nodeState int32, isRoot bool,
) (numChildrenFound, bestChildIdx int, bestChildMoveLoc game.Loc) {
	maxSelectionValue := policyIllegalSelectionValue
	bestChildIdx = -1
	bestChildMoveLoc = game.NullLoc

	children := node.GetChildren(nodeState)

	policyProbMassVisited := 0.0
	maxChildWeight := 0.0
	totalChildWeight := 0.0
	nnOutput := node.GetNNOutput()
	policyProbs := nnOutput.PolicyProbsMaybeNoised()
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		moveLoc := children[i].GetMoveLoc()
		policyProbMassVisited += float64(policyProbs[s.getPos(moveLoc)])

		edgeVisits := children[i].GetEdgeVisits()
		childVisits := child.Stats.Visits.Load()
		childWeight := child.Stats.WeightSum.Load() * float64(edgeVisits) / float64(max64(childVisits, 1))
		totalChildWeight += childWeight
		if childWeight > maxChildWeight {
			maxChildWeight = childWeight
		}
	}

	fpuValue, parentUtility, parentWeightPerVisit, parentUtilityStdevFactor := s.getFpuValueForChildrenAssumeVisited(
		node, thread.pla, isRoot, policyProbMassVisited,
	)

	for i := range thread.posesWithChild {
		thread.posesWithChild[i] = false
	}
	antiMirror := s.params.AntiMirror && s.mirroringPla != game.Empty &&
		s.isMirroringSinceSearchStart(thread.history, 0)

	numChildrenFound = 0
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		numChildrenFound++
		childEdgeVisits := children[i].GetEdgeVisits()
		moveLoc := children[i].GetMoveLoc()
		selectionValue := s.getExploreSelectionValueOfChild(
			node, policyProbs, child,
			moveLoc, totalChildWeight, childEdgeVisits,
			fpuValue, parentUtility, parentWeightPerVisit, parentUtilityStdevFactor,
			true, antiMirror, maxChildWeight, thread,
		)
		if selectionValue > maxSelectionValue {
			maxSelectionValue = selectionValue
			bestChildIdx = i
			bestChildMoveLoc = moveLoc
		}
		thread.posesWithChild[s.getPos(moveLoc)] = true
	}

	avoidMoveUntilByLoc := s.avoidMoveUntilByLocBlack
	if thread.pla == game.White {
		avoidMoveUntilByLoc = s.avoidMoveUntilByLocWhite
	}

	// Try the best not-yet-expanded move by policy.
	bestNewMoveLoc := game.NullLoc
	bestNewNNPolicyProb := -1.0
	for movePos := 0; movePos < s.policySize; movePos++ {
		if thread.posesWithChild[movePos] {
			continue
		}
		moveLoc := inference.PosToLoc(movePos, thread.board.XSize, thread.board.YSize, s.nnXLen, s.nnYLen)
		if moveLoc == game.NullLoc {
			continue
		}
		if isRoot && !s.isAllowedRootMove(moveLoc) {
			continue
		}
		if len(avoidMoveUntilByLoc) > 0 {
			// Board locations index directly; the slot past the board
			// area masks the pass.
			idx := int(moveLoc)
			if moveLoc == game.PassLoc {
				idx = thread.board.Area()
			}
			if idx >= 0 && idx < len(avoidMoveUntilByLoc) {
				untilDepth := avoidMoveUntilByLoc[idx]
				if len(thread.history.MoveHistory)-len(s.rootHistory.MoveHistory) < untilDepth {
					continue
				}
			}
		}
		nnPolicyProb := float64(policyProbs[movePos])
		if antiMirror {
			s.maybeApplyAntiMirrorPolicy(&nnPolicyProb, moveLoc, policyProbs, node.NextPla, thread)
		}
		if nnPolicyProb > bestNewNNPolicyProb {
			bestNewNNPolicyProb = nnPolicyProb
			bestNewMoveLoc = moveLoc
		}
	}
	if bestNewMoveLoc != game.NullLoc {
		selectionValue := s.getNewExploreSelectionValue(
			node, bestNewNNPolicyProb, totalChildWeight, fpuValue,
			parentWeightPerVisit, parentUtilityStdevFactor,
			maxChildWeight, thread,
		)
		if selectionValue > maxSelectionValue {
			maxSelectionValue = selectionValue
			bestChildIdx = numChildrenFound
			bestChildMoveLoc = bestNewMoveLoc
		}
	}
	return numChildrenFound, bestChildIdx, bestChildMoveLoc
}
