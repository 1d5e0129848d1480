package search

import (
	"math"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
)

// ReportedSearchValues is the read-only projection of the root node's
// statistics, clamped into their legal ranges on export.
type ReportedSearchValues struct {
	WinLossValue  float64
	NoResultValue float64
	ScoreMean     float64
	ScoreStdev    float64
	Lead          float64
	Utility       float64
	Visits        int64
	WeightSum     float64
}

// RootValues reports the current root statistics; ok is false when the
// root has no evaluated visits yet.
func (s *Search) RootValues() (ReportedSearchValues, bool) {
	node := s.rootNode
	if node == nil {
		return ReportedSearchValues{}, false
	}
	visits := node.Stats.Visits.Load()
	weightSum := node.Stats.WeightSum.Load()
	if visits <= 0 || weightSum <= 0 {
		return ReportedSearchValues{}, false
	}
	winLoss := node.Stats.WinLossValueAvg.Load()
	noResult := node.Stats.NoResultValueAvg.Load()
	scoreMean := node.Stats.ScoreMeanAvg.Load()
	scoreMeanSq := node.Stats.ScoreMeanSqAvg.Load()
	// Guard transient tearing between the two score aggregates.
	if scoreMeanSq < scoreMean*scoreMean {
		scoreMeanSq = scoreMean * scoreMean
	}
	winLoss = clamp(winLoss, -1, 1)
	noResult = clamp(noResult, 0, 1-math.Abs(winLoss))
	return ReportedSearchValues{
		WinLossValue:  winLoss,
		NoResultValue: noResult,
		ScoreMean:     scoreMean,
		ScoreStdev:    getScoreStdev(scoreMean, scoreMeanSq),
		Lead:          node.Stats.LeadAvg.Load(),
		Utility:       node.Stats.UtilityAvg.Load(),
		Visits:        visits,
		WeightSum:     weightSum,
	}, true
}

// RootChildInfo is a snapshot of one root child, for reporting and
// live views.
type RootChildInfo struct {
	Move       game.Loc
	Visits     int64
	EdgeVisits int64
	Weight     float64
	Utility    float64
	Policy     float64
}

// RootChildrenInfo snapshots all root children. Safe to call during a
// running search; values may be slightly stale but never torn.
func (s *Search) RootChildrenInfo() []RootChildInfo {
	node := s.rootNode
	if node == nil {
		return nil
	}
	nnOutput := node.GetNNOutput()
	children := node.GetChildren(node.state.Load())
	var infos []RootChildInfo
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		moveLoc := children[i].GetMoveLoc()
		edgeVisits := children[i].GetEdgeVisits()
		childVisits := child.Stats.Visits.Load()
		weight := child.Stats.WeightSum.Load() * float64(edgeVisits) / float64(max64(childVisits, 1))
		policy := 0.0
		if nnOutput != nil {
			policy = float64(nnOutput.PolicyProbsMaybeNoised()[s.getPos(moveLoc)])
		}
		infos = append(infos, RootChildInfo{
			Move:       moveLoc,
			Visits:     childVisits,
			EdgeVisits: edgeVisits,
			Weight:     weight,
			Utility:    child.Stats.UtilityAvg.Load(),
			Policy:     policy,
		})
	}
	return infos
}

// getPlaySelectionValues returns, for each root child, the weight the
// search retrospectively endorses for play selection, plus raw visit
// counts. Falls back to the raw policy when the root has no explored
// children. scaleMaxToAtLeast rescales so the best value is at least
// that much (used by callers that feed temperatures).
func (s *Search) getPlaySelectionValues(scaleMaxToAtLeast float64) (locs []game.Loc, playSelectionValues []float64, visitCounts []float64, ok bool) {
	node := s.rootNode
	if node == nil {
		return nil, nil, nil, false
	}
	nnOutput := node.GetNNOutput()
	nodeState := node.state.Load()
	children := node.GetChildren(nodeState)

	totalChildWeight := 0.0
	maxChildWeight := 0.0
	maxChildWeightIdx := -1
	numChildren := 0
	var childWeights []float64
	for i := range children {
		child := children[i].GetIfAllocated()
		if child == nil {
			break
		}
		edgeVisits := children[i].GetEdgeVisits()
		childVisits := child.Stats.Visits.Load()
		weight := child.Stats.WeightSum.Load() * float64(edgeVisits) / float64(max64(childVisits, 1))
		childWeights = append(childWeights, weight)
		totalChildWeight += weight
		if weight > maxChildWeight {
			maxChildWeight = weight
			maxChildWeightIdx = i
		}
		locs = append(locs, children[i].GetMoveLoc())
		visitCounts = append(visitCounts, float64(childVisits))
		numChildren++
	}

	if numChildren > 0 && nnOutput != nil && maxChildWeightIdx >= 0 {
		policyProbs := nnOutput.PolicyProbsMaybeNoised()
		_, _, _, parentUtilityStdevFactor := s.getFpuValueForChildrenAssumeVisited(node, node.NextPla, true, 0)

		// Score the heaviest child, then trim every other child to the
		// weight that score retrospectively justifies.
		bestChild := children[maxChildWeightIdx].GetIfAllocated()
		bestMoveLoc := children[maxChildWeightIdx].GetMoveLoc()
		bestSelectionValue := s.getExploreSelectionValueOfChild(
			node, policyProbs, bestChild, bestMoveLoc,
			totalChildWeight, children[maxChildWeightIdx].GetEdgeVisits(),
			0, 0, 1, parentUtilityStdevFactor,
			false, false, maxChildWeight, nil,
		)
		for i := 0; i < numChildren; i++ {
			if i == maxChildWeightIdx {
				playSelectionValues = append(playSelectionValues, childWeights[i])
				continue
			}
			child := children[i].GetIfAllocated()
			reduced := s.getReducedPlaySelectionWeight(
				node, policyProbs, child, children[i].GetMoveLoc(),
				totalChildWeight, children[i].GetEdgeVisits(),
				parentUtilityStdevFactor, bestSelectionValue,
			)
			playSelectionValues = append(playSelectionValues, reduced)
		}
	}

	// No explored children: pull selections from the raw policy.
	if numChildren == 0 {
		if nnOutput == nil {
			return nil, nil, nil, false
		}
		policyProbs := nnOutput.PolicyProbsMaybeNoised()
		for pos, p := range policyProbs {
			if p < 0 {
				continue
			}
			loc := inference.PosToLoc(pos, s.rootBoard.XSize, s.rootBoard.YSize, s.nnXLen, s.nnYLen)
			if loc == game.NullLoc {
				continue
			}
			locs = append(locs, loc)
			playSelectionValues = append(playSelectionValues, float64(p))
			visitCounts = append(visitCounts, 0)
		}
		if len(locs) == 0 {
			return nil, nil, nil, false
		}
	}

	maxValue := 0.0
	for _, v := range playSelectionValues {
		if v > maxValue {
			maxValue = v
		}
	}
	if maxValue <= 0 {
		return locs, playSelectionValues, visitCounts, false
	}
	if maxValue < scaleMaxToAtLeast {
		scale := scaleMaxToAtLeast / maxValue
		for i := range playSelectionValues {
			playSelectionValues[i] *= scale
		}
	}
	return locs, playSelectionValues, visitCounts, true
}

// ChosenMoveLoc samples the move to play from the play-selection
// values under the configured move temperature.
func (s *Search) ChosenMoveLoc() game.Loc {
	locs, playSelectionValues, _, ok := s.getPlaySelectionValues(0)
	if !ok || len(locs) == 0 {
		return game.NullLoc
	}
	temperature := s.interpolateEarly(
		s.params.ChosenMoveTemperatureHalflife, s.params.ChosenMoveTemperatureEarly, s.params.ChosenMoveTemperature,
	)
	idx := chooseIndexWithTemperature(s.nonSearchRand, playSelectionValues, temperature)
	return locs[idx]
}

// getPolicySurpriseAndEntropy measures how far the search's final
// play distribution drifted from the raw policy (surprise, a KL
// divergence) and how spread the raw policy itself is (entropy).
func (s *Search) getPolicySurpriseAndEntropy() (surprise, searchEntropy, policyEntropy float64, ok bool) {
	node := s.rootNode
	if node == nil {
		return 0, 0, 0, false
	}
	nnOutput := node.GetNNOutput()
	if nnOutput == nil {
		return 0, 0, 0, false
	}
	locs, playSelectionValues, _, suc := s.getPlaySelectionValues(0)
	if !suc || len(locs) == 0 {
		return 0, 0, 0, false
	}
	policyProbs := nnOutput.PolicyProbs

	sumValues := 0.0
	for _, v := range playSelectionValues {
		sumValues += v
	}
	if sumValues <= 0 {
		return 0, 0, 0, false
	}

	for i, loc := range locs {
		target := playSelectionValues[i] / sumValues
		if target <= 0 {
			continue
		}
		searchEntropy += -target * math.Log(target)
		policy := float64(policyProbs[s.getPos(loc)])
		if policy < 1e-20 {
			policy = 1e-20
		}
		surprise += target * math.Log(target/policy)
	}
	for _, p := range policyProbs {
		if p > 0 {
			policyEntropy += -float64(p) * math.Log(float64(p))
		}
	}
	if surprise < 0 {
		surprise = 0
	}
	return surprise, searchEntropy, policyEntropy, true
}
