package search

import (
	"math"
	"runtime"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
)

// runSinglePlayout performs one descent from the root. Returns false
// without error when the playout lost a race and made no progress; the
// driver yields and retries.
func (s *Search) runSinglePlayout(thread *searchThread, upperBoundVisitsLeft float64) (bool, error) {
	thread.upperBoundVisitsLeft = upperBoundVisitsLeft
	finished, err := s.playoutDescend(thread, s.rootNode, true)
	thread.resetToRoot(s)
	return finished, err
}

// initNodeNNOutput evaluates the node's position and installs the
// result. With isReInit false the first thread to store wins and adds
// the evaluation as a leaf value; losers report false and retry the
// playout. With isReInit true the output is replaced unconditionally
// and no visit is added.
func (s *Search) initNodeNNOutput(thread *searchThread, node *SearchNode, isRoot, skipCache, isReInit bool) (bool, error) {
	includeOwnerMap := isRoot || s.alwaysIncludeOwnerMap
	antiMirrorDifficult := false
	if s.params.AntiMirror && s.mirroringPla != game.Empty && s.mirrorAdvantage >= -0.5 {
		centerLoc := game.CenterLoc(thread.board.XSize, thread.board.YSize)
		// Skip the 4 most recent plies to be a bit tolerant.
		if centerLoc != game.NullLoc && thread.board.Colors[centerLoc] == game.Opp(s.rootPla) &&
			s.isMirroringSinceSearchStart(thread.history, 4) {
			includeOwnerMap = true
			antiMirrorDifficult = true
		}
	}
	params := inference.InputParams{
		DrawEquivalentWinsForWhite: s.params.DrawEquivalentWinsForWhite,
		ConservativePass:           s.params.ConservativePass,
		PolicyTemperature:          s.params.NNPolicyTemperature,
		SkipCache:                  skipCache,
		IncludeOwnerMap:            includeOwnerMap,
	}

	var result *inference.NNOutput
	if isRoot && s.params.RootNumSymmetriesToSample > 1 {
		// Average over sampled symmetries without replacement.
		symmetryIndexes := make([]int, game.NumSymmetries)
		for i := range symmetryIndexes {
			symmetryIndexes[i] = i
		}
		var outputs []*inference.NNOutput
		for i := 0; i < s.params.RootNumSymmetriesToSample && i < game.NumSymmetries; i++ {
			j := i + int(thread.rand.Uint64n(uint64(game.NumSymmetries-i)))
			symmetryIndexes[i], symmetryIndexes[j] = symmetryIndexes[j], symmetryIndexes[i]
			p := params
			p.Symmetry = symmetryIndexes[i]
			// No guarantee which symmetry any cache holds.
			p.SkipCache = true
			out, err := s.evaluator.Evaluate(thread.board, thread.history, thread.pla, p)
			if err != nil {
				return false, err
			}
			outputs = append(outputs, out)
		}
		result = averageNNOutputs(outputs)
	} else {
		out, err := s.evaluator.Evaluate(thread.board, thread.history, thread.pla, params)
		if err != nil {
			return false, err
		}
		result = out
	}

	if antiMirrorDifficult && result.WhiteOwnerMap != nil {
		result = s.adjustForAntiMirrorDifficult(thread, result)
	}

	if noised := s.maybeAddPolicyNoiseAndTemp(thread, isRoot, result); noised != nil {
		result = noised
	}

	node.nodeAge.Store(s.searchNodeAge.Load())
	if isReInit {
		// Replacing an existing output does not add a visit; the next
		// backup fixes up any value drift.
		wasNullBefore := node.storeNNOutput(result)
		return wasNullBefore, nil
	}
	if !node.storeNNOutputIfNull(result) {
		return false, nil
	}
	s.addCurrentNNOutputAsLeafValue(node, true)
	return true, nil
}

// adjustForAntiMirrorDifficult biases the evaluation by the ownership
// of the center point: holding the center is what eventually breaks a
// mirror, so lean the win-loss value toward whoever holds it.
func (s *Search) adjustForAntiMirrorDifficult(thread *searchThread, result *inference.NNOutput) *inference.NNOutput {
	out := result.ShallowCopy()
	out.WhiteOwnerMap = result.WhiteOwnerMap
	out.NoisedPolicyProbs = nil
	centerLoc := game.CenterLoc(thread.board.XSize, thread.board.YSize)
	centerPos := s.getPos(centerLoc)
	totalWLProb := float64(out.WhiteWinProb + out.WhiteLossProb)
	ownScale := 0.3
	if s.mirrorCenterSymmetryError <= 0 {
		ownScale = 0.7
	}
	wl := float64(out.WhiteWinProb-out.WhiteLossProb) / (totalWLProb + 1e-10)
	wl = clamp(wl, -1.0+1e-15, 1.0-1e-15)
	wl = math.Tanh(math.Atanh(wl) + ownScale*float64(out.WhiteOwnerMap[centerPos]))
	whiteNewWinProb := 0.5 + 0.5*wl
	whiteNewWinProb = totalWLProb * whiteNewWinProb
	out.WhiteWinProb = float32(whiteNewWinProb)
	out.WhiteLossProb = float32(totalWLProb - whiteNewWinProb)
	return out
}

// averageNNOutputs merges symmetry-sampled evaluations elementwise.
func averageNNOutputs(outputs []*inference.NNOutput) *inference.NNOutput {
	if len(outputs) == 1 {
		return outputs[0]
	}
	out := outputs[0].ShallowCopy()
	out.WhiteOwnerMap = nil
	n := float32(len(outputs))
	var win, loss, noResult, scoreMean, scoreMeanSq, lead, stWL, stScore float32
	hasOwner := true
	for _, o := range outputs {
		win += o.WhiteWinProb
		loss += o.WhiteLossProb
		noResult += o.WhiteNoResultProb
		scoreMean += o.WhiteScoreMean
		scoreMeanSq += o.WhiteScoreMeanSq
		lead += o.WhiteLead
		stWL += o.ShorttermWinlossError
		stScore += o.ShorttermScoreError
		if o.WhiteOwnerMap == nil {
			hasOwner = false
		}
	}
	out.WhiteWinProb = win / n
	out.WhiteLossProb = loss / n
	out.WhiteNoResultProb = noResult / n
	out.WhiteScoreMean = scoreMean / n
	out.WhiteScoreMeanSq = scoreMeanSq / n
	out.WhiteLead = lead / n
	out.ShorttermWinlossError = stWL / n
	out.ShorttermScoreError = stScore / n
	for pos := range out.PolicyProbs {
		if out.PolicyProbs[pos] < 0 {
			continue
		}
		var sum float32
		for _, o := range outputs {
			p := o.PolicyProbs[pos]
			if p > 0 {
				sum += p
			}
		}
		out.PolicyProbs[pos] = sum / n
	}
	if hasOwner {
		owner := make([]float32, len(outputs[0].WhiteOwnerMap))
		for _, o := range outputs {
			for i, v := range o.WhiteOwnerMap {
				owner[i] += v / n
			}
		}
		out.WhiteOwnerMap = owner
	}
	return out
}

// maybeRecomputeExistingNNOutput refreshes a stale root evaluation at
// the start of a new search: the first thread to bump the age does the
// work; later threads do not wait and may briefly search on the old
// policy.
func (s *Search) maybeRecomputeExistingNNOutput(thread *searchThread, node *SearchNode, isRoot bool) error {
	age := s.searchNodeAge.Load()
	if !isRoot || node.nodeAge.Load() == age {
		return nil
	}
	oldAge := node.nodeAge.Swap(age)
	if oldAge >= age {
		return nil
	}
	nnOutput := node.GetNNOutput()
	// Full re-evaluation when the owner map is missing, when
	// conservative pass must reinterpret a game-ending root pass, or
	// when symmetry averaging is on. Otherwise only the policy
	// transforms need re-deriving.
	if nnOutput.WhiteOwnerMap == nil ||
		(s.params.ConservativePass && thread.history.PassWouldEndGame(thread.board, thread.pla)) ||
		s.params.RootNumSymmetriesToSample > 1 {
		_, err := s.initNodeNNOutput(thread, node, isRoot, false, true)
		return err
	}
	if result := s.maybeAddPolicyNoiseAndTemp(thread, isRoot, nnOutput); result != nil {
		node.storeNNOutput(result)
	}
	return nil
}

// playoutDescend is the recursive heart of the search; see the
// state-machine and retry protocol notes on each branch. Returns false
// (no error) when the playout must be retried from the root.
func (s *Search) playoutDescend(thread *searchThread, node *SearchNode, isRoot bool) (bool, error) {
	// Terminal node, unless this node overrides terminal detection
	// (the root always does; so does a root pass under conservative
	// pass, whose ending must not count).
	if thread.history.IsGameFinished && !node.ForceNonTerminal {
		if thread.history.IsNoResult {
			weight := 1.0
			if s.params.UseUncertainty && s.evaluator.SupportsShorttermError() {
				weight = s.params.UncertaintyMaxWeight
			}
			s.addLeafValue(node, 0.0, 1.0, 0.0, 0.0, 0.0, weight, true, false)
			return true, nil
		}
		winLossValue := 2.0*whiteWinsOfWinner(thread.history.Winner, s.params.DrawEquivalentWinsForWhite) - 1
		scoreMean := thread.history.FinalWhiteMinusBlackScore
		scoreMeanSq := scoreMean * scoreMean
		lead := scoreMean
		weight := 1.0
		if s.params.UseUncertainty && s.evaluator.SupportsShorttermError() {
			weight = s.params.UncertaintyMaxWeight
		}
		s.addLeafValue(node, winLossValue, 0.0, scoreMean, scoreMeanSq, lead, weight, true, false)
		return true, nil
	}

	nodeState := node.state.Load()
	if nodeState == stateUnevaluated {
		// Racy install: always evaluate, first writer wins. Losers
		// made no progress and retry from the root.
		suc, err := s.initNodeNNOutput(thread, node, isRoot, false, false)
		if err != nil {
			return false, err
		}
		if !suc {
			return false, nil
		}
		// Only the winning writer advances the state and builds C0.
		if !node.state.CompareAndSwap(stateUnevaluated, stateEvaluating) {
			return false, nil
		}
		node.initializeChildren()
		node.state.Store(stateExpanded0)
		return true, nil
	}
	if nodeState == stateEvaluating {
		// Another thread is mid-initialization; retry from the root.
		return false, nil
	}

	if err := s.maybeRecomputeExistingNNOutput(thread, node, isRoot); err != nil {
		return false, err
	}

	var child *SearchNode
	var bestChildIdx int
	var bestChildMoveLoc game.Loc
	for {
		var numChildrenFound int
		numChildrenFound, bestChildIdx, bestChildMoveLoc = s.selectBestChildToDescend(thread, node, nodeState, isRoot)

		// The absurdly rare case that the chosen move is not legal:
		// a stale cached evaluation, a hash collision, or a graph
		// cycle/superko interaction. Re-generate the evaluation with
		// the cache bypassed and retry the selection once.
		if bestChildIdx >= 0 && !thread.history.IsLegal(thread.board, bestChildMoveLoc, thread.pla) {
			if _, err := s.initNodeNNOutput(thread, node, isRoot, true, true); err != nil {
				return false, err
			}
			if nnOutput := node.GetNNOutput(); nnOutput != nil {
				if !thread.illegalMoveHashes[nnOutput.NNHash] {
					thread.illegalMoveHashes[nnOutput.NNHash] = true
					s.logger.Warn("chosen move not legal so regenerated nn output", "nnHash", nnOutput.NNHash.String())
				}
			}
			nodeState = node.state.Load()
			numChildrenFound, bestChildIdx, bestChildMoveLoc = s.selectBestChildToDescend(thread, node, nodeState, isRoot)
			if bestChildIdx >= 0 {
				if bestChildIdx >= numChildrenFound {
					// Could still be illegal if we raced against a
					// re-noising based on an older cached output; fail
					// the playout and retry.
					if !thread.history.IsLegal(thread.board, bestChildMoveLoc, thread.pla) {
						return false, nil
					}
				} else {
					// An illegal existing edge means a cycle or bad
					// transposition; bump its edge visits so other
					// branches keep making progress rather than stall.
					children := node.GetChildren(nodeState)
					children[bestChildIdx].AddEdgeVisits(1)
					return true, nil
				}
			}
		}

		if bestChildIdx <= -1 {
			// All moves forbidden; count a leaf visit on the node so
			// the search doesn't stall.
			s.addCurrentNNOutputAsLeafValue(node, false)
			return true, nil
		}

		if bestChildIdx >= numChildrenFound {
			// New child. Grow the children array if the tier is full.
			if !node.maybeExpandChildrenCapacityForNewChild(&nodeState, numChildrenFound+1) {
				runtime.Gosched()
				nodeState = node.state.Load()
				continue
			}
			children := node.GetChildren(nodeState)

			// Move first: the child's graph key needs the post-move
			// position.
			thread.history.MakeBoardMoveAssumeLegal(thread.board, bestChildMoveLoc, thread.pla)
			thread.pla = game.Opp(thread.pla)
			if s.params.UseGraphSearch {
				thread.graphHash = thread.history.GraphHash(thread.board, thread.pla, s.params.GraphSearchRepBound)
			}

			// A pass from the root is always non-terminal under
			// conservative pass.
			forceNonTerminal := s.params.ConservativePass && node == s.rootNode && bestChildMoveLoc == game.PassLoc
			child = s.allocateOrFindNode(thread, thread.pla, bestChildMoveLoc, forceNonTerminal, thread.graphHash)
			child.virtualLosses.Add(1)

			// Install under the pooled mutex so the move and child are
			// published together.
			mu := s.mutexPool.get(node.mutexIdx)
			mu.Lock()
			if children[bestChildIdx].GetIfAllocated() == nil {
				children[bestChildIdx].setMoveLoc(bestChildMoveLoc)
				children[bestChildIdx].store(child)
				mu.Unlock()
			} else {
				// Someone installed ahead of us and we already made
				// the move, so fail this playout and retry. A newly
				// allocated node needs no cleanup; the next mark and
				// sweep collects it.
				mu.Unlock()
				child.virtualLosses.Add(-1)
				return false, nil
			}

			if s.maybeCatchUpEdgeVisits(thread, node, child, nodeState, bestChildIdx) {
				s.updateStatsAfterPlayout(node, thread, isRoot)
				child.virtualLosses.Add(-1)
				return true, nil
			}
		} else {
			children := node.GetChildren(nodeState)
			child = children[bestChildIdx].GetIfAllocated()
			child.virtualLosses.Add(1)

			if s.maybeCatchUpEdgeVisits(thread, node, child, nodeState, bestChildIdx) {
				s.updateStatsAfterPlayout(node, thread, isRoot)
				child.virtualLosses.Add(-1)
				return true, nil
			}

			thread.history.MakeBoardMoveAssumeLegal(thread.board, bestChildMoveLoc, thread.pla)
			thread.pla = game.Opp(thread.pla)
			if s.params.UseGraphSearch {
				thread.graphHash = thread.history.GraphHash(thread.board, thread.pla, s.params.GraphSearchRepBound)
			}
		}
		break
	}

	finished, err := s.playoutDescend(thread, child, false)
	if err != nil {
		child.virtualLosses.Add(-1)
		return false, err
	}
	if finished {
		nodeState = node.state.Load()
		children := node.GetChildren(nodeState)
		children[bestChildIdx].AddEdgeVisits(1)
		s.updateStatsAfterPlayout(node, thread, isRoot)
	}
	child.virtualLosses.Add(-1)
	return finished, nil
}

// maybeCatchUpEdgeVisits lets an edge whose visit count lags its
// child's total (a transposition searched through other parents)
// absorb one "free" visit instead of descending. The leak probability
// keeps some real descents flowing through anyway.
func (s *Search) maybeCatchUpEdgeVisits(thread *searchThread, node *SearchNode, child *SearchNode, nodeState int32, bestChildIdx int) bool {
	children := node.GetChildren(nodeState)
	childVisits := child.Stats.Visits.Load()
	edgeVisits := children[bestChildIdx].GetEdgeVisits()

	if s.params.GraphSearchCatchUpLeakProb > 0 && edgeVisits < childVisits && randBool(thread.rand, s.params.GraphSearchCatchUpLeakProb) {
		return false
	}
	// GraphSearchCatchUpProp is parameterized but held at its hard
	// default of adding exactly 1 per catch-up.
	const numToAdd = 1
	for {
		if edgeVisits >= childVisits {
			return false
		}
		if children[bestChildIdx].casEdgeVisits(edgeVisits, edgeVisits+numToAdd) {
			return true
		}
		edgeVisits = children[bestChildIdx].GetEdgeVisits()
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

