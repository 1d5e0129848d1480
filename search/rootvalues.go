package search

import (
	"math"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"

	"lukechampine.com/frand"
)

func (s *Search) getPos(loc game.Loc) int {
	return inference.LocToPos(loc, s.rootBoard.XSize, s.nnXLen, s.nnYLen)
}

func (s *Search) computeRootNNEvaluation(includeOwnerMap bool) (*inference.NNOutput, error) {
	params := inference.InputParams{
		DrawEquivalentWinsForWhite: s.params.DrawEquivalentWinsForWhite,
		ConservativePass:           s.params.ConservativePass,
		PolicyTemperature:          s.params.NNPolicyTemperature,
		IncludeOwnerMap:            includeOwnerMap,
	}
	return s.evaluator.Evaluate(s.rootBoard, s.rootHistory, s.rootPla, params)
}

// computeRootValues refreshes all per-search root context: the safe
// area, the dynamic score center, the root graph hash, and the mirror
// detection state.
func (s *Search) computeRootValues() error {
	s.rootSafeArea = game.CalculateSafeArea(s.rootBoard)

	foundExpectedScoreFromTree := false
	expectedScore := 0.0
	if s.rootNode != nil {
		visits := s.rootNode.Stats.Visits.Load()
		weightSum := s.rootNode.Stats.WeightSum.Load()
		if visits > 0 && weightSum > 0 {
			foundExpectedScoreFromTree = true
			expectedScore = s.rootNode.Stats.ScoreMeanAvg.Load()
		}
	}
	if !foundExpectedScoreFromTree {
		out, err := s.computeRootNNEvaluation(true)
		if err != nil {
			return err
		}
		expectedScore = float64(out.WhiteScoreMean)
	}
	s.recentScoreCenter = expectedScore * (1.0 - s.params.DynamicScoreCenterZeroWeight)
	centerCap := math.Sqrt(float64(s.rootBoard.Area())) * s.params.DynamicScoreCenterScale
	if s.recentScoreCenter > expectedScore+centerCap {
		s.recentScoreCenter = expectedScore + centerCap
	}
	if s.recentScoreCenter < expectedScore-centerCap {
		s.recentScoreCenter = expectedScore - centerCap
	}

	if s.params.UseGraphSearch {
		s.rootGraphHash = s.rootHistory.GraphHash(s.rootBoard, s.rootPla, s.params.GraphSearchRepBound)
	} else {
		s.rootGraphHash = game.Hash128{}
	}

	opponentWasMirroring := s.mirroringPla
	s.detectMirroring()
	// If the opponent's mirror status changed, the tree's utilities
	// and the bias table are shaped for the wrong regime.
	if opponentWasMirroring != s.mirroringPla {
		s.ClearSearch()
		s.subtreeValueBiasTable = nil
	}
	return nil
}

func (s *Search) detectMirroring() {
	s.mirroringPla = game.Empty
	s.mirrorAdvantage = 0.0
	s.mirrorCenterSymmetryError = 1e10
	if !s.params.AntiMirror {
		return
	}
	b := s.rootBoard
	hist := s.rootHistory
	mirrorCount := 0
	totalCount := 0
	mirrorEwms := 0.0
	totalEwms := 0.0
	lastWasMirror := false
	for i := 1; i < len(hist.MoveHistory); i++ {
		if hist.MoveHistory[i].Pla == s.rootPla {
			continue
		}
		lastWasMirror = false
		if hist.MoveHistory[i].Loc == game.MirrorLoc(hist.MoveHistory[i-1].Loc, b.XSize, b.YSize) {
			mirrorCount++
			mirrorEwms += 1
			lastWasMirror = true
		}
		totalCount++
		totalEwms += 1
		mirrorEwms *= 0.75
		totalEwms *= 0.75
	}
	// Mirroring means: most moves all game were mirrors, many recent
	// moves were mirrors, and the last move was one.
	if float64(mirrorCount) >= 7.0+0.5*float64(totalCount) && mirrorEwms >= 0.45*totalEwms && lastWasMirror {
		s.mirroringPla = game.Opp(s.rootPla)
		// With area scoring and an odd-sized board, the first player
		// to break symmetry at the center wins the last-move point.
		blackExtraPoints := 0.0
		if b.XSize%2 == 1 && b.YSize%2 == 1 {
			blackExtraPoints += 1
		}
		if s.mirroringPla == game.Black {
			s.mirrorAdvantage = blackExtraPoints - hist.Rules.Komi
		} else {
			s.mirrorAdvantage = hist.Rules.Komi - blackExtraPoints
		}
	}

	if b.XSize >= 7 && b.YSize >= 7 {
		s.mirrorCenterSymmetryError = 0.0
		halfX := b.XSize / 2
		halfY := b.YSize / 2
		unmatchedMirrorPlaStones := 0
		for dy := -3; dy <= 3; dy++ {
			for dx := -3; dx <= 3; dx++ {
				loc := b.Loc(halfX+dx, halfY+dy)
				mirrorLoc := game.MirrorLoc(loc, b.XSize, b.YSize)
				if loc == mirrorLoc {
					continue
				}
				c0 := b.Colors[loc]
				c1 := b.Colors[mirrorLoc]
				if c0 == game.Opp(s.mirroringPla) && c1 != s.mirroringPla {
					s.mirrorCenterSymmetryError += 1.0
				}
				if c0 == s.mirroringPla && c1 == game.Empty {
					unmatchedMirrorPlaStones++
				}
			}
		}
		if s.mirrorCenterSymmetryError > 0.0 {
			s.mirrorCenterSymmetryError += 0.2 * float64(unmatchedMirrorPlaStones)
		}
		if s.mirrorCenterSymmetryError >= 1.0 {
			s.mirrorCenterSymmetryError = 0.5 * s.mirrorCenterSymmetryError * (1.0 + s.mirrorCenterSymmetryError)
		}
	}
}

// computeDirichletAlphaDistribution splits the total noise
// concentration across legal moves: half uniformly, half shaped by
// how far each move's log-policy sits above the mean.
func computeDirichletAlphaDistribution(policyProbs []float32, alphaDistr []float64) {
	legalCount := 0
	for _, p := range policyProbs {
		if p >= 0 {
			legalCount++
		}
	}
	if legalCount <= 0 {
		panic("search: no move with nonnegative policy value - can't even pass?")
	}
	logPolicySum := 0.0
	for i, p := range policyProbs {
		if p >= 0 {
			alphaDistr[i] = math.Log(math.Min(0.01, float64(p)) + 1e-20)
			logPolicySum += alphaDistr[i]
		}
	}
	logPolicyMean := logPolicySum / float64(legalCount)
	alphaPropSum := 0.0
	for i, p := range policyProbs {
		if p >= 0 {
			alphaDistr[i] = math.Max(0.0, alphaDistr[i]-logPolicyMean)
			alphaPropSum += alphaDistr[i]
		}
	}
	uniformProb := 1.0 / float64(legalCount)
	if alphaPropSum <= 0.0 {
		for i, p := range policyProbs {
			if p >= 0 {
				alphaDistr[i] = uniformProb
			}
		}
	} else {
		for i, p := range policyProbs {
			if p >= 0 {
				alphaDistr[i] = 0.5 * (alphaDistr[i]/alphaPropSum + uniformProb)
			}
		}
	}
}

func addDirichletNoise(params *Params, rng *frand.RNG, policyProbs []float32) {
	r := make([]float64, len(policyProbs))
	computeDirichletAlphaDistribution(policyProbs, r)

	// Independent gamma draws normalized against their sum are a
	// Dirichlet draw with the alphas above.
	rSum := 0.0
	for i, p := range policyProbs {
		if p >= 0 {
			r[i] = randGamma(rng, r[i]*params.RootDirichletNoiseTotalConcentration)
			rSum += r[i]
		} else {
			r[i] = 0.0
		}
	}
	if rSum <= 0 {
		return
	}
	for i := range r {
		r[i] /= rSum
	}
	weight := params.RootDirichletNoiseWeight
	for i, p := range policyProbs {
		if p >= 0 {
			policyProbs[i] = float32(r[i]*weight + float64(p)*(1.0-weight))
		}
	}
}

// maybeAddPolicyNoiseAndTemp returns a copy of the output with the
// root policy shaping applied (temperature, Dirichlet noise, hint
// redistribution), or nil when no shaping applies.
func (s *Search) maybeAddPolicyNoiseAndTemp(thread *searchThread, isRoot bool, oldOutput *inference.NNOutput) *inference.NNOutput {
	if !isRoot {
		return nil
	}
	if !s.params.RootNoiseEnabled &&
		s.params.RootPolicyTemperature == 1.0 &&
		s.params.RootPolicyTemperatureEarly == 1.0 &&
		s.rootHintLoc == game.NullLoc {
		return nil
	}
	if oldOutput == nil || oldOutput.NoisedPolicyProbs != nil {
		return nil
	}

	newOutput := oldOutput.ShallowCopy()
	noised := append([]float32(nil), newOutput.PolicyProbs...)
	newOutput.NoisedPolicyProbs = noised

	if s.params.RootPolicyTemperature != 1.0 || s.params.RootPolicyTemperatureEarly != 1.0 {
		temp := s.interpolateEarly(s.params.ChosenMoveTemperatureHalflife, s.params.RootPolicyTemperatureEarly, s.params.RootPolicyTemperature)
		maxValue := 0.0
		for _, p := range noised {
			if float64(p) > maxValue {
				maxValue = float64(p)
			}
		}
		logMaxValue := math.Log(maxValue)
		invTemp := 1.0 / temp
		sum := 0.0
		for i, p := range noised {
			if p > 0 {
				v := float32(math.Exp((math.Log(float64(p)) - logMaxValue) * invTemp))
				noised[i] = v
				sum += float64(v)
			}
		}
		for i, p := range noised {
			if p >= 0 {
				noised[i] = float32(float64(p) / sum)
			}
		}
	}

	if s.params.RootNoiseEnabled {
		addDirichletNoise(&s.params, thread.rand, noised)
	}

	// Move a small amount of policy to the hint move, around the level
	// noising it would achieve.
	if s.rootHintLoc != game.NullLoc {
		const propToMove = 0.02
		pos := s.getPos(s.rootHintLoc)
		if pos < len(noised) && noised[pos] >= 0 {
			amountToMove := 0.0
			for i, p := range noised {
				if p >= 0 {
					amountToMove += float64(p) * propToMove
					noised[i] *= 1.0 - propToMove
				}
			}
			noised[pos] += float32(amountToMove)
		}
	}
	return newOutput
}

// isAllowedRootMove filters moves at the root: symmetry-duplicate
// moves, and (after the opponent passed four times running) moves
// inside either side's safe area, which only prolong a decided game.
func (s *Search) isAllowedRootMove(moveLoc game.Loc) bool {
	if s.params.RootPruneUselessMoves &&
		len(s.rootHistory.MoveHistory) > 0 &&
		moveLoc != game.PassLoc {
		hist := s.rootHistory.MoveHistory
		lastIdx := len(hist) - 1
		opp := game.Opp(s.rootPla)
		if lastIdx >= 6 &&
			hist[lastIdx-0].Loc == game.PassLoc &&
			hist[lastIdx-2].Loc == game.PassLoc &&
			hist[lastIdx-4].Loc == game.PassLoc &&
			hist[lastIdx-6].Loc == game.PassLoc &&
			hist[lastIdx-0].Pla == opp &&
			hist[lastIdx-2].Pla == opp &&
			hist[lastIdx-4].Pla == opp &&
			hist[lastIdx-6].Pla == opp &&
			(s.rootSafeArea[moveLoc] == opp || s.rootSafeArea[moveLoc] == s.rootPla) {
			return false
		}
	}
	if s.params.RootSymmetryPruning && moveLoc != game.PassLoc && s.rootSymDupLoc != nil && s.rootSymDupLoc[moveLoc] {
		return false
	}
	return true
}

// getEndingWhiteScoreBonus nudges root moves near the end of the game:
// discourage playing inside anyone's settled territory and, under area
// scoring, never discourage dame filling. Needs the root owner map.
func (s *Search) getEndingWhiteScoreBonus(parent *SearchNode, moveLoc game.Loc) float64 {
	if parent != s.rootNode || moveLoc == game.NullLoc {
		return 0.0
	}
	out := parent.GetNNOutput()
	if out == nil || out.WhiteOwnerMap == nil {
		return 0.0
	}
	const extreme = 0.95
	const tail = 0.05

	extraRootPoints := 0.0
	if moveLoc != game.PassLoc && s.rootBoard.KoLoc == game.NullLoc {
		pos := s.getPos(moveLoc)
		plaOwnership := float64(out.WhiteOwnerMap[pos])
		if s.rootPla == game.Black {
			plaOwnership = -plaOwnership
		}
		if plaOwnership <= -extreme {
			extraRootPoints -= s.params.RootEndingBonusPoints * ((-extreme - plaOwnership) / tail)
		} else if plaOwnership >= extreme {
			if !s.rootBoard.IsAdjacentToPla(moveLoc, game.Opp(s.rootPla)) &&
				!game.IsNonPassAliveSelfConnection(s.rootBoard, moveLoc, s.rootPla, s.rootSafeArea) {
				extraRootPoints -= s.params.RootEndingBonusPoints * ((plaOwnership - extreme) / tail)
			}
		}
	}

	if s.rootPla == game.White {
		return extraRootPoints
	}
	return -extraRootPoints
}
