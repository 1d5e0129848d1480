package search

import (
	"math"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
)

// Scalar utility combines a win/loss term, a no-result term, and two
// score terms (a static one anchored at an even result and a dynamic
// one re-centered around the score the search currently expects).

// scoreValueOf maps a score difference to (-1,1) smoothly, normalized
// by board size so a 10 point swing matters more on small boards.
func scoreValueOf(scoreMean, center, scale float64, boardArea int) float64 {
	adjusted := (scoreMean - center) / (scale * math.Sqrt(float64(boardArea)))
	return (2 / math.Pi) * math.Atan(adjusted)
}

func dScoreValueDScore(scoreMean, center, scale float64, boardArea int) float64 {
	denom := scale * math.Sqrt(float64(boardArea))
	adjusted := (scoreMean - center) / denom
	return (2 / math.Pi) / ((1 + adjusted*adjusted) * denom)
}

func (s *Search) getResultUtility(winLossValue, noResultValue float64) float64 {
	return winLossValue*s.params.WinLossUtilityFactor +
		noResultValue*s.params.NoResultUtilityForWhite
}

func (s *Search) getResultUtilityFromNN(out *inference.NNOutput) float64 {
	return float64(out.WhiteWinProb-out.WhiteLossProb)*s.params.WinLossUtilityFactor +
		float64(out.WhiteNoResultProb)*s.params.NoResultUtilityForWhite
}

func getScoreStdev(scoreMean, scoreMeanSq float64) float64 {
	variance := scoreMeanSq - scoreMean*scoreMean
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

func (s *Search) getScoreUtility(scoreMeanAvg, scoreMeanSqAvg float64) float64 {
	area := s.rootBoard.Area()
	staticScoreValue := scoreValueOf(scoreMeanAvg, 0, 2.0, area)
	dynamicScoreValue := scoreValueOf(scoreMeanAvg, s.recentScoreCenter, s.params.DynamicScoreCenterScale, area)
	return staticScoreValue*s.params.StaticScoreUtilityFactor + dynamicScoreValue*s.params.DynamicScoreUtilityFactor
}

func (s *Search) getScoreUtilityDiff(scoreMeanAvg, scoreMeanSqAvg, delta float64) float64 {
	area := s.rootBoard.Area()
	staticDiff := scoreValueOf(scoreMeanAvg+delta, 0, 2.0, area) - scoreValueOf(scoreMeanAvg, 0, 2.0, area)
	dynamicDiff := scoreValueOf(scoreMeanAvg+delta, s.recentScoreCenter, s.params.DynamicScoreCenterScale, area) -
		scoreValueOf(scoreMeanAvg, s.recentScoreCenter, s.params.DynamicScoreCenterScale, area)
	return staticDiff*s.params.StaticScoreUtilityFactor + dynamicDiff*s.params.DynamicScoreUtilityFactor
}

// getApproxScoreUtilityDerivative ignores scoreMeanSq's effect, which
// is complicated and small.
func (s *Search) getApproxScoreUtilityDerivative(scoreMean float64) float64 {
	area := s.rootBoard.Area()
	staticDeriv := dScoreValueDScore(scoreMean, 0, 2.0, area)
	dynamicDeriv := dScoreValueDScore(scoreMean, s.recentScoreCenter, s.params.DynamicScoreCenterScale, area)
	return staticDeriv*s.params.StaticScoreUtilityFactor + dynamicDeriv*s.params.DynamicScoreUtilityFactor
}

func (s *Search) getUtilityFromNN(out *inference.NNOutput) float64 {
	return s.getResultUtilityFromNN(out) + s.getScoreUtility(float64(out.WhiteScoreMean), float64(out.WhiteScoreMeanSq))
}

func (s *Search) getPatternBonus(patternBonusHash game.Hash128, prevMovePla game.Player) float64 {
	if s.patternBonusTable == nil || prevMovePla != s.plaThatSearchIsFor {
		return 0
	}
	return s.patternBonusTable.Get(patternBonusHash)
}

// computeWeightFromNNOutput converts an evaluation's shortterm error
// estimates into the weight its value carries in backups: confident
// evaluations count for more, capped at UncertaintyMaxWeight.
func (s *Search) computeWeightFromNNOutput(out *inference.NNOutput) float64 {
	if !s.params.UseUncertainty || !s.evaluator.SupportsShorttermError() {
		return 1.0
	}
	scoreMean := float64(out.WhiteScoreMean)
	utilityUncertaintyWL := s.params.WinLossUtilityFactor * float64(out.ShorttermWinlossError)
	utilityUncertaintyScore := s.getApproxScoreUtilityDerivative(scoreMean) * float64(out.ShorttermScoreError)
	utilityUncertainty := utilityUncertaintyWL + utilityUncertaintyScore

	var poweredUncertainty float64
	switch s.params.UncertaintyExponent {
	case 1.0:
		poweredUncertainty = utilityUncertainty
	case 0.5:
		poweredUncertainty = math.Sqrt(utilityUncertainty)
	default:
		poweredUncertainty = math.Pow(utilityUncertainty, s.params.UncertaintyExponent)
	}
	baselineUncertainty := s.params.UncertaintyCoeff / s.params.UncertaintyMaxWeight
	return s.params.UncertaintyCoeff / (poweredUncertainty + baselineUncertainty)
}

// whiteWinsOfWinner maps a winner color to a white win fraction.
func whiteWinsOfWinner(winner game.Player, drawEquivalentWinsForWhite float64) float64 {
	switch winner {
	case game.White:
		return 1
	case game.Black:
		return 0
	}
	return drawEquivalentWinsForWhite
}

// interpolateEarly blends between an early-game value and a late-game
// value with the given halflife in turns, normalized to a 19x19 game
// length.
func (s *Search) interpolateEarly(halflife, earlyValue, value float64) float64 {
	rawHalflives := float64(s.rootHistory.InitialTurnNumber+len(s.rootHistory.MoveHistory)) / halflife
	halflives := rawHalflives * 19.0 / math.Sqrt(float64(s.rootBoard.XSize*s.rootBoard.YSize))
	return value + (earlyValue-value)*math.Pow(0.5, halflives)
}
