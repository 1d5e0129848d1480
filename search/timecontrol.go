package search

import (
	"math"
)

// TimeControls describes the clock state for the player to move. Zero
// value means effectively unlimited time.
type TimeControls struct {
	// MainTimeLeft is the remaining main time in seconds.
	MainTimeLeft float64 `yaml:"mainTimeLeft"`
	// IncrementPerMove is added back after every move (Fischer).
	IncrementPerMove float64 `yaml:"incrementPerMove"`
	// MaxTimePerMove caps any single move's thinking time; 0 is no cap.
	MaxTimePerMove float64 `yaml:"maxTimePerMove"`
}

func (tc TimeControls) IsEffectivelyUnlimitedTime() bool {
	return tc.MainTimeLeft <= 0 && tc.IncrementPerMove <= 0 && tc.MaxTimePerMove <= 0
}

// getTime returns the minimum, recommended, and maximum seconds to
// spend on this move. The recommendation spreads main time over an
// estimate of the moves remaining in the game.
func (tc TimeControls) getTime(boardArea int, turnNumber int, lagBuffer float64) (tcMin, tcRec, tcMax float64) {
	if tc.IsEffectivelyUnlimitedTime() {
		return 0, 1e30, 1e30
	}
	movesLeft := float64(boardArea)/2 - float64(turnNumber)/2
	if movesLeft < 10 {
		movesLeft = 10
	}
	usableMain := tc.MainTimeLeft - lagBuffer
	if usableMain < 0 {
		usableMain = 0
	}
	tcRec = tc.IncrementPerMove + usableMain/movesLeft
	tcMax = usableMain + tc.IncrementPerMove
	if tc.MaxTimePerMove > 0 && tcMax > tc.MaxTimePerMove {
		tcMax = tc.MaxTimePerMove
	}
	if tcRec > tcMax {
		tcRec = tcMax
	}
	return 0, tcRec, tcMax
}

// roundUpTimeLimitIfNeeded never plans a limit below the time already
// used: a recommendation under timeUsed is raised to timeUsed.
func (tc TimeControls) roundUpTimeLimitIfNeeded(lagBuffer, timeUsed, tcRec float64) float64 {
	if tcRec < timeUsed {
		return timeUsed
	}
	return tcRec
}

// numVisitsNeededToBeNonFutile is the visit count a root child needs
// to still plausibly become the chosen move.
func (s *Search) numVisitsNeededToBeNonFutile(maxVisitsMoveVisits float64) float64 {
	requiredVisits := s.params.FutileVisitsThreshold * maxVisitsMoveVisits
	// At high move temperature a move can be chosen with fewer visits;
	// require only that its selection odds stay under roughly 1:100.
	chosenMoveTemperature := s.interpolateEarly(
		s.params.ChosenMoveTemperatureHalflife, s.params.ChosenMoveTemperatureEarly, s.params.ChosenMoveTemperature,
	)
	if chosenMoveTemperature < 1e-3 {
		return requiredVisits
	}
	requiredVisitsDueToTemp := maxVisitsMoveVisits * math.Pow(0.01, chosenMoveTemperature)
	return math.Min(requiredVisits, requiredVisitsDueToTemp)
}

// computeUpperBoundVisitsLeftDueToTime extrapolates visits-per-second
// so far into the planned remaining time.
func (s *Search) computeUpperBoundVisitsLeftDueToTime(rootVisits int64, timeUsed, plannedTimeLimit float64) float64 {
	if rootVisits <= 1 {
		return 1e30
	}
	timeThoughtSoFar := s.effectiveSearchTimeCarriedOver + timeUsed
	timeLeftPlanned := plannedTimeLimit - timeUsed
	// Distrust the visits/time estimate before a tenth of a second.
	if timeThoughtSoFar < 0.1 {
		return 1e30
	}
	proportionOfTimeThoughtLeft := timeLeftPlanned / timeThoughtSoFar
	return math.Ceil(proportionOfTimeThoughtLeft*float64(rootVisits) + float64(s.params.NumThreads) - 1)
}

// recomputeSearchTimeLimit derives the concrete seconds limit for this
// search given the clock, applying midgame weighting, the obvious-move
// reduction, the carried-over-ponder softplus, and futility-based
// early stopping.
func (s *Search) recomputeSearchTimeLimit(tc TimeControls, timeUsed, searchFactor float64, rootVisits int64) float64 {
	turnNumber := s.rootHistory.InitialTurnNumber + len(s.rootHistory.MoveHistory)
	_, tcRec, tcMax := tc.getTime(s.rootBoard.Area(), turnNumber, s.params.LagBuffer)

	tcRec *= s.params.OverallocateTimeFactor

	if s.params.MidgameTimeFactor != 1.0 {
		boardAreaScale := float64(s.rootBoard.Area()) / 361.0
		presumedTurnNumber := float64(turnNumber)
		if presumedTurnNumber < 0 {
			presumedTurnNumber = 0
		}
		var midGameWeight float64
		if presumedTurnNumber < s.params.MidgameTurnPeakTime*boardAreaScale {
			midGameWeight = presumedTurnNumber / (s.params.MidgameTurnPeakTime * boardAreaScale)
		} else {
			midGameWeight = math.Exp(
				-(presumedTurnNumber - s.params.MidgameTurnPeakTime*boardAreaScale) /
					(s.params.EndgameTurnTimeDecay * boardAreaScale),
			)
		}
		midGameWeight = clamp(midGameWeight, 0, 1)
		tcRec *= 1.0 + midGameWeight*(s.params.MidgameTimeFactor-1.0)
	}

	if s.params.ObviousMovesTimeFactor < 1.0 {
		if surprise, _, policyEntropy, ok := s.getPolicySurpriseAndEntropy(); ok {
			// A confident raw policy plus low search surprise reads as
			// an obvious move.
			obviousnessByEntropy := math.Exp(-policyEntropy / s.params.ObviousMovesPolicyEntropyTolerance)
			obviousnessBySurprise := math.Exp(-surprise / s.params.ObviousMovesPolicySurpriseTolerance)
			obviousnessWeight := math.Min(obviousnessByEntropy, obviousnessBySurprise)
			tcRec *= 1.0 + obviousnessWeight*(s.params.ObviousMovesTimeFactor-1.0)
		}
	}

	if tcRec > 1e-20 {
		// Softplus keeps a sliver of search even when carried-over
		// ponder time says the move is paid for: root-level broadening
		// is cheap and the ponder benefit may be overcounted.
		remainingTimeNeeded := tcRec - s.effectiveSearchTimeCarriedOver
		remainingTimeNeededFactor := remainingTimeNeeded / tcRec
		tcRec = tcRec * math.Min(1.0, math.Log(1.0+math.Exp(remainingTimeNeededFactor*6.0))/6.0)
	}

	tcRec = tc.roundUpTimeLimitIfNeeded(s.params.LagBuffer, timeUsed, tcRec)
	if tcRec > tcMax {
		tcRec = tcMax
	}

	// With the planned time fixed, stop outright if no alternative
	// move can catch the leader in the visits that remain.
	if s.params.FutileVisitsThreshold > 0 {
		upperBoundVisitsLeftDueToTime := s.computeUpperBoundVisitsLeftDueToTime(rootVisits, timeUsed, tcRec)
		if upperBoundVisitsLeftDueToTime < s.params.FutileVisitsThreshold*float64(rootVisits) {
			_, playSelectionValues, visitCounts, suc := s.getPlaySelectionValues(1.0)
			if suc && len(playSelectionValues) > 0 && len(playSelectionValues) == len(visitCounts) {
				maxVisitsIdx := 0
				bestMoveIdx := 0
				for i := 1; i < len(playSelectionValues); i++ {
					if playSelectionValues[i] > playSelectionValues[bestMoveIdx] {
						bestMoveIdx = i
					}
					if visitCounts[i] > visitCounts[maxVisitsIdx] {
						maxVisitsIdx = i
					}
				}
				if maxVisitsIdx == bestMoveIdx {
					requiredVisits := s.numVisitsNeededToBeNonFutile(visitCounts[maxVisitsIdx])
					foundPossibleAlternativeMove := false
					for i := range visitCounts {
						if i == bestMoveIdx {
							continue
						}
						if visitCounts[i]+upperBoundVisitsLeftDueToTime >= requiredVisits {
							foundPossibleAlternativeMove = true
							break
						}
					}
					if !foundPossibleAlternativeMove {
						tcRec = timeUsed * (1.0 - 1e-10)
					}
				}
			}
		}
	}

	tcRec = tc.roundUpTimeLimitIfNeeded(s.params.LagBuffer, timeUsed, tcRec)
	if tcRec > tcMax {
		tcRec = tcMax
	}

	// searchFactor is mainly friendliness (playing faster after
	// passes), so it may violate the minimum time.
	tcRec *= searchFactor
	if tcRec > tcMax {
		tcRec = tcMax
	}
	return tcRec
}
