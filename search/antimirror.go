package search

import (
	"math"

	"github.com/flychenzhu/tengen/game"
)

// Countermeasures for opponents that mirror our moves across the board
// center. Two levers: raise the policy prior on mirror-related moves
// so the search actually looks at them, and force a proportion of
// playouts down specific refutation moves by temporarily inflating
// their utility.

// isMirroringSinceSearchStart checks that every opponent move within
// this playout's line (skipping the most recent skipRecent plies)
// mirrors our previous move.
func (s *Search) isMirroringSinceSearchStart(threadHistory *game.History, skipRecent int) bool {
	moves := threadHistory.MoveHistory
	xSize := s.rootBoard.XSize
	ySize := s.rootBoard.YSize
	for i := len(s.rootHistory.MoveHistory) + 1; i+skipRecent < len(moves); i += 2 {
		if moves[i].Loc != game.MirrorLoc(moves[i-1].Loc, xSize, ySize) {
			return false
		}
	}
	return true
}

// maybeApplyAntiMirrorPolicy biases the policy prior: the opponent is
// expected to keep mirroring, and we should weigh center-touching
// moves of our own more heavily.
func (s *Search) maybeApplyAntiMirrorPolicy(
	nnPolicyProb *float64, moveLoc game.Loc, policyProbs []float32,
	movePla game.Player, thread *searchThread,
) {
	xSize := thread.board.XSize
	ySize := thread.board.YSize

	weight := 0.0
	if movePla == game.Opp(s.rootPla) && len(thread.history.MoveHistory) > 0 {
		prevLoc := thread.history.MoveHistory[len(thread.history.MoveHistory)-1].Loc
		if prevLoc == game.PassLoc {
			return
		}
		mirrorLoc := game.MirrorLoc(prevLoc, xSize, ySize)
		if policyProbs[s.getPos(mirrorLoc)] < 0 {
			mirrorLoc = game.PassLoc
		}
		if moveLoc == mirrorLoc {
			weight = 1.0
			centerLoc := game.CenterLoc(xSize, ySize)
			isDifficult := centerLoc != game.NullLoc && thread.board.Colors[centerLoc] == s.mirroringPla && s.mirrorAdvantage >= -0.5
			if isDifficult {
				weight *= 3.0
			}
		}
	} else if movePla == s.rootPla && moveLoc != game.PassLoc {
		if game.IsCentral(moveLoc, xSize, ySize) {
			weight = 0.3
		} else {
			if game.IsNearCentral(moveLoc, xSize, ySize) {
				weight = 0.05
			}
			centerLoc := game.CenterLoc(xSize, ySize)
			if centerLoc != game.NullLoc && s.rootBoard.Colors[centerLoc] == game.Opp(movePla) {
				if thread.board.IsAdjacentToChain(moveLoc, centerLoc) {
					weight = 0.05
				} else {
					distanceSq := game.EuclideanDistanceSquared(moveLoc, centerLoc, xSize)
					if distanceSq <= 2 {
						weight = 0.05
					} else if distanceSq <= 4 {
						weight = 0.03
					}
				}
			}
		}
	}

	if weight > 0 {
		depth := len(thread.history.MoveHistory) - len(s.rootHistory.MoveHistory)
		weight = weight / (1.0 + math.Sqrt(float64(depth)))
		*nnPolicyProb = *nnPolicyProb + (1.0-*nnPolicyProb)*weight
	}
}

// maybeApplyAntiMirrorForcedExplore dumps playouts down mirror moves
// (so their bad values become visible) and down our refutations near
// the center (so we tolerate playing them even at a small utility
// cost). The ±100 utility inflation forces selection outright until
// the target playout proportion is met.
func (s *Search) maybeApplyAntiMirrorForcedExplore(
	childUtility *float64, parentUtility float64, moveLoc game.Loc, policyProbs []float32,
	thisChildWeight, totalChildWeight float64, movePla game.Player,
	thread *searchThread, parent *SearchNode,
) {
	mirroringPla := s.mirroringPla
	xSize := thread.board.XSize
	ySize := thread.board.YSize
	centerLoc := game.CenterLoc(xSize, ySize)
	// The hard case: the opponent holds tengen and komi favors them.
	isDifficult := centerLoc != game.NullLoc && thread.board.Colors[centerLoc] == mirroringPla && s.mirrorAdvantage >= -0.5
	isRoot := parent == s.rootNode

	sign := 1.0
	if parent.NextPla == game.Black {
		sign = -1.0
	}

	if movePla == mirroringPla && len(thread.history.MoveHistory) > 0 {
		prevLoc := thread.history.MoveHistory[len(thread.history.MoveHistory)-1].Loc
		if prevLoc == game.PassLoc {
			return
		}
		mirrorLoc := game.MirrorLoc(prevLoc, xSize, ySize)
		if policyProbs[s.getPos(mirrorLoc)] < 0 {
			mirrorLoc = game.PassLoc
		}
		if moveLoc != mirrorLoc {
			return
		}
		var proportionToDump, proportionToBias float64
		switch {
		case isDifficult:
			proportionToDump = 0.20
			if mirrorLoc != game.PassLoc {
				proportionToDump = math.Max(
					proportionToDump,
					1.0/(0.75+0.5*math.Sqrt(float64(game.EuclideanDistanceSquared(centerLoc, mirrorLoc, xSize))))/
						math.Max(1.0, s.mirrorCenterSymmetryError),
				)
			}
			proportionToBias = 0.75
		case s.mirrorAdvantage >= 5.0:
			proportionToDump = 0.15
			proportionToBias = 0.50
		case s.mirrorAdvantage >= -5.0:
			proportionToDump = 0.10 + s.mirrorAdvantage*0.01
			proportionToBias = 0.30 + s.mirrorAdvantage*0.04
		default:
			proportionToDump = 0.05
			proportionToBias = 0.10
		}

		if mirrorLoc == game.PassLoc {
			if moveLoc == centerLoc {
				proportionToDump *= 0.35
			} else {
				proportionToDump *= 0.35 / math.Max(1.0, math.Sqrt(s.mirrorCenterSymmetryError))
			}
		}
		if s.mirrorCenterSymmetryError >= 1.0 {
			proportionToDump /= s.mirrorCenterSymmetryError
			proportionToBias /= s.mirrorCenterSymmetryError
		}

		if thisChildWeight < proportionToDump*totalChildWeight {
			*childUtility += sign * 100.0
		}
		if thisChildWeight < proportionToBias*totalChildWeight {
			*childUtility += sign * 0.18 * math.Max(0.3, 1.0-0.7*parentUtility*parentUtility)
		}
		if thisChildWeight < 0.5*proportionToBias*totalChildWeight {
			*childUtility += sign * 0.36 * math.Max(0.3, 1.0-0.7*parentUtility*parentUtility)
		}
	} else if movePla == s.rootPla && moveLoc != game.PassLoc {
		proportionToDump := 0.0
		if isDifficult && centerLoc != game.NullLoc {
			if thread.board.IsAdjacentToChain(moveLoc, centerLoc) {
				libs := float64(thread.board.NumLiberties(centerLoc))
				*childUtility += sign * 0.75 / (1.0 + libs) /
					math.Max(1.0, s.mirrorCenterSymmetryError) * math.Max(0.3, 1.0-0.7*parentUtility*parentUtility)
				proportionToDump = 0.10 / libs
			}
			distanceSq := game.EuclideanDistanceSquared(moveLoc, centerLoc, xSize)
			if distanceSq <= 2 {
				proportionToDump = math.Max(proportionToDump, 0.010)
			} else if distanceSq <= 4 {
				proportionToDump = math.Max(proportionToDump, 0.005)
			}
		}
		if moveLoc == centerLoc {
			if isRoot {
				proportionToDump = 0.06
			} else {
				proportionToDump = 0.12
			}
		}

		utilityLoss := parentUtility - *childUtility
		if parent.NextPla == game.Black {
			utilityLoss = *childUtility - parentUtility
		}
		if utilityLoss > 0 && utilityLoss*proportionToDump > 0.03 {
			proportionToDump += 0.5 * (0.03/utilityLoss - proportionToDump)
		}

		if len(thread.history.MoveHistory) > 0 && centerLoc != game.NullLoc {
			prevLoc := thread.history.MoveHistory[len(thread.history.MoveHistory)-1].Loc
			if prevLoc != game.NullLoc && prevLoc != game.PassLoc {
				centerDistanceSquared := game.EuclideanDistanceSquared(centerLoc, prevLoc, xSize)
				if centerDistanceSquared <= 16 {
					proportionToDump *= 0.900
				}
				if centerDistanceSquared <= 5 {
					proportionToDump *= 0.825
				}
				if centerDistanceSquared <= 2 {
					proportionToDump *= 0.750
				}
			}
		}

		if thisChildWeight < proportionToDump*totalChildWeight {
			*childUtility += sign * 100.0
		}
	}
}
