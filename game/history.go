package game

// Rules carries the subset of go rules the engine distinguishes:
// area scoring with komi, and whether multi-stone suicide is legal.
type Rules struct {
	Komi                   float64 `yaml:"komi"`
	MultiStoneSuicideLegal bool    `yaml:"multiStoneSuicideLegal"`
}

func DefaultRules() Rules {
	return Rules{Komi: 7.5}
}

// Move is one played move.
type Move struct {
	Loc Loc
	Pla Player
}

// History tracks the moves made from an initial position, detects game
// end by consecutive passes, and computes the final area score.
type History struct {
	Rules             Rules
	InitialTurnNumber int

	MoveHistory       []Move
	ConsecutivePasses int

	IsGameFinished bool
	IsNoResult     bool
	Winner         Player
	// FinalWhiteMinusBlackScore is valid once IsGameFinished and not
	// IsNoResult.
	FinalWhiteMinusBlackScore float64

	// recentPosHashes holds the position hash after each move, newest
	// last, for the repetition summary in graph hashes.
	recentPosHashes []Hash128
}

func NewHistory(b *Board, rules Rules) *History {
	h := &History{Rules: rules}
	h.recentPosHashes = append(h.recentPosHashes, b.PosHash)
	return h
}

func (h *History) Clone() *History {
	c := *h
	c.MoveHistory = append([]Move(nil), h.MoveHistory...)
	c.recentPosHashes = append([]Hash128(nil), h.recentPosHashes...)
	return &c
}

// Clear resets the history to treat the given position as initial.
func (h *History) Clear(b *Board, rules Rules) {
	*h = History{Rules: rules, InitialTurnNumber: h.InitialTurnNumber + len(h.MoveHistory)}
	h.recentPosHashes = append(h.recentPosHashes, b.PosHash)
}

// IsLegal is strict legality for pla on board b in the current history
// context. Moves after game end are legal; the search continues past
// nominally finished games when a node is forced non-terminal.
func (h *History) IsLegal(b *Board, loc Loc, pla Player) bool {
	return b.IsLegal(loc, pla, h.Rules.MultiStoneSuicideLegal)
}

// IsLegalTolerant additionally tolerates a player moving twice in a
// row, ignoring the stale ko point in that case.
func (h *History) IsLegalTolerant(b *Board, loc Loc, pla Player) bool {
	if len(h.MoveHistory) > 0 && h.MoveHistory[len(h.MoveHistory)-1].Pla == pla {
		copyB := b.Clone()
		copyB.ClearSimpleKoLoc()
		return copyB.IsLegal(loc, pla, true)
	}
	// Tolerate suicide moves arriving from outside regardless of rules.
	return b.IsLegal(loc, pla, true)
}

// MakeBoardMoveAssumeLegal applies the move to board and history,
// ending and scoring the game on the second consecutive pass.
func (h *History) MakeBoardMoveAssumeLegal(b *Board, loc Loc, pla Player) {
	b.PlayMoveAssumeLegal(loc, pla)
	h.MoveHistory = append(h.MoveHistory, Move{Loc: loc, Pla: pla})
	if loc == PassLoc {
		h.ConsecutivePasses++
	} else {
		h.ConsecutivePasses = 0
		// A real move past a nominally ended game reopens it; the
		// search relies on this when a node overrides terminal
		// detection and keeps exploring.
		h.IsGameFinished = false
		h.Winner = Empty
		h.FinalWhiteMinusBlackScore = 0
	}
	h.recentPosHashes = append(h.recentPosHashes, b.PosHash)
	if len(h.recentPosHashes) > 64 {
		h.recentPosHashes = h.recentPosHashes[len(h.recentPosHashes)-64:]
	}
	if h.ConsecutivePasses >= 2 && !h.IsGameFinished {
		h.endAndScore(b)
	}
}

// PassWouldEndGame reports whether a pass by pla immediately ends the
// game under the two-pass rule.
func (h *History) PassWouldEndGame(b *Board, pla Player) bool {
	return !h.IsGameFinished && h.ConsecutivePasses >= 1
}

func (h *History) endAndScore(b *Board) {
	h.IsGameFinished = true
	score := float64(areaScoreWhiteMinusBlack(b)) + h.Rules.Komi
	h.FinalWhiteMinusBlackScore = score
	switch {
	case score > 0:
		h.Winner = White
	case score < 0:
		h.Winner = Black
	default:
		h.Winner = Empty
	}
}

// areaScoreWhiteMinusBlack counts stones plus single-color territory.
func areaScoreWhiteMinusBlack(b *Board) int {
	score := 0
	seen := make([]bool, b.Area())
	var nbuf [4]Loc
	for loc := Loc(0); int(loc) < b.Area(); loc++ {
		switch b.Colors[loc] {
		case Black:
			score--
			continue
		case White:
			score++
			continue
		}
		if seen[loc] {
			continue
		}
		// Flood fill the empty region and see which colors border it.
		region := []Loc{loc}
		seen[loc] = true
		bordersBlack, bordersWhite := false, false
		size := 0
		for len(region) > 0 {
			cur := region[len(region)-1]
			region = region[:len(region)-1]
			size++
			for _, n := range b.neighbors(cur, nbuf[:0]) {
				switch b.Colors[n] {
				case Black:
					bordersBlack = true
				case White:
					bordersWhite = true
				default:
					if !seen[n] {
						seen[n] = true
						region = append(region, n)
					}
				}
			}
		}
		if bordersBlack && !bordersWhite {
			score -= size
		} else if bordersWhite && !bordersBlack {
			score += size
		}
	}
	return score
}

// passStateHashes distinguishes graph nodes by how close the position
// is to ending by passes.
var passStateHashes = [3]Hash128{
	MixedHash128(0x70a1b2c3d4e5f607, 0),
	MixedHash128(0x70a1b2c3d4e5f607, 1),
	MixedHash128(0x70a1b2c3d4e5f607, 2),
}

var plaToMoveHashes = [3]Hash128{
	{},
	MixedHash128(0x11c385fe0a9d7732, 1),
	MixedHash128(0x11c385fe0a9d7732, 2),
}

// GraphHash summarizes the position, the player to move, the pass
// state, and a bounded repetition count into the structural identity
// used by graph search. Two positions with equal GraphHash transpose.
func (h *History) GraphHash(b *Board, pla Player, repBound int) Hash128 {
	gh := b.PosHash.Xor(plaToMoveHashes[pla])
	passes := h.ConsecutivePasses
	if passes > 2 {
		passes = 2
	}
	gh = gh.Xor(passStateHashes[passes])
	if b.KoLoc != NullLoc {
		gh = gh.Xor(MixedHash128(0x5e2f8c61a7b3d940, uint64(b.KoLoc)))
	}
	// Repetition summary: how many times the current position already
	// occurred among the last repBound positions.
	if repBound > 0 {
		reps := 0
		start := len(h.recentPosHashes) - 1 - repBound
		if start < 0 {
			start = 0
		}
		for i := start; i < len(h.recentPosHashes)-1; i++ {
			if h.recentPosHashes[i] == b.PosHash {
				reps++
			}
		}
		if reps > 0 {
			gh = gh.Xor(MixedHash128(0x2bd07aa93c11ef58, uint64(reps)))
		}
	}
	return gh
}
