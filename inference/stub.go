package inference

import (
	"math"

	"github.com/flychenzhu/tengen/game"
)

// StubEvaluator is a deterministic evaluator for tests and demos. The
// policy is uniform over legal moves unless PolicyBias mixes in a
// position-hash-seeded preference, and the value heads are fixed or
// hash-derived.
type StubEvaluator struct {
	XLen int
	YLen int

	// FixedWinLoss in [-1,1] is the white win-loss value reported for
	// every position when HashValues is false.
	FixedWinLoss float64
	FixedScore   float64
	// HashValues derives a small deterministic value per position from
	// its hash instead of the fixed values.
	HashValues bool
	// PolicyBias in [0,1) mixes a hash-seeded preference into the
	// uniform policy so that different moves become distinguishable.
	PolicyBias float64

	ShorttermError float32
}

func NewStubEvaluator(xLen, yLen int) *StubEvaluator {
	return &StubEvaluator{XLen: xLen, YLen: yLen, ShorttermError: 0.2}
}

func (e *StubEvaluator) NNXLen() int { return e.XLen }
func (e *StubEvaluator) NNYLen() int { return e.YLen }

func (e *StubEvaluator) SupportsShorttermError() bool { return e.ShorttermError > 0 }

func (e *StubEvaluator) Evaluate(b *game.Board, hist *game.History, pla game.Player, params InputParams) (*NNOutput, error) {
	policySize := PolicySize(e.XLen, e.YLen)
	out := &NNOutput{
		NNHash:      game.MixedHash128(0x31c9b77d5a04e6f2, b.PosHash.Hi, b.PosHash.Lo, uint64(pla)),
		PolicyProbs: make([]float32, policySize),
		NNXLen:      e.XLen,
		NNYLen:      e.YLen,
	}

	legal := 0
	for pos := range out.PolicyProbs {
		loc := PosToLoc(pos, b.XSize, b.YSize, e.XLen, e.YLen)
		if loc == game.NullLoc || (loc != game.PassLoc && !hist.IsLegal(b, loc, pla)) {
			out.PolicyProbs[pos] = -1
			continue
		}
		legal++
	}
	var sum float64
	for pos, p := range out.PolicyProbs {
		if p < 0 {
			continue
		}
		w := 1.0
		if e.PolicyBias > 0 {
			h := game.MixedHash128(0x6d2e9a04c8b1f753, b.PosHash.Lo, uint64(pos))
			w = 1.0 + e.PolicyBias*float64(h.Hi%1024)/1024.0
		}
		out.PolicyProbs[pos] = float32(w)
		sum += w
	}
	for pos, p := range out.PolicyProbs {
		if p >= 0 {
			out.PolicyProbs[pos] = float32(float64(p) / sum)
		}
	}

	winLoss := e.FixedWinLoss
	score := e.FixedScore
	if e.HashValues {
		h := game.MixedHash128(0x0f47ab3912cd8e66, b.PosHash.Hi, uint64(pla))
		winLoss = math.Tanh(float64(int64(h.Lo%2001)-1000) / 1500.0)
		score = float64(int64(h.Hi%41) - 20)
	}
	out.WhiteWinProb = float32((1 + winLoss) / 2)
	out.WhiteLossProb = float32((1 - winLoss) / 2)
	out.WhiteNoResultProb = 0
	out.WhiteScoreMean = float32(score)
	out.WhiteScoreMeanSq = float32(score*score) + 4
	out.WhiteLead = float32(score)
	out.ShorttermWinlossError = e.ShorttermError
	out.ShorttermScoreError = e.ShorttermError

	if params.IncludeOwnerMap {
		out.WhiteOwnerMap = make([]float32, e.XLen*e.YLen)
	}
	return out, nil
}
