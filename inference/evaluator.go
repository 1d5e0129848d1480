package inference

import (
	"github.com/flychenzhu/tengen/game"
)

// NNOutput is one evaluation of a position. All values are from
// white's perspective. PolicyProbs has one entry per policy position
// (nnXLen*nnYLen board points plus one pass slot); illegal moves are
// flagged with a negative probability.
type NNOutput struct {
	NNHash game.Hash128

	PolicyProbs []float32
	// NoisedPolicyProbs, when non-nil, is the root-shaped copy of the
	// policy (noise, temperature, hint redistribution applied).
	NoisedPolicyProbs []float32

	WhiteWinProb      float32
	WhiteLossProb     float32
	WhiteNoResultProb float32
	WhiteScoreMean    float32
	WhiteScoreMeanSq  float32
	WhiteLead         float32

	ShorttermWinlossError float32
	ShorttermScoreError   float32

	// WhiteOwnerMap is nil unless ownership was requested and the
	// evaluator supports it.
	WhiteOwnerMap []float32

	NNXLen int
	NNYLen int
}

// PolicyProbsMaybeNoised returns the noised policy if present, else
// the raw policy.
func (o *NNOutput) PolicyProbsMaybeNoised() []float32 {
	if o.NoisedPolicyProbs != nil {
		return o.NoisedPolicyProbs
	}
	return o.PolicyProbs
}

// ShallowCopy clones the output with a fresh policy slice, leaving the
// noised policy cleared so the caller can re-derive it.
func (o *NNOutput) ShallowCopy() *NNOutput {
	c := *o
	c.PolicyProbs = append([]float32(nil), o.PolicyProbs...)
	c.NoisedPolicyProbs = nil
	return &c
}

// InputParams tweaks a single evaluation request.
type InputParams struct {
	DrawEquivalentWinsForWhite float64
	ConservativePass           bool
	PolicyTemperature          float64
	// Symmetry selects one of the eight board symmetries to present to
	// the net; 0 is identity.
	Symmetry        int
	SkipCache       bool
	IncludeOwnerMap bool
}

// Evaluator produces policy and value estimates for positions. The
// search treats it as an external collaborator; implementations must
// be safe for concurrent use.
type Evaluator interface {
	Evaluate(board *game.Board, hist *game.History, pla game.Player, params InputParams) (*NNOutput, error)
	NNXLen() int
	NNYLen() int
	SupportsShorttermError() bool
}

// PolicySize returns the policy vector length for the given NN
// dimensions, including the pass slot.
func PolicySize(nnXLen, nnYLen int) int {
	return nnXLen*nnYLen + 1
}

// LocToPos maps a board location to its policy index.
func LocToPos(loc game.Loc, xSize, nnXLen, nnYLen int) int {
	if loc == game.PassLoc {
		return nnXLen * nnYLen
	}
	x := int(loc) % xSize
	y := int(loc) / xSize
	return y*nnXLen + x
}

// PosToLoc maps a policy index back to a board location, or NullLoc if
// the index falls outside the board.
func PosToLoc(pos int, xSize, ySize, nnXLen, nnYLen int) game.Loc {
	if pos == nnXLen*nnYLen {
		return game.PassLoc
	}
	x := pos % nnXLen
	y := pos / nnXLen
	if x >= xSize || y >= ySize {
		return game.NullLoc
	}
	return game.Loc(y*xSize + x)
}
