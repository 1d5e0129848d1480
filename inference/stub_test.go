package inference

import (
	"math"
	"testing"

	"github.com/flychenzhu/tengen/game"
)

func TestStubPolicyNormalizedAndLegalMasked(t *testing.T) {
	e := NewStubEvaluator(5, 5)
	b := game.NewBoard(5, 5)
	h := game.NewHistory(b, game.DefaultRules())
	b.PlayMoveAssumeLegal(b.Loc(2, 2), game.Black)

	out, err := e.Evaluate(b, h, game.White, InputParams{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(out.PolicyProbs) != PolicySize(5, 5) {
		t.Fatalf("policy size mismatch: %d", len(out.PolicyProbs))
	}
	occupiedPos := LocToPos(b.Loc(2, 2), 5, 5, 5)
	if out.PolicyProbs[occupiedPos] >= 0 {
		t.Errorf("occupied point must be flagged illegal")
	}
	sum := 0.0
	for _, p := range out.PolicyProbs {
		if p >= 0 {
			sum += float64(p)
		}
	}
	if math.Abs(sum-1.0) > 1e-4 {
		t.Errorf("legal policy should sum to 1, got %f", sum)
	}
	passPos := LocToPos(game.PassLoc, 5, 5, 5)
	if out.PolicyProbs[passPos] < 0 {
		t.Errorf("pass must always be legal")
	}
}

func TestStubDeterministic(t *testing.T) {
	e := NewStubEvaluator(5, 5)
	e.HashValues = true
	e.PolicyBias = 0.5
	b := game.NewBoard(5, 5)
	h := game.NewHistory(b, game.DefaultRules())

	out1, err := e.Evaluate(b, h, game.Black, InputParams{})
	if err != nil {
		t.Fatal(err)
	}
	out2, err := e.Evaluate(b, h, game.Black, InputParams{})
	if err != nil {
		t.Fatal(err)
	}
	if out1.WhiteWinProb != out2.WhiteWinProb || out1.NNHash != out2.NNHash {
		t.Errorf("stub evaluator must be deterministic")
	}
	for i := range out1.PolicyProbs {
		if out1.PolicyProbs[i] != out2.PolicyProbs[i] {
			t.Fatalf("policy differs at %d", i)
		}
	}
}

func TestFeaturizePlanes(t *testing.T) {
	b := game.NewBoard(5, 5)
	h := game.NewHistory(b, game.DefaultRules())
	h.MakeBoardMoveAssumeLegal(b, b.Loc(1, 1), game.Black)
	h.MakeBoardMoveAssumeLegal(b, b.Loc(3, 3), game.White)

	dst := make([]float32, NumInputPlanes*5*5)
	Featurize(b, h, game.Black, 5, 5, dst)

	planeSize := 25
	ownPos := LocToPos(b.Loc(1, 1), 5, 5, 5)
	oppPos := LocToPos(b.Loc(3, 3), 5, 5, 5)
	if dst[planeSize+ownPos] != 1 {
		t.Errorf("own-stone plane missing black stone")
	}
	if dst[2*planeSize+oppPos] != 1 {
		t.Errorf("opp-stone plane missing white stone")
	}
	// Last-move plane should mark white's (3,3).
	if dst[4*planeSize+oppPos] != 1 {
		t.Errorf("last-move plane missing most recent move")
	}
}
