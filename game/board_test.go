package game

import (
	"testing"
)

func TestCaptureSingleStone(t *testing.T) {
	b := NewBoard(5, 5)
	// Surround a white stone at (2,2).
	b.PlayMoveAssumeLegal(b.Loc(2, 2), White)
	b.PlayMoveAssumeLegal(b.Loc(1, 2), Black)
	b.PlayMoveAssumeLegal(b.Loc(3, 2), Black)
	b.PlayMoveAssumeLegal(b.Loc(2, 1), Black)
	if b.ColorAt(b.Loc(2, 2)) != White {
		t.Fatalf("white stone should still be alive")
	}
	b.PlayMoveAssumeLegal(b.Loc(2, 3), Black)
	if b.ColorAt(b.Loc(2, 2)) != Empty {
		t.Errorf("white stone should be captured")
	}
	if b.NumWhiteCaptures != 1 {
		t.Errorf("expected 1 white capture, got %d", b.NumWhiteCaptures)
	}
}

func TestSimpleKo(t *testing.T) {
	b := NewBoard(5, 5)
	// Classic ko shape around (2,2)/(3,2).
	b.PlayMoveAssumeLegal(b.Loc(1, 2), Black)
	b.PlayMoveAssumeLegal(b.Loc(2, 1), Black)
	b.PlayMoveAssumeLegal(b.Loc(2, 3), Black)
	b.PlayMoveAssumeLegal(b.Loc(3, 1), White)
	b.PlayMoveAssumeLegal(b.Loc(3, 3), White)
	b.PlayMoveAssumeLegal(b.Loc(4, 2), White)
	b.PlayMoveAssumeLegal(b.Loc(2, 2), White)
	// Black captures the ko.
	if !b.IsLegal(b.Loc(3, 2), Black, false) {
		t.Fatalf("black ko capture should be legal")
	}
	b.PlayMoveAssumeLegal(b.Loc(3, 2), Black)
	if b.ColorAt(b.Loc(2, 2)) != Empty {
		t.Fatalf("ko stone should be captured")
	}
	if b.KoLoc != b.Loc(2, 2) {
		t.Fatalf("ko point should be set at (2,2), got %d", b.KoLoc)
	}
	// White may not immediately retake.
	if b.IsLegal(b.Loc(2, 2), White, false) {
		t.Errorf("immediate ko retake should be illegal")
	}
}

func TestSuicideIllegalByDefault(t *testing.T) {
	b := NewBoard(3, 3)
	b.PlayMoveAssumeLegal(b.Loc(0, 1), Black)
	b.PlayMoveAssumeLegal(b.Loc(1, 0), Black)
	if b.IsLegal(b.Loc(0, 0), White, false) {
		t.Errorf("single-stone suicide should be illegal")
	}
	if b.IsLegal(b.Loc(0, 0), White, true) {
		t.Errorf("single-stone suicide is illegal even when multi-stone suicide is allowed")
	}
}

func TestPosHashRestoredAfterCaptureCycle(t *testing.T) {
	b := NewBoard(5, 5)
	empty := b.PosHash
	b.PlayMoveAssumeLegal(b.Loc(2, 2), White)
	afterOne := b.PosHash
	if afterOne == empty {
		t.Fatalf("hash should change on placement")
	}
	b.PlayMoveAssumeLegal(b.Loc(1, 2), Black)
	b.PlayMoveAssumeLegal(b.Loc(3, 2), Black)
	b.PlayMoveAssumeLegal(b.Loc(2, 1), Black)
	b.PlayMoveAssumeLegal(b.Loc(2, 3), Black)

	// Rebuild the same position from scratch; hashes must agree.
	b2 := NewBoard(5, 5)
	b2.PlayMoveAssumeLegal(b2.Loc(1, 2), Black)
	b2.PlayMoveAssumeLegal(b2.Loc(3, 2), Black)
	b2.PlayMoveAssumeLegal(b2.Loc(2, 1), Black)
	b2.PlayMoveAssumeLegal(b2.Loc(2, 3), Black)
	if b.PosHash != b2.PosHash {
		t.Errorf("hash differs between played-through and rebuilt positions")
	}
}

func TestAreaScore(t *testing.T) {
	b := NewBoard(3, 3)
	// Black wall on column 1; black owns column 0, the rest is open.
	b.PlayMoveAssumeLegal(b.Loc(1, 0), Black)
	b.PlayMoveAssumeLegal(b.Loc(1, 1), Black)
	b.PlayMoveAssumeLegal(b.Loc(1, 2), Black)
	score := areaScoreWhiteMinusBlack(b)
	// 3 stones + 3 territory on the left + 3 neutral-but-black-only on
	// the right = everything is black's.
	if score != -9 {
		t.Errorf("expected score -9 for all-black board, got %d", score)
	}
}

func TestMirrorLoc(t *testing.T) {
	if MirrorLoc(0, 9, 9) != 80 {
		t.Errorf("corner should mirror to opposite corner")
	}
	center := CenterLoc(9, 9)
	if MirrorLoc(center, 9, 9) != center {
		t.Errorf("center should mirror to itself")
	}
	if MirrorLoc(PassLoc, 9, 9) != PassLoc {
		t.Errorf("pass mirrors to pass")
	}
}

func TestMarkDuplicateMoveLocs(t *testing.T) {
	b := NewBoard(5, 5)
	dup, symmetries := MarkDuplicateMoveLocs(b, nil, nil)
	if len(symmetries) != NumSymmetries {
		t.Fatalf("empty square board should be invariant under all %d symmetries, got %d", NumSymmetries, len(symmetries))
	}
	numDup := 0
	for _, d := range dup {
		if d {
			numDup++
		}
	}
	// A 5x5 board has 6 distinct move classes under full symmetry.
	if 25-numDup != 6 {
		t.Errorf("expected 6 representative moves on empty 5x5, got %d", 25-numDup)
	}

	// An off-axis stone breaks every nontrivial symmetry.
	b.PlayMoveAssumeLegal(b.Loc(1, 0), Black)
	dup2, symmetries2 := MarkDuplicateMoveLocs(b, nil, nil)
	if len(symmetries2) != 1 {
		t.Errorf("expected only the identity symmetry, got %d", len(symmetries2))
	}
	for loc, d := range dup2 {
		if d {
			t.Errorf("no duplicates expected without symmetry, loc %d marked", loc)
		}
	}
}
