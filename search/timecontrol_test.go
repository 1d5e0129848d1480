package search

import (
	"testing"

	"github.com/flychenzhu/tengen/inference"
)

func TestTimeControlsUnlimited(t *testing.T) {
	var tc TimeControls
	if !tc.IsEffectivelyUnlimitedTime() {
		t.Fatalf("zero time controls should be unlimited")
	}
	_, rec, max := tc.getTime(81, 0, 0)
	if rec < 1e29 || max < 1e29 {
		t.Errorf("unlimited controls should recommend effectively infinite time")
	}
}

func TestTimeControlsFischer(t *testing.T) {
	tc := TimeControls{MainTimeLeft: 300, IncrementPerMove: 5}
	_, rec, max := tc.getTime(81, 10, 0)
	if rec <= 5 {
		t.Errorf("recommendation should exceed the increment, got %f", rec)
	}
	if rec > max {
		t.Errorf("recommendation %f exceeds maximum %f", rec, max)
	}
	if max > 305 {
		t.Errorf("maximum cannot exceed remaining time plus increment, got %f", max)
	}

	capped := TimeControls{MainTimeLeft: 300, MaxTimePerMove: 2}
	_, rec2, max2 := capped.getTime(81, 10, 0)
	if max2 != 2 {
		t.Errorf("per-move cap should bound the maximum, got %f", max2)
	}
	if rec2 > 2 {
		t.Errorf("recommendation should respect the cap, got %f", rec2)
	}
}

func TestUpperBoundVisitsLeft(t *testing.T) {
	s := newTestSearch(t, 5, testParams(), 1, nil)
	// Too little thinking time so far: no trustworthy estimate.
	if got := s.computeUpperBoundVisitsLeftDueToTime(1000, 0.05, 10); got < 1e29 {
		t.Errorf("estimate should be unbounded before 0.1s, got %f", got)
	}
	// 1000 visits in 1s with 1s planned left: about 1000 more visits.
	got := s.computeUpperBoundVisitsLeftDueToTime(1000, 1.0, 2.0)
	if got < 900 || got > 1100 {
		t.Errorf("expected roughly 1000 visits left, got %f", got)
	}
}

func TestSearchStopsOnTimeControl(t *testing.T) {
	p := testParams()
	stub := inference.NewStubEvaluator(5, 5)
	s := NewSearch(p, stub, quietLogger(), 2)
	// A tiny per-move cap must stop the search quickly regardless of
	// the visit budget.
	tc := TimeControls{MainTimeLeft: 100, MaxTimePerMove: 0.05}
	if err := s.RunWholeSearch(s.RootPla(), nil, false, tc, 1.0); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if s.RootVisits() == 0 {
		t.Errorf("search should have completed at least one visit")
	}
}
