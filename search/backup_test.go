package search

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDistributionTableMatchesClosedForm(t *testing.T) {
	table := newDistributionTable(tdistCDF3, -50, 50, 2000)
	for _, z := range []float64{-10, -2.5, -1, 0, 0.5, 1, 3, 20} {
		got := table.getCDF(z)
		want := tdistCDF3(z)
		if math.Abs(got-want) > 1e-3 {
			t.Errorf("cdf(%f): got %f want %f", z, got, want)
		}
	}
	if cdf := table.getCDF(0); math.Abs(cdf-0.5) > 1e-6 {
		t.Errorf("cdf(0) should be 0.5, got %f", cdf)
	}
	if table.getCDF(-100) != table.getCDF(-50) || table.getCDF(100) != table.getCDF(50) {
		t.Errorf("cdf should saturate outside its range")
	}
}

func TestRandGammaMean(t *testing.T) {
	rng := newSeededRNG(123)
	for _, alpha := range []float64{0.3, 1.0, 4.2} {
		const n = 20000
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += randGamma(rng, alpha)
		}
		mean := sum / n
		// Gamma(alpha, 1) has mean alpha.
		if math.Abs(mean-alpha) > 0.1*alpha+0.02 {
			t.Errorf("gamma(%f) sample mean %f too far from %f", alpha, mean, alpha)
		}
	}
}

func TestDirichletNoiseMean(t *testing.T) {
	params := DefaultParams()
	params.RootDirichletNoiseWeight = 0.25

	raw := []float32{0.4, 0.3, 0.15, 0.1, 0.05}
	alpha := make([]float64, len(raw))
	computeDirichletAlphaDistribution(raw, alpha)

	const draws = 2000
	rng := newSeededRNG(7)
	sums := make([]float64, len(raw))
	for d := 0; d < draws; d++ {
		probs := append([]float32(nil), raw...)
		addDirichletNoise(&params, rng, probs)
		for i, p := range probs {
			sums[i] += float64(p)
		}
	}
	// E[noised] = (1-w)*raw + w*alphaShare.
	for i := range raw {
		mean := sums[i] / draws
		want := 0.75*float64(raw[i]) + 0.25*alpha[i]
		if math.Abs(mean-want) > 0.005 {
			t.Errorf("move %d: mean noised policy %f, want %f", i, mean, want)
		}
	}
}

func TestDirichletAlphaSkipsIllegal(t *testing.T) {
	raw := []float32{0.5, -1, 0.5, -1}
	alpha := make([]float64, len(raw))
	computeDirichletAlphaDistribution(raw, alpha)
	if alpha[1] != 0 || alpha[3] != 0 {
		t.Errorf("illegal moves must get zero alpha")
	}
	sum := alpha[0] + alpha[2]
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("alpha shares should sum to 1, got %f", sum)
	}
}

func TestPruneNoiseWeightDownweightsOverweightedBadChild(t *testing.T) {
	s := &Search{params: DefaultParams()}
	// Child 1 has far more weight than its policy justifies and a much
	// worse utility than child 0.
	statsBuf := []moreNodeStats{
		{selfUtility: 0.5, weightAdjusted: 10},
		{selfUtility: -0.5, weightAdjusted: 30},
	}
	policy := []float64{0.6, 0.05}
	total := 40.0
	newTotal := s.pruneNoiseWeight(statsBuf, 2, total, policy)
	if statsBuf[1].weightAdjusted >= 30 {
		t.Errorf("bad overweighted child should lose weight, still %f", statsBuf[1].weightAdjusted)
	}
	if statsBuf[0].weightAdjusted != 10 {
		t.Errorf("first child untouched, got %f", statsBuf[0].weightAdjusted)
	}
	if newTotal >= total {
		t.Errorf("total weight should shrink, got %f", newTotal)
	}
}

func TestDownweightBadChildrenPreservesTotal(t *testing.T) {
	s := &Search{
		params:                  DefaultParams(),
		valueWeightDistribution: newDistributionTable(tdistCDF3, -50, 50, 2000),
	}
	statsBuf := []moreNodeStats{
		{selfUtility: 0.3, weightAdjusted: 12},
		{selfUtility: 0.1, weightAdjusted: 8},
		{selfUtility: -0.6, weightAdjusted: 5},
	}
	statsBuf[0].stats.Visits = 12
	statsBuf[1].stats.Visits = 8
	statsBuf[2].stats.Visits = 5
	total := 25.0
	s.downweightBadChildrenAndNormalizeWeight(3, total, total, 0, 0, statsBuf)

	sum := 0.0
	for i := range statsBuf {
		sum += statsBuf[i].weightAdjusted
	}
	if math.Abs(sum-total) > 1e-9 {
		t.Errorf("reweighting must preserve the total: got %f want %f", sum, total)
	}
	// The far-below-average child loses relative weight.
	if statsBuf[2].weightAdjusted >= 5 {
		t.Errorf("bad child should be downweighted, got %f", statsBuf[2].weightAdjusted)
	}
	if statsBuf[0].weightAdjusted <= 12 {
		t.Errorf("good child should gain weight after renormalizing, got %f", statsBuf[0].weightAdjusted)
	}
}

func TestParamsYamlRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")
	p := DefaultParams()
	p.NumThreads = 12
	p.MaxVisits = 1234
	p.RootNoiseEnabled = true
	if err := SaveParams(path, p); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := LoadParams(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded != p {
		t.Errorf("round trip mismatch")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("params file missing: %v", err)
	}
}

func TestChooseIndexWithTemperature(t *testing.T) {
	rng := newSeededRNG(5)
	probs := []float64{0.1, 0.7, 0.2}
	// Near-zero temperature is argmax.
	for i := 0; i < 10; i++ {
		if idx := chooseIndexWithTemperature(rng, probs, 1e-9); idx != 1 {
			t.Fatalf("argmax should pick index 1, got %d", idx)
		}
	}
	// Temperature 1 samples proportionally.
	counts := make([]int, 3)
	const n = 30000
	for i := 0; i < n; i++ {
		counts[chooseIndexWithTemperature(rng, probs, 1.0)]++
	}
	for i, p := range probs {
		frac := float64(counts[i]) / n
		if math.Abs(frac-p) > 0.02 {
			t.Errorf("index %d sampled %f, want %f", i, frac, p)
		}
	}
}
