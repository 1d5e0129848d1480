package search

import (
	"encoding/binary"
	"math"

	"lukechampine.com/frand"
)

// valueWeightDegreesOfFreedom is the t-distribution used to downweight
// children whose utility sits far below their siblings'.
const valueWeightDegreesOfFreedom = 3.0

// tdistCDF3 is the CDF of the t distribution with 3 degrees of
// freedom, which has a closed form.
func tdistCDF3(t float64) float64 {
	x := t / math.Sqrt(valueWeightDegreesOfFreedom)
	return 0.5 + (1/math.Pi)*(x/(1+x*x)+math.Atan(x))
}

// distributionTable is a uniform-grid lookup of a CDF over a bounded
// range, saturating outside it.
type distributionTable struct {
	minZ, maxZ float64
	cdf        []float64
}

func newDistributionTable(cdfFn func(float64) float64, minZ, maxZ float64, size int) *distributionTable {
	t := &distributionTable{minZ: minZ, maxZ: maxZ, cdf: make([]float64, size+1)}
	for i := 0; i <= size; i++ {
		z := minZ + (maxZ-minZ)*float64(i)/float64(size)
		t.cdf[i] = cdfFn(z)
	}
	return t
}

func (t *distributionTable) getCDF(z float64) float64 {
	if z <= t.minZ {
		return t.cdf[0]
	}
	if z >= t.maxZ {
		return t.cdf[len(t.cdf)-1]
	}
	pos := (z - t.minZ) / (t.maxZ - t.minZ) * float64(len(t.cdf)-1)
	i := int(pos)
	frac := pos - float64(i)
	return t.cdf[i]*(1-frac) + t.cdf[i+1]*frac
}

// newSeededRNG builds a deterministic frand generator from a seed and
// salts, so searches with equal seeds replay exactly.
func newSeededRNG(seed uint64, salts ...uint64) *frand.RNG {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[0:8], seed)
	h := seed
	for i, s := range salts {
		h = h*0x9e3779b97f4a7c15 + s + uint64(i)
		h ^= h >> 29
	}
	binary.LittleEndian.PutUint64(key[8:16], h)
	binary.LittleEndian.PutUint64(key[16:24], h*0xbf58476d1ce4e5b9)
	binary.LittleEndian.PutUint64(key[24:32], h^0x94d049bb133111eb)
	return frand.NewCustom(key[:], 1024, 12)
}

// randBool returns true with probability p.
func randBool(rng *frand.RNG, p float64) bool {
	return rng.Float64() < p
}

// randGaussian draws a standard normal via Box-Muller.
func randGaussian(rng *frand.RNG) float64 {
	u1 := rng.Float64()
	for u1 <= 1e-300 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// randGamma draws from Gamma(alpha, 1) via Marsaglia-Tsang, boosting
// alpha < 1 through the standard U^(1/alpha) trick.
func randGamma(rng *frand.RNG, alpha float64) float64 {
	if alpha <= 0 {
		return 0
	}
	if alpha < 1 {
		u := rng.Float64()
		for u <= 1e-300 {
			u = rng.Float64()
		}
		return randGamma(rng, alpha+1) * math.Pow(u, 1/alpha)
	}
	d := alpha - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := randGaussian(rng)
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// chooseIndexWithTemperature samples an index proportionally to
// relativeProbs raised to 1/temperature, numerically stabilized; at
// temperature near zero it returns the argmax.
func chooseIndexWithTemperature(rng *frand.RNG, relativeProbs []float64, temperature float64) int {
	maxValue := 0.0
	for _, p := range relativeProbs {
		if p > maxValue {
			maxValue = p
		}
	}
	if maxValue <= 0 {
		return 0
	}
	if temperature <= 1.0e-4 {
		bestIdx := 0
		for i, p := range relativeProbs {
			if p > relativeProbs[bestIdx] {
				bestIdx = i
			}
		}
		return bestIdx
	}
	logMax := math.Log(maxValue)
	processed := make([]float64, len(relativeProbs))
	sum := 0.0
	for i, p := range relativeProbs {
		if p > 0 {
			processed[i] = math.Exp((math.Log(p) - logMax) / temperature)
			sum += processed[i]
		}
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, p := range processed {
		acc += p
		if r < acc {
			return i
		}
	}
	return len(relativeProbs) - 1
}
