package search

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params holds every tunable of the search. Changing params on a live
// Search via SetParams clears the tree; SetParamsNoClearing exists for
// the few knobs that are safe to swap mid-game.
type Params struct {
	// Threading and budgets.
	NumThreads           int     `yaml:"numThreads"`
	MaxVisits            int64   `yaml:"maxVisits"`
	MaxPlayouts          int64   `yaml:"maxPlayouts"`
	MaxTime              float64 `yaml:"maxTime"`
	MaxVisitsPondering   int64   `yaml:"maxVisitsPondering"`
	MaxPlayoutsPondering int64   `yaml:"maxPlayoutsPondering"`
	MaxTimePondering     float64 `yaml:"maxTimePondering"`

	// Utility shaping.
	WinLossUtilityFactor         float64 `yaml:"winLossUtilityFactor"`
	StaticScoreUtilityFactor     float64 `yaml:"staticScoreUtilityFactor"`
	DynamicScoreUtilityFactor    float64 `yaml:"dynamicScoreUtilityFactor"`
	DynamicScoreCenterZeroWeight float64 `yaml:"dynamicScoreCenterZeroWeight"`
	DynamicScoreCenterScale      float64 `yaml:"dynamicScoreCenterScale"`
	NoResultUtilityForWhite      float64 `yaml:"noResultUtilityForWhite"`
	DrawEquivalentWinsForWhite   float64 `yaml:"drawEquivalentWinsForWhite"`

	// PUCT.
	CpuctExploration             float64 `yaml:"cpuctExploration"`
	CpuctExplorationLog          float64 `yaml:"cpuctExplorationLog"`
	CpuctExplorationBase         float64 `yaml:"cpuctExplorationBase"`
	CpuctUtilityStdevPrior       float64 `yaml:"cpuctUtilityStdevPrior"`
	CpuctUtilityStdevPriorWeight float64 `yaml:"cpuctUtilityStdevPriorWeight"`
	CpuctUtilityStdevScale       float64 `yaml:"cpuctUtilityStdevScale"`

	// First play urgency.
	FpuReductionMax     float64 `yaml:"fpuReductionMax"`
	FpuLossProp         float64 `yaml:"fpuLossProp"`
	RootFpuReductionMax float64 `yaml:"rootFpuReductionMax"`
	RootFpuLossProp     float64 `yaml:"rootFpuLossProp"`
	FpuParentWeight     float64 `yaml:"fpuParentWeight"`

	// Backup reweighting.
	ValueWeightExponent    float64 `yaml:"valueWeightExponent"`
	UseNoisePruning        bool    `yaml:"useNoisePruning"`
	NoisePruneUtilityScale float64 `yaml:"noisePruneUtilityScale"`
	NoisePruningCap        float64 `yaml:"noisePruningCap"`

	// Uncertainty weighting of evaluations.
	UseUncertainty       bool    `yaml:"useUncertainty"`
	UncertaintyCoeff     float64 `yaml:"uncertaintyCoeff"`
	UncertaintyExponent  float64 `yaml:"uncertaintyExponent"`
	UncertaintyMaxWeight float64 `yaml:"uncertaintyMaxWeight"`

	// Root shaping.
	RootNoiseEnabled                     bool    `yaml:"rootNoiseEnabled"`
	RootDirichletNoiseTotalConcentration float64 `yaml:"rootDirichletNoiseTotalConcentration"`
	RootDirichletNoiseWeight             float64 `yaml:"rootDirichletNoiseWeight"`
	RootPolicyTemperature                float64 `yaml:"rootPolicyTemperature"`
	RootPolicyTemperatureEarly           float64 `yaml:"rootPolicyTemperatureEarly"`
	RootNumSymmetriesToSample            int     `yaml:"rootNumSymmetriesToSample"`
	RootSymmetryPruning                  bool    `yaml:"rootSymmetryPruning"`
	RootPruneUselessMoves                bool    `yaml:"rootPruneUselessMoves"`
	RootEndingBonusPoints                float64 `yaml:"rootEndingBonusPoints"`
	RootDesiredPerChildVisitsCoeff       float64 `yaml:"rootDesiredPerChildVisitsCoeff"`
	WideRootNoise                        float64 `yaml:"wideRootNoise"`
	NNPolicyTemperature                  float64 `yaml:"nnPolicyTemperature"`
	ConservativePass                     bool    `yaml:"conservativePass"`
	AntiMirror                           bool    `yaml:"antiMirror"`

	// Chosen-move sampling.
	ChosenMoveTemperature         float64 `yaml:"chosenMoveTemperature"`
	ChosenMoveTemperatureEarly    float64 `yaml:"chosenMoveTemperatureEarly"`
	ChosenMoveTemperatureHalflife float64 `yaml:"chosenMoveTemperatureHalflife"`
	ChosenMoveSubtract            float64 `yaml:"chosenMoveSubtract"`
	ChosenMovePrune               float64 `yaml:"chosenMovePrune"`

	// Time control.
	LagBuffer                           float64 `yaml:"lagBuffer"`
	OverallocateTimeFactor              float64 `yaml:"overallocateTimeFactor"`
	MidgameTimeFactor                   float64 `yaml:"midgameTimeFactor"`
	MidgameTurnPeakTime                 float64 `yaml:"midgameTurnPeakTime"`
	EndgameTurnTimeDecay                float64 `yaml:"endgameTurnTimeDecay"`
	ObviousMovesTimeFactor              float64 `yaml:"obviousMovesTimeFactor"`
	ObviousMovesPolicyEntropyTolerance  float64 `yaml:"obviousMovesPolicyEntropyTolerance"`
	ObviousMovesPolicySurpriseTolerance float64 `yaml:"obviousMovesPolicySurpriseTolerance"`
	FutileVisitsThreshold               float64 `yaml:"futileVisitsThreshold"`
	SearchFactorAfterOnePass            float64 `yaml:"searchFactorAfterOnePass"`
	SearchFactorAfterTwoPass            float64 `yaml:"searchFactorAfterTwoPass"`
	TreeReuseCarryOverTimeFactor        float64 `yaml:"treeReuseCarryOverTimeFactor"`

	// Concurrency plumbing.
	NumVirtualLossesPerThread float64 `yaml:"numVirtualLossesPerThread"`
	NodeTableShardsPowerOfTwo int     `yaml:"nodeTableShardsPowerOfTwo"`
	MutexPoolSize             int     `yaml:"mutexPoolSize"`

	// Graph search.
	UseGraphSearch             bool    `yaml:"useGraphSearch"`
	GraphSearchRepBound        int     `yaml:"graphSearchRepBound"`
	GraphSearchCatchUpProp     float64 `yaml:"graphSearchCatchUpProp"`
	GraphSearchCatchUpLeakProb float64 `yaml:"graphSearchCatchUpLeakProb"`

	// Subtree value bias.
	SubtreeValueBiasFactor         float64 `yaml:"subtreeValueBiasFactor"`
	SubtreeValueBiasWeightExponent float64 `yaml:"subtreeValueBiasWeightExponent"`
	SubtreeValueBiasFreeProp       float64 `yaml:"subtreeValueBiasFreeProp"`
	SubtreeValueBiasTableNumShards int     `yaml:"subtreeValueBiasTableNumShards"`

	// Pattern bonus.
	AvoidRepeatedPatternUtility float64 `yaml:"avoidRepeatedPatternUtility"`
}

// DefaultParams returns the tuning the engine ships with.
func DefaultParams() Params {
	return Params{
		NumThreads:           1,
		MaxVisits:            1 << 50,
		MaxPlayouts:          1 << 50,
		MaxTime:              1e20,
		MaxVisitsPondering:   1 << 50,
		MaxPlayoutsPondering: 1 << 50,
		MaxTimePondering:     1e20,

		WinLossUtilityFactor:         1.0,
		StaticScoreUtilityFactor:     0.10,
		DynamicScoreUtilityFactor:    0.30,
		DynamicScoreCenterZeroWeight: 0.20,
		DynamicScoreCenterScale:      0.75,
		NoResultUtilityForWhite:      0.0,
		DrawEquivalentWinsForWhite:   0.5,

		CpuctExploration:             1.0,
		CpuctExplorationLog:          0.45,
		CpuctExplorationBase:         500,
		CpuctUtilityStdevPrior:       0.40,
		CpuctUtilityStdevPriorWeight: 2.0,
		CpuctUtilityStdevScale:       0.85,

		FpuReductionMax:     0.2,
		RootFpuReductionMax: 0.1,

		ValueWeightExponent:    0.25,
		UseNoisePruning:        true,
		NoisePruneUtilityScale: 0.15,
		NoisePruningCap:        1e50,

		UseUncertainty:       true,
		UncertaintyCoeff:     0.25,
		UncertaintyExponent:  1.0,
		UncertaintyMaxWeight: 8.0,

		RootDirichletNoiseTotalConcentration: 10.83,
		RootDirichletNoiseWeight:             0.25,
		RootPolicyTemperature:                1.0,
		RootPolicyTemperatureEarly:           1.0,
		RootNumSymmetriesToSample:            1,
		RootPruneUselessMoves:                true,
		NNPolicyTemperature:                  1.0,

		ChosenMoveTemperature:         0.10,
		ChosenMoveTemperatureEarly:    0.50,
		ChosenMoveTemperatureHalflife: 19,
		ChosenMovePrune:               1.0,

		OverallocateTimeFactor:              1.0,
		MidgameTimeFactor:                   1.0,
		MidgameTurnPeakTime:                 130,
		EndgameTurnTimeDecay:                100,
		ObviousMovesTimeFactor:              1.0,
		ObviousMovesPolicyEntropyTolerance:  0.30,
		ObviousMovesPolicySurpriseTolerance: 0.15,
		SearchFactorAfterOnePass:            1.0,
		SearchFactorAfterTwoPass:            1.0,
		TreeReuseCarryOverTimeFactor:        0.85,

		NumVirtualLossesPerThread: 1.0,
		NodeTableShardsPowerOfTwo: 10,
		MutexPoolSize:             1024,

		UseGraphSearch:             true,
		GraphSearchRepBound:        11,
		GraphSearchCatchUpProp:     0,
		GraphSearchCatchUpLeakProb: 0.0,

		SubtreeValueBiasFactor:         0.45,
		SubtreeValueBiasWeightExponent: 0.85,
		SubtreeValueBiasFreeProp:       0.8,
		SubtreeValueBiasTableNumShards: 1024,
	}
}

// UtilityRadius is the maximum absolute utility reachable given the
// configured utility factors.
func (p *Params) UtilityRadius() float64 {
	return p.WinLossUtilityFactor + p.StaticScoreUtilityFactor + p.DynamicScoreUtilityFactor
}

// LoadParams reads Params as yaml, applying defaults for absent keys.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse params: %w", err)
	}
	return p, nil
}

// SaveParams writes Params as yaml.
func SaveParams(path string, p Params) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	return nil
}
