package router

import (
	"math"
	"unicode/utf8"
)

// Criterion names, used as Breakdown keys.
const (
	CritCost         = "cost"
	CritTask         = "task_suitability"
	CritContext      = "context_fit"
	CritSpeed        = "speed"
	CritQuality      = "quality"
	CritReliability  = "reliability"
	CritMultilingual = "multilingual"
	CritCode         = "code_generation"
	CritReasoning    = "reasoning_depth"
	CritCreativity   = "creativity"
	CritSafety       = "safety"
	CritLatency      = "latency_tolerance"
	CritDiversity    = "provider_diversity"
	CritExperimental = "experimental_features"
)

// criterionWeights are fixed and sum to 1.0.
var criterionWeights = map[string]float64{
	CritCost:         0.25,
	CritTask:         0.20,
	CritContext:      0.15,
	CritSpeed:        0.10,
	CritQuality:      0.10,
	CritReliability:  0.05,
	CritMultilingual: 0.05,
	CritCode:         0.03,
	CritReasoning:    0.03,
	CritCreativity:   0.02,
	CritSafety:       0.01,
	CritLatency:      0.005,
	CritDiversity:    0.0025,
	CritExperimental: 0.0025,
}

// Complexity bands on the total score shared by the cost and quality rules.
const (
	bandSimple  = 0.15
	bandMedium  = 0.35
	bandComplex = 0.55
)

// Breakdown holds each criterion's sub-score in [0,1].
type Breakdown map[string]float64

// criterionOrder fixes the summation order of Weighted.
var criterionOrder = []string{
	CritCost, CritTask, CritContext, CritSpeed, CritQuality, CritReliability, CritMultilingual,
	CritCode, CritReasoning, CritCreativity, CritSafety, CritLatency, CritDiversity, CritExperimental,
}

// Weighted returns the weighted sum of the breakdown.
func (b Breakdown) Weighted() float64 {
	var total float64
	for _, name := range criterionOrder {
		total += b[name] * criterionWeights[name]
	}
	return clamp01(total)
}

// CapabilityScorer rates how well a candidate model suits a request.
type CapabilityScorer struct {
	caps Capabilities
}

// NewCapabilityScorer creates a scorer over the given registry.
func NewCapabilityScorer(caps Capabilities) *CapabilityScorer {
	return &CapabilityScorer{caps: caps}
}

// CalculateScore returns the blended suitability of model for the request.
func (s *CapabilityScorer) CalculateScore(model string, scores DimensionScores, totalScore float64, message string) float64 {
	return s.Breakdown(model, scores, totalScore, message).Weighted()
}

// Breakdown returns all 14 sub-scores for model.
func (s *CapabilityScorer) Breakdown(model string, scores DimensionScores, totalScore float64, message string) Breakdown {
	c := s.caps.Lookup(model)
	nonASCII := hasNonASCII(message)

	return Breakdown{
		CritCost:         costScore(c, totalScore),
		CritTask:         taskSuitability(c, scores),
		CritContext:      contextFit(c, message),
		CritSpeed:        clamp01(c.Speed),
		CritQuality:      qualityScore(c, totalScore),
		CritReliability:  reliabilityScore(c),
		CritMultilingual: multilingualScore(c, nonASCII),
		CritCode:         specialtyScore(c, scores, SpecialtyCode),
		CritReasoning:    specialtyScore(c, scores, SpecialtyReasoning),
		CritCreativity:   specialtyScore(c, scores, SpecialtyCreative),
		CritSafety:       1.0,
		CritLatency:      latencyScore(c, totalScore),
		CritDiversity:    s.diversityScore(c),
		CritExperimental: experimentalScore(c),
	}
}

// ComplexityMultiplier shrinks a free model's cost advantage as the request grows harder.
func ComplexityMultiplier(totalScore float64) float64 {
	switch {
	case totalScore < bandSimple:
		return 1.0
	case totalScore < bandMedium:
		return 0.8
	case totalScore < bandComplex:
		return 0.5
	default:
		return 0.0
	}
}

func costScore(c Capability, totalScore float64) float64 {
	m := ComplexityMultiplier(totalScore)
	if c.Free {
		return m
	}
	return (1 - m) * 0.5
}

func taskSuitability(c Capability, scores DimensionScores) float64 {
	if c.Specialist() {
		for _, sp := range c.Specialties {
			if dim, ok := specialtyDimension[sp]; ok && scores[dim] > 0 {
				return 1.0
			}
		}
		return 0.5
	}
	if c.Known {
		return 0.7
	}
	return 0.5
}

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4.0))
}

func contextFit(c Capability, message string) float64 {
	window := float64(c.ContextWindow)
	if window <= 0 {
		return 0.5
	}
	tokens := float64(EstimateTokens(message))
	switch {
	case tokens > 0.8*window:
		return 0.0
	case tokens > 0.5*window:
		return 0.5
	default:
		return 1.0
	}
}

func qualityScore(c Capability, totalScore float64) float64 {
	if totalScore >= bandComplex {
		if c.Quality >= 0.9 {
			return 1.0
		}
		return 0.3
	}
	if c.Quality >= 0.6 {
		return 1.0
	}
	return 0.7
}

func reliabilityScore(c Capability) float64 {
	r := clamp01(c.Reliability)
	if c.Free {
		// Free pools are rate limited.
		r *= 0.8
	}
	return r
}

func multilingualScore(c Capability, nonASCII bool) float64 {
	if !nonASCII {
		return 1.0
	}
	if c.Multilingual {
		return 1.0
	}
	return 0.4
}

func specialtyScore(c Capability, scores DimensionScores, specialty string) float64 {
	if scores[specialtyDimension[specialty]] <= 0 {
		return 0.5
	}
	switch {
	case c.Has(specialty):
		return 1.0
	case c.Known:
		return 0.7
	default:
		return 0.4
	}
}

func latencyScore(c Capability, totalScore float64) float64 {
	if totalScore >= bandSimple {
		return 1.0
	}
	if c.Speed >= 0.8 {
		return 1.0
	}
	return 0.6
}

func (s *CapabilityScorer) diversityScore(c Capability) float64 {
	if c.Provider == "" || c.Provider == s.caps.PrimaryProvider {
		return 0.5
	}
	return 1.0
}

func experimentalScore(c Capability) float64 {
	if c.Has(SpecialtyExperimental) {
		return 1.0
	}
	return 0.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
