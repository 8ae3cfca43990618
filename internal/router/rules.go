package router

import "fmt"

// Signals are the inputs to tier resolution for one request.
type Signals struct {
	Scores DimensionScores
	Total  float64
}

// Rule is one row of the tier decision table.
type Rule struct {
	Name    string
	Tier    Tier
	Match   func(s Signals, th Thresholds) bool
	Explain func(s Signals, th Thresholds) string
}

// Simple-dimension short circuit: a prompt with clear simple markers and a
// low total stays SIMPLE even if it mentions a technical term or two.
const (
	simpleShortCircuitMin   = 0.10
	simpleShortCircuitTotal = 0.30
)

// DefaultRules returns the tier cascade. Order matters: the first matching
// rule wins, and the last rule always matches.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "reasoning-trigger",
			Tier: TierReasoning,
			Match: func(s Signals, th Thresholds) bool {
				return s.Scores[DimReasoning] >= th.ReasoningTrigger
			},
			Explain: func(s Signals, th Thresholds) string {
				return fmt.Sprintf("reasoning %.2f >= %.2f", s.Scores[DimReasoning], th.ReasoningTrigger)
			},
		},
		{
			Name: "coding-trigger",
			Tier: TierCoding,
			Match: func(s Signals, th Thresholds) bool {
				return s.Scores[DimCode] >= th.CodingTrigger
			},
			Explain: func(s Signals, th Thresholds) string {
				return fmt.Sprintf("code %.2f >= %.2f", s.Scores[DimCode], th.CodingTrigger)
			},
		},
		{
			Name: "creative-trigger",
			Tier: TierCreative,
			Match: func(s Signals, th Thresholds) bool {
				return s.Scores[DimCreative] >= th.CreativeTrigger
			},
			Explain: func(s Signals, th Thresholds) string {
				return fmt.Sprintf("creative %.2f >= %.2f", s.Scores[DimCreative], th.CreativeTrigger)
			},
		},
		{
			Name: "multistep-trigger",
			Tier: TierComplex,
			Match: func(s Signals, th Thresholds) bool {
				return s.Scores[DimMultistep] >= th.MultistepTrigger
			},
			Explain: func(s Signals, th Thresholds) string {
				return fmt.Sprintf("multistep %.2f >= %.2f", s.Scores[DimMultistep], th.MultistepTrigger)
			},
		},
		{
			Name: "simple-short-circuit",
			Tier: TierSimple,
			Match: func(s Signals, _ Thresholds) bool {
				return s.Scores[DimSimple] >= simpleShortCircuitMin && s.Total < simpleShortCircuitTotal
			},
			Explain: func(s Signals, _ Thresholds) string {
				return fmt.Sprintf("simple %.2f >= %.2f and total %.2f < %.2f",
					s.Scores[DimSimple], simpleShortCircuitMin, s.Total, simpleShortCircuitTotal)
			},
		},
		{
			Name: "simple-band",
			Tier: TierSimple,
			Match: func(s Signals, th Thresholds) bool {
				return s.Total < th.SimpleMax
			},
			Explain: func(s Signals, th Thresholds) string {
				return fmt.Sprintf("total %.2f < SIMPLE_MAX %.2f", s.Total, th.SimpleMax)
			},
		},
		{
			Name: "premium-band",
			Tier: TierPremium,
			Match: func(s Signals, th Thresholds) bool {
				return s.Total >= th.PremiumMin
			},
			Explain: func(s Signals, th Thresholds) string {
				return fmt.Sprintf("total %.2f >= PREMIUM_MIN %.2f", s.Total, th.PremiumMin)
			},
		},
		{
			Name: "complex-band",
			Tier: TierComplex,
			Match: func(s Signals, th Thresholds) bool {
				return s.Total >= th.ComplexMin
			},
			Explain: func(s Signals, th Thresholds) string {
				return fmt.Sprintf("total %.2f >= COMPLEX_MIN %.2f", s.Total, th.ComplexMin)
			},
		},
		{
			Name:  "default",
			Tier:  TierComplex,
			Match: func(Signals, Thresholds) bool { return true },
			Explain: func(s Signals, _ Thresholds) string {
				return fmt.Sprintf("total %.2f between bands, defaulting", s.Total)
			},
		},
	}
}

// ResolveTier walks rules in order and returns the first match.
// If no rule matches, COMPLEX is returned with the synthetic "default" rule.
func ResolveTier(rules []Rule, s Signals, th Thresholds) (Tier, Rule) {
	th = th.withDefaults()
	for _, r := range rules {
		if r.Match(s, th) {
			return r.Tier, r
		}
	}
	return TierComplex, Rule{
		Name:    "default",
		Tier:    TierComplex,
		Explain: func(Signals, Thresholds) string { return "no rule matched, defaulting" },
	}
}
