package router

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("router: invalid config")

// Reserved dimension names referenced by the tier cascade and the scorer.
const (
	DimReasoning = "reasoning"
	DimCode      = "code"
	DimCreative  = "creative"
	DimMultistep = "multistep"
	DimSimple    = "simple"
	DimLength    = "length"
)

// Dimension is a named, weighted group of pattern detectors.
type Dimension struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Weight      float64  `json:"weight" yaml:"weight" toml:"weight"`
	Max         int      `json:"max" yaml:"max" toml:"max"`
	Patterns    []string `json:"patterns,omitempty" yaml:"patterns,omitempty" toml:"patterns,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// TierModels is the free/paid model pair configured for one tier.
// An empty Free means the tier has no free option.
type TierModels struct {
	Description string  `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Free        string  `json:"free,omitempty" yaml:"free,omitempty" toml:"free,omitempty"`
	Paid        string  `json:"paid" yaml:"paid" toml:"paid"`
	FullFree    string  `json:"fullFree,omitempty" yaml:"fullFree,omitempty" toml:"fullFree,omitempty"`
	FullPaid    string  `json:"fullPaid,omitempty" yaml:"fullPaid,omitempty" toml:"fullPaid,omitempty"`
	CostPerM    float64 `json:"costPerM,omitempty" yaml:"costPerM,omitempty" toml:"costPerM,omitempty"`
}

// HasFree reports whether the tier offers a free model.
func (m TierModels) HasFree() bool { return m.Free != "" }

func (m TierModels) fullFree() string {
	if m.FullFree != "" {
		return m.FullFree
	}
	return m.Free
}

func (m TierModels) fullPaid() string {
	if m.FullPaid != "" {
		return m.FullPaid
	}
	return m.Paid
}

// Thresholds are the trigger values used by the tier cascade.
type Thresholds struct {
	ReasoningTrigger float64 `json:"REASONING_TRIGGER" yaml:"REASONING_TRIGGER" toml:"REASONING_TRIGGER"`
	CodingTrigger    float64 `json:"CODING_TRIGGER" yaml:"CODING_TRIGGER" toml:"CODING_TRIGGER"`
	CreativeTrigger  float64 `json:"CREATIVE_TRIGGER" yaml:"CREATIVE_TRIGGER" toml:"CREATIVE_TRIGGER"`
	MultistepTrigger float64 `json:"MULTISTEP_TRIGGER,omitempty" yaml:"MULTISTEP_TRIGGER,omitempty" toml:"MULTISTEP_TRIGGER,omitempty"`
	SimpleMax        float64 `json:"SIMPLE_MAX" yaml:"SIMPLE_MAX" toml:"SIMPLE_MAX"`
	ComplexMin       float64 `json:"COMPLEX_MIN" yaml:"COMPLEX_MIN" toml:"COMPLEX_MIN"`
	PremiumMin       float64 `json:"PREMIUM_MIN" yaml:"PREMIUM_MIN" toml:"PREMIUM_MIN"`
}

// DefaultMultistepTrigger applies when MULTISTEP_TRIGGER is unset.
const DefaultMultistepTrigger = 0.10

func (t Thresholds) withDefaults() Thresholds {
	if t.MultistepTrigger <= 0 {
		t.MultistepTrigger = DefaultMultistepTrigger
	}
	return t
}

// Config is one immutable routing configuration snapshot.
type Config struct {
	Dimensions   []Dimension         `json:"dimensions"`
	Tiers        map[Tier]TierModels `json:"tiers"`
	Thresholds   Thresholds          `json:"thresholds"`
	Capabilities Capabilities        `json:"capabilities"`

	// LogDecisions logs each routing decision at INFO level.
	LogDecisions bool `json:"logDecisions"`
}

// Validate checks the configuration for errors that must abort loading.
func (c Config) Validate() error {
	if len(c.Dimensions) == 0 {
		return fmt.Errorf("%w: no dimensions configured", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Dimensions))
	for i, d := range c.Dimensions {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("%w: dimension %d has no name", ErrInvalidConfig, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate dimension %q", ErrInvalidConfig, name)
		}
		seen[name] = true
		if d.Max < 1 {
			return fmt.Errorf("%w: dimension %q: max must be >= 1, got %d", ErrInvalidConfig, name, d.Max)
		}
		if d.Weight < 0 {
			return fmt.Errorf("%w: dimension %q: negative weight %v", ErrInvalidConfig, name, d.Weight)
		}
	}

	for _, tier := range AllTiers() {
		m, ok := c.Tiers[tier]
		if !ok {
			return fmt.Errorf("%w: missing tier %s", ErrInvalidConfig, tier)
		}
		if m.Paid == "" {
			return fmt.Errorf("%w: tier %s has no paid model", ErrInvalidConfig, tier)
		}
	}
	if c.Tiers[TierPremium].HasFree() {
		return fmt.Errorf("%w: tier %s cannot have a free model", ErrInvalidConfig, TierPremium)
	}

	th := c.Thresholds
	if th.SimpleMax > th.ComplexMin || th.ComplexMin > th.PremiumMin {
		return fmt.Errorf("%w: thresholds must satisfy SIMPLE_MAX <= COMPLEX_MIN <= PREMIUM_MIN", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a deep copy so a snapshot never aliases caller-owned slices or maps.
func (c Config) Clone() Config {
	out := c
	out.Dimensions = make([]Dimension, len(c.Dimensions))
	for i, d := range c.Dimensions {
		d.Patterns = append([]string(nil), d.Patterns...)
		out.Dimensions[i] = d
	}
	out.Tiers = make(map[Tier]TierModels, len(c.Tiers))
	for k, v := range c.Tiers {
		out.Tiers[k] = v
	}
	out.Capabilities = c.Capabilities.clone()
	return out
}

// DefaultConfig returns the built-in dimensions, tier table and thresholds.
func DefaultConfig() Config {
	return Config{
		Dimensions: defaultDimensions(),
		Tiers:      defaultTiers(),
		Thresholds: Thresholds{
			ReasoningTrigger: 0.20,
			CodingTrigger:    0.15,
			CreativeTrigger:  0.15,
			MultistepTrigger: 0.10,
			SimpleMax:        0.15,
			ComplexMin:       0.35,
			PremiumMin:       0.55,
		},
		Capabilities: DefaultCapabilities(),
		LogDecisions: true,
	}
}

func defaultTiers() map[Tier]TierModels {
	return map[Tier]TierModels{
		TierSimple: {
			Description: "Greetings, small talk, short lookups",
			Free:        "llama-3.3-70b-instruct:free",
			FullFree:    "openrouter/meta-llama/llama-3.3-70b-instruct:free",
			Paid:        "claude-3.5-haiku",
			FullPaid:    "anthropic/claude-3.5-haiku",
			CostPerM:    2.4,
		},
		TierCoding: {
			Description: "Code generation, debugging and refactoring",
			Free:        "qwen3-coder:free",
			FullFree:    "openrouter/qwen/qwen3-coder:free",
			Paid:        "claude-sonnet-4",
			FullPaid:    "anthropic/claude-sonnet-4",
			CostPerM:    9.0,
		},
		TierCreative: {
			Description: "Stories, poetry, brainstorming",
			Free:        "trinity-mini:free",
			FullFree:    "openrouter/arcee-ai/trinity-mini:free",
			Paid:        "claude-sonnet-4",
			FullPaid:    "anthropic/claude-sonnet-4",
			CostPerM:    9.0,
		},
		TierReasoning: {
			Description: "Proofs, derivations, step-by-step logic",
			Free:        "deepseek-r1t2-chimera:free",
			FullFree:    "openrouter/tngtech/deepseek-r1t2-chimera:free",
			Paid:        "claude-opus-4",
			FullPaid:    "anthropic/claude-opus-4",
			CostPerM:    45.0,
		},
		TierComplex: {
			Description: "Multi-step tasks and moderately involved analysis",
			Free:        "deepseek-chat-v3.1:free",
			FullFree:    "openrouter/deepseek/deepseek-chat-v3.1:free",
			Paid:        "claude-sonnet-4",
			FullPaid:    "anthropic/claude-sonnet-4",
			CostPerM:    9.0,
		},
		TierPremium: {
			Description: "Broad, high-stakes design work",
			Paid:        "claude-opus-4",
			FullPaid:    "anthropic/claude-opus-4",
			CostPerM:    45.0,
		},
	}
}

func defaultDimensions() []Dimension {
	return []Dimension{
		{
			Name:        DimReasoning,
			Weight:      0.10,
			Max:         5,
			Description: "Proofs, derivations and explicit reasoning requests",
			Patterns: []string{
				`\b(prove|proof|proofs)\b`,
				`\b(theorem|lemma|corollary|axiom)\b`,
				`\bstep[- ]by[- ]step\b`,
				`\b(derive|derivation|deduce|infer)\b`,
				`\b(logic|logical|paradox|contradiction)\b`,
				`\b(induction|recurrence)\b`,
				`\bwhy (does|do|is|would)\b`,
				`\b(mathematical|mathematically|equation|formula)\b`,
				`\bformal(ly)? (verification|proof|methods?)\b`,
				`\b(reason|think) (through|carefully)\b`,
			},
		},
		{
			Name:        DimCode,
			Weight:      0.08,
			Max:         5,
			Description: "Programming languages, code constructs and coding verbs",
			Patterns: []string{
				`\b(python|javascript|typescript|golang|rust|java|ruby|php|swift|kotlin|sql|bash)\b|c\+\+`,
				`\b(function|method|class|struct|interface)\b`,
				`\b(write|implement|create|build)\b.{0,40}\b(function|script|program|code|class|api|endpoint)\b`,
				`\b(sort|array|linked list|hash ?map|binary tree|recursion|loop)\b`,
				`\b(debug|refactor|compile|stack trace|exception|bug)\b`,
				"```",
			},
		},
		{
			Name:        DimCreative,
			Weight:      0.08,
			Max:         4,
			Description: "Creative writing and ideation",
			Patterns: []string{
				`\b(story|stories|poem|poetry|haiku|lyrics|song)\b`,
				`\b(fiction|fictional|novel|fantasy)\b`,
				`\b(imagine|imaginative|creative|creatively)\b`,
				`\bwrite (a |an |me a )?(story|poem|song|essay|script|letter)`,
				`\b(character|plot|narrative|dialogue)\b`,
				`\b(brainstorm|slogan|tagline)\b`,
			},
		},
		{
			Name:        DimMultistep,
			Weight:      0.05,
			Max:         4,
			Description: "Sequenced, multi-step instructions",
			Patterns: []string{
				`\bfirst\b.*\bthen\b`,
				`\bstep \d`,
				`\b(after that|afterwards|subsequently|finally)\b`,
				`\b(and then|followed by)\b`,
				`(?m)^\s*\d+[.)]\s`,
			},
		},
		{
			Name:        DimSimple,
			Weight:      0.05,
			Max:         3,
			Description: "Greetings and trivially simple requests",
			Patterns: []string{
				`^\s*(hi|hello|hey|yo|greetings)\b`,
				`\bhow are you\b`,
				`\b(thanks|thank you|thx)\b`,
				`^\s*what is\b`,
				`\bgood (morning|afternoon|evening|night)\b`,
				`^\s*(yes|no|ok|okay|sure)\b`,
			},
		},
		{
			Name:        "technical",
			Weight:      0.08,
			Max:         6,
			Description: "Systems and infrastructure vocabulary",
			Patterns: []string{
				`\b(distributed|decentralized|decentralised)\b`,
				`\barchitect(ure|ural)?\b`,
				`\bfault[- ]toleran(t|ce)\b`,
				`\bcqrs\b`,
				`\bevent[- ]sourc(ing|ed)\b`,
				`\b(microservices?|service mesh)\b`,
				`\b(consensus|raft|paxos|replication|sharding)\b`,
				`\b(scalable|scalability|high availability|throughput|latency)\b`,
				`\b(kubernetes|docker|terraform)\b`,
				`\b(database|schema|indexing)\b`,
				`\b(encryption|authentication|oauth)\b`,
			},
		},
		{
			Name:        "domain",
			Weight:      0.07,
			Max:         3,
			Description: "Specialised professional domains",
			Patterns: []string{
				`\b(trading|finance|financial|portfolio|derivatives?)\b`,
				`\b(medical|clinical|diagnosis|pharmaceutical)\b`,
				`\b(legal|compliance|regulatory|liability)\b`,
				`\b(genomics|quantum|physics|chemistry)\b`,
			},
		},
		{
			Name:        "scope",
			Weight:      0.05,
			Max:         3,
			Description: "Breadth of the requested deliverable",
			Patterns: []string{
				`\b(full|complete|entire|end[- ]to[- ]end)\b`,
				`\b(platform|system|framework|infrastructure)\b`,
				`\b(production|enterprise|mission[- ]critical)\b`,
				`\b(design|plan|strategy|roadmap)\b`,
			},
		},
		{
			Name:        DimLength,
			Weight:      0.20,
			Max:         1,
			Description: "Character-count bands",
		},
	}
}
