package router

import "strings"

// Specialties a model can be tagged with.
const (
	SpecialtyCode         = "code"
	SpecialtyReasoning    = "reasoning"
	SpecialtyCreative     = "creative"
	SpecialtyExperimental = "experimental"
)

// specialtyDimension maps task specialties to the dimension that signals them.
var specialtyDimension = map[string]string{
	SpecialtyCode:      DimCode,
	SpecialtyReasoning: DimReasoning,
	SpecialtyCreative:  DimCreative,
}

// ModelFamily describes the static capabilities of a model family.
// Match is a lowercase substring of the model identifier.
type ModelFamily struct {
	Match         string  `json:"match" yaml:"match" toml:"match"`
	Family        string  `json:"family" yaml:"family" toml:"family"`
	Provider      string  `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider,omitempty"`
	ContextWindow int     `json:"contextWindow" yaml:"contextWindow" toml:"contextWindow"`
	Speed         float64 `json:"speed" yaml:"speed" toml:"speed"`
	Quality       float64 `json:"quality" yaml:"quality" toml:"quality"`
	Reliability   float64 `json:"reliability" yaml:"reliability" toml:"reliability"`
	Multilingual  bool    `json:"multilingual,omitempty" yaml:"multilingual,omitempty" toml:"multilingual,omitempty"`
}

// SpecialtyRule tags every model whose identifier contains Match.
type SpecialtyRule struct {
	Match     string `json:"match" yaml:"match" toml:"match"`
	Specialty string `json:"specialty" yaml:"specialty" toml:"specialty"`
}

// Capabilities is the model capability registry used by the scorer.
type Capabilities struct {
	Families        []ModelFamily   `json:"families"`
	Specialties     []SpecialtyRule `json:"specialties"`
	Default         ModelFamily     `json:"default"`
	PrimaryProvider string          `json:"primaryProvider"`
}

// Capability is the resolved capability record for one model identifier.
type Capability struct {
	ModelFamily
	ID          string   `json:"id"`
	Free        bool     `json:"free"`
	Known       bool     `json:"known"`
	Specialties []string `json:"specialties,omitempty"`
}

// Has reports whether the model carries the given specialty.
func (c Capability) Has(specialty string) bool {
	for _, s := range c.Specialties {
		if s == specialty {
			return true
		}
	}
	return false
}

// Specialist reports whether the model carries a task specialty.
func (c Capability) Specialist() bool {
	for _, s := range c.Specialties {
		if _, ok := specialtyDimension[s]; ok {
			return true
		}
	}
	return false
}

// IsFreeModel reports whether a model identifier denotes a free variant.
func IsFreeModel(id string) bool {
	return strings.Contains(strings.ToLower(id), ":free")
}

// Lookup resolves a model identifier against the registry. The first
// matching family wins; every matching specialty rule contributes.
func (c Capabilities) Lookup(id string) Capability {
	lower := strings.ToLower(id)
	capab := Capability{ID: id, Free: IsFreeModel(id), ModelFamily: c.Default}

	for _, f := range c.Families {
		if f.Match != "" && strings.Contains(lower, strings.ToLower(f.Match)) {
			capab.ModelFamily = f
			capab.Known = true
			break
		}
	}

	for _, r := range c.Specialties {
		if r.Match == "" || !strings.Contains(lower, strings.ToLower(r.Match)) {
			continue
		}
		if !capab.Has(r.Specialty) {
			capab.Specialties = append(capab.Specialties, r.Specialty)
		}
	}
	return capab
}

func (c Capabilities) clone() Capabilities {
	out := c
	out.Families = append([]ModelFamily(nil), c.Families...)
	out.Specialties = append([]SpecialtyRule(nil), c.Specialties...)
	return out
}

// DefaultCapabilities returns the built-in registry.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Families: []ModelFamily{
			{Match: "opus", Family: "claude", Provider: "anthropic", ContextWindow: 200000, Speed: 0.5, Quality: 0.98, Reliability: 0.98, Multilingual: true},
			{Match: "claude", Family: "claude", Provider: "anthropic", ContextWindow: 200000, Speed: 0.75, Quality: 0.92, Reliability: 0.97, Multilingual: true},
			{Match: "gpt-4", Family: "gpt-4", Provider: "openai", ContextWindow: 128000, Speed: 0.7, Quality: 0.9, Reliability: 0.95, Multilingual: true},
			{Match: "gemini", Family: "gemini", Provider: "google", ContextWindow: 1000000, Speed: 0.85, Quality: 0.88, Reliability: 0.93, Multilingual: true},
			{Match: "deepseek", Family: "deepseek", Provider: "deepseek", ContextWindow: 163840, Speed: 0.6, Quality: 0.85, Reliability: 0.85},
			{Match: "qwen", Family: "qwen", Provider: "alibaba", ContextWindow: 262144, Speed: 0.8, Quality: 0.8, Reliability: 0.85, Multilingual: true},
			{Match: "llama", Family: "llama", Provider: "meta", ContextWindow: 131072, Speed: 0.8, Quality: 0.75, Reliability: 0.85},
			{Match: "mistral", Family: "mistral", Provider: "mistral", ContextWindow: 32768, Speed: 0.85, Quality: 0.72, Reliability: 0.85, Multilingual: true},
		},
		Specialties: []SpecialtyRule{
			{Match: "code", Specialty: SpecialtyCode},
			{Match: "r1", Specialty: SpecialtyReasoning},
			{Match: "chimera", Specialty: SpecialtyReasoning},
			{Match: "think", Specialty: SpecialtyReasoning},
			{Match: "trinity", Specialty: SpecialtyCreative},
			{Match: "think", Specialty: SpecialtyExperimental},
			{Match: "preview", Specialty: SpecialtyExperimental},
			{Match: "-exp", Specialty: SpecialtyExperimental},
			{Match: "beta", Specialty: SpecialtyExperimental},
		},
		Default: ModelFamily{
			ContextWindow: 32000,
			Speed:         0.6,
			Quality:       0.6,
			Reliability:   0.8,
		},
		PrimaryProvider: "anthropic",
	}
}
