package router

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier represents the complexity class a request is routed to.
type Tier int

const (
	TierSimple    Tier = iota // Greetings, short factual questions
	TierCoding                // Code generation, debugging, refactoring
	TierCreative              // Stories, poems, brainstorming
	TierReasoning             // Proofs, derivations, logic chains
	TierComplex               // Multi-step or moderately involved work
	TierPremium               // High-stakes, broad design work; paid only
)

var tierNames = [...]string{"SIMPLE", "CODING", "CREATIVE", "REASONING", "COMPLEX", "PREMIUM"}

// AllTiers lists every tier in declaration order.
func AllTiers() []Tier {
	return []Tier{TierSimple, TierCoding, TierCreative, TierReasoning, TierComplex, TierPremium}
}

func (t Tier) String() string {
	if t >= 0 && int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "UNKNOWN"
}

// Valid reports whether t is one of the six enumerated tiers.
func (t Tier) Valid() bool {
	return t >= TierSimple && t <= TierPremium
}

// ParseTier converts a tier name (case-insensitive) to a Tier.
func ParseTier(s string) (Tier, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range tierNames {
		if name == upper {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// MarshalText implements encoding.TextMarshaler so tiers work as map keys.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(data []byte) error {
	parsed, err := ParseTier(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler. Integers are accepted too.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var i int
		if err2 := json.Unmarshal(data, &i); err2 != nil {
			return err
		}
		if !Tier(i).Valid() {
			return fmt.Errorf("invalid tier %d", i)
		}
		*t = Tier(i)
		return nil
	}
	return t.UnmarshalText([]byte(s))
}
