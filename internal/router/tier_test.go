package router

import (
	"encoding/json"
	"testing"
)

func TestTierString(t *testing.T) {
	tests := []struct {
		tier     Tier
		expected string
	}{
		{TierSimple, "SIMPLE"},
		{TierCoding, "CODING"},
		{TierCreative, "CREATIVE"},
		{TierReasoning, "REASONING"},
		{TierComplex, "COMPLEX"},
		{TierPremium, "PREMIUM"},
		{Tier(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.tier.String() != tt.expected {
			t.Errorf("Tier(%d).String() = %s, want %s", tt.tier, tt.tier.String(), tt.expected)
		}
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range AllTiers() {
		got, err := ParseTier(tier.String())
		if err != nil || got != tier {
			t.Errorf("ParseTier(%q) = %v, %v", tier.String(), got, err)
		}
	}

	got, err := ParseTier("  coding ")
	if err != nil || got != TierCoding {
		t.Errorf("expected case-insensitive parse, got %v, %v", got, err)
	}

	if _, err := ParseTier("MEDIUM"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestTierJSON(t *testing.T) {
	data, err := json.Marshal(TierCreative)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"CREATIVE"` {
		t.Errorf("expected \"CREATIVE\", got %s", data)
	}

	var decoded Tier
	if err := json.Unmarshal([]byte(`"reasoning"`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != TierReasoning {
		t.Errorf("expected REASONING, got %s", decoded)
	}

	// Integer form
	if err := json.Unmarshal([]byte("4"), &decoded); err != nil {
		t.Fatalf("unmarshal int: %v", err)
	}
	if decoded != TierComplex {
		t.Errorf("expected COMPLEX from 4, got %s", decoded)
	}

	if err := json.Unmarshal([]byte("9"), &decoded); err == nil {
		t.Error("expected error for out-of-range integer tier")
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &decoded); err == nil {
		t.Error("expected error for unknown tier name")
	}
}

func TestTierMapKeys(t *testing.T) {
	in := map[Tier]int{TierSimple: 1, TierPremium: 2}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"SIMPLE":1,"PREMIUM":2}` && string(data) != `{"PREMIUM":2,"SIMPLE":1}` {
		t.Errorf("unexpected encoding %s", data)
	}

	var out map[Tier]int
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out[TierSimple] != 1 || out[TierPremium] != 2 {
		t.Errorf("unexpected map %v", out)
	}
}
