package router

import (
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(DefaultConfig(), newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

const (
	promptHello   = "Hello, how are you?"
	promptCoding  = "Write a Python function to sort an array"
	promptPremium = "Design a full distributed trading platform architecture with fault tolerance, using CQRS patterns, event sourcing, and formal verification methods"
)

func TestNew(t *testing.T) {
	r := newTestRouter(t)
	if r.stats == nil {
		t.Error("expected non-nil stats")
	}
	if len(r.Warnings()) != 0 {
		t.Errorf("default patterns should all compile: %v", r.Warnings())
	}
}

func TestRouteSimplePrompt(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(promptHello, true)

	if res.Tier != TierSimple {
		t.Fatalf("expected SIMPLE, got %s (total=%.3f rule=%s)", res.Tier, res.TotalScore, res.Rule)
	}
	if res.Model != "llama-3.3-70b-instruct:free" {
		t.Errorf("expected free simple model, got %s", res.Model)
	}
	if res.Fallback != "claude-3.5-haiku" {
		t.Errorf("expected paid fallback, got %q", res.Fallback)
	}
	if res.FullModel != "openrouter/meta-llama/llama-3.3-70b-instruct:free" {
		t.Errorf("unexpected full model %s", res.FullModel)
	}
}

func TestRouteCodingPrompt(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(promptCoding, true)

	if res.Tier != TierCoding {
		t.Fatalf("expected CODING, got %s (scores=%v)", res.Tier, res.Scores)
	}
	if res.Rule != "coding-trigger" {
		t.Errorf("expected coding-trigger, got %s", res.Rule)
	}
	if res.Scores[DimCode] < DefaultConfig().Thresholds.CodingTrigger {
		t.Errorf("code score %v below trigger", res.Scores[DimCode])
	}
	if res.Model != "qwen3-coder:free" {
		t.Errorf("expected free coding model, got %s", res.Model)
	}
	if res.Fallback == "" {
		t.Error("expected non-empty fallback")
	}
}

func TestRoutePremiumPrompt(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(promptPremium, true)

	if res.Tier != TierPremium {
		t.Fatalf("expected PREMIUM, got %s (total=%.3f scores=%v)", res.Tier, res.TotalScore, res.Scores)
	}
	if res.TotalScore < DefaultConfig().Thresholds.PremiumMin {
		t.Errorf("total %v below PREMIUM_MIN", res.TotalScore)
	}
	if res.Model != "claude-opus-4" {
		t.Errorf("expected paid premium model, got %s", res.Model)
	}
	if res.Fallback != "" {
		t.Errorf("expected no fallback, got %q", res.Fallback)
	}
	if !strings.Contains(res.Rationale, "no free model") {
		t.Errorf("unexpected rationale %q", res.Rationale)
	}
}

func TestRoutePaidStrategy(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(promptCoding, false)

	if res.Tier != TierCoding {
		t.Fatalf("strategy must not change the tier, got %s", res.Tier)
	}
	if res.Model != "claude-sonnet-4" || res.Fallback != "" {
		t.Errorf("expected paid model without fallback, got %s / %q", res.Model, res.Fallback)
	}
	if !strings.Contains(res.Rationale, "paid model by strategy") {
		t.Errorf("unexpected rationale %q", res.Rationale)
	}
}

func TestRouteModelBelongsToTier(t *testing.T) {
	r := newTestRouter(t)
	tiers := DefaultConfig().Tiers
	prompts := []string{
		"", "hi", promptHello, promptCoding, promptPremium,
		"Write me a poem about the sea and a story about a dragon",
		"Prove the theorem step by step using induction",
		"First install the package, then configure it, and then finally run it",
		strings.Repeat("Explain the report. ", 120),
	}

	for _, p := range prompts {
		for _, preferFree := range []bool{true, false} {
			res := r.Route(p, preferFree)
			m := tiers[res.Tier]
			if res.Model != m.Free && res.Model != m.Paid {
				t.Errorf("%q: model %s not configured for %s", p, res.Model, res.Tier)
			}
			if !res.Tier.Valid() {
				t.Errorf("%q: invalid tier %d", p, res.Tier)
			}
			if res.Confidence < 0 || res.Confidence > 1 {
				t.Errorf("%q: confidence %v out of range", p, res.Confidence)
			}
			if res.Tier == TierPremium && res.Fallback != "" {
				t.Errorf("%q: premium must not carry a fallback", p)
			}
		}
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := newTestRouter(t)
	for _, p := range []string{promptHello, promptCoding, promptPremium} {
		a := r.Route(p, true)
		b := r.Route(p, true)
		a.Elapsed, b.Elapsed = 0, 0
		if !reflect.DeepEqual(a, b) {
			t.Errorf("%q: results differ:\n%+v\n%+v", p, a, b)
		}
	}
}

func TestRouteRepeatedIsStable(t *testing.T) {
	r := newTestRouter(t)
	boundary := "Hello, how are you? distributed cqrs trading full platform " + strings.Repeat("lorem ipsum dolor amet ", 5)
	for _, p := range []string{boundary, promptPremium} {
		first := r.Route(p, false)
		for i := 0; i < 1000; i++ {
			got := r.Route(p, false)
			if got.Tier != first.Tier || got.Model != first.Model || got.TotalScore != first.TotalScore {
				t.Fatalf("%q: run %d got %s/%s/%v, first %s/%s/%v", p, i,
					got.Tier, got.Model, got.TotalScore, first.Tier, first.Model, first.TotalScore)
			}
		}

		want := r.ScoreModels(p, []string{"claude-opus-4"})["claude-opus-4"]
		for i := 0; i < 200; i++ {
			if got := r.ScoreModels(p, []string{"claude-opus-4"})["claude-opus-4"]; got != want {
				t.Fatalf("%q: capability score drifted from %v to %v", p, want, got)
			}
		}
	}
}

func TestRouteScoreGrowsWithMatches(t *testing.T) {
	r := newTestRouter(t)
	steps := []string{
		"python",
		"python function",
		"write a python function",
		"write a python function to sort",
		"write a python function to sort and debug it",
		"write a python function to sort and debug it ```",
	}
	var prevTotal, prevCode float64
	for _, text := range steps {
		res := r.Route(text, true)
		if res.TotalScore < prevTotal {
			t.Errorf("%q: total dropped from %v to %v", text, prevTotal, res.TotalScore)
		}
		if res.Scores[DimCode] < prevCode {
			t.Errorf("%q: code score dropped from %v to %v", text, prevCode, res.Scores[DimCode])
		}
		prevTotal, prevCode = res.TotalScore, res.Scores[DimCode]
	}
	if prevCode == 0 {
		t.Error("expected the code dimension to match")
	}
}

func TestConfidence(t *testing.T) {
	if got := Confidence(0.3); !approx(got, 0.5) {
		t.Errorf("Confidence(0.3) = %v, want 0.5", got)
	}
	if Confidence(0.8) <= Confidence(0.4) {
		t.Error("confidence should increase with total score")
	}
	for _, v := range []float64{-10, 0, 0.3, 1, 100} {
		c := Confidence(v)
		if c < 0 || c > 1 {
			t.Errorf("Confidence(%v) = %v out of range", v, c)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no dimensions", func(c *Config) { c.Dimensions = nil }},
		{"empty dimension name", func(c *Config) { c.Dimensions[0].Name = " " }},
		{"duplicate dimension", func(c *Config) { c.Dimensions[1].Name = c.Dimensions[0].Name }},
		{"zero max", func(c *Config) { c.Dimensions[0].Max = 0 }},
		{"negative weight", func(c *Config) { c.Dimensions[0].Weight = -1 }},
		{"missing tier", func(c *Config) { delete(c.Tiers, TierCreative) }},
		{"missing paid model", func(c *Config) {
			m := c.Tiers[TierSimple]
			m.Paid = ""
			c.Tiers[TierSimple] = m
		}},
		{"free premium", func(c *Config) {
			m := c.Tiers[TierPremium]
			m.Free = "something:free"
			c.Tiers[TierPremium] = m
		}},
		{"thresholds out of order", func(c *Config) { c.Thresholds.ComplexMin = 0.9 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, newTestLogger())
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigIsolation(t *testing.T) {
	cfg := DefaultConfig()
	r, err := New(cfg, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg.Dimensions[0].Patterns[0] = "nothing"
	cfg.Tiers[TierSimple] = TierModels{Paid: "changed"}

	got := r.Config()
	if got.Tiers[TierSimple].Paid != "claude-3.5-haiku" {
		t.Error("router must not alias the caller's tier map")
	}
	if got.Dimensions[0].Patterns[0] == "nothing" {
		t.Error("router must not alias the caller's patterns")
	}
}

func TestReload(t *testing.T) {
	r := newTestRouter(t)

	cfg := DefaultConfig()
	m := cfg.Tiers[TierSimple]
	m.Free = "mistral-small:free"
	cfg.Tiers[TierSimple] = m
	if err := r.Reload(cfg); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := r.Route(promptHello, true).Model; got != "mistral-small:free" {
		t.Errorf("expected reloaded model, got %s", got)
	}

	bad := DefaultConfig()
	bad.Dimensions = nil
	if err := r.Reload(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if got := r.Route(promptHello, true).Model; got != "mistral-small:free" {
		t.Errorf("failed reload must keep the previous snapshot, got %s", got)
	}
}

func TestConcurrentRouteAndReload(t *testing.T) {
	r := newTestRouter(t)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				res := r.Route(promptCoding, j%2 == 0)
				if res.Tier != TierCoding {
					t.Errorf("unexpected tier %s", res.Tier)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			if err := r.Reload(DefaultConfig()); err != nil {
				t.Errorf("reload: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestScoreModelsPrefersCoderForCoding(t *testing.T) {
	r := newTestRouter(t)
	scores := r.ScoreModels(promptCoding, []string{"gpt-4o", "qwen3-coder:free", "claude-opus-4"})

	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}
	if scores["qwen3-coder:free"] <= scores["gpt-4o"] {
		t.Errorf("expected coder model to outrank generalist: %v", scores)
	}
	for m, s := range scores {
		if s < 0 || s > 1 {
			t.Errorf("%s: score %v out of range", m, s)
		}
	}
}

func TestScoreModelsEmpty(t *testing.T) {
	r := newTestRouter(t)
	if got := r.ScoreModels(promptCoding, nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestRankModels(t *testing.T) {
	r := newTestRouter(t)
	ranked := r.RankModels(promptCoding, []string{"gpt-4o", "qwen3-coder:free", "gpt-4o"})

	if len(ranked) != 2 {
		t.Fatalf("expected duplicates removed, got %v", ranked)
	}
	if ranked[0].Model != "qwen3-coder:free" || !ranked[0].Free {
		t.Errorf("expected coder model first, got %+v", ranked[0])
	}
	if ranked[0].Score < ranked[1].Score {
		t.Error("ranking not descending")
	}
}

func TestClassify(t *testing.T) {
	r := newTestRouter(t)
	scores := r.Classify(promptCoding)
	if !approx(scores[DimCode], 0.32) {
		t.Errorf("expected code score 0.32, got %v", scores[DimCode])
	}
}

func TestModelsFor(t *testing.T) {
	r := newTestRouter(t)
	m, ok := r.ModelsFor(TierPremium)
	if !ok || m.HasFree() || m.Paid != "claude-opus-4" {
		t.Errorf("unexpected premium models %+v", m)
	}
	if _, ok := r.ModelsFor(Tier(42)); ok {
		t.Error("expected no models for invalid tier")
	}
}

func TestRouteAndTrackCostSavings(t *testing.T) {
	r := newTestRouter(t)

	r.RouteAndTrack(promptHello, true, 1000)
	s := r.GetSavings()
	if s.TotalRequests != 1 || s.FreeRequests != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
	if s.EstimatedCost != 0 {
		t.Errorf("free request should cost nothing, got %v", s.EstimatedCost)
	}
	if !approx(s.SavedUSD, 0.045) {
		t.Errorf("expected $0.045 saved, got %v", s.SavedUSD)
	}

	r.RouteAndTrack(promptPremium, true, 1000)
	s = r.GetSavings()
	if !approx(s.SavingsPercent, 50) {
		t.Errorf("expected 50%% savings, got %v", s.SavingsPercent)
	}
	if s.RequestsByTier[TierSimple] != 1 || s.RequestsByTier[TierPremium] != 1 {
		t.Errorf("unexpected tier counts %v", s.RequestsByTier)
	}
	if s.AvgTokens != 1000 {
		t.Errorf("expected avg 1000 tokens, got %v", s.AvgTokens)
	}

	// The snapshot must not alias internal state.
	s.RequestsByTier[TierSimple] = 99
	if r.GetSavings().RequestsByTier[TierSimple] != 1 {
		t.Error("GetSavings returned an aliased map")
	}
}

func TestSavingsReport(t *testing.T) {
	r := newTestRouter(t)
	r.RouteAndTrack(promptCoding, true, 500)

	report := r.SavingsReport()
	for _, want := range []string{"Cost Report", "Total Requests:    1 (1 free)", "CODING"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestTiersIsACopy(t *testing.T) {
	r := newTestRouter(t)
	tiers := r.Tiers()
	if len(tiers) != len(AllTiers()) {
		t.Fatalf("expected %d tiers, got %d", len(AllTiers()), len(tiers))
	}
	tiers[TierSimple] = TierModels{Paid: "tampered"}
	if m, _ := r.ModelsFor(TierSimple); m.Paid != "claude-3.5-haiku" {
		t.Errorf("tier table aliased: %s", m.Paid)
	}
}
