package router

import (
	"fmt"
	"strings"
	"sync"
)

// CostSavings is a snapshot of estimated cost savings from routing versus
// sending everything to the PREMIUM paid model.
type CostSavings struct {
	TotalRequests  int64          `json:"totalRequests"`
	FreeRequests   int64          `json:"freeRequests"`
	RequestsByTier map[Tier]int64 `json:"requestsByTier"`
	EstimatedCost  float64        `json:"estimatedCost"`  // estimated cost with routing
	BaselineCost   float64        `json:"baselineCost"`   // cost if every request used PREMIUM
	SavedUSD       float64        `json:"savedUsd"`       // baseline - estimated
	SavingsPercent float64        `json:"savingsPercent"` // (saved / baseline) * 100
	AvgTokens      float64        `json:"avgTokens"`
}

type costTracker struct {
	mu          sync.RWMutex
	totalTokens int64
	CostSavings
}

func newCostTracker() *costTracker {
	return &costTracker{CostSavings: CostSavings{RequestsByTier: make(map[Tier]int64)}}
}

// RouteAndTrack routes message and accumulates cost statistics.
// estimatedTokens is the expected input+output token count of the call.
func (r *Router) RouteAndTrack(message string, preferFree bool, estimatedTokens int) RoutingResult {
	result := r.Route(message, preferFree)
	r.Track(result, estimatedTokens)
	return result
}

// Track records an already computed decision in the savings statistics.
func (r *Router) Track(result RoutingResult, estimatedTokens int) {
	tiers := r.snap.Load().cfg.Tiers

	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()

	r.stats.TotalRequests++
	r.stats.RequestsByTier[result.Tier]++
	r.stats.totalTokens += int64(estimatedTokens)
	r.stats.AvgTokens = float64(r.stats.totalTokens) / float64(r.stats.TotalRequests)

	tokens := float64(estimatedTokens)

	if result.Fallback != "" {
		// A fallback is only set when the free model was chosen.
		r.stats.FreeRequests++
	} else {
		r.stats.EstimatedCost += tokens * tiers[result.Tier].CostPerM / 1_000_000
	}
	r.stats.BaselineCost += tokens * tiers[TierPremium].CostPerM / 1_000_000

	r.stats.SavedUSD = r.stats.BaselineCost - r.stats.EstimatedCost
	if r.stats.BaselineCost > 0 {
		r.stats.SavingsPercent = (r.stats.SavedUSD / r.stats.BaselineCost) * 100
	}
}

// GetSavings returns a snapshot of cost savings.
func (r *Router) GetSavings() CostSavings {
	r.stats.mu.RLock()
	defer r.stats.mu.RUnlock()

	tiersCopy := make(map[Tier]int64, len(r.stats.RequestsByTier))
	for k, v := range r.stats.RequestsByTier {
		tiersCopy[k] = v
	}

	return CostSavings{
		TotalRequests:  r.stats.TotalRequests,
		FreeRequests:   r.stats.FreeRequests,
		RequestsByTier: tiersCopy,
		EstimatedCost:  r.stats.EstimatedCost,
		BaselineCost:   r.stats.BaselineCost,
		SavedUSD:       r.stats.SavedUSD,
		SavingsPercent: r.stats.SavingsPercent,
		AvgTokens:      r.stats.AvgTokens,
	}
}

// SavingsReport returns a human-readable cost savings report.
func (r *Router) SavingsReport() string {
	s := r.GetSavings()
	tiers := r.snap.Load().cfg.Tiers

	var b strings.Builder
	b.WriteString("=== Model Router Cost Report ===\n")
	fmt.Fprintf(&b, "Total Requests:    %d (%d free)\n", s.TotalRequests, s.FreeRequests)
	fmt.Fprintf(&b, "Baseline Cost:     $%.4f (all %s)\n", s.BaselineCost, TierPremium)
	fmt.Fprintf(&b, "Routed Cost:       $%.4f\n", s.EstimatedCost)
	fmt.Fprintf(&b, "Saved:             $%.4f (%.1f%%)\n", s.SavedUSD, s.SavingsPercent)
	fmt.Fprintf(&b, "Avg Tokens/Req:    %.0f\n", s.AvgTokens)
	b.WriteString("\nTier Distribution:\n")
	for _, tier := range AllTiers() {
		count := s.RequestsByTier[tier]
		pct := 0.0
		if s.TotalRequests > 0 {
			pct = float64(count) / float64(s.TotalRequests) * 100
		}
		fmt.Fprintf(&b, "  %-10s %5d (%5.1f%%)  -> %s\n", tier, count, pct, tiers[tier].Paid)
	}
	return b.String()
}
