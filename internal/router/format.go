package router

import (
	"fmt"
	"sort"
	"strings"
)

// FormatResult renders a routing decision for humans. Verbose adds the
// per-dimension breakdown and the elapsed time.
func FormatResult(res RoutingResult, verbose bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tier:       %s\n", res.Tier)
	fmt.Fprintf(&b, "Model:      %s", res.Model)
	if res.FullModel != "" && res.FullModel != res.Model {
		fmt.Fprintf(&b, " (%s)", res.FullModel)
	}
	b.WriteString("\n")
	if res.Fallback != "" {
		fmt.Fprintf(&b, "Fallback:   %s", res.Fallback)
		if res.FullFallback != "" && res.FullFallback != res.Fallback {
			fmt.Fprintf(&b, " (%s)", res.FullFallback)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", res.Confidence*100)
	fmt.Fprintf(&b, "Rationale:  %s\n", res.Rationale)

	if !verbose {
		return b.String()
	}

	fmt.Fprintf(&b, "Score:      %.3f (rule %s)\n", res.TotalScore, res.Rule)
	b.WriteString("Dimensions:\n")
	names := make([]string, 0, len(res.Scores))
	for name := range res.Scores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-12s %.3f\n", name, res.Scores[name])
	}
	fmt.Fprintf(&b, "Elapsed:    %s\n", res.Elapsed)
	return b.String()
}
