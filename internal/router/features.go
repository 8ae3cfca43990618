package router

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Features is a best-effort diagnostic bundle extracted from request text.
// It does not take part in tier resolution.
type Features struct {
	Chars           int  `json:"chars"`
	Words           int  `json:"words"`
	Questions       int  `json:"questions"`
	HasCodeBlock    bool `json:"hasCodeBlock"`
	HasInlineCode   bool `json:"hasInlineCode"`
	HasMath         bool `json:"hasMath"`
	TechnicalTerms  int  `json:"technicalTerms"`
	ImperativeStart bool `json:"imperativeStart"`
	HasConstraints  bool `json:"hasConstraints"`
	HasNegation     bool `json:"hasNegation"`
	HasReferences   bool `json:"hasReferences"`
	NonASCII        bool `json:"nonAscii"`
}

var (
	reCodeFence  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`[^`\n]+`")
	reMath       = regexp.MustCompile(`(?i)(\d+\s*[-+*/^=]\s*\d+|\\(frac|sum|int|sqrt)|\b(integral|derivative|matrix|eigen\w*|modulo|factorial)\b|[∑∫√π≤≥≠])`)
	reConstraint = regexp.MustCompile(`(?i)\b(must|should|require[sd]?|ensure|at least|at most|no more than|exactly \d+|only if|unless)\b`)
	reNegation   = regexp.MustCompile(`(?i)\b(not|don't|doesn't|shouldn't|cannot|can't|never|without|avoid|instead of)\b`)
	reReference  = regexp.MustCompile(`(?i)\b(according to|based on|as described in|refer to|see above|the previous|the following|given that|with respect to)\b`)
)

var technicalTerms = []string{
	"algorithm", "data structure", "database", "schema",
	"architecture", "microservice", "distributed", "concurrent",
	"authentication", "authorization", "encryption", "hashing",
	"latency", "throughput", "scalability", "availability",
	"protocol", "tcp", "udp", "websocket", "grpc",
	"container", "orchestration", "pipeline", "ci/cd",
	"mutex", "semaphore", "deadlock", "race condition",
	"regression", "neural network", "transformer", "embedding",
}

var imperativeVerbs = map[string]bool{
	"write": true, "implement": true, "build": true, "create": true, "design": true,
	"refactor": true, "fix": true, "debug": true, "explain": true, "list": true,
	"generate": true, "convert": true, "summarize": true, "summarise": true,
	"translate": true, "optimize": true, "optimise": true, "compare": true,
	"analyze": true, "analyse": true, "prove": true, "find": true, "make": true,
}

// ExtractFeatures computes the auxiliary feature bundle for text.
func ExtractFeatures(text string) Features {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)

	f := Features{
		Chars:          utf8.RuneCountInString(text),
		Words:          len(words),
		Questions:      strings.Count(text, "?"),
		HasCodeBlock:   reCodeFence.MatchString(text),
		HasInlineCode:  reInlineCode.MatchString(text),
		HasMath:        reMath.MatchString(text),
		HasConstraints: reConstraint.MatchString(text),
		HasNegation:    reNegation.MatchString(text),
		HasReferences:  reReference.MatchString(text),
		NonASCII:       hasNonASCII(text),
	}

	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			f.TechnicalTerms++
		}
	}

	if len(words) > 0 {
		first := strings.Trim(words[0], ".,:;!?\"'")
		f.ImperativeStart = imperativeVerbs[first]
	}
	return f
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
