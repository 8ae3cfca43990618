package router

import (
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"
)

// DimensionScores maps each configured dimension name to its score.
type DimensionScores map[string]float64

// Total returns the sum of all dimension scores, added in name order so
// the result does not depend on map iteration.
func (s DimensionScores) Total() float64 {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	var total float64
	for _, name := range names {
		total += s[name]
	}
	return total
}

// PatternWarning records a dimension pattern that failed to compile.
// Such patterns never match.
type PatternWarning struct {
	Dimension string `json:"dimension"`
	Pattern   string `json:"pattern"`
	Err       string `json:"error"`
}

func (w PatternWarning) String() string {
	return fmt.Sprintf("dimension %q: invalid pattern %q: %s", w.Dimension, w.Pattern, w.Err)
}

type compiledDimension struct {
	Dimension
	matchers []*regexp.Regexp
}

// Classifier scores text against a fixed set of dimensions.
// It is safe for concurrent use.
type Classifier struct {
	dims     []compiledDimension
	warnings []PatternWarning
}

// NewClassifier compiles the patterns of every dimension once.
// Invalid patterns are dropped and reported through Warnings.
func NewClassifier(dims []Dimension) *Classifier {
	c := &Classifier{dims: make([]compiledDimension, 0, len(dims))}
	for _, d := range dims {
		cd := compiledDimension{Dimension: d}
		if d.Name != DimLength {
			for _, p := range d.Patterns {
				re, err := compilePattern(p)
				if err != nil {
					c.warnings = append(c.warnings, PatternWarning{Dimension: d.Name, Pattern: p, Err: err.Error()})
					continue
				}
				cd.matchers = append(cd.matchers, re)
			}
		}
		c.dims = append(c.dims, cd)
	}
	return c
}

func compilePattern(p string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + p)
}

// Warnings returns the patterns that could not be compiled.
func (c *Classifier) Warnings() []PatternWarning {
	return append([]PatternWarning(nil), c.warnings...)
}

// Score evaluates text against every dimension.
func (c *Classifier) Score(text string) DimensionScores {
	scores, _ := c.Evaluate(text)
	return scores
}

// Evaluate returns the dimension scores of text and their total, summed in
// configured dimension order.
func (c *Classifier) Evaluate(text string) (DimensionScores, float64) {
	scores := make(DimensionScores, len(c.dims))
	var total float64
	for _, d := range c.dims {
		var v float64
		if d.Name == DimLength {
			v = ScoreLength(text, d.Weight)
		} else {
			v = scoreMatchers(text, d.matchers, d.Max, d.Weight)
		}
		scores[d.Name] = v
		total += v
	}
	return scores, total
}

func scoreMatchers(text string, matchers []*regexp.Regexp, max int, weight float64) float64 {
	count := 0
	for _, re := range matchers {
		if count >= max {
			break
		}
		if re.MatchString(text) {
			count++
		}
	}
	return float64(count) * weight
}

// ScoreDimension counts how many of the dimension's patterns match text,
// caps the count at Max and multiplies by Weight. Patterns that fail to
// compile count as non-matches.
func ScoreDimension(text string, d Dimension) float64 {
	if d.Name == DimLength {
		return ScoreLength(text, d.Weight)
	}
	matchers := make([]*regexp.Regexp, 0, len(d.Patterns))
	for _, p := range d.Patterns {
		if re, err := compilePattern(p); err == nil {
			matchers = append(matchers, re)
		}
	}
	return scoreMatchers(text, matchers, d.Max, d.Weight)
}

// ScoreLength maps the character count of text into five bands.
func ScoreLength(text string, weight float64) float64 {
	n := utf8.RuneCountInString(text)
	switch {
	case n < 50:
		return 0
	case n < 150:
		return 0.3 * weight
	case n < 500:
		return 0.6 * weight
	case n <= 1500:
		return 1.0 * weight
	default:
		return 1.5 * weight
	}
}
