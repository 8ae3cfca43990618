package router

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// Confidence calibration constants.
const (
	confidenceSteepness = 10.0
	confidenceMidpoint  = 0.3
)

// RoutingResult is the outcome of one routing decision.
type RoutingResult struct {
	Tier         Tier            `json:"tier"`
	Model        string          `json:"model"`
	FullModel    string          `json:"fullModel"`
	Fallback     string          `json:"fallback,omitempty"`
	FullFallback string          `json:"fullFallback,omitempty"`
	Confidence   float64         `json:"confidence"`
	TotalScore   float64         `json:"totalScore"`
	Scores       DimensionScores `json:"scores"`
	Rule         string          `json:"rule"`
	Rationale    string          `json:"rationale"`
	Elapsed      time.Duration   `json:"elapsed"`
}

// ModelScore is one entry of a ranked candidate list.
type ModelScore struct {
	Model string  `json:"model"`
	Score float64 `json:"score"`
	Free  bool    `json:"free"`
}

// snapshot is an immutable, compiled configuration.
type snapshot struct {
	cfg        Config
	classifier *Classifier
	scorer     *CapabilityScorer
	rules      []Rule
}

func compile(cfg Config) (*snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	cfg.Thresholds = cfg.Thresholds.withDefaults()
	return &snapshot{
		cfg:        cfg,
		classifier: NewClassifier(cfg.Dimensions),
		scorer:     NewCapabilityScorer(cfg.Capabilities),
		rules:      DefaultRules(),
	}, nil
}

// Router classifies requests and selects a model per tier.
// Route and ScoreModels are safe for concurrent use; Reload swaps the
// whole configuration atomically.
type Router struct {
	snap   atomic.Pointer[snapshot]
	logger *slog.Logger
	stats  *costTracker
}

// New creates a Router. Configuration errors are returned, never deferred
// to request time.
func New(cfg Config, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	r := &Router{
		logger: logger.With("component", "router"),
		stats:  newCostTracker(),
	}
	r.snap.Store(snap)
	r.logWarnings(snap)
	return r, nil
}

// Reload validates cfg and replaces the active snapshot. On error the
// previous snapshot stays active.
func (r *Router) Reload(cfg Config) error {
	snap, err := compile(cfg)
	if err != nil {
		return err
	}
	r.snap.Store(snap)
	r.logWarnings(snap)
	r.logger.Info("router config reloaded", "dimensions", len(snap.cfg.Dimensions))
	return nil
}

func (r *Router) logWarnings(snap *snapshot) {
	for _, w := range snap.classifier.Warnings() {
		r.logger.Warn("invalid dimension pattern, treating as non-match",
			"dimension", w.Dimension,
			"pattern", w.Pattern,
			"error", w.Err,
		)
	}
}

// Route classifies message and picks the model for its tier.
func (r *Router) Route(message string, preferFree bool) RoutingResult {
	start := time.Now()
	snap := r.snap.Load()

	scores, total := snap.classifier.Evaluate(message)
	tier, rule := ResolveTier(snap.rules, Signals{Scores: scores, Total: total}, snap.cfg.Thresholds)

	models := snap.cfg.Tiers[tier]
	result := RoutingResult{
		Tier:       tier,
		Confidence: Confidence(total),
		TotalScore: total,
		Scores:     scores,
		Rule:       rule.Name,
	}

	reason := rule.Explain(Signals{Scores: scores, Total: total}, snap.cfg.Thresholds)
	if preferFree && models.HasFree() {
		result.Model = models.Free
		result.FullModel = models.fullFree()
		result.Fallback = models.Paid
		result.FullFallback = models.fullPaid()
		result.Rationale = fmt.Sprintf("%s: %s; free model preferred", tier, reason)
	} else {
		result.Model = models.Paid
		result.FullModel = models.fullPaid()
		switch {
		case !preferFree:
			result.Rationale = fmt.Sprintf("%s: %s; paid model by strategy", tier, reason)
		default:
			result.Rationale = fmt.Sprintf("%s: %s; no free model for tier", tier, reason)
		}
	}
	result.Elapsed = time.Since(start)

	if snap.cfg.LogDecisions {
		r.logger.Info("routing decision",
			"tier", tier.String(),
			"model", result.Model,
			"rule", rule.Name,
			"total_score", fmt.Sprintf("%.3f", total),
			"confidence", fmt.Sprintf("%.3f", result.Confidence),
			"duration_us", result.Elapsed.Microseconds(),
			"prompt_len", len(message),
		)
	}
	return result
}

// Classify returns the dimension scores for message without selecting a model.
func (r *Router) Classify(message string) DimensionScores {
	return r.snap.Load().classifier.Score(message)
}

// ScoreModels rates every candidate model for message.
func (r *Router) ScoreModels(message string, models []string) map[string]float64 {
	snap := r.snap.Load()
	scores, total := snap.classifier.Evaluate(message)

	out := make(map[string]float64, len(models))
	for _, m := range models {
		out[m] = snap.scorer.CalculateScore(m, scores, total, message)
	}
	return out
}

// RankModels returns the candidates sorted by descending suitability.
// Ties keep the input order.
func (r *Router) RankModels(message string, models []string) []ModelScore {
	scores := r.ScoreModels(message, models)
	ranked := make([]ModelScore, 0, len(models))
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if seen[m] {
			continue
		}
		seen[m] = true
		ranked = append(ranked, ModelScore{Model: m, Score: scores[m], Free: IsFreeModel(m)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Breakdown returns the per-criterion sub-scores of model for message.
func (r *Router) Breakdown(message, model string) Breakdown {
	snap := r.snap.Load()
	scores, total := snap.classifier.Evaluate(message)
	return snap.scorer.Breakdown(model, scores, total, message)
}

// Confidence maps a total score onto [0,1] with a logistic curve.
func Confidence(totalScore float64) float64 {
	return clamp01(1.0 / (1.0 + math.Exp(-confidenceSteepness*(totalScore-confidenceMidpoint))))
}

// Config returns a copy of the active configuration.
func (r *Router) Config() Config {
	return r.snap.Load().cfg.Clone()
}

// Tiers returns a copy of the active tier table.
func (r *Router) Tiers() map[Tier]TierModels {
	tiers := r.snap.Load().cfg.Tiers
	out := make(map[Tier]TierModels, len(tiers))
	for t, m := range tiers {
		out[t] = m
	}
	return out
}

// ModelsFor returns the model pair configured for tier.
func (r *Router) ModelsFor(t Tier) (TierModels, bool) {
	m, ok := r.snap.Load().cfg.Tiers[t]
	return m, ok
}

// Warnings returns pattern compilation warnings of the active snapshot.
func (r *Router) Warnings() []PatternWarning {
	return r.snap.Load().classifier.Warnings()
}
