// Package health tracks the execution health of downstream models so a
// degraded primary choice can be swapped for its fallback.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// State represents the health state of a model.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateUnknown  State = "unknown"
)

// Error classes recorded per failure.
const (
	ErrQuotaExhausted = "quota_exhausted"
	ErrRateLimited    = "rate_limited"
	ErrTimeout        = "timeout"
	ErrServerError    = "server_error"
	ErrAuthError      = "auth_error"
	ErrModelNotFound  = "model_not_found"
	ErrContextTooLong = "context_too_long"
	ErrUnknown        = "unknown"
)

// ModelHealth tracks the health of a single model.
type ModelHealth struct {
	State               State          `json:"state"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastFailure         *time.Time     `json:"last_failure,omitempty"`
	LastSuccess         *time.Time     `json:"last_success,omitempty"`
	DegradedAt          *time.Time     `json:"degraded_at,omitempty"`
	TotalRequests       int64          `json:"total_requests"`
	TotalFailures       int64          `json:"total_failures"`
	SuccessRate         float64        `json:"success_rate"`
	ErrorTypes          map[string]int `json:"error_types"`
	LastErrorType       string         `json:"last_error_type,omitempty"`
}

// Config configures the registry.
type Config struct {
	FailureThreshold int           // failures before degraded (default: 3)
	CooldownPeriod   time.Duration // time before a degraded model is retried
	PersistPath      string        // empty disables persistence
	AutoRecover      bool          // retry degraded models after the cooldown
}

// DefaultConfig returns sensible defaults. Persistence is off unless a path is set.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		CooldownPeriod:   5 * time.Minute,
		AutoRecover:      true,
	}
}

// Registry manages health state for all models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*ModelHealth
	cfg    Config
	logger *slog.Logger
	dirty  bool
	now    func() time.Time
}

type persisted struct {
	Models      map[string]*ModelHealth `json:"models"`
	LastUpdated time.Time               `json:"last_updated"`
	Version     string                  `json:"version"`
}

// NewRegistry creates a registry, loading persisted state when available.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}

	r := &Registry{
		models: make(map[string]*ModelHealth),
		cfg:    cfg,
		logger: logger.With("component", "health"),
		now:    time.Now,
	}
	if cfg.PersistPath != "" {
		if err := r.load(); err != nil {
			r.logger.Debug("no existing health state, starting fresh", "error", err)
		}
	}
	return r
}

func (r *Registry) getOrCreate(model string) *ModelHealth {
	if h, ok := r.models[model]; ok {
		return h
	}
	h := &ModelHealth{State: StateUnknown, ErrorTypes: make(map[string]int)}
	r.models[model] = h
	return h
}

// RecordSuccess records a successful model call.
func (r *Registry) RecordSuccess(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.getOrCreate(model)
	now := r.now()
	h.LastSuccess = &now
	h.ConsecutiveFailures = 0
	h.TotalRequests++

	switch h.State {
	case StateDegraded:
		h.State = StateHealthy
		h.DegradedAt = nil
		r.logger.Info("model recovered", "model", model)
	case StateUnknown:
		h.State = StateHealthy
	}
	h.SuccessRate = float64(h.TotalRequests-h.TotalFailures) / float64(h.TotalRequests)
	r.dirty = true
}

// RecordFailure records a failed model call of the given error class.
func (r *Registry) RecordFailure(model, errType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.getOrCreate(model)
	now := r.now()
	h.LastFailure = &now
	h.LastErrorType = errType
	h.ConsecutiveFailures++
	h.TotalRequests++
	h.TotalFailures++
	if h.ErrorTypes == nil {
		h.ErrorTypes = make(map[string]int)
	}
	h.ErrorTypes[errType]++
	h.SuccessRate = float64(h.TotalRequests-h.TotalFailures) / float64(h.TotalRequests)

	switch {
	case h.State == StateDegraded:
		// A failed retry after the cooldown starts a new cooldown.
		h.DegradedAt = &now
	case h.ConsecutiveFailures >= r.cfg.FailureThreshold:
		h.State = StateDegraded
		h.DegradedAt = &now
		r.logger.Warn("model degraded",
			"model", model,
			"consecutive_failures", h.ConsecutiveFailures,
			"error_type", errType,
		)
	}
	r.dirty = true
}

// Record records the outcome of a call: nil err is a success.
func (r *Registry) Record(model string, err error) {
	if err == nil {
		r.RecordSuccess(model)
		return
	}
	r.RecordFailure(model, ClassifyError(err))
}

// IsAvailable reports whether a model may be used. Unknown models are
// available; degraded ones become available again after the cooldown when
// AutoRecover is set.
func (r *Registry) IsAvailable(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked(model)
}

func (r *Registry) availableLocked(model string) bool {
	h, ok := r.models[model]
	if !ok || h.State != StateDegraded {
		return true
	}
	if r.cfg.AutoRecover && h.DegradedAt != nil {
		return r.now().Sub(*h.DegradedAt) > r.cfg.CooldownPeriod
	}
	return false
}

// Choose returns preferred when it is available, otherwise the first
// available alternative. When every candidate is degraded the one with the
// best success rate is returned.
func (r *Registry) Choose(preferred string, alternatives ...string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.availableLocked(preferred) {
		return preferred
	}
	for _, alt := range alternatives {
		if alt != "" && r.availableLocked(alt) {
			return alt
		}
	}

	best, bestRate := preferred, -1.0
	if h, ok := r.models[preferred]; ok {
		bestRate = h.SuccessRate
	}
	for _, alt := range alternatives {
		if h, ok := r.models[alt]; ok && h.SuccessRate > bestRate {
			best, bestRate = alt, h.SuccessRate
		}
	}
	return best
}

// Status returns a copy of the health record of model.
func (r *Registry) Status(model string) (ModelHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.models[model]
	if !ok {
		return ModelHealth{}, false
	}
	return copyHealth(h), true
}

// Snapshot returns a copy of every tracked model's health.
func (r *Registry) Snapshot() map[string]ModelHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ModelHealth, len(r.models))
	for k, v := range r.models {
		out[k] = copyHealth(v)
	}
	return out
}

// Degraded returns the currently degraded models, sorted.
func (r *Registry) Degraded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, h := range r.models {
		if h.State == StateDegraded {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Reset marks a model healthy again.
func (r *Registry) Reset(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.models[model]; ok {
		h.State = StateHealthy
		h.ConsecutiveFailures = 0
		h.DegradedAt = nil
		r.dirty = true
		r.logger.Info("model manually reset", "model", model)
	}
}

func copyHealth(h *ModelHealth) ModelHealth {
	c := *h
	c.ErrorTypes = make(map[string]int, len(h.ErrorTypes))
	for k, v := range h.ErrorTypes {
		c.ErrorTypes[k] = v
	}
	return c
}

// Persist writes the state to PersistPath if it changed since the last write.
func (r *Registry) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty || r.cfg.PersistPath == "" {
		return nil
	}

	data, err := json.MarshalIndent(persisted{
		Models:      r.models,
		LastUpdated: r.now().UTC(),
		Version:     "1.0",
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.cfg.PersistPath), 0o755); err != nil {
		return fmt.Errorf("create health dir: %w", err)
	}
	tmp := r.cfg.PersistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write health state: %w", err)
	}
	if err := os.Rename(tmp, r.cfg.PersistPath); err != nil {
		return fmt.Errorf("replace health state: %w", err)
	}

	r.dirty = false
	r.logger.Debug("health state persisted", "path", r.cfg.PersistPath)
	return nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.cfg.PersistPath)
	if err != nil {
		return err
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse health state: %w", err)
	}
	if p.Models != nil {
		r.models = p.Models
	}
	r.logger.Debug("health state loaded", "path", r.cfg.PersistPath, "models", len(r.models))
	return nil
}

// errorPatterns is checked in order; the first class with a matching keyword wins.
var errorPatterns = []struct {
	class    string
	keywords []string
}{
	{ErrQuotaExhausted, []string{"quota", "exhausted", "limit exceeded"}},
	{ErrRateLimited, []string{"rate limit", "too many requests", "429"}},
	{ErrTimeout, []string{"timeout", "deadline exceeded", "context canceled"}},
	{ErrAuthError, []string{"401", "403", "unauthorized", "forbidden", "invalid api key"}},
	{ErrModelNotFound, []string{"model not found", "does not exist", "404"}},
	{ErrContextTooLong, []string{"context length", "too long", "max tokens"}},
	{ErrServerError, []string{"500", "502", "503", "504", "internal server error"}},
}

// ClassifyError maps an execution error onto one of the error classes.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(msg, kw) {
				return p.class
			}
		}
	}
	return ErrUnknown
}
