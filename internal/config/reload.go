package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/clawinfra/clawroute/internal/router"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed fields
	Applied []string // successfully applied
	Skipped []string // require restart
	Errors  []error
}

// restartRequiredFields lists config fields that cannot be hot-reloaded
// and require a full process restart.
var restartRequiredFields = map[string]bool{
	"server.addr":           true,
	"server.jwtSecret":      true,
	"server.allowedOrigins": true,
	"decisions":             true,
	"watch":                 true,
	"health":                true,
}

// hotReloadableFields lists fields that can be applied at runtime.
var hotReloadableFields = []string{
	"strategy",
	"logLevel",
	"logDecisions",
	"router",
}

// Reloader re-reads the config file and applies hot-reloadable changes.
// The router snapshot and the current config are swapped atomically; a
// failed reload leaves both untouched.
type Reloader struct {
	path    string
	router  *router.Router
	logger  *slog.Logger
	current atomic.Pointer[Config]
	onApply func(*Config)

	mu     sync.Mutex    // serialises reloads
	active router.Config // merged router config last applied, guarded by mu
}

// NewReloader creates a reloader for the config at path. cfg is the
// config the router was built from.
func NewReloader(path string, cfg *Config, r *router.Router, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &Reloader{
		path:   path,
		router: r,
		logger: logger.With("component", "config"),
	}
	rl.current.Store(cfg)
	if rc, err := cfg.RouterConfig(); err == nil {
		rl.active = rc
	}
	return rl
}

// OnApply registers fn to be called with the new config after every
// reload that applied at least one change.
func (rl *Reloader) OnApply(fn func(*Config)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.onApply = fn
}

// Current returns the active config. Callers must not modify it.
func (rl *Reloader) Current() *Config {
	return rl.current.Load()
}

// Reload re-reads the config from disk, diffs it against the current
// config and applies hot-reloadable changes. Fields that require a restart
// are reported as skipped and keep their old values.
func (rl *Reloader) Reload() (*ReloadResult, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	next, err := Load(rl.path)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}
	old := rl.current.Load()

	newRC, err := next.RouterConfig()
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	result := &ReloadResult{}
	applied := diffAndApply(old, next, result)

	// Compare against the merged config last applied, not a re-merge of
	// old: external files are read at merge time and may have changed.
	if !reflect.DeepEqual(rl.active, newRC) {
		result.Changed = append(result.Changed, "router")
		if err := rl.router.Reload(newRC); err != nil {
			result.Errors = append(result.Errors, err)
			applied.Router = old.Router
			applied.LogDecisions = old.LogDecisions
		} else {
			rl.active = newRC
			result.Applied = append(result.Applied, "router")
		}
	}

	rl.current.Store(applied)
	if len(result.Applied) > 0 && rl.onApply != nil {
		rl.onApply(applied)
	}
	return result, nil
}

// diffAndApply compares old and new configs and returns the config to
// activate: hot-reloadable sections from next, the rest from old.
func diffAndApply(old, next *Config, result *ReloadResult) *Config {
	applied := *old
	applied.baseDir = next.baseDir

	if old.Strategy != next.Strategy {
		result.Changed = append(result.Changed, "strategy")
		applied.Strategy = next.Strategy
		result.Applied = append(result.Applied, "strategy")
	}
	if old.LogLevel != next.LogLevel {
		result.Changed = append(result.Changed, "logLevel")
		applied.LogLevel = next.LogLevel
		result.Applied = append(result.Applied, "logLevel")
	}
	if old.LogDecisions != next.LogDecisions {
		result.Changed = append(result.Changed, "logDecisions")
		result.Applied = append(result.Applied, "logDecisions")
	}
	// The router section is always adopted; whether the router changed is
	// decided on the merged result, which also covers external files.
	applied.LogDecisions = next.LogDecisions
	applied.Router = next.Router

	if old.Server.Addr != next.Server.Addr {
		result.Changed = append(result.Changed, "server.addr")
		result.Skipped = append(result.Skipped, "server.addr (requires restart)")
	}
	if old.Server.JWTSecret != next.Server.JWTSecret {
		result.Changed = append(result.Changed, "server.jwtSecret")
		result.Skipped = append(result.Skipped, "server.jwtSecret (requires restart)")
	}
	if !reflect.DeepEqual(old.Server.AllowedOrigins, next.Server.AllowedOrigins) {
		result.Changed = append(result.Changed, "server.allowedOrigins")
		result.Skipped = append(result.Skipped, "server.allowedOrigins (requires restart)")
	}
	if !reflect.DeepEqual(old.Decisions, next.Decisions) {
		result.Changed = append(result.Changed, "decisions")
		result.Skipped = append(result.Skipped, "decisions (requires restart)")
	}
	if old.Watch != next.Watch {
		result.Changed = append(result.Changed, "watch")
		result.Skipped = append(result.Skipped, "watch (requires restart)")
	}
	if old.Health != next.Health {
		result.Changed = append(result.Changed, "health")
		result.Skipped = append(result.Skipped, "health (requires restart)")
	}
	return &applied
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}

	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}

	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}

// IsRestartRequired returns true if the field requires a restart.
func IsRestartRequired(field string) bool {
	return restartRequiredFields[field]
}

// HotReloadableFields returns the list of hot-reloadable field names.
func HotReloadableFields() []string {
	return append([]string(nil), hotReloadableFields...)
}
