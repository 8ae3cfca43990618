// Package plugin embeds the router in a host message pipeline: it owns the
// configuration lifecycle, the audit sinks and the model health registry.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clawinfra/clawroute/internal/config"
	"github.com/clawinfra/clawroute/internal/decisionlog"
	"github.com/clawinfra/clawroute/internal/health"
	"github.com/clawinfra/clawroute/internal/router"
)

var (
	// ErrNotInitialized is returned by operations called before Init.
	ErrNotInitialized = errors.New("plugin: not initialized")

	// ErrPanic wraps a panic recovered while handling a message.
	ErrPanic = errors.New("plugin: panic while routing")

	// ErrInvalidStrategy is returned when a message names an unknown strategy.
	ErrInvalidStrategy = errors.New("plugin: invalid strategy")
)

// Message is one inbound request from the host.
type Message struct {
	ID              string // request id; generated when empty
	Channel         string
	Text            string
	Strategy        string // overrides the configured strategy when set
	EstimatedTokens int    // used for savings; estimated from Text when 0
}

// Decision is the routing result handed back to the host. Model is the
// model to call; when the primary choice was degraded it is the fallback
// and Primary holds the original pick.
type Decision struct {
	router.RoutingResult
	RequestID   string `json:"requestId"`
	Channel     string `json:"channel,omitempty"`
	Primary     string `json:"primary,omitempty"`
	Substituted bool   `json:"substituted,omitempty"`
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithSink adds a sink next to the ones built from config. The caller
// keeps ownership: Destroy does not close it, so it keeps receiving
// decisions after the plugin is initialized again.
func WithSink(s decisionlog.Sink) Option {
	return func(p *Plugin) { p.extraSinks = append(p.extraSinks, s) }
}

// WithLevel lets config reloads adjust the log level of the host logger.
func WithLevel(lv *slog.LevelVar) Option {
	return func(p *Plugin) { p.level = lv }
}

// Plugin is the host-facing router lifecycle.
type Plugin struct {
	configPath string
	logger     *slog.Logger
	level      *slog.LevelVar
	extraSinks []decisionlog.Sink

	mu        sync.RWMutex
	ready     bool
	router    *router.Router
	reloader  *config.Reloader
	health    *health.Registry
	sinks     decisionlog.MultiSink // owned plus extraSinks
	owned     decisionlog.MultiSink // built from config, closed by Destroy
	store     *decisionlog.SQLiteStore
	watcher   *config.Watcher
	retention *decisionlog.Retention

	obsMu     sync.Mutex
	nextID    int
	observers map[int]func(Decision)
	onReload  []func(*config.ReloadResult, error)
}

// New creates a plugin for the config at configPath. An empty path runs
// on the built-in defaults.
func New(configPath string, logger *slog.Logger, opts ...Option) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{
		configPath: configPath,
		logger:     logger.With("component", "plugin"),
		observers:  make(map[int]func(Decision)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init loads the configuration, builds the router and starts the audit
// sinks, the config watcher and the retention schedule. Calling Init on
// an initialized plugin is a no-op.
func (p *Plugin) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	cfg, err := config.Load(p.configPath)
	if err != nil {
		return fmt.Errorf("plugin init: %w", err)
	}
	rc, err := cfg.RouterConfig()
	if err != nil {
		return fmt.Errorf("plugin init: %w", err)
	}
	r, err := router.New(rc, p.logger)
	if err != nil {
		return fmt.Errorf("plugin init: %w", err)
	}
	if p.level != nil {
		p.level.Set(cfg.SlogLevel())
	}

	owned, store, err := p.openSinks(cfg)
	if err != nil {
		return fmt.Errorf("plugin init: %w", err)
	}
	sinks := append(append(decisionlog.MultiSink(nil), owned...), p.extraSinks...)

	p.router = r
	p.health = health.NewRegistry(cfg.HealthOptions(), p.logger)
	p.sinks = sinks
	p.owned = owned
	p.store = store
	p.reloader = config.NewReloader(p.configPath, cfg, r, p.logger)
	p.reloader.OnApply(p.applyConfig)

	if err := p.startRetention(cfg); err != nil {
		owned.Close()
		p.sinks, p.owned, p.store = nil, nil, nil
		return fmt.Errorf("plugin init: %w", err)
	}

	if cfg.Watch.Enabled && p.configPath != "" {
		paths := append([]string{p.configPath}, cfg.RouterFiles()...)
		p.watcher = config.NewWatcher(cfg.WatchInterval(), p.logger, func() { p.Reload() }, paths...)
		p.watcher.Start()
	}

	p.ready = true
	p.logger.Info("plugin initialized",
		"config", p.configPath,
		"strategy", cfg.Strategy,
		"sinks", len(sinks),
		"watch", p.watcher != nil,
	)
	return nil
}

func (p *Plugin) openSinks(cfg *config.Config) (decisionlog.MultiSink, *decisionlog.SQLiteStore, error) {
	var (
		sinks decisionlog.MultiSink
		store *decisionlog.SQLiteStore
	)
	fail := func(err error) (decisionlog.MultiSink, *decisionlog.SQLiteStore, error) {
		sinks.Close()
		return nil, nil, err
	}

	d := cfg.Decisions
	if d.File != "" {
		fs, err := decisionlog.NewFileSink(decisionlog.FileOptions{
			Path:        d.File,
			MaxBytes:    d.MaxBytes,
			ArchiveDir:  d.ArchiveDir,
			MaxArchives: d.MaxArchives,
		}, p.logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, fs)
	}
	if d.SQLite != "" {
		s, err := decisionlog.OpenSQLite(d.SQLite)
		if err != nil {
			return fail(err)
		}
		store = s
		sinks = append(sinks, s)
	}
	if d.MQTT.Broker != "" {
		ms, err := decisionlog.NewMQTTSink(decisionlog.MQTTOptions{
			Broker:   d.MQTT.Broker,
			Topic:    d.MQTT.Topic,
			ClientID: d.MQTT.ClientID,
			Username: d.MQTT.Username,
			Password: d.MQTT.Password,
			QoS:      d.MQTT.QoS,
		}, p.logger)
		if err != nil {
			// Publishing is optional; losing the broker must not stop routing.
			p.logger.Warn("mqtt sink disabled", "broker", d.MQTT.Broker, "error", err)
		} else {
			sinks = append(sinks, ms)
		}
	}
	return sinks, store, nil
}

func (p *Plugin) startRetention(cfg *config.Config) error {
	var targets []decisionlog.Pruner
	for _, s := range p.sinks {
		if pr, ok := s.(decisionlog.Pruner); ok {
			targets = append(targets, pr)
		}
	}
	if len(targets) == 0 || cfg.Decisions.RetentionDays <= 0 {
		return nil
	}
	r, err := decisionlog.NewRetention(cfg.Decisions.RetentionSchedule, cfg.Decisions.RetentionDays, p.logger, targets...)
	if err != nil {
		return err
	}
	r.Start()
	p.retention = r
	return nil
}

func (p *Plugin) applyConfig(cfg *config.Config) {
	if p.level != nil {
		p.level.Set(cfg.SlogLevel())
	}
}

// Reload re-reads the configuration now. The watcher calls it on change.
func (p *Plugin) Reload() (*config.ReloadResult, error) {
	p.mu.RLock()
	rl := p.reloader
	p.mu.RUnlock()
	if rl == nil {
		return nil, ErrNotInitialized
	}

	res, err := rl.Reload()
	if err != nil {
		p.logger.Error("config reload failed, keeping previous config", "error", err)
	} else {
		res.LogResult(p.logger)
	}

	p.obsMu.Lock()
	hooks := append([]func(*config.ReloadResult, error){}, p.onReload...)
	p.obsMu.Unlock()
	for _, fn := range hooks {
		fn(res, err)
	}
	return res, err
}

// OnReload registers fn to be called after every reload attempt.
func (p *Plugin) OnReload(fn func(*config.ReloadResult, error)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.onReload = append(p.onReload, fn)
}

// OnMessage routes one message. The audit record is written best-effort:
// sink failures are logged and never fail the call.
func (p *Plugin) OnMessage(ctx context.Context, msg Message) (dec Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("panic while routing", "request_id", msg.ID, "panic", rec)
			dec, err = Decision{}, fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	p.mu.RLock()
	ready, r, rl, reg, sinks := p.ready, p.router, p.reloader, p.health, p.sinks
	p.mu.RUnlock()
	if !ready {
		return Decision{}, ErrNotInitialized
	}

	cfg := rl.Current()
	preferFree := cfg.PreferFree()
	if msg.Strategy != "" {
		if !config.ValidStrategy(msg.Strategy) {
			return Decision{}, fmt.Errorf("%w: %q", ErrInvalidStrategy, msg.Strategy)
		}
		preferFree = config.PreferFree(msg.Strategy)
	}

	res := r.Route(msg.Text, preferFree)
	tokens := msg.EstimatedTokens
	if tokens <= 0 {
		tokens = router.EstimateTokens(msg.Text)
	}
	r.Track(res, tokens)

	dec = Decision{RoutingResult: res, Channel: msg.Channel}
	if served := reg.Choose(res.Model, res.Fallback); served != res.Model {
		dec.Primary = res.Model
		dec.Model, dec.FullModel = res.Fallback, res.FullFallback
		dec.Fallback, dec.FullFallback = res.Model, res.FullModel
		dec.Substituted = true
		p.logger.Warn("primary model degraded, using fallback",
			"primary", res.Model,
			"fallback", res.Fallback,
		)
	}

	rec := decisionlog.NewRecord(msg.ID, msg.Channel, dec.RoutingResult)
	rec.Substituted = dec.Substituted
	dec.RequestID = rec.RequestID

	if cfg.LogDecisions {
		p.logger.Info("routing decision",
			"request_id", rec.RequestID,
			"tier", res.Tier.String(),
			"model", dec.Model,
			"confidence", res.Confidence,
			"rule", res.Rule,
		)
	}

	if len(sinks) > 0 {
		if err := sinks.Write(ctx, rec); err != nil {
			p.logger.Warn("failed to write decision record", "request_id", rec.RequestID, "error", err)
		}
	}

	p.notify(dec)
	return dec, nil
}

func (p *Plugin) notify(dec Decision) {
	p.obsMu.Lock()
	fns := make([]func(Decision), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.obsMu.Unlock()

	for _, fn := range fns {
		fn(dec)
	}
}

// Subscribe registers fn for every decision and returns a function that
// removes it. fn runs on the routing goroutine and must not block.
func (p *Plugin) Subscribe(fn func(Decision)) (cancel func()) {
	p.obsMu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = fn
	p.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.obsMu.Lock()
			delete(p.observers, id)
			p.obsMu.Unlock()
		})
	}
}

// ReportOutcome feeds the result of calling model back into the health
// registry. A nil err is a success.
func (p *Plugin) ReportOutcome(model string, err error) {
	p.mu.RLock()
	reg := p.health
	p.mu.RUnlock()
	if reg == nil {
		return
	}
	reg.Record(model, err)
}

// Router returns the router, or nil before Init.
func (p *Plugin) Router() *router.Router {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.router
}

// Config returns the active configuration, or nil before Init.
func (p *Plugin) Config() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reloader == nil {
		return nil
	}
	return p.reloader.Current()
}

// Health returns the model health registry, or nil before Init.
func (p *Plugin) Health() *health.Registry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// Store returns the SQLite decision store, or nil when none is configured.
func (p *Plugin) Store() *decisionlog.SQLiteStore {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store
}

// Destroy stops background work, closes the sinks built from config and
// persists model health. The plugin can be initialized again afterwards.
func (p *Plugin) Destroy() error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return nil
	}
	w, ret, owned, reg := p.watcher, p.retention, p.owned, p.health
	p.ready = false
	p.watcher, p.retention, p.sinks, p.owned, p.store = nil, nil, nil, nil, nil
	p.mu.Unlock()

	// The watcher callback takes p.mu, so stop it unlocked.
	if w != nil {
		w.Stop()
	}
	if ret != nil {
		ret.Stop()
	}

	var errs []error
	if err := owned.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sinks: %w", err))
	}
	if err := reg.Persist(); err != nil {
		errs = append(errs, fmt.Errorf("persist health: %w", err))
	}
	p.logger.Info("plugin destroyed")
	return errors.Join(errs...)
}
