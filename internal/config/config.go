package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/clawinfra/clawroute/internal/health"
	"github.com/clawinfra/clawroute/internal/router"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Strategy values.
const (
	StrategyCost    = "cost"
	StrategyFree    = "free"
	StrategyQuality = "quality"
	StrategyPaid    = "paid"
)

// Config holds all ClawRoute configuration
type Config struct {
	// Cost preference: cost|free pick free models, quality|paid pick paid ones
	Strategy string `json:"strategy" yaml:"strategy" toml:"strategy"`

	// debug|info|warn|error
	LogLevel string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`

	// Log every routing decision at INFO
	LogDecisions bool `json:"logDecisions" yaml:"logDecisions" toml:"logDecisions"`

	// Overrides merged onto the built-in routing table
	Router RouterSection `json:"router" yaml:"router" toml:"router"`

	// Audit trail of decisions
	Decisions DecisionsConfig `json:"decisions" yaml:"decisions" toml:"decisions"`

	// HTTP API
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	// Hot reload
	Watch WatchConfig `json:"watch" yaml:"watch" toml:"watch"`

	// Model health tracking
	Health HealthConfig `json:"health" yaml:"health" toml:"health"`

	// directory relative router files are resolved against
	baseDir string
}

// RouterSection overrides parts of router.DefaultConfig().
type RouterSection struct {
	Dimensions      []DimensionOverride     `json:"dimensions,omitempty" yaml:"dimensions,omitempty" toml:"dimensions,omitempty"`
	DimensionsFile  string                  `json:"dimensionsFile,omitempty" yaml:"dimensionsFile,omitempty" toml:"dimensionsFile,omitempty"`
	Tiers           map[string]TierOverride `json:"tiers,omitempty" yaml:"tiers,omitempty" toml:"tiers,omitempty"`
	TiersFile       string                  `json:"tiersFile,omitempty" yaml:"tiersFile,omitempty" toml:"tiersFile,omitempty"`
	Thresholds      ThresholdOverrides      `json:"thresholds" yaml:"thresholds" toml:"thresholds"`
	Families        []router.ModelFamily    `json:"families,omitempty" yaml:"families,omitempty" toml:"families,omitempty"`
	Specialties     []router.SpecialtyRule  `json:"specialties,omitempty" yaml:"specialties,omitempty" toml:"specialties,omitempty"`
	PrimaryProvider string                  `json:"primaryProvider,omitempty" yaml:"primaryProvider,omitempty" toml:"primaryProvider,omitempty"`
}

// DimensionOverride replaces, extends or removes one dimension by name.
// Unset fields keep the built-in value.
type DimensionOverride struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Weight      *float64 `json:"weight,omitempty" yaml:"weight,omitempty" toml:"weight,omitempty"`
	Max         *int     `json:"max,omitempty" yaml:"max,omitempty" toml:"max,omitempty"`
	Patterns    []string `json:"patterns,omitempty" yaml:"patterns,omitempty" toml:"patterns,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Disabled    bool     `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// TierOverride changes the model pair of one tier. A non-nil empty Free
// removes the free option.
type TierOverride struct {
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Free        *string  `json:"free,omitempty" yaml:"free,omitempty" toml:"free,omitempty"`
	Paid        string   `json:"paid,omitempty" yaml:"paid,omitempty" toml:"paid,omitempty"`
	FullFree    string   `json:"fullFree,omitempty" yaml:"fullFree,omitempty" toml:"fullFree,omitempty"`
	FullPaid    string   `json:"fullPaid,omitempty" yaml:"fullPaid,omitempty" toml:"fullPaid,omitempty"`
	CostPerM    *float64 `json:"costPerM,omitempty" yaml:"costPerM,omitempty" toml:"costPerM,omitempty"`
}

// ThresholdOverrides replace individual cascade thresholds when set.
type ThresholdOverrides struct {
	ReasoningTrigger *float64 `json:"REASONING_TRIGGER,omitempty" yaml:"REASONING_TRIGGER,omitempty" toml:"REASONING_TRIGGER,omitempty"`
	CodingTrigger    *float64 `json:"CODING_TRIGGER,omitempty" yaml:"CODING_TRIGGER,omitempty" toml:"CODING_TRIGGER,omitempty"`
	CreativeTrigger  *float64 `json:"CREATIVE_TRIGGER,omitempty" yaml:"CREATIVE_TRIGGER,omitempty" toml:"CREATIVE_TRIGGER,omitempty"`
	MultistepTrigger *float64 `json:"MULTISTEP_TRIGGER,omitempty" yaml:"MULTISTEP_TRIGGER,omitempty" toml:"MULTISTEP_TRIGGER,omitempty"`
	SimpleMax        *float64 `json:"SIMPLE_MAX,omitempty" yaml:"SIMPLE_MAX,omitempty" toml:"SIMPLE_MAX,omitempty"`
	ComplexMin       *float64 `json:"COMPLEX_MIN,omitempty" yaml:"COMPLEX_MIN,omitempty" toml:"COMPLEX_MIN,omitempty"`
	PremiumMin       *float64 `json:"PREMIUM_MIN,omitempty" yaml:"PREMIUM_MIN,omitempty" toml:"PREMIUM_MIN,omitempty"`
}

type DecisionsConfig struct {
	File              string     `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxBytes          int64      `json:"maxBytes" yaml:"maxBytes" toml:"maxBytes"`
	ArchiveDir        string     `json:"archiveDir,omitempty" yaml:"archiveDir,omitempty" toml:"archiveDir,omitempty"`
	MaxArchives       int        `json:"maxArchives" yaml:"maxArchives" toml:"maxArchives"`
	SQLite            string     `json:"sqlite,omitempty" yaml:"sqlite,omitempty" toml:"sqlite,omitempty"`
	MQTT              MQTTConfig `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	RetentionDays     int        `json:"retentionDays" yaml:"retentionDays" toml:"retentionDays"`
	RetentionSchedule string     `json:"retentionSchedule" yaml:"retentionSchedule" toml:"retentionSchedule"`
}

type MQTTConfig struct {
	Broker   string `json:"broker,omitempty" yaml:"broker,omitempty" toml:"broker,omitempty"` // tcp://host:port, empty disables
	Topic    string `json:"topic" yaml:"topic" toml:"topic"`
	ClientID string `json:"clientId,omitempty" yaml:"clientId,omitempty" toml:"clientId,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	QoS      byte   `json:"qos" yaml:"qos" toml:"qos"`
}

type ServerConfig struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	JWTSecret string `json:"jwtSecret,omitempty" yaml:"jwtSecret,omitempty" toml:"jwtSecret,omitempty"` // empty disables auth

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// feeds. Same-origin and Origin-less clients are always accepted.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty" toml:"allowedOrigins,omitempty"`
}

type WatchConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds" yaml:"intervalSeconds" toml:"intervalSeconds"`
}

type HealthConfig struct {
	FailureThreshold int    `json:"failureThreshold" yaml:"failureThreshold" toml:"failureThreshold"`
	CooldownSeconds  int    `json:"cooldownSeconds" yaml:"cooldownSeconds" toml:"cooldownSeconds"`
	PersistPath      string `json:"persistPath,omitempty" yaml:"persistPath,omitempty" toml:"persistPath,omitempty"`
	AutoRecover      bool   `json:"autoRecover" yaml:"autoRecover" toml:"autoRecover"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Strategy:     StrategyCost,
		LogLevel:     "info",
		LogDecisions: true,
		Decisions: DecisionsConfig{
			MaxBytes:          10 << 20,
			MaxArchives:       10,
			RetentionDays:     30,
			RetentionSchedule: "0 3 * * *",
			MQTT: MQTTConfig{
				Topic:    "clawroute/decisions",
				ClientID: "clawroute",
			},
		},
		Server: ServerConfig{
			Addr: ":8420",
		},
		Watch: WatchConfig{
			IntervalSeconds: 5,
		},
		Health: HealthConfig{
			FailureThreshold: 3,
			CooldownSeconds:  300,
			AutoRecover:      true,
		},
	}
}

// Load reads config from a JSON, YAML or TOML file over the defaults.
// An empty path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", router.ErrInvalidConfig, err)
	}
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config %s: %w", router.ErrInvalidConfig, path, err)
	}
	cfg.baseDir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals data into v according to the extension of path.
func decode(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, v)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	case ".toml":
		return toml.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Validate checks every section, including the merged routing table.
func (c *Config) Validate() error {
	if !ValidStrategy(c.Strategy) {
		return fmt.Errorf("%w: unknown strategy %q", router.ErrInvalidConfig, c.Strategy)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", router.ErrInvalidConfig, err)
	}
	if c.Decisions.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2", router.ErrInvalidConfig)
	}
	if c.Decisions.MaxBytes < 0 || c.Decisions.MaxArchives < 0 || c.Decisions.RetentionDays < 0 {
		return fmt.Errorf("%w: decisions limits must not be negative", router.ErrInvalidConfig)
	}
	_, err := c.RouterConfig()
	return err
}

// PreferFree maps the strategy onto the router's cost preference.
func (c *Config) PreferFree() bool {
	return PreferFree(c.Strategy)
}

// ValidStrategy reports whether s names a known strategy, ignoring case.
func ValidStrategy(s string) bool {
	switch strings.ToLower(s) {
	case StrategyCost, StrategyFree, StrategyQuality, StrategyPaid:
		return true
	}
	return false
}

// PreferFree reports whether strategy selects free models. Unknown values
// fall back to the cost strategy.
func PreferFree(strategy string) bool {
	switch strings.ToLower(strategy) {
	case StrategyQuality, StrategyPaid:
		return false
	default:
		return true
	}
}

// ParseLevel converts debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

// HealthOptions converts the health section into registry options.
func (c *Config) HealthOptions() health.Config {
	return health.Config{
		FailureThreshold: c.Health.FailureThreshold,
		CooldownPeriod:   time.Duration(c.Health.CooldownSeconds) * time.Second,
		PersistPath:      c.Health.PersistPath,
		AutoRecover:      c.Health.AutoRecover,
	}
}

// WatchInterval returns the polling interval, at least one second.
func (c *Config) WatchInterval() time.Duration {
	if c.Watch.IntervalSeconds < 1 {
		return time.Second
	}
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}

// RouterFiles lists the external router files referenced by the config,
// resolved against the config directory.
func (c *Config) RouterFiles() []string {
	var files []string
	for _, f := range []string{c.Router.DimensionsFile, c.Router.TiersFile} {
		if f != "" {
			files = append(files, c.resolve(f))
		}
	}
	return files
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}
