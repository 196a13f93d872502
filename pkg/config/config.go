// Package config handles configuration for app-explorer: defaults, an
// optional config.yaml, and APP_EXPLORER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/explorer"
	"github.com/devicelab-dev/app-explorer/pkg/llm"
	"github.com/devicelab-dev/app-explorer/pkg/logger"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// EnvPrefix prefixes environment overrides: explorer.max_depth is read
// from APP_EXPLORER_EXPLORER_MAX_DEPTH.
const EnvPrefix = "APP_EXPLORER"

// Drivers.
const (
	DriverUIAutomator2 = "uiautomator2"
	DriverMock         = "mock"
)

// OracleHeuristic selects the offline oracle that proposes every button.
const OracleHeuristic = "heuristic"

// Config represents the full configuration.
type Config struct {
	Device      DeviceConfig            `mapstructure:"device" yaml:"device"`
	App         AppConfig               `mapstructure:"app" yaml:"app"`
	Explorer    ExplorerConfig          `mapstructure:"explorer" yaml:"explorer"`
	Menu        MenuConfig              `mapstructure:"menu" yaml:"menu"`
	Fingerprint view.FingerprintOptions `mapstructure:"fingerprint" yaml:"fingerprint"`
	Oracle      OracleConfig            `mapstructure:"oracle" yaml:"oracle"`
	Logger      logger.Config           `mapstructure:"logger" yaml:"logger"`
	Store       StoreConfig             `mapstructure:"store" yaml:"store"`
	Report      ReportConfig            `mapstructure:"report" yaml:"report"`
	Metrics     MetricsConfig           `mapstructure:"metrics" yaml:"metrics"`
}

// DeviceConfig selects and configures the device driver.
type DeviceConfig struct {
	Driver  string `mapstructure:"driver" yaml:"driver"`
	Serial  string `mapstructure:"serial" yaml:"serial"` // adb serial; empty picks the only device
	Port    int    `mapstructure:"port" yaml:"port"`     // UIAutomator2 server port on the host
	MockApp string `mapstructure:"mock_app" yaml:"mock_app,omitempty"`
}

// AppConfig identifies the application under test.
type AppConfig struct {
	Package string `mapstructure:"package" yaml:"package"`
}

// ExplorerConfig holds the traversal parameters.
type ExplorerConfig struct {
	MaxDepth         int           `mapstructure:"max_depth" yaml:"max_depth"`
	MaxSteps         int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxRuns          int           `mapstructure:"max_runs" yaml:"max_runs"`
	BacktrackRetries int           `mapstructure:"backtrack_retries" yaml:"backtrack_retries"`
	BacktrackDelay   time.Duration `mapstructure:"backtrack_delay" yaml:"backtrack_delay"`
	DeviceRetries    int           `mapstructure:"device_retries" yaml:"device_retries"`
	DeviceRetryDelay time.Duration `mapstructure:"device_retry_delay" yaml:"device_retry_delay"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	LaunchWaitSteps  int           `mapstructure:"launch_wait_steps" yaml:"launch_wait_steps"`
	MaxRestarts      int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	MaxStepsOutside  int           `mapstructure:"max_steps_outside" yaml:"max_steps_outside"`
	TraceSize        int           `mapstructure:"trace_size" yaml:"trace_size"`
	RevealScroll     bool          `mapstructure:"reveal_scroll" yaml:"reveal_scroll"`
	MaxScrolls       int           `mapstructure:"max_scrolls" yaml:"max_scrolls"`
	Seed             int64         `mapstructure:"seed" yaml:"seed"`
}

// MenuConfig locates the top-level menu. An empty control explores from
// the first screen only.
type MenuConfig struct {
	Control     string   `mapstructure:"control" yaml:"control"`
	Container   string   `mapstructure:"container" yaml:"container"`
	Entries     []string `mapstructure:"entries" yaml:"entries"`
	Exclude     []string `mapstructure:"exclude" yaml:"exclude"`
	SearchLimit int      `mapstructure:"search_limit" yaml:"search_limit"`
}

// OracleConfig configures the semantic oracle and its transport.
type OracleConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	StrictFilters     bool          `mapstructure:"strict_filters" yaml:"strict_filters"`
	PrimaryFlow       []string      `mapstructure:"primary_flow" yaml:"primary_flow"`
	DescriptiveLimit  int           `mapstructure:"descriptive_limit" yaml:"descriptive_limit"`
}

// StoreConfig locates the SQLite database. An empty path disables
// persistence.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ReportConfig selects the exports written after a run.
type ReportConfig struct {
	Dir      string   `mapstructure:"dir" yaml:"dir"`
	Formats  []string `mapstructure:"formats" yaml:"formats"`
	Compress bool     `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig configures the status server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	e := explorer.DefaultConfig()

	v.SetDefault("device.driver", DriverUIAutomator2)
	v.SetDefault("device.serial", "")
	v.SetDefault("device.port", 6790)
	v.SetDefault("device.mock_app", "")

	v.SetDefault("app.package", "")

	v.SetDefault("explorer.max_depth", e.MaxDepth)
	v.SetDefault("explorer.max_steps", 500)
	v.SetDefault("explorer.max_runs", e.MaxRuns)
	v.SetDefault("explorer.backtrack_retries", e.BacktrackRetries)
	v.SetDefault("explorer.backtrack_delay", e.BacktrackDelay)
	v.SetDefault("explorer.device_retries", e.DeviceRetries)
	v.SetDefault("explorer.device_retry_delay", e.DeviceRetryDelay)
	v.SetDefault("explorer.settle_delay", e.SettleDelay)
	v.SetDefault("explorer.launch_wait_steps", e.LaunchWaitSteps)
	v.SetDefault("explorer.max_restarts", e.MaxRestarts)
	v.SetDefault("explorer.max_steps_outside", e.MaxStepsOutside)
	v.SetDefault("explorer.trace_size", e.TraceSize)
	v.SetDefault("explorer.reveal_scroll", e.RevealScroll)
	v.SetDefault("explorer.max_scrolls", e.MaxScrolls)
	v.SetDefault("explorer.seed", e.Seed)

	v.SetDefault("menu.control", "")
	v.SetDefault("menu.container", "")
	v.SetDefault("menu.entries", []string{})
	v.SetDefault("menu.exclude", []string{})
	v.SetDefault("menu.search_limit", e.MenuSearchLimit)

	v.SetDefault("fingerprint.filtered_classes", []string{})
	v.SetDefault("fingerprint.volatile_ids", []string{})
	v.SetDefault("fingerprint.ignore_activity", false)

	v.SetDefault("oracle.provider", llm.ProviderGemini)
	v.SetDefault("oracle.model", "")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.endpoint", "")
	v.SetDefault("oracle.timeout", 60*time.Second)
	v.SetDefault("oracle.max_tokens", 1024)
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.requests_per_minute", 0)
	v.SetDefault("oracle.strict_filters", true)
	v.SetDefault("oracle.primary_flow", []string{"search", "submit", "send", "ok", "confirm", "cancel"})
	v.SetDefault("oracle.descriptive_limit", 50)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.no_color", false)

	v.SetDefault("store.path", filepath.Join(GetDataDir(), "app-explorer.db"))

	v.SetDefault("report.dir", filepath.Join(GetDataDir(), "report"))
	v.SetDefault("report.formats", []string{"json", "html"})
	v.SetDefault("report.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

// NewViper returns a viper instance with defaults and environment
// overrides. path names a config file; when empty, config.yaml or
// config.yml in the working directory is used if present.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// API keys are usually exported under the provider's own name.
	_ = v.BindEnv("oracle.api_key", EnvPrefix+"_ORACLE_API_KEY", "GEMINI_API_KEY", "DEEPSEEK_API_KEY", "OPENAI_API_KEY")
	return v
}

// Load reads the configuration and validates it.
func Load(path string) (*Config, error) {
	v := NewViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks value ranges. The app package is checked by the
// commands that need it.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...interface{}) error {
		return core.ErrInvalidConfig.
			WithMessage(fmt.Sprintf("%s: "+format, append([]interface{}{field}, args...)...)).
			WithDetails(map[string]interface{}{"field": field})
	}

	switch c.Device.Driver {
	case DriverUIAutomator2:
	case DriverMock:
	default:
		return invalid("device.driver", "unknown driver %q", c.Device.Driver)
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return invalid("device.port", "out of range: %d", c.Device.Port)
	}

	positive := map[string]int{
		"explorer.max_depth":         c.Explorer.MaxDepth,
		"explorer.max_runs":          c.Explorer.MaxRuns,
		"explorer.backtrack_retries": c.Explorer.BacktrackRetries,
		"explorer.launch_wait_steps": c.Explorer.LaunchWaitSteps,
		"explorer.max_restarts":      c.Explorer.MaxRestarts,
		"explorer.max_steps_outside": c.Explorer.MaxStepsOutside,
		"explorer.trace_size":        c.Explorer.TraceSize,
		"explorer.max_scrolls":       c.Explorer.MaxScrolls,
		"menu.search_limit":          c.Menu.SearchLimit,
	}
	for _, field := range sortedKeys(positive) {
		if positive[field] <= 0 {
			return invalid(field, "must be positive, got %d", positive[field])
		}
	}
	if c.Explorer.DeviceRetries < 0 {
		return invalid("explorer.device_retries", "must not be negative")
	}
	if c.Explorer.MaxSteps < 0 {
		return invalid("explorer.max_steps", "must not be negative")
	}
	if c.Menu.Container != "" && c.Menu.Control == "" {
		return invalid("menu.container", "requires menu.control")
	}
	if _, err := explorer.NewEntryFilter(c.Menu.Entries, c.Menu.Exclude); err != nil {
		return invalid("menu.entries", "%v", err)
	}
	if _, err := view.NewFingerprinter(c.Fingerprint); err != nil {
		return invalid("fingerprint.volatile_ids", "%v", err)
	}

	switch c.Oracle.Provider {
	case llm.ProviderGemini, llm.ProviderOpenAI, "deepseek", OracleHeuristic:
	default:
		return invalid("oracle.provider", "unknown provider %q", c.Oracle.Provider)
	}
	if c.Oracle.MaxRetries < 0 {
		return invalid("oracle.max_retries", "must not be negative")
	}
	if c.Oracle.RequestsPerMinute < 0 {
		return invalid("oracle.requests_per_minute", "must not be negative")
	}

	for _, f := range c.Report.Formats {
		switch f {
		case "json", "yaml", "mermaid", "html":
		default:
			return invalid("report.formats", "unknown format %q", f)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr", "required when metrics are enabled")
	}
	return nil
}

// ExplorerConfig converts the traversal and menu sections.
func (c *Config) ExplorerConfig() explorer.Config {
	e := c.Explorer
	return explorer.Config{
		App:              c.App.Package,
		MaxDepth:         e.MaxDepth,
		BacktrackRetries: e.BacktrackRetries,
		BacktrackDelay:   e.BacktrackDelay,
		DeviceRetries:    e.DeviceRetries,
		DeviceRetryDelay: e.DeviceRetryDelay,
		SettleDelay:      e.SettleDelay,
		LaunchWaitSteps:  e.LaunchWaitSteps,
		MaxRestarts:      e.MaxRestarts,
		MaxStepsOutside:  e.MaxStepsOutside,
		TraceSize:        e.TraceSize,
		MenuControl:      c.Menu.Control,
		MenuContainer:    c.Menu.Container,
		MenuInclude:      c.Menu.Entries,
		MenuExclude:      c.Menu.Exclude,
		MenuSearchLimit:  c.Menu.SearchLimit,
		RevealScroll:     e.RevealScroll,
		MaxScrolls:       e.MaxScrolls,
		Seed:             e.Seed,
		MaxRuns:          e.MaxRuns,
	}
}

// LLMConfig converts the oracle transport settings.
func (c *Config) LLMConfig() llm.Config {
	o := c.Oracle
	return llm.Config{
		Provider:          o.Provider,
		Model:             o.Model,
		APIKey:            o.APIKey,
		Endpoint:          o.Endpoint,
		Timeout:           o.Timeout,
		MaxTokens:         o.MaxTokens,
		MaxRetries:        o.MaxRetries,
		RequestsPerMinute: o.RequestsPerMinute,
	}
}

// WriteDefault writes the default configuration as YAML to path. An
// existing file is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
