// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Approval() ApprovalConfig
	Advisor() AdvisorConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)

	// Approval Setters
	SetApprovalMode(string)

	// Advisor Setters
	SetAdvisorEnabled(bool)
}

// Config holds the entire application configuration. It uses private fields
// to enforce access through the Interface's getter methods.
type Config struct {
	logger   LoggerConfig
	database DatabaseConfig
	engine   EngineConfig
	browser  BrowserConfig
	network  NetworkConfig
	approval ApprovalConfig
	advisor  AdvisorConfig
	// run gets its marching orders from CLI flags, not the config file.
	run RunConfig
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Database() DatabaseConfig { return c.database }
func (c *Config) Engine() EngineConfig     { return c.engine }
func (c *Config) Browser() BrowserConfig   { return c.browser }
func (c *Config) Network() NetworkConfig   { return c.network }
func (c *Config) Approval() ApprovalConfig { return c.approval }
func (c *Config) Advisor() AdvisorConfig   { return c.advisor }
func (c *Config) Run() RunConfig           { return c.run }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunConfig(rc RunConfig) { c.run = rc }

// Engine Setters
func (c *Config) SetEngineWorkerConcurrency(w int) { c.engine.WorkerConcurrency = w }

// Browser Setters
func (c *Config) SetBrowserHeadless(b bool)        { c.browser.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.browser.IgnoreTLSErrors = b }

// Approval Setters
func (c *Config) SetApprovalMode(m string) { c.approval.Mode = m }

// Advisor Setters
func (c *Config) SetAdvisorEnabled(b bool) { c.advisor.Enabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the audit store connection details. An empty URL
// disables persistence; results are still reported to stdout and files.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the core run processing engine.
type EngineConfig struct {
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultRunTimeout time.Duration `mapstructure:"default_run_timeout" yaml:"default_run_timeout"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// NetworkConfig tunes page-load behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// ApprovalConfig selects how pending-approval actions get their verdicts.
// Mode is one of "console", "auto-approve" or "auto-deny".
type ApprovalConfig struct {
	Mode        string        `mapstructure:"mode" yaml:"mode"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// AdvisorConfig points at the optional risk analytics service.
type AdvisorConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	Token         string        `mapstructure:"token" yaml:"-"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int           `mapstructure:"burst" yaml:"burst"`
}

// RunConfig holds settings populated from CLI flags for a specific run.
type RunConfig struct {
	PackPath    string
	ProfileName string
	ProfilePath string
	Targets     []string
	Output      string
	Format      string
}

// rawConfig mirrors Config with exported fields so viper can decode into it.
type rawConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Network  NetworkConfig  `mapstructure:"network"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Advisor  AdvisorConfig  `mapstructure:"advisor"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "warden")
	v.SetDefault("logger.log_file", "warden.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 100)
	v.SetDefault("engine.worker_concurrency", 2)
	v.SetDefault("engine.default_run_timeout", "10m")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")

	// -- Approval --
	v.SetDefault("approval.mode", "console")
	v.SetDefault("approval.idle_timeout", "5m")

	// -- Advisor --
	v.SetDefault("advisor.enabled", false)
	v.SetDefault("advisor.timeout", "5s")
	v.SetDefault("advisor.rate_per_second", 1.0)
	v.SetDefault("advisor.burst", 3)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "WARDEN_DATABASE_URL")
	v.BindEnv("advisor.token", "WARDEN_ADVISOR_TOKEN")

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := &Config{
		logger:   raw.Logger,
		database: raw.Database,
		engine:   raw.Engine,
		browser:  raw.Browser,
		network:  raw.Network,
		approval: raw.Approval,
		advisor:  raw.Advisor,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	switch c.approval.Mode {
	case "console", "auto-approve", "auto-deny":
	default:
		return fmt.Errorf("approval.mode must be one of console, auto-approve, auto-deny, got %q", c.approval.Mode)
	}
	if err := c.advisor.Validate(); err != nil {
		return fmt.Errorf("advisor configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the advisor settings.
func (a *AdvisorConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.BaseURL == "" {
		return fmt.Errorf("base_url is required when the advisor is enabled")
	}
	if a.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be positive")
	}
	return nil
}
