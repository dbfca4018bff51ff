// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
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
	Proxy() ProxyConfig
	Profiles() ProfilesConfig
	Forms() FormsConfig
	Checkout() CheckoutConfig
	API() APIConfig
	Defaults() DefaultsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserHumanoidEnabled(bool)

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// Proxy Setters
	SetProxyEnabled(bool)
}

// Config holds the entire application configuration. Sections are exported
// so viper can decode into them; callers should prefer the getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	ProxyCfg    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	ProfilesCfg ProfilesConfig `mapstructure:"profiles" yaml:"profiles"`
	FormsCfg    FormsConfig    `mapstructure:"forms" yaml:"forms"`
	CheckoutCfg CheckoutConfig `mapstructure:"checkout" yaml:"checkout"`
	APICfg      APIConfig      `mapstructure:"api" yaml:"api"`
	DefaultsCfg DefaultsConfig `mapstructure:"defaults" yaml:"defaults"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Proxy() ProxyConfig       { return c.ProxyCfg }
func (c *Config) Profiles() ProfilesConfig { return c.ProfilesCfg }
func (c *Config) Forms() FormsConfig       { return c.FormsCfg }
func (c *Config) Checkout() CheckoutConfig { return c.CheckoutCfg }
func (c *Config) API() APIConfig           { return c.APICfg }
func (c *Config) Defaults() DefaultsConfig { return c.DefaultsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserHumanoidEnabled(b bool) { c.BrowserCfg.Humanoid.Enabled = b }
func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetProxyEnabled(b bool)           { c.ProxyCfg.Enabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL
// disables result persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the worker pool and the job queue it drains.
type EngineConfig struct {
	WorkerConcurrency  int             `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration   `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
	MaxAttempts        int             `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase        time.Duration   `mapstructure:"backoff_base" yaml:"backoff_base"`
	RateLimitMax       int             `mapstructure:"rate_limit_max" yaml:"rate_limit_max"`
	RateLimitWindow    time.Duration   `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
	RetainCompleted    RetentionConfig `mapstructure:"retain_completed" yaml:"retain_completed"`
	RetainFailed       RetentionConfig `mapstructure:"retain_failed" yaml:"retain_failed"`
	ShutdownGrace      time.Duration   `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// RetentionConfig bounds how many finished job records are kept, and for how long.
type RetentionConfig struct {
	Age   time.Duration `mapstructure:"age" yaml:"age"`
	Count int           `mapstructure:"count" yaml:"count"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	LaunchTimeout     time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleDelay       time.Duration  `mapstructure:"settle_delay" yaml:"settle_delay"`
	Screenshots       bool           `mapstructure:"screenshots" yaml:"screenshots"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// ProxyConfig describes the rotating residential proxy. Country, State and
// City only matter for providers that route by username suffix.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	Country  string `mapstructure:"country" yaml:"country"`
	State    string `mapstructure:"state" yaml:"state"`
	City     string `mapstructure:"city" yaml:"city"`
}

// ProfilesConfig locates the per-session browser profile directories.
type ProfilesConfig struct {
	Root       string `mapstructure:"root" yaml:"root"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// FormsConfig tunes the generic fill, submit and verify flow.
type FormsConfig struct {
	NetworkIdleTimeout    time.Duration `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	DefaultSubmitSelector string        `mapstructure:"default_submit_selector" yaml:"default_submit_selector"`
	VerifySettleDelay     time.Duration `mapstructure:"verify_settle_delay" yaml:"verify_settle_delay"`
}

// CheckoutConfig tunes the CartPanda checkout flow.
type CheckoutConfig struct {
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollBudget   time.Duration `mapstructure:"poll_budget" yaml:"poll_budget"`
}

// APIConfig configures the HTTP submission surface.
type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultsConfig supplies task fields a submission may omit.
type DefaultsConfig struct {
	TargetURL string `mapstructure:"target_url" yaml:"target_url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formrunner")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 2)
	v.SetDefault("engine.default_task_timeout", "5m")
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.backoff_base", "5s")
	v.SetDefault("engine.rate_limit_max", 10)
	v.SetDefault("engine.rate_limit_window", "1m")
	v.SetDefault("engine.retain_completed.age", "1h")
	v.SetDefault("engine.retain_completed.count", 100)
	v.SetDefault("engine.retain_failed.age", "24h")
	v.SetDefault("engine.retain_failed.count", 500)
	v.SetDefault("engine.shutdown_grace", "30s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.settle_delay", "3s")
	v.SetDefault("browser.screenshots", true)
	setHumanoidDefaults(v)

	// -- Proxy --
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.country", "us")

	// -- Profiles --
	v.SetDefault("profiles.root", "~/.formrunner/profiles")
	v.SetDefault("profiles.max_age_days", 30)

	// -- Forms --
	v.SetDefault("forms.network_idle_timeout", "10s")
	v.SetDefault("forms.default_submit_selector", `button[type="submit"]`)
	v.SetDefault("forms.verify_settle_delay", "3s")

	// -- Checkout --
	v.SetDefault("checkout.settle_delay", "30s")
	v.SetDefault("checkout.poll_interval", "3s")
	v.SetDefault("checkout.poll_budget", "60s")

	// -- API --
	v.SetDefault("api.addr", ":3000")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials are usually injected through the environment rather than the file.
	_ = v.BindEnv("proxy.username", "PROXY_USERNAME", "FORMRUNNER_PROXY_USERNAME")
	_ = v.BindEnv("proxy.password", "PROXY_PASSWORD", "FORMRUNNER_PROXY_PASSWORD")
	_ = v.BindEnv("database.url", "DATABASE_URL", "FORMRUNNER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.EngineCfg.MaxAttempts <= 0 {
		return fmt.Errorf("engine.max_attempts must be a positive integer")
	}
	if c.EngineCfg.RateLimitMax <= 0 || c.EngineCfg.RateLimitWindow <= 0 {
		return fmt.Errorf("engine.rate_limit_max and engine.rate_limit_window must be positive")
	}
	if strings.TrimSpace(c.ProfilesCfg.Root) == "" {
		return fmt.Errorf("profiles.root is required")
	}
	if c.ProfilesCfg.MaxAgeDays < 0 {
		return fmt.Errorf("profiles.max_age_days must not be negative")
	}
	if err := c.ProxyCfg.Validate(); err != nil {
		return fmt.Errorf("proxy configuration invalid: %w", err)
	}
	if err := c.CheckoutCfg.Validate(); err != nil {
		return fmt.Errorf("checkout configuration invalid: %w", err)
	}
	if err := c.BrowserCfg.Humanoid.Validate(); err != nil {
		return fmt.Errorf("browser.humanoid configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the proxy settings. A disabled proxy is always valid.
func (p *ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Host == "" || p.Port <= 0 {
		return fmt.Errorf("host and port are required when the proxy is enabled")
	}
	if p.Username == "" {
		return fmt.Errorf("username is required when the proxy is enabled")
	}
	return nil
}

// Validate checks the checkout polling settings.
func (c *CheckoutConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if c.PollBudget < c.PollInterval {
		return fmt.Errorf("poll_budget must be at least poll_interval")
	}
	return nil
}
