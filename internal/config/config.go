// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger        LoggerConfig        `mapstructure:"logger" yaml:"logger"`
	Browser       BrowserConfig       `mapstructure:"browser" yaml:"browser"`
	Agent         AgentConfig         `mapstructure:"agent" yaml:"agent"`
	LLM           LLMModelConfig      `mapstructure:"llm" yaml:"llm"`
	Perception    PerceptionConfig    `mapstructure:"perception" yaml:"perception"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

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

// BrowserDriver selects the automation backend.
type BrowserDriver string

const (
	DriverChromedp   BrowserDriver = "chromedp"
	DriverPlaywright BrowserDriver = "playwright"
)

// BrowserConfig configures the browser process owned by each session.
type BrowserConfig struct {
	Driver            BrowserDriver  `mapstructure:"driver" yaml:"driver"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	LaunchTimeout     time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ViewportConfig is the browser window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// ActionErrorPolicy decides what the loop does after an action fails.
type ActionErrorPolicy string

const (
	// PolicyContinue records the failure and moves on to the next step.
	PolicyContinue ActionErrorPolicy = "continue"
	// PolicyAbort records the failure and ends the session with ERROR.
	PolicyAbort ActionErrorPolicy = "abort"
)

// AgentConfig bounds the observe-decide-act loop.
type AgentConfig struct {
	MaxSteps       int               `mapstructure:"max_steps" yaml:"max_steps"`
	ActionWait     time.Duration     `mapstructure:"action_wait" yaml:"action_wait"`
	SettleDelay    time.Duration     `mapstructure:"settle_delay" yaml:"settle_delay"`
	WaitPause      time.Duration     `mapstructure:"wait_pause" yaml:"wait_pause"`
	ScrollDelta    int               `mapstructure:"scroll_delta" yaml:"scroll_delta"`
	HistoryWindow  int               `mapstructure:"history_window" yaml:"history_window"`
	OnActionError  ActionErrorPolicy `mapstructure:"on_action_error" yaml:"on_action_error"`
	SessionTimeout time.Duration     `mapstructure:"session_timeout" yaml:"session_timeout"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMModelConfig defines the reasoning collaborator connection.
type LLMModelConfig struct {
	Provider        LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model           string        `mapstructure:"model" yaml:"model"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	DecisionTimeout time.Duration `mapstructure:"decision_timeout" yaml:"decision_timeout"`
	Temperature     float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
}

// PerceptionConfig controls how frames are captured and archived.
type PerceptionConfig struct {
	Format        string `mapstructure:"format" yaml:"format"`
	Quality       int    `mapstructure:"quality" yaml:"quality"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	MetricsAddr    string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
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
	v.SetDefault("logger.service_name", "navigator")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", string(DriverChromedp))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "30s")

	// -- Agent --
	v.SetDefault("agent.max_steps", 15)
	v.SetDefault("agent.action_wait", "5s")
	v.SetDefault("agent.settle_delay", "2s")
	v.SetDefault("agent.wait_pause", "2s")
	v.SetDefault("agent.scroll_delta", 600)
	v.SetDefault("agent.history_window", 0)
	v.SetDefault("agent.on_action_error", string(PolicyContinue))
	v.SetDefault("agent.session_timeout", "0s")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.decision_timeout", "30s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_retry_elapsed", "20s")

	// -- Perception --
	v.SetDefault("perception.format", "png")
	v.SetDefault("perception.quality", 80)
	v.SetDefault("perception.screenshot_dir", "")

	// -- Observability --
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.tracing_enabled", false)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// API keys are commonly exported under provider-specific names.
	_ = v.BindEnv("llm.api_key", "NAVIGATOR_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKeyFromEnv(cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func providerKeyFromEnv(p LLMProvider) string {
	switch p {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.Perception.Validate(); err != nil {
		return fmt.Errorf("perception configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch b.Driver {
	case DriverChromedp, DriverPlaywright:
	default:
		return fmt.Errorf("driver must be %q or %q, got %q", DriverChromedp, DriverPlaywright, b.Driver)
	}
	if b.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be positive")
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be positive")
	}
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	return nil
}

// Validate checks the loop bounds.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.ActionWait <= 0 {
		return fmt.Errorf("action_wait must be positive")
	}
	if a.SettleDelay < 0 || a.WaitPause < 0 || a.SessionTimeout < 0 {
		return fmt.Errorf("settle_delay, wait_pause and session_timeout must not be negative")
	}
	if a.HistoryWindow < 0 {
		return fmt.Errorf("history_window must not be negative")
	}
	switch a.OnActionError {
	case PolicyContinue, PolicyAbort:
	default:
		return fmt.Errorf("on_action_error must be %q or %q, got %q", PolicyContinue, PolicyAbort, a.OnActionError)
	}
	return nil
}

// Validate checks the reasoning collaborator settings. The API key is not
// required here so that commands which never reach the provider still load.
func (l *LLMModelConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if l.DecisionTimeout <= 0 {
		return fmt.Errorf("decision_timeout must be positive")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}

// Validate checks the capture settings.
func (p *PerceptionConfig) Validate() error {
	switch p.Format {
	case "png":
	case "jpeg":
		if p.Quality < 1 || p.Quality > 100 {
			return fmt.Errorf("quality must be between 1 and 100 for jpeg")
		}
	default:
		return fmt.Errorf("format must be png or jpeg, got %q", p.Format)
	}
	return nil
}
