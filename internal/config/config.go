package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Optimize   OptimizeConfig   `yaml:"optimize" mapstructure:"optimize"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AutomationConfig selects and configures the scoring backend.
type AutomationConfig struct {
	Provider  string          `yaml:"provider" mapstructure:"provider"`
	Chrome    ChromeConfig    `yaml:"chrome" mapstructure:"chrome"`
	TaskAgent TaskAgentConfig `yaml:"taskagent" mapstructure:"taskagent"`
}

// ChromeConfig configures the deterministic CDP backend.
type ChromeConfig struct {
	CDPURL             string `yaml:"cdp_url" mapstructure:"cdp_url"`
	ExecPath           string `yaml:"exec_path" mapstructure:"exec_path"`
	Headless           bool   `yaml:"headless" mapstructure:"headless"`
	NoSandbox          bool   `yaml:"no_sandbox" mapstructure:"no_sandbox"`
	ProxyServer        string `yaml:"proxy_server" mapstructure:"proxy_server"`
	DetectorURL        string `yaml:"detector_url" mapstructure:"detector_url"`
	InputSelector      string `yaml:"input_selector" mapstructure:"input_selector"`
	SubmitSelector     string `yaml:"submit_selector" mapstructure:"submit_selector"`
	AIScoreSelector    string `yaml:"ai_score_selector" mapstructure:"ai_score_selector"`
	PlagiarismSelector string `yaml:"plagiarism_selector" mapstructure:"plagiarism_selector"`
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PollIntervalMs     int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// TaskAgentConfig configures the hosted browser-agent backend.
type TaskAgentConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	DetectorURL     string  `yaml:"detector_url" mapstructure:"detector_url"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PollIntervalMs  int     `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	PollTimeoutSecs int     `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for the rewrite collaborators.
type AnthropicConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	Model      string  `yaml:"model" mapstructure:"model"`
	MaxTokens  int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// OptimizeConfig holds per-run defaults applied when the caller omits them.
type OptimizeConfig struct {
	AIThreshold         float64 `yaml:"ai_threshold" mapstructure:"ai_threshold"`
	PlagiarismThreshold float64 `yaml:"plagiarism_threshold" mapstructure:"plagiarism_threshold"`
	MaxIterations       int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	StepCap             int     `yaml:"step_cap" mapstructure:"step_cap"`
	Tone                string  `yaml:"tone" mapstructure:"tone"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig holds the per-call-site retry budgets.
type RetryConfig struct {
	ProviderRetries    int `yaml:"provider_retries" mapstructure:"provider_retries"`
	SessionRetries     int `yaml:"session_retries" mapstructure:"session_retries"`
	ScoreRetries       int `yaml:"score_retries" mapstructure:"score_retries"`
	BackoffMs          int `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	CleanupTimeoutSecs int `yaml:"cleanup_timeout_secs" mapstructure:"cleanup_timeout_secs"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic   map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	ScoringPass map[string]float64      `yaml:"scoring_pass" mapstructure:"scoring_pass"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envOnlyKeys are settings with no default that may come from the
// environment alone.
var envOnlyKeys = []string{
	"automation.chrome.cdp_url",
	"automation.chrome.exec_path",
	"automation.chrome.proxy_server",
	"automation.chrome.detector_url",
	"automation.chrome.ai_score_selector",
	"automation.chrome.plagiarism_selector",
	"automation.taskagent.key",
	"automation.taskagent.detector_url",
	"anthropic.key",
}

// MaxRetryBudget bounds each retry.*_retries setting.
const MaxRetryBudget = 10

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TEXTOPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("automation.provider", "chrome")
	v.SetDefault("automation.chrome.headless", true)
	v.SetDefault("automation.chrome.no_sandbox", false)
	v.SetDefault("automation.chrome.timeout_secs", 90)
	v.SetDefault("automation.chrome.poll_interval_ms", 1000)
	v.SetDefault("automation.chrome.input_selector", "textarea")
	v.SetDefault("automation.chrome.submit_selector", "button[type=submit]")
	v.SetDefault("automation.taskagent.base_url", "https://api.browser-use.com/api/v2")
	v.SetDefault("automation.taskagent.rate_per_sec", 1.0)
	v.SetDefault("automation.taskagent.poll_interval_ms", 2000)
	v.SetDefault("automation.taskagent.poll_timeout_secs", 300)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.rate_per_sec", 2.0)
	v.SetDefault("optimize.ai_threshold", 20.0)
	v.SetDefault("optimize.plagiarism_threshold", 10.0)
	v.SetDefault("optimize.max_iterations", 5)
	v.SetDefault("optimize.step_cap", 25)
	v.SetDefault("optimize.tone", "neutral")
	v.SetDefault("optimize.timeout_secs", 1800)
	v.SetDefault("retry.provider_retries", 2)
	v.SetDefault("retry.session_retries", 3)
	v.SetDefault("retry.score_retries", 2)
	v.SetDefault("retry.backoff_ms", 1000)
	v.SetDefault("retry.cleanup_timeout_secs", 30)
	v.SetDefault("pricing.scoring_pass.chrome", 0.0)
	v.SetDefault("pricing.scoring_pass.taskagent", 0.02)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys without a default are invisible to AutomaticEnv on Unmarshal.
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a mode needs are present and in range.
// Known modes: "score", "analyze", "optimize", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "score":
		errs = append(errs, c.automationErrors()...)
	case "analyze", "optimize", "serve":
		errs = append(errs, c.automationErrors()...)
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	for _, n := range []int{c.Retry.ProviderRetries, c.Retry.SessionRetries, c.Retry.ScoreRetries} {
		if n < 0 || n > MaxRetryBudget {
			errs = append(errs, fmt.Sprintf("retry budgets must be between 0 and %d", MaxRetryBudget))
			break
		}
	}
	if c.Retry.BackoffMs <= 0 {
		errs = append(errs, "retry.backoff_ms must be > 0")
	}
	if c.Optimize.AIThreshold < 0 || c.Optimize.AIThreshold > 100 {
		errs = append(errs, "optimize.ai_threshold must be between 0 and 100")
	}
	if c.Optimize.PlagiarismThreshold < 0 || c.Optimize.PlagiarismThreshold > 100 {
		errs = append(errs, "optimize.plagiarism_threshold must be between 0 and 100")
	}
	if c.Optimize.MaxIterations < 1 || c.Optimize.MaxIterations > 20 {
		errs = append(errs, "optimize.max_iterations must be between 1 and 20")
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be > 0 and <= 65535")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) automationErrors() []string {
	var errs []string
	switch c.Automation.Provider {
	case "chrome":
		if c.Automation.Chrome.DetectorURL == "" {
			errs = append(errs, "automation.chrome.detector_url is required")
		}
		if c.Automation.Chrome.AIScoreSelector == "" {
			errs = append(errs, "automation.chrome.ai_score_selector is required")
		}
	case "taskagent":
		if c.Automation.TaskAgent.Key == "" {
			errs = append(errs, "automation.taskagent.key is required")
		}
		if c.Automation.TaskAgent.DetectorURL == "" {
			errs = append(errs, "automation.taskagent.detector_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("automation.provider %q is not one of chrome, taskagent", c.Automation.Provider))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
