package config

import (
	"fmt"
	"time"
)

// Config represents the complete casepilot configuration
type Config struct {
	AI        AIConfig        `yaml:"ai"`
	Browser   BrowserConfig   `yaml:"browser"`
	Execution ExecutionConfig `yaml:"execution"`
	Storage   StorageConfig   `yaml:"storage"`
	Watch     WatchConfig     `yaml:"watch"`
	Log       LogConfig       `yaml:"log"`
}

// AIConfig holds the OpenAI-compatible provider settings
type AIConfig struct {
	Provider    string  `yaml:"provider"` // openai, openrouter, ollama, mock, custom
	APIKey      string  `yaml:"api_key,omitempty"`
	Model       string  `yaml:"model"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// BrowserConfig controls the chromedp session
type BrowserConfig struct {
	BaseURL      string `yaml:"base_url"`
	Headless     bool   `yaml:"headless"`
	ChromePath   string `yaml:"chrome_path,omitempty"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// ExecutionConfig holds backend timing defaults. Durations are strings such as "15s".
type ExecutionConfig struct {
	AssertTimeout string `yaml:"assert_timeout"`
	PollInterval  string `yaml:"poll_interval"`
	StepTimeout   string `yaml:"step_timeout"`
}

// StorageConfig locates the run history database
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
	// Disabled turns off run history
	Disabled bool `yaml:"disabled,omitempty"`
}

// WatchConfig tunes watch mode
type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// LogConfig sets the file log level
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.1,
			MaxTokens:   2048,
		},
		Browser: BrowserConfig{
			BaseURL:      "http://localhost:3000",
			Headless:     true,
			Width:        1280,
			Height:       800,
			ArtifactsDir: ".casepilot/artifacts",
		},
		Execution: ExecutionConfig{
			AssertTimeout: "15s",
			PollInterval:  "3s",
			StepTimeout:   "2m",
		},
		Storage: StorageConfig{
			DBPath: ".casepilot/runs.db",
		},
		Watch: WatchConfig{
			DebounceMs: 300,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.AI.Provider == "" {
		return NewValidationError("ai.provider is required")
	}
	if _, ok := LookupProvider(c.AI.Provider); !ok {
		return NewValidationError("unknown ai.provider: " + c.AI.Provider)
	}
	if c.AI.Provider == "custom" && c.AI.Endpoint == "" {
		return NewValidationError("ai.endpoint is required for provider: custom")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return NewValidationError(fmt.Sprintf("ai.temperature must be between 0 and 2, got %g", c.AI.Temperature))
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return NewValidationError("browser.width and browser.height must be positive")
	}
	for name, value := range map[string]string{
		"execution.assert_timeout": c.Execution.AssertTimeout,
		"execution.poll_interval":  c.Execution.PollInterval,
		"execution.step_timeout":   c.Execution.StepTimeout,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return NewValidationError(fmt.Sprintf("%s is not a valid duration: %q", name, value))
		}
	}
	if c.Watch.DebounceMs < 0 {
		return NewValidationError("watch.debounce_ms must not be negative")
	}
	return nil
}

// RequireAPIKey reports an error when the provider needs a key and none is set
func (c *Config) RequireAPIKey() error {
	if p, ok := LookupProvider(c.AI.Provider); ok && p.NeedsKey && c.AI.APIKey == "" {
		hint := "ai.api_key"
		if p.KeyEnv != "" {
			hint += " or " + p.KeyEnv
		}
		return NewValidationError(hint + " is required for provider: " + c.AI.Provider)
	}
	return nil
}

// AssertTimeoutDuration returns the default timeout for aiAssert and aiWaitFor
func (e ExecutionConfig) AssertTimeoutDuration() time.Duration {
	return durationOr(e.AssertTimeout, 15*time.Second)
}

// PollIntervalDuration returns the default aiWaitFor check interval
func (e ExecutionConfig) PollIntervalDuration() time.Duration {
	return durationOr(e.PollInterval, 3*time.Second)
}

// StepTimeoutDuration bounds a single step; zero means no bound
func (e ExecutionConfig) StepTimeoutDuration() time.Duration {
	return durationOr(e.StepTimeout, 0)
}

// Debounce returns the watch debounce as a duration
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "config validation error: " + e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}
