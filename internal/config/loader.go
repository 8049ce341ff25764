package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "config.yaml"
	ConfigDirName   = ".casepilot"
	GlobalConfigDir = ".config/casepilot"
)

// ErrNoConfigFile is returned when no config file exists up the tree or globally
var ErrNoConfigFile = errors.New("no config file found")

// Loader handles configuration loading and discovery
type Loader struct {
	startDir string
	path     string
	getenv   func(string) string
}

// NewLoader creates a new config loader starting from the given directory
func NewLoader(startDir string) *Loader {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			startDir = "."
		}
	}
	return &Loader{startDir: startDir, getenv: os.Getenv}
}

// WithFile makes the loader read path instead of searching for a config file
func (l *Loader) WithFile(path string) *Loader {
	l.path = path
	return l
}

// Load reads the config file if one exists, falls back to defaults otherwise,
// then applies .env and environment overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	path := l.path
	if path == "" {
		found, err := l.findConfigFile()
		if err != nil && !errors.Is(err, ErrNoConfigFile) {
			return nil, err
		}
		path = found
	}
	if path != "" {
		if err := l.loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	l.loadDotEnv()
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if cfg.AI.Endpoint == "" {
		if p, ok := LookupProvider(cfg.AI.Provider); ok {
			cfg.AI.Endpoint = p.Endpoint
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches upward from the start directory, then the global location
func (l *Loader) findConfigFile() (string, error) {
	dir, err := filepath.Abs(l.startDir)
	if err != nil {
		dir = l.startDir
	}
	for {
		candidate := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(global); err == nil {
			return global, nil
		}
	}
	return "", fmt.Errorf("%w (searched upward from %s)", ErrNoConfigFile, l.startDir)
}

func (l *Loader) loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadDotEnv loads .env from the project and config directories; missing files are fine
func (l *Loader) loadDotEnv() {
	var files []string
	for _, candidate := range []string{
		filepath.Join(l.startDir, ".env"),
		filepath.Join(l.startDir, ConfigDirName, ".env"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			files = append(files, candidate)
		}
	}
	if len(files) > 0 {
		_ = godotenv.Load(files...)
	}
}

// applyEnvOverrides applies CASEPILOT_* variables, and OPENAI_API_KEY for OpenAI
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := l.getenv

	if provider := env("CASEPILOT_AI_PROVIDER"); provider != "" {
		cfg.AI.Provider = provider
	}
	if key := env("CASEPILOT_AI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	} else if cfg.AI.APIKey == "" {
		if p, ok := LookupProvider(cfg.AI.Provider); ok && p.KeyEnv != "" {
			cfg.AI.APIKey = env(p.KeyEnv)
		}
	}
	if model := env("CASEPILOT_AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if endpoint := env("CASEPILOT_AI_ENDPOINT"); endpoint != "" {
		cfg.AI.Endpoint = endpoint
	}

	if baseURL := env("CASEPILOT_BASE_URL"); baseURL != "" {
		cfg.Browser.BaseURL = baseURL
	}
	if headless := env("CASEPILOT_HEADLESS"); headless != "" {
		b, err := strconv.ParseBool(headless)
		if err != nil {
			return fmt.Errorf("CASEPILOT_HEADLESS: %w", err)
		}
		cfg.Browser.Headless = b
	}
	if chrome := env("CASEPILOT_CHROME_PATH"); chrome != "" {
		cfg.Browser.ChromePath = chrome
	}
	if db := env("CASEPILOT_DB_PATH"); db != "" {
		cfg.Storage.DBPath = db
	}
	if level := env("CASEPILOT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}
	return nil
}

// Save writes cfg as YAML. API keys are never written.
func (l *Loader) Save(cfg *Config, path string) error {
	out := *cfg
	out.AI.APIKey = ""

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path where a project config file should be created
func (l *Loader) GetConfigPath() string {
	return filepath.Join(l.startDir, ConfigDirName, ConfigFileName)
}

// IsInitialized checks if a config file exists in the project hierarchy
func (l *Loader) IsInitialized() bool {
	_, err := l.findConfigFile()
	return err == nil
}

// ProjectPath resolves p against the project directory unless it is absolute
func (l *Loader) ProjectPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.startDir, p)
}
