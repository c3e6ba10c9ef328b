// Package config loads and validates scribe's configuration: AI provider
// settings, data paths, and the engine limits. Files live under the XDG
// config directory; secrets come from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI     AIConfig    `yaml:"ai" validate:"required"`
	Paths  PathsConfig `yaml:"paths"`
	Limits Limits      `yaml:"limits" validate:"required"`
}

type AIConfig struct {
	APIKey      string  `yaml:"api_key" validate:"required,min=20"`
	Model       string  `yaml:"model" validate:"required"`
	BaseURL     string  `yaml:"base_url" validate:"required,url"`
	Timeout     int     `yaml:"timeout" validate:"required,min=10,max=3600"`
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"min=0"`
}

type PathsConfig struct {
	// DataDir holds project codexes, run records, and checkpoints.
	DataDir string `yaml:"data_dir" validate:"required,dirpath"`
	// WorkflowsDir holds the YAML workflow definitions.
	WorkflowsDir string `yaml:"workflows_dir" validate:"required,dirpath"`
}

// Load reads the config file, fills defaults, resolves the API key from the
// environment, and validates the result. A missing file yields a default
// config written back for editing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := getConfigPath()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		cfg := defaultConfig()
		if saveErr := saveConfig(cfg, configPath); saveErr != nil {
			return nil, fmt.Errorf("writing default config: %w", saveErr)
		}
		if resolveErr := cfg.resolveAPIKey(); resolveErr != nil {
			return nil, resolveErr
		}
		if validateErr := cfg.validate(); validateErr != nil {
			return nil, fmt.Errorf("validating config: %w", validateErr)
		}
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes config bytes, fills defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.resolveAPIKey(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolveAPIKey() error {
	if c.AI.APIKey != "" && !strings.HasPrefix(c.AI.APIKey, "${") {
		return nil
	}
	for _, env := range []string{"SCRIBE_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if key := os.Getenv(env); key != "" {
			c.AI.APIKey = key
			return nil
		}
	}
	return fmt.Errorf("no API key: set SCRIBE_API_KEY or fill ai.api_key in %s", getConfigPath())
}

func getConfigPath() string {
	if path := os.Getenv("SCRIBE_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "scribe", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "scribe", "config.yaml")
}

func dataHome() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "scribe")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "scribe")
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func defaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Model:       "claude-3-5-sonnet-20241022",
			BaseURL:     "https://api.anthropic.com",
			Timeout:     900,
			Temperature: 0.7,
		},
		Paths: PathsConfig{
			DataDir:      filepath.Join(dataHome(), "projects"),
			WorkflowsDir: filepath.Join(dataHome(), "workflows"),
		},
		Limits: DefaultLimits(),
	}
}

func (c *Config) validate() error {
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = filepath.Join(dataHome(), "projects")
	} else {
		c.Paths.DataDir = expandTilde(c.Paths.DataDir)
	}
	if c.Paths.WorkflowsDir == "" {
		c.Paths.WorkflowsDir = filepath.Join(dataHome(), "workflows")
	} else {
		c.Paths.WorkflowsDir = expandTilde(c.Paths.WorkflowsDir)
	}

	if c.Limits.MaxConcurrentRuns == 0 {
		c.Limits = DefaultLimits()
	}

	validate := validator.New()

	// Directories are created on demand; only reject empty values.
	validate.RegisterValidation("dirpath", func(fl validator.FieldLevel) bool {
		return fl.Field().String() != ""
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

func saveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Keep the key out of the file; the environment supplies it.
	cfgToSave := *cfg
	cfgToSave.AI.APIKey = "${SCRIBE_API_KEY}"

	data, err := yaml.Marshal(&cfgToSave)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}
