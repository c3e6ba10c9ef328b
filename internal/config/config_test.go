package config

import (
	"strings"
	"testing"
	"time"
)

func validAI() AIConfig {
	return AIConfig{
		APIKey:      "sk-1234567890abcdef1234567890abcdef",
		Model:       "claude-3-5-sonnet-20241022",
		BaseURL:     "https://api.anthropic.com",
		Timeout:     30,
		Temperature: 0.7,
	}
}

func validPaths() PathsConfig {
	return PathsConfig{
		DataDir:      "data/projects",
		WorkflowsDir: "data/workflows",
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: Config{
				AI:    validAI(),
				Paths: validPaths(),
				Limits: Limits{
					MaxConcurrentRuns: 4,
					MaxRetries:        3,
					RetryBase:         time.Second,
					Context:           DefaultLimits().Context,
					RateLimit: RateLimitConfig{
						RequestsPerMinute: 60,
						BurstSize:         10,
					},
				},
			},
			wantErr: false,
		},
		{
			name: "invalid API key - too short",
			config: Config{
				AI: AIConfig{
					APIKey:  "short",
					Model:   "claude-3-5-sonnet-20241022",
					BaseURL: "https://api.anthropic.com",
					Timeout: 30,
				},
				Paths:  validPaths(),
				Limits: DefaultLimits(),
			},
			wantErr: true,
			errMsg:  "APIKey",
		},
		{
			name: "invalid base URL",
			config: Config{
				AI: AIConfig{
					APIKey:  "sk-1234567890abcdef1234567890abcdef",
					Model:   "claude-3-5-sonnet-20241022",
					BaseURL: "not-a-url",
					Timeout: 30,
				},
				Paths:  validPaths(),
				Limits: DefaultLimits(),
			},
			wantErr: true,
			errMsg:  "BaseURL",
		},
		{
			name: "timeout too high",
			config: Config{
				AI: AIConfig{
					APIKey:  "sk-1234567890abcdef1234567890abcdef",
					Model:   "claude-3-5-sonnet-20241022",
					BaseURL: "https://api.anthropic.com",
					Timeout: 4000,
				},
				Paths:  validPaths(),
				Limits: DefaultLimits(),
			},
			wantErr: true,
			errMsg:  "Timeout",
		},
		{
			name: "concurrent runs too high",
			config: Config{
				AI:    validAI(),
				Paths: validPaths(),
				Limits: Limits{
					MaxConcurrentRuns: 200,
					MaxRetries:        3,
					RetryBase:         time.Second,
					Context:           DefaultLimits().Context,
					RateLimit: RateLimitConfig{
						RequestsPerMinute: 60,
						BurstSize:         10,
					},
				},
			},
			wantErr: true,
			errMsg:  "MaxConcurrentRuns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestDefaultLimits(t *testing.T) {
	cfg := Config{
		AI:     validAI(),
		Paths:  validPaths(),
		Limits: DefaultLimits(),
	}

	if err := cfg.validate(); err != nil {
		t.Errorf("DefaultLimits() should produce valid config, got error: %v", err)
	}
}

func TestParseFillsDefaultsAndEnvKey(t *testing.T) {
	t.Setenv("SCRIBE_API_KEY", "sk-1234567890abcdef1234567890abcdef")

	cfg, err := Parse([]byte(`
ai:
  model: claude-3-5-sonnet-20241022
  base_url: https://api.anthropic.com
  timeout: 120
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.AI.APIKey != "sk-1234567890abcdef1234567890abcdef" {
		t.Errorf("API key not resolved from environment, got %q", cfg.AI.APIKey)
	}
	if cfg.Paths.DataDir == "" || cfg.Paths.WorkflowsDir == "" {
		t.Errorf("paths not defaulted: %+v", cfg.Paths)
	}
	if cfg.Limits.MaxConcurrentRuns != DefaultLimits().MaxConcurrentRuns {
		t.Errorf("limits not defaulted: %+v", cfg.Limits)
	}
}

func TestParseMissingKey(t *testing.T) {
	t.Setenv("SCRIBE_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Parse([]byte(`
ai:
  model: claude-3-5-sonnet-20241022
  base_url: https://api.anthropic.com
  timeout: 120
`))
	if err == nil || !strings.Contains(err.Error(), "no API key") {
		t.Errorf("Parse() error = %v, want missing-key error", err)
	}
}
