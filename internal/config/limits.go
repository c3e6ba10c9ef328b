package config

import "time"

// Limits bounds the engine's appetite: concurrency, retries, approval
// windows, context bundle sizes, and the request rate toward the provider.
type Limits struct {
	MaxConcurrentRuns int             `yaml:"max_concurrent_runs" validate:"required,min=1,max=100"`
	MaxRetries        int             `yaml:"max_retries" validate:"required,min=1,max=10"`
	RetryBase         time.Duration   `yaml:"retry_base" validate:"required,min=1ms,max=1m"`
	ApprovalTimeout   time.Duration   `yaml:"approval_timeout" validate:"min=0,max=168h"`
	Context           ContextLimits   `yaml:"context"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" validate:"required"`
	StaleCallbackAge  int             `yaml:"stale_callback_age" validate:"min=0,max=200"`
}

// ContextLimits caps each section of an assembled bundle.
type ContextLimits struct {
	MaxCallbacks     int `yaml:"max_callbacks" validate:"min=1,max=100"`
	MaxFacts         int `yaml:"max_facts" validate:"min=1,max=200"`
	MaxMemories      int `yaml:"max_memories" validate:"min=1,max=100"`
	MaxPreviousWords int `yaml:"max_previous_words" validate:"min=100,max=20000"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentRuns: 4,
		MaxRetries:        3,
		RetryBase:         2 * time.Second,
		// Approval expiry is opt-in; by default a checkpoint waits forever.
		ApprovalTimeout: 0,
		Context: ContextLimits{
			MaxCallbacks:     10,
			MaxFacts:         15,
			MaxMemories:      8,
			MaxPreviousWords: 3000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         15,
		},
		StaleCallbackAge: 12,
	}
}
