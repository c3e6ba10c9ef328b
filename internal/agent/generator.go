// Package agent defines the external text-generation capability the engine
// orchestrates. The engine treats it as an opaque function that may be slow
// and may fail transiently.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Options selects provider behavior for one generation call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator produces text from an assembled prompt context.
type Generator interface {
	Generate(ctx context.Context, promptContext string, opts Options) (string, error)
}

// GenerationError reports a failure of the external generation capability.
// Transient failures are retryable; the workflow engine backs off and retries
// up to its configured attempt count before failing the step.
type GenerationError struct {
	Capability string
	Cause      error
	Transient  bool
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s: %v", e.Capability, e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is a generation failure worth retrying.
func IsTransient(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Transient
	}
	return false
}
