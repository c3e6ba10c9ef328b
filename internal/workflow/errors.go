package workflow

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidationBlocked is returned when an approval cannot proceed because
// blocking findings stand against the step's current output. The run stays
// suspended; the human edits the output or aborts.
var ErrValidationBlocked = errors.New("blocking findings outstanding")

// ApprovalTimeoutError marks a checkpoint whose approval window elapsed. The
// run fails with this error but remains re-dispatchable at the same step.
type ApprovalTimeoutError struct {
	RunID  string
	Step   string
	Waited time.Duration
}

func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("run %s: step %q approval timed out after %s", e.RunID, e.Step, e.Waited)
}

// IsApprovalTimeout reports whether err is an approval timeout.
func IsApprovalTimeout(err error) bool {
	var te *ApprovalTimeoutError
	return errors.As(err, &te)
}

// RunNotFoundError indicates no run with the given ID exists in memory or in
// the run store.
type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %s not found", e.ID)
}

// StepInputError indicates a declared step input that could not be resolved
// from the bundle or from prior step outputs.
type StepInputError struct {
	Step  string
	Input string
}

func (e *StepInputError) Error() string {
	return fmt.Sprintf("step %q: required input %q cannot be resolved", e.Step, e.Input)
}
