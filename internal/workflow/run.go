package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/vampirenirmal/scribe/internal/assemble"
	"github.com/vampirenirmal/scribe/internal/validate"
)

// RunState is the lifecycle state of a run. completed, failed and aborted are
// terminal, except that a failed run may be re-dispatched at its current step.
type RunState string

const (
	RunPending          RunState = "pending"
	RunRunning          RunState = "running"
	RunAwaitingApproval RunState = "awaiting_approval"
	RunCompleted        RunState = "completed"
	RunFailed           RunState = "failed"
	RunAborted          RunState = "aborted"
)

type trigger string

const (
	triggerStart      trigger = "start"
	triggerSuspend    trigger = "suspend"
	triggerResume     trigger = "resume"
	triggerComplete   trigger = "complete"
	triggerFail       trigger = "fail"
	triggerAbort      trigger = "abort"
	triggerRedispatch trigger = "redispatch"
)

// StepStatus is the lifecycle state of a single step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepAwaiting  StepStatus = "awaiting_approval"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepAborted   StepStatus = "aborted"
)

// StepRecord is the durable trace of one step's execution: its output, the
// findings raised against it, and where it stands. The bundle the step saw is
// kept so a suspended checkpoint can be re-validated without re-assembly.
type StepRecord struct {
	Name        string             `json:"name"`
	Status      StepStatus         `json:"status"`
	Attempts    int                `json:"attempts"`
	Output      string             `json:"output,omitempty"`
	Findings    []validate.Finding `json:"findings,omitempty"`
	Error       string             `json:"error,omitempty"`
	SuspendedAt *time.Time         `json:"suspended_at,omitempty"`
	Bundle      *assemble.Bundle   `json:"bundle,omitempty"`
}

// Run is one execution of a definition against a target. Completed steps are
// history: their codex commits are never rolled back by later failures.
type Run struct {
	ID         string            `json:"id"`
	Project    string            `json:"project"`
	Definition Definition        `json:"definition"`
	Target     assemble.Target   `json:"target"`
	State      RunState          `json:"state"`
	Current    int               `json:"current"`
	Steps      []StepRecord      `json:"steps"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`

	// mu serializes drivers of this run (start, resolve, re-dispatch, expiry
	// sweeps). Held across each full transition, not per field.
	mu  sync.Mutex
	fsm *stateless.StateMachine
}

// NewRun builds a pending run from a definition.
func NewRun(def *Definition, target assemble.Target, project string) *Run {
	now := time.Now().UTC()
	r := &Run{
		ID:         uuid.NewString(),
		Project:    project,
		Definition: def.clone(),
		Target:     target,
		State:      RunPending,
		Steps:      make([]StepRecord, len(def.Steps)),
		Outputs:    make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, s := range def.Steps {
		r.Steps[i] = StepRecord{Name: s.Name, Status: StepPending}
	}
	r.initFSM()
	return r
}

// initFSM wires the state machine over the run's persisted State field, so a
// run restored from disk resumes with the same legal transitions.
func (r *Run) initFSM() {
	r.fsm = stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (any, error) { return r.State, nil },
		func(_ context.Context, state any) error {
			r.State = state.(RunState)
			r.UpdatedAt = time.Now().UTC()
			return nil
		},
		stateless.FiringQueued,
	)

	r.fsm.Configure(RunPending).
		Permit(triggerStart, RunRunning).
		Permit(triggerFail, RunFailed).
		Permit(triggerAbort, RunAborted)

	r.fsm.Configure(RunRunning).
		Permit(triggerSuspend, RunAwaitingApproval).
		Permit(triggerComplete, RunCompleted).
		Permit(triggerFail, RunFailed).
		Permit(triggerAbort, RunAborted)

	r.fsm.Configure(RunAwaitingApproval).
		Permit(triggerResume, RunRunning).
		Permit(triggerFail, RunFailed).
		Permit(triggerAbort, RunAborted)

	// A failed run stays failed unless its current step is re-dispatched.
	r.fsm.Configure(RunFailed).
		Permit(triggerRedispatch, RunRunning)

	r.fsm.Configure(RunCompleted)
	r.fsm.Configure(RunAborted)
}

func (r *Run) fire(ctx context.Context, t trigger) error {
	if err := r.fsm.FireCtx(ctx, t); err != nil {
		return fmt.Errorf("run %s: firing %s from %s: %w", r.ID, t, r.State, err)
	}
	return nil
}

// Terminal reports whether the run can make no further progress on its own.
func (r *Run) Terminal() bool {
	switch r.State {
	case RunCompleted, RunFailed, RunAborted:
		return true
	}
	return false
}

// CurrentStep returns the record the run is positioned at, or nil once all
// steps are done.
func (r *Run) CurrentStep() *StepRecord {
	if r.Current < 0 || r.Current >= len(r.Steps) {
		return nil
	}
	return &r.Steps[r.Current]
}
