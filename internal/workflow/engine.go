// Package workflow executes declarative multi-step generation runs. Each step
// assembles context, invokes an agent capability, validates the output, and
// either commits it to the codex or suspends at a human checkpoint. Committed
// steps are never rolled back; recovery is always forward.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vampirenirmal/scribe/internal/agent"
	"github.com/vampirenirmal/scribe/internal/assemble"
	"github.com/vampirenirmal/scribe/internal/codex"
	"github.com/vampirenirmal/scribe/internal/storage"
	"github.com/vampirenirmal/scribe/internal/update"
	"github.com/vampirenirmal/scribe/internal/validate"
)

// DecisionKind names a human resolution at a checkpoint.
type DecisionKind string

const (
	DecisionApprove        DecisionKind = "approve"
	DecisionRejectWithEdit DecisionKind = "reject_with_edit"
	DecisionAbort          DecisionKind = "abort"
)

// Decision carries a checkpoint resolution. EditedOutput is required for
// reject_with_edit. Override lets an approval proceed over blocking findings;
// without it, approval of blocked output returns ErrValidationBlocked.
type Decision struct {
	Kind         DecisionKind
	EditedOutput string
	Override     bool
}

// Config tunes generation retries, throttling, and the approval window.
type Config struct {
	// MaxAttempts bounds generation retries per step. Only transient
	// generation failures are retried.
	MaxAttempts uint64
	// RetryBase seeds the exponential backoff between attempts.
	RetryBase time.Duration
	// ApprovalTimeout fails runs that sit at a checkpoint longer than this
	// once ExpireApprovals sweeps. Zero disables expiry.
	ApprovalTimeout time.Duration
	// RequestsPerMinute and Burst throttle agent calls across all runs.
	RequestsPerMinute int
	Burst             int
	// MaxConcurrent bounds in-flight generations across all runs.
	MaxConcurrent int64
	// Generation is passed through to the agent on every call.
	Generation agent.Options
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = c.RequestsPerMinute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	return c
}

// Engine drives runs end to end. All codex access goes through the store; the
// engine itself keeps only run bookkeeping.
type Engine struct {
	store     *codex.Store
	assembler *assemble.Assembler
	validator *validate.Validator
	updater   *update.Updater
	gen       agent.Generator
	runStore  storage.Store
	cfg       Config
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	logger    *zap.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// NewEngine wires an engine. runStore may be nil for fully in-memory use.
func NewEngine(
	store *codex.Store,
	assembler *assemble.Assembler,
	validator *validate.Validator,
	updater *update.Updater,
	gen agent.Generator,
	runStore storage.Store,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		assembler: assembler,
		validator: validator,
		updater:   updater,
		gen:       gen,
		runStore:  runStore,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:    logger.Named("workflow"),
		runs:      make(map[string]*Run),
	}
}

// StartRun creates a run and drives it until it completes, fails, aborts, or
// suspends at a checkpoint. The returned run reports where it stopped.
func (e *Engine) StartRun(ctx context.Context, def *Definition, target assemble.Target) (*Run, error) {
	run := NewRun(def, target, e.store.Project())
	e.mu.Lock()
	e.runs[run.ID] = run
	e.mu.Unlock()

	e.logger.Info("run started",
		zap.String("run", run.ID),
		zap.String("workflow", def.Name),
		zap.String("target", target.String()))

	run.mu.Lock()
	defer run.mu.Unlock()
	if err := run.fire(ctx, triggerStart); err != nil {
		return run, err
	}
	return run, e.advance(ctx, run)
}

// StartRuns drives one run per target concurrently. Generation volume is
// still bounded by the engine's shared limiter and semaphore.
func (e *Engine) StartRuns(ctx context.Context, def *Definition, targets []assemble.Target) ([]*Run, error) {
	runs := make([]*Run, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			run, err := e.StartRun(ctx, def, target)
			runs[i] = run
			return err
		})
	}
	return runs, g.Wait()
}

// Run returns a tracked run, falling back to the run store.
func (e *Engine) Run(ctx context.Context, id string) (*Run, error) {
	e.mu.Lock()
	run, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		return run, nil
	}
	return e.loadRun(ctx, id)
}

// Resolve applies a human decision to a run suspended at a checkpoint.
//
// approve commits the step's output to the codex and advances. reject_with_edit
// replaces the output, re-validates it, and advances unless new blocking
// findings appear. abort terminates the run with no codex mutation for the
// suspended step; steps already committed stay committed.
func (e *Engine) Resolve(ctx context.Context, runID string, d Decision) (*Run, error) {
	run, err := e.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.State != RunAwaitingApproval {
		return run, fmt.Errorf("run %s is %s, not awaiting approval", run.ID, run.State)
	}
	step := run.CurrentStep()
	if step == nil {
		return run, fmt.Errorf("run %s has no current step", run.ID)
	}

	switch d.Kind {
	case DecisionAbort:
		step.Status = StepAborted
		step.SuspendedAt = nil
		if err := run.fire(ctx, triggerAbort); err != nil {
			return run, err
		}
		e.logger.Info("run aborted at checkpoint",
			zap.String("run", run.ID), zap.String("step", step.Name))
		return run, e.persistRun(ctx, run)

	case DecisionRejectWithEdit:
		if strings.TrimSpace(d.EditedOutput) == "" {
			return run, fmt.Errorf("run %s: reject_with_edit requires a replacement output", run.ID)
		}
		step.Output = d.EditedOutput
		step.Findings = e.validator.Check(step.Bundle, step.Output)
		if validate.HasBlocking(step.Findings) {
			now := time.Now().UTC()
			step.SuspendedAt = &now
			e.logger.Warn("edited output still blocked",
				zap.String("run", run.ID), zap.String("step", step.Name))
			return run, e.persistRun(ctx, run)
		}

	case DecisionApprove:
		if validate.HasBlocking(step.Findings) && !d.Override {
			return run, fmt.Errorf("run %s: step %q: %w", run.ID, step.Name, ErrValidationBlocked)
		}

	default:
		return run, fmt.Errorf("run %s: unknown decision %q", run.ID, d.Kind)
	}

	if err := run.fire(ctx, triggerResume); err != nil {
		return run, err
	}
	step.SuspendedAt = nil
	if err := e.commitStep(ctx, run, step); err != nil {
		if persistErr := e.persistRun(ctx, run); persistErr != nil {
			e.logger.Error("persisting failed run", zap.String("run", run.ID), zap.Error(persistErr))
		}
		return run, err
	}
	return run, e.advance(ctx, run)
}

// ExpireApprovals fails runs whose checkpoint has waited longer than the
// configured approval window as of now. Persisted runs are pulled into the
// tracked set first, so a sweep sees checkpoints suspended before this engine
// started. Expired runs stay re-dispatchable at the same step via Redispatch.
// Returns one error per expired run.
func (e *Engine) ExpireApprovals(ctx context.Context, now time.Time) []*ApprovalTimeoutError {
	if e.cfg.ApprovalTimeout <= 0 {
		return nil
	}
	e.adoptPersistedRuns(ctx)

	e.mu.Lock()
	candidates := make([]*Run, 0, len(e.runs))
	for _, run := range e.runs {
		candidates = append(candidates, run)
	}
	e.mu.Unlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	var expired []*ApprovalTimeoutError
	for _, run := range candidates {
		if terr := e.expireRun(ctx, run, now); terr != nil {
			expired = append(expired, terr)
		}
	}
	return expired
}

// adoptPersistedRuns loads run records from the run store that this engine is
// not yet tracking. Records that fail to decode are logged and skipped so one
// damaged file cannot stall a sweep.
func (e *Engine) adoptPersistedRuns(ctx context.Context) {
	if e.runStore == nil {
		return
	}
	paths, err := e.runStore.List(ctx, "runs/*.json")
	if err != nil {
		e.logger.Error("listing persisted runs", zap.Error(err))
		return
	}
	for _, p := range paths {
		id := strings.TrimSuffix(path.Base(p), ".json")
		e.mu.Lock()
		_, tracked := e.runs[id]
		e.mu.Unlock()
		if tracked {
			continue
		}
		if _, err := e.loadRun(ctx, id); err != nil {
			e.logger.Error("loading persisted run", zap.String("path", p), zap.Error(err))
		}
	}
}

// expireRun fails one run if its checkpoint is overdue. The run's lock is held
// for the whole check-and-transition, so a sweep never tears a run that a
// concurrent driver is advancing.
func (e *Engine) expireRun(ctx context.Context, run *Run, now time.Time) *ApprovalTimeoutError {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.State != RunAwaitingApproval {
		return nil
	}
	step := run.CurrentStep()
	if step == nil || step.SuspendedAt == nil {
		return nil
	}
	waited := now.Sub(*step.SuspendedAt)
	if waited <= e.cfg.ApprovalTimeout {
		return nil
	}
	terr := &ApprovalTimeoutError{RunID: run.ID, Step: step.Name, Waited: waited}
	step.Status = StepFailed
	step.Error = terr.Error()
	if err := run.fire(ctx, triggerFail); err != nil {
		e.logger.Error("expiry transition failed", zap.String("run", run.ID), zap.Error(err))
		return nil
	}
	if err := e.persistRun(ctx, run); err != nil {
		e.logger.Error("persisting expired run", zap.String("run", run.ID), zap.Error(err))
	}
	e.logger.Warn("approval expired",
		zap.String("run", run.ID),
		zap.String("step", step.Name),
		zap.Duration("waited", waited))
	return terr
}

// Redispatch re-runs the current step of a failed run. The step record is
// reset; everything committed before it is untouched.
func (e *Engine) Redispatch(ctx context.Context, runID string) (*Run, error) {
	run, err := e.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.State != RunFailed {
		return run, fmt.Errorf("run %s is %s; only failed runs can be re-dispatched", run.ID, run.State)
	}
	step := run.CurrentStep()
	if step == nil {
		return run, fmt.Errorf("run %s has no step to re-dispatch", run.ID)
	}
	*step = StepRecord{Name: step.Name, Status: StepPending}
	if err := run.fire(ctx, triggerRedispatch); err != nil {
		return run, err
	}
	e.logger.Info("run re-dispatched", zap.String("run", run.ID), zap.String("step", step.Name))
	return run, e.advance(ctx, run)
}

// advance executes steps until the run suspends or reaches a terminal state.
func (e *Engine) advance(ctx context.Context, run *Run) error {
	for run.State == RunRunning && run.Current < len(run.Definition.Steps) {
		suspended, err := e.executeStep(ctx, run)
		if err != nil {
			if persistErr := e.persistRun(ctx, run); persistErr != nil {
				e.logger.Error("persisting failed run", zap.String("run", run.ID), zap.Error(persistErr))
			}
			return err
		}
		if suspended {
			return e.persistRun(ctx, run)
		}
	}
	if run.State == RunRunning {
		if err := run.fire(ctx, triggerComplete); err != nil {
			return err
		}
		e.logger.Info("run completed", zap.String("run", run.ID))
	}
	return e.persistRun(ctx, run)
}

// executeStep runs the step at run.Current. It returns suspended=true when
// the run is now awaiting approval.
func (e *Engine) executeStep(ctx context.Context, run *Run) (suspended bool, err error) {
	def := run.Definition.Steps[run.Current]
	step := run.CurrentStep()
	step.Status = StepRunning

	bundle, err := e.assembler.Assemble(ctx, run.Target)
	if err != nil {
		return false, e.failStep(ctx, run, step, fmt.Errorf("assembling context for step %q: %w", def.Name, err))
	}
	step.Bundle = bundle

	prompt, err := e.buildPrompt(run, def, bundle)
	if err != nil {
		return false, e.failStep(ctx, run, step, err)
	}

	output, err := e.generate(ctx, def, step, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			step.Status = StepAborted
			step.Error = err.Error()
			if fireErr := run.fire(context.WithoutCancel(ctx), triggerAbort); fireErr != nil {
				return false, fireErr
			}
			return false, err
		}
		return false, e.failStep(ctx, run, step, fmt.Errorf("step %q: %w", def.Name, err))
	}
	step.Output = output
	step.Findings = e.validator.Check(bundle, output)

	if def.Checkpoint || validate.HasBlocking(step.Findings) {
		step.Status = StepAwaiting
		now := time.Now().UTC()
		step.SuspendedAt = &now
		if err := run.fire(ctx, triggerSuspend); err != nil {
			return false, err
		}
		e.logger.Info("run suspended for approval",
			zap.String("run", run.ID),
			zap.String("step", def.Name),
			zap.Bool("blocked", validate.HasBlocking(step.Findings)))
		return true, nil
	}

	if err := e.commitStep(ctx, run, step); err != nil {
		return false, err
	}
	return false, nil
}

// commitStep folds the step's output into the codex and advances the cursor.
// An integrity rejection from the store fails the run; nothing already
// committed is revisited.
func (e *Engine) commitStep(ctx context.Context, run *Run, step *StepRecord) error {
	if _, err := e.updater.Apply(step.Bundle, step.Output); err != nil {
		return e.failStep(ctx, run, step, fmt.Errorf("step %q: %w", step.Name, err))
	}
	step.Status = StepCompleted
	run.Outputs[step.Name] = step.Output
	run.Current++
	e.logger.Debug("step committed",
		zap.String("run", run.ID),
		zap.String("step", step.Name),
		zap.Int("attempts", step.Attempts))
	return nil
}

func (e *Engine) failStep(ctx context.Context, run *Run, step *StepRecord, cause error) error {
	step.Status = StepFailed
	step.Error = cause.Error()
	if err := run.fire(ctx, triggerFail); err != nil {
		return errors.Join(cause, err)
	}
	e.logger.Error("run failed",
		zap.String("run", run.ID),
		zap.String("step", step.Name),
		zap.Error(cause))
	return cause
}

// generate calls the agent with retry. Only transient failures retry; the
// attempt count survives on the step record for post-mortems.
func (e *Engine) generate(ctx context.Context, def StepDef, step *StepRecord, prompt string) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.sem.Release(1)

	var output string
	backoff := retry.WithMaxRetries(e.cfg.MaxAttempts-1, retry.NewExponential(e.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		step.Attempts++
		out, err := e.gen.Generate(ctx, prompt, e.cfg.Generation)
		if err != nil {
			if agent.IsTransient(err) {
				e.logger.Warn("transient generation failure",
					zap.String("step", def.Name),
					zap.Int("attempt", step.Attempts),
					zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		output = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generating with capability %q: %w", def.Capability, err)
	}
	return output, nil
}

// buildPrompt resolves the step's declared inputs against the bundle's
// sections and prior step outputs, then renders the handoff text. An input
// that resolves nowhere fails the step.
func (e *Engine) buildPrompt(run *Run, def StepDef, bundle *assemble.Bundle) (string, error) {
	rendered, err := bundle.Render()
	if err != nil {
		return "", fmt.Errorf("step %q: %w", def.Name, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "capability: %s\ntarget: %s\n\n## context\n%s\n", def.Capability, bundle.Target, rendered)

	sections := bundle.Sections()
	for _, input := range def.Inputs {
		if prior, ok := run.Outputs[input]; ok {
			fmt.Fprintf(&b, "\n## %s\n%s\n", input, prior)
			continue
		}
		if v, ok := sections[input]; ok && !emptySection(v) {
			continue // already present in the rendered bundle
		}
		return "", &StepInputError{Step: def.Name, Input: input}
	}
	return b.String(), nil
}

func emptySection(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	case *codex.Scene:
		return s == nil
	case []assemble.CharacterContext:
		return len(s) == 0
	case []*codex.Callback:
		return len(s) == 0
	case []*codex.Fact:
		return len(s) == 0
	}
	return false
}

func runPath(id string) string {
	return "runs/" + id + ".json"
}

func (e *Engine) persistRun(ctx context.Context, run *Run) error {
	if e.runStore == nil {
		return nil
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", run.ID, err)
	}
	if err := e.runStore.Save(ctx, runPath(run.ID), data); err != nil {
		return fmt.Errorf("persisting run %s: %w", run.ID, err)
	}
	return nil
}

func (e *Engine) loadRun(ctx context.Context, id string) (*Run, error) {
	if e.runStore == nil || !e.runStore.Exists(ctx, runPath(id)) {
		return nil, &RunNotFoundError{ID: id}
	}
	data, err := e.runStore.Load(ctx, runPath(id))
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	if run.Outputs == nil {
		run.Outputs = make(map[string]string)
	}
	run.initFSM()
	e.mu.Lock()
	if tracked, ok := e.runs[run.ID]; ok {
		e.mu.Unlock()
		return tracked, nil
	}
	e.runs[run.ID] = &run
	e.mu.Unlock()
	return &run, nil
}
