package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/scribe/internal/agent"
	"github.com/vampirenirmal/scribe/internal/assemble"
	"github.com/vampirenirmal/scribe/internal/codex"
	"github.com/vampirenirmal/scribe/internal/storage"
	"github.com/vampirenirmal/scribe/internal/update"
	"github.com/vampirenirmal/scribe/internal/validate"
)

func seedStore(t *testing.T) *codex.Store {
	t.Helper()
	s := codex.NewStore("engine-book", codex.Options{})
	require.NoError(t, s.PutCharacter(&codex.Character{Name: "Mara", Alive: true}))
	for ch := 1; ch <= 15; ch++ {
		require.NoError(t, s.PutScene(&codex.Scene{
			Chapter: ch, Number: 1, Characters: []string{"Mara"}, POV: "Mara",
		}))
	}
	require.NoError(t, s.PutScene(&codex.Scene{
		Chapter: 16, Number: 1, Characters: []string{"Mara"}, POV: "Mara",
	}))
	require.NoError(t, s.PutCallback(&codex.Callback{
		ID:               "cb_astrolabe",
		Name:             "astrolabe",
		Setup:            codex.SceneRef{Chapter: 10, Scene: 1},
		SetupDescription: "Mara's astrolabe etched with initials",
		Status:           codex.CallbackPlanted,
	}))
	return s
}

func testConfig() Config {
	return Config{MaxAttempts: 3, RetryBase: time.Millisecond}
}

func testEngine(t *testing.T, gen agent.Generator, cfg Config, runStore storage.Store) (*Engine, *codex.Store) {
	t.Helper()
	s := seedStore(t)
	e := NewEngine(
		s,
		assemble.New(s, nil, nil, assemble.DefaultLimits(), nil),
		validate.New(s, nil, validate.Config{}, nil),
		update.New(s, nil, nil),
		gen,
		runStore,
		cfg,
		nil,
	)
	return e, s
}

func checkpointDef(t *testing.T) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(`
name: scene-draft
steps:
  - name: draft
    capability: write_scene
    inputs: [scene, characters]
    checkpoint: true
`))
	require.NoError(t, err)
	return def
}

func target16() assemble.Target { return assemble.Target{Chapter: 16, Scene: 1} }

// restartEngine builds a fresh engine over an existing store and run store,
// standing in for a process restart.
func restartEngine(s *codex.Store, gen agent.Generator, cfg Config, runStore storage.Store) *Engine {
	return NewEngine(
		s,
		assemble.New(s, nil, nil, assemble.DefaultLimits(), nil),
		validate.New(s, nil, validate.Config{}, nil),
		update.New(s, nil, nil),
		gen,
		runStore,
		cfg,
		nil,
	)
}

func TestCheckpointSuspendsAndApproveCommits(t *testing.T) {
	gen := agent.NewMock("The astrolabe paid off at last.")
	e, s := testEngine(t, gen, testConfig(), nil)

	run, err := e.StartRun(context.Background(), checkpointDef(t), target16())
	require.NoError(t, err)
	assert.Equal(t, RunAwaitingApproval, run.State)
	assert.Equal(t, StepAwaiting, run.Steps[0].Status)
	assert.NotEmpty(t, run.Steps[0].Output)

	// Suspension alone never touches the codex.
	cb, err := s.GetCallback("cb_astrolabe")
	require.NoError(t, err)
	assert.Equal(t, codex.CallbackPlanted, cb.Status)

	run, err = e.Resolve(context.Background(), run.ID, Decision{Kind: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.State)
	assert.Equal(t, StepCompleted, run.Steps[0].Status)

	cb, err = s.GetCallback("cb_astrolabe")
	require.NoError(t, err)
	assert.Equal(t, codex.CallbackPaidOff, cb.Status)
}

func TestRejectWithEditRevalidates(t *testing.T) {
	gen := agent.NewMock("A first draft of the crossing.")
	e, s := testEngine(t, gen, testConfig(), nil)

	run, err := e.StartRun(context.Background(), checkpointDef(t), target16())
	require.NoError(t, err)
	require.Equal(t, RunAwaitingApproval, run.State)

	// An edit that introduces a forward reference stays suspended.
	run, err = e.Resolve(context.Background(), run.ID, Decision{
		Kind:         DecisionRejectWithEdit,
		EditedOutput: "As foretold in chapter 22, the fleet burned.",
	})
	require.NoError(t, err)
	assert.Equal(t, RunAwaitingApproval, run.State)
	assert.True(t, validate.HasBlocking(run.Steps[0].Findings))

	// Approving blocked output is refused unless overridden.
	_, err = e.Resolve(context.Background(), run.ID, Decision{Kind: DecisionApprove})
	require.ErrorIs(t, err, ErrValidationBlocked)
	assert.Equal(t, RunAwaitingApproval, run.State)

	// A clean edit advances and becomes the step's output of record.
	run, err = e.Resolve(context.Background(), run.ID, Decision{
		Kind:         DecisionRejectWithEdit,
		EditedOutput: "A quiet drift to shore.",
	})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.State)
	assert.Equal(t, "A quiet drift to shore.", run.Outputs["draft"])

	cb, err := s.GetCallback("cb_astrolabe")
	require.NoError(t, err)
	assert.Equal(t, codex.CallbackPlanted, cb.Status, "edited output mentions no payoff")
}

func TestAbortLeavesCodexUntouched(t *testing.T) {
	gen := agent.NewMock("The astrolabe paid off at last.")
	e, s := testEngine(t, gen, testConfig(), nil)

	run, err := e.StartRun(context.Background(), checkpointDef(t), target16())
	require.NoError(t, err)
	before, err := s.Snapshot()
	require.NoError(t, err)

	run, err = e.Resolve(context.Background(), run.ID, Decision{Kind: DecisionAbort})
	require.NoError(t, err)
	assert.Equal(t, RunAborted, run.State)
	assert.Equal(t, StepAborted, run.Steps[0].Status)

	after, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFailureNeverRollsBackCommittedSteps(t *testing.T) {
	gen := agent.NewMock("The astrolabe paid off at last.")
	e, s := testEngine(t, gen, testConfig(), nil)

	def, err := ParseDefinition([]byte(`
name: two-step
steps:
  - name: beats
    capability: outline_beats
  - name: draft
    capability: write_scene
    inputs: [beats, nonexistent_section]
`))
	require.NoError(t, err)

	run, startErr := e.StartRun(context.Background(), def, target16())
	require.Error(t, startErr)
	var inputErr *StepInputError
	require.ErrorAs(t, startErr, &inputErr)
	assert.Equal(t, "nonexistent_section", inputErr.Input)

	assert.Equal(t, RunFailed, run.State)
	assert.Equal(t, StepCompleted, run.Steps[0].Status)
	assert.Equal(t, StepFailed, run.Steps[1].Status)

	// The first step's commit stands.
	cb, err := s.GetCallback("cb_astrolabe")
	require.NoError(t, err)
	assert.Equal(t, codex.CallbackPaidOff, cb.Status)
}

func TestTransientFailuresRetry(t *testing.T) {
	transient := &agent.GenerationError{Capability: "write_scene", Cause: errors.New("overloaded"), Transient: true}
	gen := agent.NewMock("A quiet ending.").FailNext(transient, transient)
	e, _ := testEngine(t, gen, testConfig(), nil)

	def, err := ParseDefinition([]byte("name: w\nsteps:\n  - {name: draft, capability: write_scene}\n"))
	require.NoError(t, err)

	run, err := e.StartRun(context.Background(), def, target16())
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.State)
	assert.Equal(t, 3, gen.Calls())
	assert.Equal(t, 3, run.Steps[0].Attempts)
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	permanent := &agent.GenerationError{Capability: "write_scene", Cause: errors.New("bad request"), Transient: false}
	gen := agent.NewMock("unused").FailNext(permanent)
	e, _ := testEngine(t, gen, testConfig(), nil)

	def, err := ParseDefinition([]byte("name: w\nsteps:\n  - {name: draft, capability: write_scene}\n"))
	require.NoError(t, err)

	run, startErr := e.StartRun(context.Background(), def, target16())
	require.Error(t, startErr)
	assert.Equal(t, RunFailed, run.State)
	assert.Equal(t, 1, gen.Calls())
}

func TestApprovalTimeoutAndRedispatch(t *testing.T) {
	gen := agent.NewMock("A first draft of the crossing.")
	cfg := testConfig()
	cfg.ApprovalTimeout = time.Hour
	e, _ := testEngine(t, gen, cfg, nil)

	run, err := e.StartRun(context.Background(), checkpointDef(t), target16())
	require.NoError(t, err)
	require.Equal(t, RunAwaitingApproval, run.State)

	// Within the window nothing expires.
	assert.Empty(t, e.ExpireApprovals(context.Background(), time.Now().Add(30*time.Minute)))

	expired := e.ExpireApprovals(context.Background(), time.Now().Add(2*time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, run.ID, expired[0].RunID)
	assert.True(t, IsApprovalTimeout(expired[0]))
	assert.Equal(t, RunFailed, run.State)

	// The step can be re-dispatched; it runs again and suspends again.
	run, err = e.Redispatch(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunAwaitingApproval, run.State)
	assert.Equal(t, 2, gen.Calls())
}

func TestRunSurvivesRestart(t *testing.T) {
	dir := storage.NewDir(t.TempDir())
	gen := agent.NewMock("The astrolabe paid off at last.")
	e, s := testEngine(t, gen, testConfig(), dir)

	run, err := e.StartRun(context.Background(), checkpointDef(t), target16())
	require.NoError(t, err)
	require.Equal(t, RunAwaitingApproval, run.State)

	// A fresh engine over the same run store picks the run back up.
	e2 := restartEngine(s, gen, testConfig(), dir)
	restored, err := e2.Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunAwaitingApproval, restored.State)
	assert.Equal(t, run.Steps[0].Output, restored.Steps[0].Output)

	restored, err = e2.Resolve(context.Background(), restored.ID, Decision{Kind: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, restored.State)

	cb, err := s.GetCallback("cb_astrolabe")
	require.NoError(t, err)
	assert.Equal(t, codex.CallbackPaidOff, cb.Status)
}

func TestExpireApprovalsSweepsPersistedRuns(t *testing.T) {
	dir := storage.NewDir(t.TempDir())
	gen := agent.NewMock("A first draft of the crossing.")
	cfg := testConfig()
	cfg.ApprovalTimeout = time.Hour
	e, s := testEngine(t, gen, cfg, dir)

	run, err := e.StartRun(context.Background(), checkpointDef(t), target16())
	require.NoError(t, err)
	require.Equal(t, RunAwaitingApproval, run.State)

	// A fresh engine over the same run store has never seen the run in
	// memory, only on disk. The sweep must still find it.
	e2 := restartEngine(s, gen, cfg, dir)
	expired := e2.ExpireApprovals(context.Background(), time.Now().Add(48*time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, run.ID, expired[0].RunID)
	assert.True(t, IsApprovalTimeout(expired[0]))

	// The failure reached disk: yet another engine sees it, and the run
	// remains re-dispatchable.
	e3 := restartEngine(s, gen, cfg, dir)
	reloaded, err := e3.Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, reloaded.State)

	reloaded, err = e3.Redispatch(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunAwaitingApproval, reloaded.State)
}

func TestRejectedCommitPersistsFailedState(t *testing.T) {
	dir := storage.NewDir(t.TempDir())
	gen := agent.NewMock("The astrolabe paid off at last.")
	e, s := testEngine(t, gen, testConfig(), dir)

	run, err := e.StartRun(context.Background(), checkpointDef(t), target16())
	require.NoError(t, err)
	require.Equal(t, RunAwaitingApproval, run.State)

	// The callback is abandoned while the run waits, so the approved
	// output's payoff transition is rejected by the store.
	require.NoError(t, s.Apply([]codex.Mutation{
		codex.TransitionCallback("cb_astrolabe", codex.CallbackAbandoned, nil, ""),
	}))

	_, err = e.Resolve(context.Background(), run.ID, Decision{Kind: DecisionApprove})
	require.Error(t, err)
	assert.True(t, codex.IsIntegrity(err))
	assert.Equal(t, RunFailed, run.State)

	// The on-disk record agrees with memory.
	reloaded, err := restartEngine(s, gen, testConfig(), dir).Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, reloaded.State)
	assert.Equal(t, StepFailed, reloaded.Steps[0].Status)
}

func TestSweepRacesActiveRunsSafely(t *testing.T) {
	gen := agent.NewMock("A quiet ending.")
	cfg := testConfig()
	cfg.ApprovalTimeout = time.Hour
	e, _ := testEngine(t, gen, cfg, nil)

	def, err := ParseDefinition([]byte("name: w\nsteps:\n  - {name: draft, capability: write_scene}\n"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			e.ExpireApprovals(context.Background(), time.Now())
		}
	}()

	targets := []assemble.Target{{Chapter: 14, Scene: 1}, {Chapter: 15, Scene: 1}, {Chapter: 16, Scene: 1}}
	runs, err := e.StartRuns(context.Background(), def, targets)
	<-done
	require.NoError(t, err)
	for _, r := range runs {
		assert.Equal(t, RunCompleted, r.State)
	}
}

func TestConcurrentRuns(t *testing.T) {
	gen := agent.NewMock("A quiet ending.")
	e, _ := testEngine(t, gen, testConfig(), nil)

	def, err := ParseDefinition([]byte("name: w\nsteps:\n  - {name: draft, capability: write_scene}\n"))
	require.NoError(t, err)

	targets := []assemble.Target{{Chapter: 14, Scene: 1}, {Chapter: 15, Scene: 1}, {Chapter: 16, Scene: 1}}
	runs, err := e.StartRuns(context.Background(), def, targets)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, RunCompleted, r.State)
	}
	assert.Equal(t, 3, gen.Calls())
}

func TestParseDefinitionRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no steps", "name: empty\nsteps: []\n"},
		{"missing capability", "name: w\nsteps:\n  - {name: draft}\n"},
		{"duplicate step names", "name: w\nsteps:\n  - {name: draft, capability: a}\n  - {name: draft, capability: b}\n"},
		{"not yaml", "steps: ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
