// Command scribe drives long-form fiction projects: it assembles generation
// context from a project's codex, runs multi-step workflows with human
// checkpoints, validates drafts for continuity, and folds approved output
// back into the codex.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vampirenirmal/scribe/internal/agent"
	"github.com/vampirenirmal/scribe/internal/assemble"
	"github.com/vampirenirmal/scribe/internal/codex"
	"github.com/vampirenirmal/scribe/internal/config"
	"github.com/vampirenirmal/scribe/internal/storage"
	"github.com/vampirenirmal/scribe/internal/update"
	"github.com/vampirenirmal/scribe/internal/validate"
	"github.com/vampirenirmal/scribe/internal/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries the wiring every subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	project string

	store *codex.Store
	dir   *storage.Dir
}

func (a *app) init(verbose bool) error {
	var err error
	if verbose {
		a.logger, err = zap.NewDevelopment()
	} else {
		a.logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	a.cfg, err = config.Load()
	if err != nil {
		return err
	}

	if a.project == "" {
		return fmt.Errorf("--project is required")
	}
	a.dir = storage.NewDir(filepath.Join(a.cfg.Paths.DataDir, a.project))
	a.store = codex.NewStore(a.project, codex.Options{Logger: a.logger})

	ctx := context.Background()
	if a.dir.Exists(ctx, fmt.Sprintf("codex/%s.json", a.project)) {
		if err := a.store.Restore(ctx, a.dir); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) save(ctx context.Context) error {
	return a.store.Persist(ctx, a.dir)
}

func (a *app) assembler() *assemble.Assembler {
	limits := assemble.Limits{
		MaxCallbacks:     a.cfg.Limits.Context.MaxCallbacks,
		MaxFacts:         a.cfg.Limits.Context.MaxFacts,
		MaxMemories:      a.cfg.Limits.Context.MaxMemories,
		MaxPreviousWords: a.cfg.Limits.Context.MaxPreviousWords,
	}
	return assemble.New(a.store, nil, nil, limits, a.logger)
}

func (a *app) validator() *validate.Validator {
	return validate.New(a.store, nil, validate.Config{
		StaleCallbackAge: a.cfg.Limits.StaleCallbackAge,
	}, a.logger)
}

func (a *app) engine() *workflow.Engine {
	gen := agent.NewClient(a.cfg.AI.APIKey,
		agent.WithAPIConfig(a.cfg.AI.BaseURL, a.cfg.AI.Model),
		agent.WithTimeout(time.Duration(a.cfg.AI.Timeout)*time.Second),
		agent.WithLogger(a.logger),
	)
	return workflow.NewEngine(
		a.store,
		a.assembler(),
		a.validator(),
		update.New(a.store, nil, a.logger),
		gen,
		a.dir,
		workflow.Config{
			MaxAttempts:       uint64(a.cfg.Limits.MaxRetries),
			RetryBase:         a.cfg.Limits.RetryBase,
			ApprovalTimeout:   a.cfg.Limits.ApprovalTimeout,
			RequestsPerMinute: a.cfg.Limits.RateLimit.RequestsPerMinute,
			Burst:             a.cfg.Limits.RateLimit.BurstSize,
			MaxConcurrent:     int64(a.cfg.Limits.MaxConcurrentRuns),
			Generation: agent.Options{
				Model:       a.cfg.AI.Model,
				Temperature: a.cfg.AI.Temperature,
				MaxTokens:   a.cfg.AI.MaxTokens,
			},
		},
		a.logger,
	)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var verbose bool

	root := &cobra.Command{
		Use:           "scribe",
		Short:         "Context assembly and workflow orchestration for long-form fiction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(verbose)
		},
	}
	root.PersistentFlags().StringVarP(&a.project, "project", "p", "", "project name")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		newContextCmd(a),
		newValidateCmd(a),
		newRunCmd(a),
		newResumeCmd(a),
		newExpireCmd(a),
		newCodexCmd(a),
	)
	return root
}

func newContextCmd(a *app) *cobra.Command {
	var chapter, scene int
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Assemble and print the context bundle for a target",
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := a.assembler().Assemble(cmd.Context(), assemble.Target{Chapter: chapter, Scene: scene})
			if err != nil {
				return err
			}
			rendered, err := bundle.Render()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
	cmd.Flags().IntVar(&chapter, "chapter", 0, "target chapter")
	cmd.Flags().IntVar(&scene, "scene", 0, "target scene (0 = whole chapter)")
	cmd.MarkFlagRequired("chapter")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var chapter, scene int
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a draft against the codex for continuity problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading draft: %w", err)
			}
			bundle, err := a.assembler().Assemble(cmd.Context(), assemble.Target{Chapter: chapter, Scene: scene})
			if err != nil {
				return err
			}
			findings := a.validator().Check(bundle, string(draft))
			printFindings(cmd, findings)
			if validate.HasBlocking(findings) {
				return fmt.Errorf("draft has blocking findings")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&chapter, "chapter", 0, "target chapter")
	cmd.Flags().IntVar(&scene, "scene", 0, "target scene (0 = whole chapter)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "draft file to validate")
	cmd.MarkFlagRequired("chapter")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var chapter, scene int
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Start a workflow run against a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, statErr := os.Stat(path); statErr != nil {
				path = filepath.Join(a.cfg.Paths.WorkflowsDir, args[0])
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading workflow: %w", err)
			}
			def, err := workflow.ParseDefinition(data)
			if err != nil {
				return err
			}

			run, runErr := a.engine().StartRun(cmd.Context(), def, assemble.Target{Chapter: chapter, Scene: scene})
			if saveErr := a.save(cmd.Context()); saveErr != nil {
				return saveErr
			}
			printRun(cmd, run)
			return runErr
		},
	}
	cmd.Flags().IntVar(&chapter, "chapter", 0, "target chapter")
	cmd.Flags().IntVar(&scene, "scene", 0, "target scene (0 = whole chapter)")
	cmd.MarkFlagRequired("chapter")
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	var approve, abort, override bool
	var editFile string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resolve a run suspended at a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d workflow.Decision
			switch {
			case abort:
				d.Kind = workflow.DecisionAbort
			case editFile != "":
				edited, err := os.ReadFile(editFile)
				if err != nil {
					return fmt.Errorf("reading edited output: %w", err)
				}
				d.Kind = workflow.DecisionRejectWithEdit
				d.EditedOutput = string(edited)
			case approve:
				d.Kind = workflow.DecisionApprove
				d.Override = override
			default:
				return fmt.Errorf("one of --approve, --reject-with, or --abort is required")
			}

			run, resolveErr := a.engine().Resolve(cmd.Context(), args[0], d)
			if saveErr := a.save(cmd.Context()); saveErr != nil {
				return saveErr
			}
			if run != nil {
				printRun(cmd, run)
			}
			return resolveErr
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the suspended output")
	cmd.Flags().StringVar(&editFile, "reject-with", "", "replace the output with this file's contents")
	cmd.Flags().BoolVar(&abort, "abort", false, "abort the run without committing")
	cmd.Flags().BoolVar(&override, "override", false, "approve despite blocking findings")
	return cmd
}

func newExpireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Fail runs whose approval window has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			expired := a.engine().ExpireApprovals(cmd.Context(), time.Now())
			for _, e := range expired {
				fmt.Fprintln(cmd.OutOrStdout(), e.Error())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d run(s) expired\n", len(expired))
			return nil
		},
	}
}

func newCodexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codex",
		Short: "Inspect the project codex",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "report",
			Short: "Print the continuity fact sheet",
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.store.Analyze().FactSheet())
				return nil
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Dump the full codex as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := a.store.Snapshot()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			},
		},
	)
	return cmd
}

func printFindings(cmd *cobra.Command, findings []validate.Finding) {
	if len(findings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no findings")
		return
	}
	for _, f := range findings {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", f.Severity, f.Code, f.Message)
	}
}

func printRun(cmd *cobra.Command, run *workflow.Run) {
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", run.ID, run.State)
	for _, step := range run.Steps {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %s\n", step.Name, step.Status)
		for _, f := range step.Findings {
			fmt.Fprintf(cmd.OutOrStdout(), "    [%s] %s: %s\n", f.Severity, f.Code, f.Message)
		}
	}
}
