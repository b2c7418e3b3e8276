package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/fsutil"
	"github.com/quorum-forge/orchestrator/internal/logging"
	"github.com/quorum-forge/orchestrator/internal/service/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a complete workflow",
	Long: `Drive a project through the Workflow Graph's six phases: Prerequisites,
Planning, Validation, Implementation, Verification, and Completion.

Planning dispatches the prompt to a planner agent; Validation and
Verification each run a four-eyes review between two configured
reviewer agents before the run advances. Progress is checkpointed
after every phase under .workflow/graph_state.json, so an interrupted
or escalated run can be continued with 'quorum run --resume'.

The prompt can be provided as an argument or via --file.`,
	Example: `  quorum run "Implement user authentication with JWT"
  quorum run --resume
  quorum run --file task.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkflow,
}

var (
	runFile       string
	runResume     bool
	runAutonomous bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Read prompt from file")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume from the last checkpoint")
	runCmd.Flags().BoolVar(&runAutonomous, "autonomous", false, "Run AFK: auto-continue past escalations that don't need a human")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nreceived interrupt, stopping...")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	deps, err := buildGraphDeps(cfg, logger, projectDir)
	if err != nil {
		return err
	}
	runner := workflow.NewRunner(deps, projectDir)

	if runResume {
		return resumeWorkflow(ctx, runner)
	}

	prompt, err := getPrompt(args, runFile)
	if err != nil {
		return err
	}

	runConfig := core.GraphRunConfig{
		StartPhase: core.GraphPhasePrerequisites,
		EndPhase:   core.GraphPhaseCompletion,
		Autonomous: runAutonomous,
	}
	state := core.NewGraphState(projectDirName(projectDir), projectDir, prompt, runConfig)

	result, err := runner.Run(ctx, state)
	if err != nil {
		return fmt.Errorf("running workflow: %w", err)
	}
	return reportGraphResult(result)
}

func resumeWorkflow(ctx context.Context, runner *workflow.Runner) error {
	state, err := runner.GetState(ctx)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if state == nil {
		return fmt.Errorf("no checkpoint found to resume")
	}
	if state.PendingInterrupt == nil {
		result, err := runner.Run(ctx, state)
		if err != nil {
			return fmt.Errorf("running workflow: %w", err)
		}
		return reportGraphResult(result)
	}

	fmt.Printf("run suspended at phase %s: %s\n", state.CurrentPhase, state.PendingInterrupt.Issue)
	result, err := runner.Resume(ctx, state, core.InterruptResponse{Action: core.ActionContinue})
	if err != nil {
		return fmt.Errorf("resuming workflow: %w", err)
	}
	return reportGraphResult(result)
}

func reportGraphResult(state *core.GraphState) error {
	if state.PendingInterrupt != nil {
		fmt.Printf("suspended at phase %s: %s\n", state.CurrentPhase, state.PendingInterrupt.Issue)
		fmt.Println("run 'quorum run --resume' to continue")
		return nil
	}
	if state.IsSuccess() {
		fmt.Printf("workflow completed: %d task(s) done\n", len(state.CompletedTaskIDs))
		return nil
	}
	return fmt.Errorf("workflow stopped at phase %s without completing (decision: %s)", state.CurrentPhase, state.NextDecision)
}

func projectDirName(dir string) string {
	base := dir
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == os.PathSeparator {
			base = dir[i+1:]
			break
		}
	}
	if base == "" {
		return dir
	}
	return base
}

func getPrompt(args []string, file string) (string, error) {
	if file != "" {
		data, err := fsutil.ReadFileScoped(file)
		if err != nil {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
		return string(data), nil
	}

	if len(args) > 0 {
		return args[0], nil
	}

	return "", fmt.Errorf("prompt required: provide as argument or use --file")
}
