package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sjscal/pkg/bootstrap"
	"sjscal/pkg/coordination/local"
	"sjscal/pkg/executor"
	"sjscal/pkg/models"
	"sjscal/pkg/scheduler"
	"sjscal/pkg/storage/memory"
)

var (
	runActor *string
	runName  *string
)

func init() {
	runActor = runCmd.Flags().String("actor", os.Getenv("USER"), "Who the run is attributed to.")
	runName = runCmd.Flags().String("name", "", "The workflow to run; defaults to the loaded one.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--actor <name>]",
	Short: "Runs the workflow once in this process, as a manual dispatch.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		blobs, err := bootstrap.Blobs(ctx, cfg)
		if err != nil {
			fatal("failed to open blob store", err)
		}
		engine := bootstrap.Engine(cfg, blobs, logger, os.Stdout)
		defs, err := bootstrap.Workflows(cfg, engine)
		if err != nil {
			fatal("failed to load workflow", err)
		}

		store := memory.NewRunStore()
		queue := memory.NewQueue(1)
		dispatcher := scheduler.NewDispatcher(defs, store, queue, logger)
		exec := executor.NewExecutor(executor.Config{
			ID:          bootstrap.NodeID("cli"),
			Concurrency: 1,
		}, local.NewCoordinator(), queue, store, engine, dispatcher, logger)

		name := *runName
		if name == "" {
			name = defs[0].Name
		}
		actor := *runActor
		if actor == "" {
			actor = "cli"
		}

		if _, err := dispatcher.Dispatch(ctx, scheduler.Trigger{
			Workflow: name,
			Event:    models.EventWorkflowDispatch,
			Actor:    actor,
		}); err != nil {
			fatal("failed to dispatch", err)
		}
		msgID, req, err := queue.Pop(ctx, executor.DefaultGroup, exec.ID)
		if err != nil || req == nil {
			fatal("failed to pick up the queued run", err)
		}

		run, err := exec.Process(ctx, msgID, req)
		if err != nil {
			fatal("run failed", err)
		}
		printRun(run)

		if run.Conclusion != models.ConclusionSuccess {
			logger.Warn("Run did not succeed", zap.String("conclusion", string(run.Conclusion)))
			os.Exit(1)
		}
	},
}

func printRun(run *models.Run) {
	fmt.Printf("\nRun %s: %s\n", run.ID, paintConclusion(run.Conclusion))

	t := newTable()
	t.AppendHeader(table.Row{"#", "Step", "If", "Outcome", "Exit", "Duration"})
	for _, s := range run.Steps {
		t.AppendRow(table.Row{s.Number, s.Name, s.Condition, paintOutcome(s.Outcome), s.ExitCode, s.Duration.Round(time.Millisecond)})
	}
	t.Render()

	if len(run.Artifacts) > 0 {
		a := newTable()
		a.AppendHeader(table.Row{"Artifact", "Files", "Bytes", "SHA-256", "Location"})
		for _, ref := range run.Artifacts {
			a.AppendRow(table.Row{ref.Name, ref.Files, ref.SizeBytes, ref.SHA256, ref.URI})
		}
		a.Render()
	}
	if run.LogURI != "" {
		fmt.Println("Log:", run.LogURI)
	}
}
