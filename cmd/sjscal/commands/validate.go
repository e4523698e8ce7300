package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sjscal/pkg/workflow"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate [<file>]",
	Short: "Checks a workflow definition and prints its steps.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.WorkflowFile
		if len(args) == 1 {
			path = args[0]
		}
		def, err := workflow.Load(path)
		if err != nil {
			return err
		}
		if err := def.Validate(workflow.NewEngine(workflow.EngineConfig{}).KnownActions()); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"#", "Step", "Uses / Run", "If"})
		for i, step := range def.Steps {
			body := step.Uses
			if body == "" {
				body = step.Run
			}
			t.AppendRow(table.Row{i + 1, step.DisplayName(), body, step.If})
		}
		t.Render()
		fmt.Printf("%s %s: schedules %v, manual dispatch %t\n", green("ok"), def.Name, def.CronSpecs(), def.HasManualTrigger())
		return nil
	},
}
