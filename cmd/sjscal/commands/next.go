package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sjscal/pkg/scheduler"
	"sjscal/pkg/workflow"
)

var nextCount *int

func init() {
	nextCount = nextCmd.Flags().IntP("count", "n", 5, "How many fire times to list.")
	rootCmd.AddCommand(nextCmd)
}

var nextCmd = &cobra.Command{
	Use:   "next [-n <count>]",
	Short: "Lists the upcoming scheduled run times of the workflow, in UTC.",
	Run: func(cmd *cobra.Command, args []string) {
		def, err := workflow.LoadOrDefault(cfg.WorkflowFile)
		if err != nil {
			fatal("failed to load workflow", err)
		}
		times, err := scheduler.Upcoming(def, time.Now(), *nextCount)
		if err != nil {
			fatal("invalid schedule", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{def.Name, "In"})
		for _, at := range times {
			t.AppendRow(table.Row{at.Format(time.RFC3339), time.Until(at).Round(time.Minute)})
		}
		if len(times) == 0 {
			t.AppendRow(table.Row{faint("manual dispatch only"), ""})
		}
		t.Render()
	},
}
