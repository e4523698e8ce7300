package commands

import (
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"sjscal/pkg/models"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func paintOutcome(o models.StepOutcome) string {
	switch o {
	case models.StepSuccess:
		return green(o)
	case models.StepFailure:
		return red(o)
	default:
		return faint(o)
	}
}

func paintConclusion(c models.Conclusion) string {
	switch c {
	case models.ConclusionSuccess:
		return green(c)
	case models.ConclusionFailure:
		return red(c)
	case models.ConclusionCancelled:
		return yellow(c)
	default:
		return faint("pending")
	}
}
