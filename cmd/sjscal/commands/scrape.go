package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sjscal/pkg/bootstrap"
)

var (
	scrapeOutput *string
	scrapeMonth  *string
)

func init() {
	scrapeOutput = scrapeCmd.Flags().String("output", "", "Directory to write calendars to; defaults to SCRAPE_OUTPUT_DIR.")
	scrapeMonth = scrapeCmd.Flags().String("month", "", "Month the booking grid covers, YYYY-MM; defaults to SCRAPE_MONTH or the current month.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--output <dir>] [--month <YYYY-MM>]",
	Short: "Fetches the vessel overview and writes one iCalendar file per boat plus an index.",
	Run: func(cmd *cobra.Command, args []string) {
		if *scrapeOutput != "" {
			cfg.ScrapeOutputDir = *scrapeOutput
		}
		if *scrapeMonth != "" {
			cfg.ScrapeMonth = *scrapeMonth
		}

		s, err := bootstrap.Scraper(cfg, logger, time.Now())
		if err != nil {
			fatal("invalid scrape settings", err)
		}

		t1 := time.Now()
		res, err := s.Run(cmd.Context())
		if err != nil {
			fatal("scrape failed", err)
		}
		logger.Info("Scrape finished", zap.Duration("took", time.Since(t1)))

		if len(res.Boats) == 0 {
			return
		}
		t := newTable()
		t.AppendHeader(table.Row{"Boat", "Booked days", "Calendar"})
		for i, boat := range res.Boats {
			t.AppendRow(table.Row{boat.Name, len(boat.BookedDays()), res.Calendars[i].URL})
		}
		t.Render()
	},
}
