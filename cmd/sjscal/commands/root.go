package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "sjscal/configs"
	"sjscal/pkg/bootstrap"
)

var (
	cfg    *config.Config
	logger *zap.Logger

	workflowFile *string
	logLevel     *string
)

var rootCmd = &cobra.Command{
	Use:   "sjscal",
	Short: "sjscal runs the boat calendar scrape-and-publish workflow.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.LoadConfig()
		if cmd.Flags().Changed("workflow") {
			cfg.WorkflowFile = *workflowFile
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = *logLevel
		}
		if os.Getenv("LOG_ENCODING") == "" {
			cfg.LogEncoding = "console"
		}
		logger = bootstrap.Logger(cfg, "sjscal")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	workflowFile = rootCmd.PersistentFlags().String("workflow", "workflows/scrape.yml", "The workflow definition to load (WORKFLOW_FILE).")
	logLevel = rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error (LOG_LEVEL).")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(msg string, err error) {
	logger.Error(msg, zap.Error(err))
	_ = logger.Sync()
	os.Exit(1)
}
