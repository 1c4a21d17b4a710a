package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/validator-deposits/pkg/workflow"
)

var (
	log = workflow.GetLogger()

	logLevel string
	envFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "validator-deposits",
	Short: "Generates validator deposits and credential changes with a signing device.",
	Long: `Generates encrypted keystores and signed deposits for batches of validators,
and signs BLS to execution withdrawal credential changes, using a signing device.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return workflow.SetLogLevel(logLevel)
	},
	// Don't show usage on error
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Session file written by login")
}
