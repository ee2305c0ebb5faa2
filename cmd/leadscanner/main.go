package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"LeadScanner/internal/app"
	"LeadScanner/internal/config"
	"LeadScanner/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "leadscanner",
	Short: "Finds auto-part buyers in Facebook groups and WhatsApp and answers them",
	Long: `leadscanner watches Facebook groups and WhatsApp inboxes for people asking
for auto parts, replies with a generated or template answer, and keeps a
deduplicated lead ledger.

Run without a subcommand to start the scheduler.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("LEADSCANNER_CONFIG", configPath)
		}
		return nil
	},
	RunE: runService,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start scheduled scanning, inbox polling and the metrics endpoint",
	RunE:  runService,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (overrides LEADSCANNER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd, scanCmd, historicalCmd, statsCmd, leadsCmd, exportCmd, conversationsCmd, statusCmd, auditCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open loads config and builds the application for one command.
func open(ctx context.Context) (*app.Application, config.Config, error) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, cfg, err
	}
	return application, cfg, nil
}

func runService(cmd *cobra.Command, _ []string) error {
	application, _, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Run(cmd.Context())
}
