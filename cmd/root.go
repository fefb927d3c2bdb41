package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/messageboard/cmd/worker"
	"github.com/jmehdipour/messageboard/internal/config"
	"github.com/jmehdipour/messageboard/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	cfg     config.Config
	rootCmd = &cobra.Command{
		Use:           "messageboard",
		Short:         "Event-sourced message board",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(cfgPath); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return logger.Init(cfg.Log.Level)
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd(func() config.Config { return cfg }))
}
