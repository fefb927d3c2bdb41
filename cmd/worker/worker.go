package worker

import (
	"github.com/jmehdipour/messageboard/internal/config"
	"github.com/spf13/cobra"
)

// NewWorkerCmd returns the parent "worker" command. cfg returns the config
// loaded by the root command.
func NewWorkerCmd(cfg func() config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(newRelayCmd(cfg))
	cmd.AddCommand(newProjectorCmd(cfg))

	return cmd
}
