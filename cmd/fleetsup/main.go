package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetsup"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	queryFlags := &QueryFlags{}
	historyFlags := &HistoryFlags{}
	keyFlags := &KeyFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(globalFlags),
		createCensusCommand(queryFlags),
		createServicesCommand(queryFlags),
		createHistoryCommand(queryFlags, historyFlags),
		createKeyCommand(globalFlags, keyFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetsup",
		Short: "Gossip-aware service supervisor",
		Long: `Fleetsup supervises packaged services on one node, keeps a census of
the service groups gossiped across the fleet and rolls out updates from a depot.

Examples:
  fleetsup start --config=/etc/fleetsup/config.toml
  fleetsup census --api-url=http://127.0.0.1:9631
  fleetsup key generate ring prod`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fleetsup version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "fleetsup %s\n", fleetsup.Version)
			return err
		},
	}
}
