package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recnet/internal/version"
)

// newRootCmd creates the root recnet command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "recnet",
		Short:         "Decentralized recommendation network node",
		Long:          "recnet runs the nodes of a decentralized recommendation network:\na validator that dispatches requests and maintains reputation scores,\nand miners that serve recommendations.",
		Version:       fmt.Sprintf("recnet %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newValidatorCmd(),
		newMinerCmd(),
		newStatusCmd(),
		newEventsCmd(),
	)

	return cmd
}
