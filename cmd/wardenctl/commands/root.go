// Package commands implements the wardenctl command tree: offline
// administration of the sealed trust store and the release signing
// workflow. Nothing here runs plugins.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbisys/warden/version"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wardenctl",
		Short: "Administer warden plugin trust",
		Long: "wardenctl manages the sealed trust store and the release signing keys.\n" +
			"Signing happens offline: the host only ever verifies.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		NewKeygenCommand(),
		NewSignCommand(),
		NewVerifyCommand(),
		NewTrustCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetVersionInfo().String())
		},
	}
}
