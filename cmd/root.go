// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
)

// Version is the pgms version
var Version = "development"

var rootCmd = &cobra.Command{
	Use:          "pgms",
	Short:        "Deploy declaratively versioned PostgreSQL schemas across a cluster of hosts",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(installCmd())
	rootCmd.AddCommand(upgradeCmd())

	return rootCmd.Execute()
}
