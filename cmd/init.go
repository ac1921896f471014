// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pgmakeschemas/pgms/cmd/flags"
	"github.com/pgmakeschemas/pgms/pkg/orchestrator"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <hosts> <source_code> [settings_source_code...]",
		Short: "Run a schemas_type's init fragments against each host, without recording a revision",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := loadSource(cmd, args[0], args[1], args[2:])
			if err != nil {
				return err
			}

			orch := orchestrator.New(src.Cluster, src.Hosts, connector(), orchestrator.NewLogger(flags.Verbose(cmd)), orchestrator.Options{
				Execute:      flags.Execute(cmd),
				Pretend:      flags.Pretend(cmd),
				OutputPrefix: flags.Output(cmd),
				Verbose:      flags.Verbose(cmd),
			})

			return reportResults(orch.RunInit(cmd.Context()))
		},
	}

	flags.CommonFlags(cmd)
	return cmd
}
