// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pgmakeschemas/pgms/cmd/flags"
	"github.com/pgmakeschemas/pgms/pkg/orchestrator"
)

func upgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade <hosts> <source_code> [settings_source_code...]",
		Short: "Migrate each host's schemas from its currently installed revision to the cluster's target revision",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := loadSource(cmd, args[0], args[1], args[2:])
			if err != nil {
				return err
			}

			comment, err := resolveComment(cmd.Context(), cmd, args[1])
			if err != nil {
				return err
			}

			orch := orchestrator.New(src.Cluster, src.Hosts, connector(), orchestrator.NewLogger(flags.Verbose(cmd)), orchestrator.Options{
				Execute:      flags.Execute(cmd),
				Pretend:      flags.Pretend(cmd),
				OutputPrefix: flags.Output(cmd),
				Init:         flags.Init(cmd),
				Comment:      comment,
				ShowRev:      flags.ShowRev(cmd),
				ChangeRev:    flags.ChangeRev(cmd),
				Rev:          flags.Rev(cmd),
				Verbose:      flags.Verbose(cmd),
			})

			return reportResults(orch.RunUpgrade(cmd.Context()))
		},
	}

	flags.CommonFlags(cmd)
	flags.UpgradeFlags(cmd)
	return cmd
}
