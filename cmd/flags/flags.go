// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	viper.SetEnvPrefix("PGMS")
	viper.AutomaticEnv()
}

// CommonFlags registers the flags shared by init/install/upgrade.
func CommonFlags(cmd *cobra.Command) {
	cmd.Flags().CountP("verbose", "v", "increase verbosity; repeat for per-fragment detail")
	cmd.Flags().BoolP("execute", "e", false, "execute generated SQL against each host")
	cmd.Flags().BoolP("pretend", "p", false, "execute and roll back at the end instead of committing (implies --execute)")
	cmd.Flags().StringP("output", "o", "", "write per-host SQL to PREFIX.<host>.<type>.sql")
	cmd.Flags().StringArrayP("include", "i", nil, "NAME=PATH include alias, or an extra allowed source directory")

	viper.BindPFlag("OUTPUT", cmd.Flags().Lookup("output"))
}

// InstallFlags registers install's reinstall/comment/init switches. upgrade
// shares the comment/init pair through UpgradeFlags.
func InstallFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("reinstall", false, "drop and reinstall variable schemas (requires --reinstall-func or --cascade)")
	cmd.Flags().Bool("reinstall-func", false, "drop and reinstall functional schemas only")
	cmd.Flags().Bool("cascade", false, "use CASCADE when dropping schemas")
	cmd.Flags().BoolP("comment", "c", false, "attach a comment to the pushed revision row, captured by running comment.sh in the source tree")
	cmd.Flags().Bool("init", false, "also run the schemas_type's init fragments")
}

// UpgradeFlags registers upgrade's comment/init/show-rev/change-rev/rev
// switches.
func UpgradeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("comment", "c", false, "attach a comment to the pushed revision row, captured by running comment.sh in the source tree")
	cmd.Flags().Bool("init", false, "also run the schemas_type's init fragments")
	cmd.Flags().Bool("show-rev", false, "print each host's current revisions and exit without running any SQL")
	cmd.Flags().Bool("change-rev", false, "rewrite the bookkeeping row to --rev without running migration SQL")
	cmd.Flags().StringP("rev", "r", "", "the current revision to migrate from (fetched from the host when omitted)")
}

func Verbose(cmd *cobra.Command) int {
	n, _ := cmd.Flags().GetCount("verbose")
	return n
}

func Execute(cmd *cobra.Command) bool {
	execute, _ := cmd.Flags().GetBool("execute")
	return execute || Pretend(cmd)
}

func Pretend(cmd *cobra.Command) bool {
	pretend, _ := cmd.Flags().GetBool("pretend")
	return pretend
}

func Output(cmd *cobra.Command) string {
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		return viper.GetString("OUTPUT")
	}
	return output
}

// Includes splits --include entries into an fsguard allow-list (every
// entry, whether or not it names an alias) and a compose include-ref map
// (the NAME=PATH entries only).
func Includes(cmd *cobra.Command) (allowList []string, refMap map[string]string) {
	raw, _ := cmd.Flags().GetStringArray("include")
	refMap = make(map[string]string, len(raw))
	for _, entry := range raw {
		name, path, ok := strings.Cut(entry, "=")
		if ok {
			refMap[name] = path
			allowList = append(allowList, path)
		} else {
			allowList = append(allowList, entry)
		}
	}
	return allowList, refMap
}

// CommentRequested reports whether --comment was passed.
func CommentRequested(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("comment")
	return v
}

func Init(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("init")
	return v
}

func Reinstall(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("reinstall")
	return v
}

func ReinstallFunc(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("reinstall-func")
	return v
}

func Cascade(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("cascade")
	return v
}

func ShowRev(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("show-rev")
	return v
}

func ChangeRev(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("change-rev")
	return v
}

func Rev(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("rev")
	return v
}
