// Package cmd implements the lifecycle CLI commands.
package cmd

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentstation/lifecycle/pkg/logging"
)

// Execute runs the CLI with the given arguments and version information.
func Execute(ctx context.Context, version, commit, date string) error {
	root := newRootCmd(version, commit, date)
	return root.ExecuteContext(ctx)
}

func newRootCmd(version, commit, date string) *cobra.Command {
	root := &cobra.Command{
		Use:   "lifecycle",
		Short: "Synchronize users, groups, and roles from a source of truth into target applications",
		Long: `lifecycle reconciles user accounts, attributes, enablement, and role
memberships from a single authoritative source into one or more target
applications. Each run computes the minimal set of changes per target and
applies them; accounts are never deleted, only disabled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if viper.GetBool("debug") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		// Running without a subcommand performs a reconciliation pass, like
		// the classic invocation.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconciliation(cmd.Context(), cmd)
		},
	}

	root.PersistentFlags().StringP("file", "f", "config/", "config file, or a directory of yaml files")
	root.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")

	// Environment variables (LIFECYCLE_FILE, LIFECYCLE_DEBUG) back every
	// persistent flag.
	viper.SetEnvPrefix("lifecycle")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("file", root.PersistentFlags().Lookup("file"))
	_ = viper.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd(version, commit, date))

	return root
}

// logger returns the process-wide logger.
func logger() *zerolog.Logger {
	return logging.Default()
}
