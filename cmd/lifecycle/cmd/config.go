package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentstation/lifecycle/internal/config"
)

func newConfigCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Parse the config files, substitute environment variables, and display the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []config.Option
			if raw {
				opts = append(opts, config.WithRaw())
			}

			cfg, err := config.Load(viper.GetString("file"), opts...)
			if err != nil {
				return err
			}

			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&raw, "raw", "r", false, "do not substitute environment variables")
	return cmd
}
