package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentstation/lifecycle"
	"github.com/agentstation/lifecycle/internal/config"
	"github.com/agentstation/lifecycle/internal/registry"
	"github.com/agentstation/lifecycle/pkg/report"
)

func newRunCmd() *cobra.Command {
	var (
		dryRun  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one reconciliation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reconcile(cmd.Context(), dryRun, timeout)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and report plans without applying them")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "bound the whole run (0 = no timeout)")
	return cmd
}

// runReconciliation is the root command's default behavior.
func runReconciliation(ctx context.Context, _ *cobra.Command) error {
	return reconcile(ctx, false, 0)
}

func reconcile(ctx context.Context, dryRun bool, timeout time.Duration) error {
	cfg, err := config.Load(viper.GetString("file"))
	if err != nil {
		logger().Error().Err(err).Msg("Config load failed")
		return err
	}

	source, err := registry.Source(cfg.Source)
	if err != nil {
		logger().Error().Err(err).Msg("Source setup failed")
		return err
	}

	opts := []lifecycle.Option{
		lifecycle.WithSource(source),
		lifecycle.WithGroupsPatterns(cfg.GroupsPatterns),
		lifecycle.WithDryRun(dryRun),
		lifecycle.WithTimeout(timeout),
	}
	for _, block := range cfg.Targets {
		target, err := registry.Target(block)
		if err != nil {
			logger().Error().Err(err).Msg("Target setup failed")
			return err
		}
		policy, err := block.Policy()
		if err != nil {
			logger().Error().Err(err).Msg("Target policy invalid")
			return err
		}
		opts = append(opts, lifecycle.WithTarget(target, policy))
	}

	l, err := lifecycle.New(opts...)
	if err != nil {
		logger().Error().Err(err).Msg("Setup failed")
		return err
	}

	rep, err := l.Run(ctx)
	if rep != nil {
		fmt.Println(rep.Summary())
	}
	if err != nil {
		return err
	}
	if rep.State != report.StateCompleted {
		return fmt.Errorf("run finished in state %s", rep.State)
	}
	return nil
}
