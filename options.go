package lifecycle

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/logging"
	"github.com/agentstation/lifecycle/pkg/sources"
	"github.com/agentstation/lifecycle/pkg/targets"
)

// Option is a function that configures a Lifecycle instance.
type Option func(*config) error

// targetSetting pairs a target with its reconciliation policy.
type targetSetting struct {
	target targets.Target
	policy targets.Policy
}

// config holds the run-independent configuration of a Lifecycle instance.
type config struct {
	source         sources.Source
	targets        []targetSetting
	groupsPatterns []string
	dryRun         bool
	timeout        time.Duration
	logger         *zerolog.Logger
}

func defaultConfig() *config {
	return &config{
		logger: logging.Default(),
	}
}

// WithSource configures the source of truth. Exactly one source is required.
func WithSource(source sources.Source) Option {
	return func(c *config) error {
		if source == nil {
			return errors.NewConfigError("source", "source is nil", nil)
		}
		if c.source != nil {
			return errors.NewConfigError("source", "source already configured", nil)
		}
		c.source = source
		return nil
	}
}

// WithTarget adds a target with its reconciliation policy. Targets are
// reconciled independently; the order given here is the order they appear in
// the run report.
func WithTarget(target targets.Target, policy targets.Policy) Option {
	return func(c *config) error {
		if target == nil {
			return errors.NewConfigError("targets", "target is nil", nil)
		}
		c.targets = append(c.targets, targetSetting{target: target, policy: policy})
		return nil
	}
}

// WithGroupsPatterns configures the source-level pattern rules deciding which
// groups project as target roles. Targets can override the list in their
// policy.
func WithGroupsPatterns(patterns []string) Option {
	return func(c *config) error {
		c.groupsPatterns = patterns
		return nil
	}
}

// WithDryRun configures runs to compute and report plans without applying
// any operation.
func WithDryRun(enabled bool) Option {
	return func(c *config) error {
		c.dryRun = enabled
		return nil
	}
}

// WithTimeout bounds each run. Zero means no timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return errors.NewConfigError("timeout", "timeout is negative", nil)
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger sets the logger used by the run coordinator.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return errors.NewConfigError("logger", "logger is nil", nil)
		}
		c.logger = logger
		return nil
	}
}
