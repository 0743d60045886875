// Package lifecycle drives batch reconciliation of users, groups, and role
// memberships from a single source of truth into one or more target
// applications. Each run pulls a fresh snapshot from the source, plans the
// minimal set of operations per target, applies them, and returns a report
// accounting for every operation.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/mapper"
	"github.com/agentstation/lifecycle/pkg/reconciler"
	"github.com/agentstation/lifecycle/pkg/report"
	"github.com/agentstation/lifecycle/pkg/targets"
)

// Lifecycle runs reconciliation passes against the configured targets.
type Lifecycle interface {
	// Run executes one full reconciliation pass and returns its report. The
	// report is returned even when the run fails, so callers always see what
	// happened. Run is safe to call repeatedly; each call is an independent
	// pass.
	Run(ctx context.Context) (*report.Report, error)
}

// targetEntry pairs a target with its policy and effective role mapper.
type targetEntry struct {
	target targets.Target
	policy targets.Policy
	roles  *mapper.Mapper
}

// lifecycle is the internal implementation of the Lifecycle interface.
type lifecycle struct {
	config     *config
	targets    []targetEntry
	reconciler *reconciler.Reconciler
	logger     *zerolog.Logger
}

// New creates a Lifecycle instance with the given options. Configuration
// problems (no source, no targets, invalid patterns or policies) surface
// here, before any run starts.
func New(opts ...Option) (Lifecycle, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	if c.source == nil {
		return nil, errors.NewConfigError("source", "no source configured", nil)
	}
	if len(c.targets) == 0 {
		return nil, errors.NewConfigError("targets", "no targets configured", nil)
	}

	l := &lifecycle{
		config:     c,
		logger:     c.logger,
		reconciler: reconciler.New(reconciler.WithLogger(c.logger)),
	}

	for _, entry := range c.targets {
		name := entry.target.ID().String()

		if entry.policy.MatchBy != "" && !entry.policy.MatchBy.IsValid() {
			return nil, errors.NewConfigError(name, "unknown match_by "+string(entry.policy.MatchBy), nil)
		}
		for _, stage := range entry.policy.Stages {
			if !stage.IsValid() {
				return nil, errors.NewConfigError(name, "unknown stage "+string(stage), nil)
			}
		}

		// The effective pattern list is the target override when declared,
		// otherwise the source-level list. No list at all means no role
		// projection for this target.
		patterns := entry.policy.GroupsPatterns
		if patterns == nil {
			patterns = c.groupsPatterns
		}
		var roles *mapper.Mapper
		if patterns != nil {
			m, err := mapper.New(patterns, mapper.WithRenames(entry.policy.RoleNames))
			if err != nil {
				return nil, err
			}
			roles = m
		}

		l.targets = append(l.targets, targetEntry{
			target: entry.target,
			policy: entry.policy,
			roles:  roles,
		})
	}

	return l, nil
}
