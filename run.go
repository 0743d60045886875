package lifecycle

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/plan"
	"github.com/agentstation/lifecycle/pkg/report"
)

// Run executes one full reconciliation pass: fetch the source snapshot,
// then fetch, plan, and apply each target concurrently. A source failure
// aborts the run before any target is touched; a target failure never
// affects another target.
func (l *lifecycle) Run(ctx context.Context) (*report.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if l.config.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, l.config.timeout)
		defer cancel()
	}

	rep := report.New()
	rep.DryRun = l.config.dryRun

	logger := l.logger.With().Str("run_id", rep.RunID).Logger()
	logger.Info().
		Str("source", l.config.source.ID().String()).
		Int("targets", len(l.targets)).
		Bool("dry_run", rep.DryRun).
		Msg("Starting reconciliation run")

	rep.State = report.StateFetching
	snapshot, err := l.config.source.Fetch(ctx)
	if err != nil {
		rep.State = report.StateFailed
		rep.Err = err.Error()
		rep.Finalize()
		logger.Error().Err(err).Msg("Source fetch failed")
		return rep, errors.WrapSource(l.config.source.ID().String(), err)
	}
	logger.Info().Int("users", snapshot.Len()).Msg("Source snapshot fetched")

	rep.State = report.StateReconciling
	rep.Targets = make([]report.TargetReport, len(l.targets))

	var wg sync.WaitGroup
	for i, entry := range l.targets {
		wg.Add(1)
		go func(i int, entry targetEntry) {
			defer wg.Done()
			rep.Targets[i] = l.runTarget(ctx, &logger, entry, snapshot)
		}(i, entry)
	}
	wg.Wait()

	rep.Finalize()
	logger.Info().
		Str("state", string(rep.State)).
		Dur("duration", rep.Duration).
		Msg("Reconciliation run finished")
	return rep, nil
}

// runTarget runs the fetch → plan → apply pipeline for one target. It only
// reads the shared snapshot; everything it writes goes into the returned
// report.
func (l *lifecycle) runTarget(ctx context.Context, runLogger *zerolog.Logger, entry targetEntry, snapshot *inventory.Snapshot) report.TargetReport {
	name := entry.target.ID().String()
	logger := runLogger.With().Str("target", name).Logger()

	tr := report.TargetReport{Target: name, State: report.StateFetching}

	state, err := entry.target.State(ctx)
	if err != nil {
		tr.State = report.StateFailed
		tr.Err = err.Error()
		logger.Error().Err(err).Msg("Target state fetch failed")
		return tr
	}

	tr.State = report.StateReconciling
	p, advisories, err := l.reconciler.Plan(name, snapshot, state, entry.target.Capabilities(), entry.roles, entry.policy)
	if err != nil {
		tr.State = report.StateFailed
		tr.Err = err.Error()
		logger.Error().Err(err).Msg("Planning failed")
		return tr
	}
	tr.Advisories = advisories
	logger.Info().Int("operations", p.Len()).Int("advisories", len(advisories)).Msg(p.String())

	if l.config.dryRun {
		for _, op := range p.Operations {
			tr.Record(report.OperationResult{Operation: op, Outcome: report.OutcomePlanned})
		}
		tr.State = report.StateCompleted
		return tr
	}

	tr.State = report.StateApplying
	l.apply(ctx, &logger, entry, p, &tr)

	if tr.Failed > 0 || (ctx.Err() != nil && tr.Skipped > 0) {
		tr.State = report.StatePartiallyFailed
	} else {
		tr.State = report.StateCompleted
	}
	return tr
}

// apply executes the plan in order, recording one outcome per operation. A
// failed create blocks every later operation for the same identity key, and
// a failed disable blocks that user's role removals, so the target is never
// driven into a state the plan did not intend.
func (l *lifecycle) apply(ctx context.Context, logger *zerolog.Logger, entry targetEntry, p *plan.Plan, tr *report.TargetReport) {
	blockedCreate := make(map[string]string)
	blockedDisable := make(map[string]string)

	for _, op := range p.Operations {
		if blocker, ok := blockedCreate[op.Key]; ok {
			tr.Record(report.OperationResult{Operation: op, Outcome: report.OutcomeSkipped, BlockedBy: blocker})
			continue
		}
		if op.Kind == plan.KindRemoveRoleMember {
			if blocker, ok := blockedDisable[op.Key]; ok {
				tr.Record(report.OperationResult{Operation: op, Outcome: report.OutcomeSkipped, BlockedBy: blocker})
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			tr.Record(report.OperationResult{Operation: op, Outcome: report.OutcomeSkipped, BlockedBy: err.Error()})
			continue
		}

		if err := entry.target.Apply(ctx, op); err != nil {
			tr.Record(report.OperationResult{Operation: op, Outcome: report.OutcomeFailed, Reason: err.Error()})
			logger.Error().Err(err).Str("operation", op.String()).Msg("Operation failed")
			switch op.Kind {
			case plan.KindCreateUser:
				blockedCreate[op.Key] = op.String()
			case plan.KindDisableUser:
				blockedDisable[op.Key] = op.String()
			}
			continue
		}
		tr.Record(report.OperationResult{Operation: op, Outcome: report.OutcomeApplied})
		logger.Debug().Str("operation", op.String()).Msg("Operation applied")
	}
}
