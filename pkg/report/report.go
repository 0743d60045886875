// Package report defines the run report: the sole externally observable
// output of a reconciliation pass. Every computed operation appears exactly
// once, as Applied, Failed, Skipped, or Planned; nothing is silently
// dropped.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/lifecycle/pkg/plan"
)

// State describes a run or target outcome.
type State string

const (
	// StatePending is the initial run state.
	StatePending State = "pending"
	// StateFetching covers snapshot and current-state retrieval.
	StateFetching State = "fetching"
	// StateReconciling covers plan computation.
	StateReconciling State = "reconciling"
	// StateApplying covers plan application.
	StateApplying State = "applying"
	// StateCompleted means every target's plan applied with zero failures.
	StateCompleted State = "completed"
	// StatePartiallyFailed means at least one target failed or had failed
	// operations while the source snapshot was healthy.
	StatePartiallyFailed State = "partially_failed"
	// StateFailed means the source snapshot could not be fetched; no targets
	// were processed.
	StateFailed State = "failed"
)

// Outcome describes what happened to one operation.
type Outcome string

const (
	// OutcomeApplied means the operation was executed successfully.
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed means the operation was executed and failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the operation was not attempted because a
	// prerequisite failed or the run was canceled.
	OutcomeSkipped Outcome = "skipped"
	// OutcomePlanned means the operation was computed but not attempted
	// (dry run).
	OutcomePlanned Outcome = "planned"
)

// OperationResult pairs one operation with its outcome.
type OperationResult struct {
	Operation plan.Operation
	Outcome   Outcome

	// Reason holds the failure message for failed operations.
	Reason string

	// BlockedBy identifies the failed prerequisite for skipped operations.
	BlockedBy string
}

// String returns a single-line rendering of the result.
func (r OperationResult) String() string {
	switch r.Outcome {
	case OutcomeFailed:
		return fmt.Sprintf("%s: failed (%s)", r.Operation, r.Reason)
	case OutcomeSkipped:
		return fmt.Sprintf("%s: skipped (blocked by %s)", r.Operation, r.BlockedBy)
	default:
		return fmt.Sprintf("%s: %s", r.Operation, r.Outcome)
	}
}

// TargetReport is the per-target slice of the run report.
type TargetReport struct {
	Target string
	State  State

	// Operations holds every computed operation, in application order.
	Operations []OperationResult

	// Advisories lists changes that could not be expressed through the
	// target's capabilities.
	Advisories []plan.Advisory

	// Err describes a target-scoped failure (fetch or misconfiguration).
	Err string

	Applied int
	Failed  int
	Skipped int
	Planned int
}

// Record appends an operation result and updates the counters.
func (tr *TargetReport) Record(result OperationResult) {
	tr.Operations = append(tr.Operations, result)
	switch result.Outcome {
	case OutcomeApplied:
		tr.Applied++
	case OutcomeFailed:
		tr.Failed++
	case OutcomeSkipped:
		tr.Skipped++
	case OutcomePlanned:
		tr.Planned++
	}
}

// Succeeded reports whether the target was reconciled with zero failures.
func (tr *TargetReport) Succeeded() bool {
	return tr.State == StateCompleted && tr.Failed == 0 && tr.Err == ""
}

// Summary returns a human-readable summary of the target report.
func (tr *TargetReport) Summary() string {
	if tr.Err != "" {
		return fmt.Sprintf("%s: failed (%s)", tr.Target, tr.Err)
	}
	if len(tr.Operations) == 0 && len(tr.Advisories) == 0 {
		return fmt.Sprintf("%s: no changes", tr.Target)
	}

	var parts []string
	if tr.Applied > 0 {
		parts = append(parts, fmt.Sprintf("%d applied", tr.Applied))
	}
	if tr.Planned > 0 {
		parts = append(parts, fmt.Sprintf("%d planned", tr.Planned))
	}
	if tr.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", tr.Failed))
	}
	if tr.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", tr.Skipped))
	}
	if len(tr.Advisories) > 0 {
		parts = append(parts, fmt.Sprintf("%d advisories", len(tr.Advisories)))
	}
	return fmt.Sprintf("%s: %s", tr.Target, strings.Join(parts, ", "))
}

// Report is the result of one full reconciliation pass.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	DryRun    bool
	State     State

	// Err describes a run-fatal source failure.
	Err string

	// Targets holds per-target reports in configured order.
	Targets []TargetReport
}

// New creates a report for a new run.
func New() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		State:     StatePending,
	}
}

// Finalize computes the run's terminal state from its target reports and
// stamps the duration. A source failure (StateFailed) set beforehand is
// preserved.
func (r *Report) Finalize() {
	r.Duration = time.Since(r.StartedAt)
	if r.State == StateFailed {
		return
	}

	failures := 0
	for i := range r.Targets {
		if !r.Targets[i].Succeeded() {
			failures++
		}
	}

	if failures == 0 {
		r.State = StateCompleted
		return
	}
	r.State = StatePartiallyFailed
}

// Summary returns a human-readable summary of the whole run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s", r.RunID, r.State)
	if r.DryRun {
		b.WriteString(" (dry run)")
	}
	if r.Err != "" {
		fmt.Fprintf(&b, ": %s", r.Err)
		return b.String()
	}
	for i := range r.Targets {
		b.WriteString("\n  ")
		b.WriteString(r.Targets[i].Summary())
	}
	return b.String()
}
