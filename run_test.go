package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/plan"
	"github.com/agentstation/lifecycle/pkg/report"
	"github.com/agentstation/lifecycle/pkg/sources"
	"github.com/agentstation/lifecycle/pkg/targets"
)

type fakeSource struct {
	snapshot *inventory.Snapshot
	err      error
}

func (s *fakeSource) ID() sources.ID { return sources.StaticConfigID }

func (s *fakeSource) Fetch(ctx context.Context) (*inventory.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewSourceError(s.ID().String(), "fetch aborted", err)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

type fakeTarget struct {
	id       targets.ID
	caps     targets.Capabilities
	state    *targets.State
	stateErr error

	applied []plan.Operation
	failOn  map[string]error // keyed by Operation.String()
}

func (t *fakeTarget) ID() targets.ID { return t.id }

func (t *fakeTarget) Capabilities() targets.Capabilities { return t.caps }

func (t *fakeTarget) State(_ context.Context) (*targets.State, error) {
	if t.stateErr != nil {
		return nil, t.stateErr
	}
	return t.state, nil
}

func (t *fakeTarget) Apply(_ context.Context, op plan.Operation) error {
	if err, ok := t.failOn[op.String()]; ok {
		return err
	}
	t.applied = append(t.applied, op)
	return nil
}

func testSnapshot(t *testing.T, users ...inventory.User) *inventory.Snapshot {
	t.Helper()
	snap, err := inventory.NewSnapshot(users, nil)
	require.NoError(t, err)
	return snap
}

func fullTarget(id targets.ID) *fakeTarget {
	return &fakeTarget{
		id: id,
		caps: targets.NewCapabilities(
			targets.CapabilityCreate,
			targets.CapabilityUpdate,
			targets.CapabilityDisable,
			targets.CapabilityRoleManagement,
			targets.CapabilityEmail,
		),
		state: targets.NewState(nil, nil),
	}
}

func TestNewRequiresSourceAndTargets(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	_, err = New(WithSource(&fakeSource{}))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	src := &fakeSource{}
	_, err := New(
		WithSource(src),
		WithTarget(fullTarget(targets.SuiteCRMID), targets.Policy{MatchBy: "dn"}),
	)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	_, err = New(
		WithSource(src),
		WithTarget(fullTarget(targets.SuiteCRMID), targets.Policy{Stages: []plan.Stage{"nonsense"}}),
	)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	_, err = New(
		WithSource(src),
		WithTarget(fullTarget(targets.SuiteCRMID), targets.Policy{GroupsPatterns: []string{"("}}),
	)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRunAppliesPlan(t *testing.T) {
	src := &fakeSource{snapshot: testSnapshot(t,
		inventory.User{Username: "alice", FullName: "Alice Adams", Enabled: true},
	)}
	target := fullTarget(targets.SuiteCRMID)

	l, err := New(WithSource(src), WithTarget(target, targets.Policy{}))
	require.NoError(t, err)

	rep, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, report.StateCompleted, rep.State)
	require.Len(t, rep.Targets, 1)
	assert.Equal(t, 1, rep.Targets[0].Applied)
	require.Len(t, target.applied, 1)
	assert.Equal(t, plan.KindCreateUser, target.applied[0].Kind)
}

func TestRunSourceFailureIsFatal(t *testing.T) {
	src := &fakeSource{err: errors.NewSourceError("ldap", "connect refused", nil)}
	target := fullTarget(targets.SuiteCRMID)

	l, err := New(WithSource(src), WithTarget(target, targets.Policy{}))
	require.NoError(t, err)

	rep, err := l.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsSourceUnavailable(err))

	require.NotNil(t, rep)
	assert.Equal(t, report.StateFailed, rep.State)
	assert.Empty(t, rep.Targets, "no target may be touched after a source failure")
	assert.Empty(t, target.applied)
}

func TestRunTargetFailureIsIsolated(t *testing.T) {
	src := &fakeSource{snapshot: testSnapshot(t,
		inventory.User{Username: "alice", FullName: "Alice Adams", Enabled: true},
	)}
	broken := fullTarget(targets.SuiteCRMID)
	broken.stateErr = errors.NewTargetError("suitecrm", "api unreachable", nil)
	healthy := fullTarget(targets.LDAPID)

	l, err := New(
		WithSource(src),
		WithTarget(broken, targets.Policy{}),
		WithTarget(healthy, targets.Policy{}),
	)
	require.NoError(t, err)

	rep, err := l.Run(context.Background())
	require.NoError(t, err, "a target failure is reported, not returned")

	assert.Equal(t, report.StatePartiallyFailed, rep.State)
	require.Len(t, rep.Targets, 2)
	assert.Equal(t, report.StateFailed, rep.Targets[0].State)
	assert.NotEmpty(t, rep.Targets[0].Err)
	assert.Equal(t, report.StateCompleted, rep.Targets[1].State)
	assert.Len(t, healthy.applied, 1)
}

func TestRunFailedCreateBlocksLaterOperations(t *testing.T) {
	src := &fakeSource{snapshot: testSnapshot(t,
		inventory.User{Username: "bob", FullName: "Bob Brown", Groups: []string{"eng"}, Enabled: true},
	)}
	target := fullTarget(targets.SuiteCRMID)
	target.failOn = map[string]error{
		"create_user bob": errors.NewOperationError("suitecrm", "create_user bob", errors.ErrOperationFailed),
	}

	l, err := New(
		WithSource(src),
		WithTarget(target, targets.Policy{}),
		WithGroupsPatterns([]string{"eng"}),
	)
	require.NoError(t, err)

	rep, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, report.StatePartiallyFailed, rep.State)
	tr := rep.Targets[0]
	assert.Equal(t, 1, tr.Failed)
	assert.Equal(t, 1, tr.Skipped, "role add for the uncreated account must be skipped")
	assert.Equal(t, 0, tr.Applied)

	require.Len(t, tr.Operations, 2)
	assert.Equal(t, report.OutcomeFailed, tr.Operations[0].Outcome)
	assert.Equal(t, report.OutcomeSkipped, tr.Operations[1].Outcome)
	assert.Equal(t, "create_user bob", tr.Operations[1].BlockedBy)
}

func TestRunDryRunAppliesNothing(t *testing.T) {
	src := &fakeSource{snapshot: testSnapshot(t,
		inventory.User{Username: "carol", FullName: "Carol Clark", Enabled: true},
	)}
	target := fullTarget(targets.SuiteCRMID)

	l, err := New(WithSource(src), WithTarget(target, targets.Policy{}), WithDryRun(true))
	require.NoError(t, err)

	rep, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, rep.DryRun)
	assert.Equal(t, report.StateCompleted, rep.State)
	assert.Empty(t, target.applied)
	require.Len(t, rep.Targets, 1)
	assert.Equal(t, 1, rep.Targets[0].Planned)
	assert.Equal(t, report.OutcomePlanned, rep.Targets[0].Operations[0].Outcome)
}

func TestRunCanceledContextFailsAtFetch(t *testing.T) {
	src := &fakeSource{snapshot: testSnapshot(t,
		inventory.User{Username: "dora", FullName: "Dora Diaz", Enabled: true},
	)}
	target := fullTarget(targets.SuiteCRMID)

	l, err := New(WithSource(src), WithTarget(target, targets.Policy{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, runErr := l.Run(ctx)
	require.Error(t, runErr)
	require.NotNil(t, rep)
	assert.Equal(t, report.StateFailed, rep.State)
	assert.Empty(t, target.applied)
}

func TestRunEverySecondRunIsEmpty(t *testing.T) {
	user := inventory.User{Username: "eve", FullName: "Eve Evans", Enabled: true}
	src := &fakeSource{snapshot: testSnapshot(t, user)}
	target := fullTarget(targets.SuiteCRMID)
	// Target already converged on the snapshot.
	target.state = targets.NewState([]inventory.User{user}, nil)

	l, err := New(WithSource(src), WithTarget(target, targets.Policy{}))
	require.NoError(t, err)

	rep, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.StateCompleted, rep.State)
	assert.Empty(t, target.applied, "a converged target gets an empty plan")
}
