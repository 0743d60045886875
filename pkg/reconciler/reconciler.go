// Package reconciler computes the minimal, ordered operation plan that brings
// one target's observed state in line with the source snapshot. Planning is a
// pure function of its inputs: the same snapshot, state, capabilities, and
// policy always produce the same plan, and running the resulting plan twice
// yields an empty plan the second time.
package reconciler

import (
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/logging"
	"github.com/agentstation/lifecycle/pkg/mapper"
	"github.com/agentstation/lifecycle/pkg/plan"
	"github.com/agentstation/lifecycle/pkg/targets"
)

// Reconciler plans operations for targets. It is stateless and safe for
// concurrent use across per-target pipelines.
type Reconciler struct {
	logger *zerolog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for planning diagnostics.
func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// New creates a Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{logger: logging.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan computes the operations the named target needs to converge on the
// source snapshot, honoring the target's declared capabilities and policy.
// Changes that cannot be expressed through the capabilities come back as
// advisories instead of operations. The returned plan is sorted and filtered
// to the policy's enabled stages.
func (r *Reconciler) Plan(target string, src *inventory.Snapshot, state *targets.State, caps targets.Capabilities, roles *mapper.Mapper, policy targets.Policy) (*plan.Plan, []plan.Advisory, error) {
	// Declaring target-level role patterns for a target that cannot manage
	// roles is a contradiction the operator must resolve; inherited patterns
	// just don't apply here.
	if policy.GroupsPatterns != nil && !caps.Has(targets.CapabilityRoleManagement) {
		return nil, nil, errors.NewConfigError(target, "groups_patterns configured but target does not support role management", nil)
	}

	p := plan.New(target)
	var advisories []plan.Advisory

	desired, keyAdvisories, err := r.desiredUsers(src, policy)
	if err != nil {
		return nil, nil, err
	}
	advisories = append(advisories, keyAdvisories...)

	observed := observedUsers(state, policy)

	// Partition by identity key.
	var toCreate, toUpdate, toRetire []string
	for key := range desired {
		if _, ok := observed[key]; ok {
			toUpdate = append(toUpdate, key)
		} else {
			toCreate = append(toCreate, key)
		}
	}
	for key := range observed {
		if _, ok := desired[key]; !ok {
			toRetire = append(toRetire, key)
		}
	}
	slices.Sort(toCreate)
	slices.Sort(toUpdate)
	slices.Sort(toRetire)

	// present tracks which desired users will exist in the target after the
	// plan runs, so role membership is never granted to an account that was
	// not (and cannot be) created.
	present := make(map[string]bool, len(desired))
	for _, key := range toUpdate {
		present[key] = true
	}

	for _, key := range toCreate {
		user := desired[key]
		if !caps.Has(targets.CapabilityCreate) {
			advisories = append(advisories, plan.Advisory{
				Key:     key,
				Message: "account missing and target cannot create accounts",
			})
			continue
		}
		present[key] = true

		payload := user.Clone()
		p.Add(plan.Operation{
			Kind:  plan.KindCreateUser,
			Key:   key,
			User:  &payload,
			Stage: plan.StageUsersCreate,
		})

		// A user already inactive at the source still gets an account, so
		// that re-activation later is an enable rather than a create, but
		// the account must not come up usable.
		if !user.Enabled {
			if caps.Has(targets.CapabilityDisable) {
				p.Add(plan.Operation{
					Kind:  plan.KindDisableUser,
					Key:   key,
					Stage: plan.StageUsersCreate,
				})
			} else {
				advisories = append(advisories, plan.Advisory{
					Key:     key,
					Message: "account created for inactive user but target cannot disable accounts",
				})
			}
		}
	}

	for _, key := range toUpdate {
		ops, advs := r.planUpdate(key, desired[key], observed[key], caps)
		p.Add(ops...)
		advisories = append(advisories, advs...)
	}

	for _, key := range toRetire {
		if !observed[key].Enabled {
			continue // already retired
		}
		if caps.Has(targets.CapabilityDisable) {
			p.Add(plan.Operation{
				Kind:  plan.KindDisableUser,
				Key:   key,
				Stage: plan.StageUsersCleanup,
			})
		} else {
			advisories = append(advisories, plan.Advisory{
				Key:     key,
				Message: "account no longer exists at the source and target cannot disable accounts",
			})
		}
	}

	if caps.Has(targets.CapabilityRoleManagement) {
		p.Add(r.planRoles(src, state, roles, policy, desired, present)...)
	}

	p.Sort()
	sortAdvisories(advisories)

	filtered := p.Filter(policy.Stages...)
	r.logger.Debug().
		Str("target", target).
		Int("operations", filtered.Len()).
		Int("advisories", len(advisories)).
		Msg("Plan computed")

	return filtered, advisories, nil
}

// desiredUsers keys the source snapshot's users by the policy's matching
// attribute, dropping excluded users. Users that cannot produce a key under
// the matching attribute become advisories, not errors: one unkeyable record
// must not abort the whole target.
func (r *Reconciler) desiredUsers(src *inventory.Snapshot, policy targets.Policy) (map[string]inventory.User, []plan.Advisory, error) {
	desired := make(map[string]inventory.User, src.Len())
	var advisories []plan.Advisory

	for _, user := range src.Users() {
		key, ok := matchKey(&user, policy.Matching())
		if !ok {
			advisories = append(advisories, plan.Advisory{
				Key:     user.Key(),
				Message: "user has no email address and cannot be matched by email",
			})
			continue
		}
		if policy.Excluded(key) {
			continue
		}
		if _, exists := desired[key]; exists {
			return nil, nil, errors.NewDataError("user", key, "duplicate identity key under "+string(policy.Matching())+" matching")
		}
		desired[key] = user
	}

	return desired, advisories, nil
}

// observedUsers keys the target state's users by the policy's matching
// attribute, dropping excluded users. Observed records that cannot produce a
// key are ignored: the target owns its own data.
func observedUsers(state *targets.State, policy targets.Policy) map[string]inventory.User {
	observed := make(map[string]inventory.User, len(state.Users))
	for _, user := range state.Users {
		key, ok := matchKey(&user, policy.Matching())
		if !ok || policy.Excluded(key) {
			continue
		}
		observed[key] = user
	}
	return observed
}

// matchKey derives the identity key used to correlate a user across the
// source and the target.
func matchKey(user *inventory.User, by targets.MatchBy) (string, bool) {
	switch by {
	case targets.MatchByEmail:
		emails := user.SortedEmails()
		if len(emails) == 0 {
			return "", false
		}
		return inventory.NormalizeKey(emails[0]), true
	default:
		key := user.Key()
		return key, key != ""
	}
}

// planUpdate computes the operations for a user present on both sides.
func (r *Reconciler) planUpdate(key string, want, have inventory.User, caps targets.Capabilities) ([]plan.Operation, []plan.Advisory) {
	var ops []plan.Operation
	var advisories []plan.Advisory

	if want.Enabled != have.Enabled {
		if caps.Has(targets.CapabilityDisable) {
			kind := plan.KindDisableUser
			if want.Enabled {
				kind = plan.KindEnableUser
			}
			ops = append(ops, plan.Operation{
				Kind:  kind,
				Key:   key,
				Stage: plan.StageUsersSync,
			})
		} else {
			verb := "disabled"
			if want.Enabled {
				verb = "enabled"
			}
			advisories = append(advisories, plan.Advisory{
				Key:     key,
				Message: "account should be " + verb + " but target cannot change account status",
			})
		}
	}

	changes := diffAttributes(want, have, caps)
	if len(changes) == 0 {
		return ops, advisories
	}

	if !caps.Has(targets.CapabilityUpdate) {
		paths := make([]string, len(changes))
		for i, change := range changes {
			paths[i] = change.Path
		}
		advisories = append(advisories, plan.Advisory{
			Key:     key,
			Message: "attributes differ (" + strings.Join(paths, ", ") + ") but target cannot update accounts",
		})
		return ops, advisories
	}

	payload := want.Clone()
	ops = append(ops, plan.Operation{
		Kind:    plan.KindUpdateUserAttributes,
		Key:     key,
		User:    &payload,
		Changes: changes,
		Stage:   plan.StageUsersSync,
	})
	return ops, advisories
}

// diffAttributes returns the attribute differences between the desired and
// observed record, in stable field order. Email comparison is
// order-insensitive; targets without email storage are never diffed on it.
func diffAttributes(want, have inventory.User, caps targets.Capabilities) []plan.FieldChange {
	var changes []plan.FieldChange

	add := func(path, old, now string) {
		if old != now {
			changes = append(changes, plan.FieldChange{Path: path, Old: old, New: now})
		}
	}

	add("forename", have.Forename, want.Forename)
	add("surname", have.Surname, want.Surname)
	add("full_name", have.FullName, want.FullName)
	if caps.Has(targets.CapabilityEmail) {
		add("emails", strings.Join(have.SortedEmails(), ","), strings.Join(want.SortedEmails(), ","))
	}

	return changes
}

// planRoles computes role membership changes for every role the pattern rules
// project from the source's groups. Roles the rules do not project are never
// touched, and membership is only granted to accounts that exist (or will
// exist) in the target.
func (r *Reconciler) planRoles(src *inventory.Snapshot, state *targets.State, roles *mapper.Mapper, policy targets.Policy, desired map[string]inventory.User, present map[string]bool) []plan.Operation {
	if roles == nil {
		return nil
	}

	// want: role name -> member keys, derived from source group membership.
	want := make(map[string]map[string]struct{})
	for _, mapping := range roles.Map(src.GroupNames()) {
		if want[mapping.Role] == nil {
			want[mapping.Role] = make(map[string]struct{})
		}
	}
	for key, user := range desired {
		if !present[key] {
			continue
		}
		for _, mapping := range roles.Map(user.Groups) {
			if want[mapping.Role] == nil {
				want[mapping.Role] = make(map[string]struct{})
			}
			want[mapping.Role][key] = struct{}{}
		}
	}

	var ops []plan.Operation
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		have := make(map[string]struct{})
		if role, ok := state.Roles[name]; ok {
			// Observed members are re-keyed through the matching attribute so
			// that both sides of the diff speak the same identity keys.
			for member := range role.MemberSet() {
				have[observedMemberKey(state, member, policy.Matching())] = struct{}{}
			}
		}

		for key := range want[name] {
			if _, ok := have[key]; !ok {
				ops = append(ops, plan.Operation{
					Kind:  plan.KindAddRoleMember,
					Key:   key,
					Role:  name,
					Stage: plan.StageRolesSync,
				})
			}
		}
		for key := range have {
			if policy.Excluded(key) {
				continue
			}
			if _, ok := want[name][key]; !ok {
				ops = append(ops, plan.Operation{
					Kind:  plan.KindRemoveRoleMember,
					Key:   key,
					Role:  name,
					Stage: plan.StageRolesSync,
				})
			}
		}
	}

	return ops
}

// observedMemberKey resolves an observed role member to the identity key the
// matching attribute yields for that account. Members with no observed user
// record keep their raw key.
func observedMemberKey(state *targets.State, member string, by targets.MatchBy) string {
	if user, ok := state.Users[member]; ok {
		if key, ok := matchKey(&user, by); ok {
			return key
		}
	}
	return member
}

func sortAdvisories(advisories []plan.Advisory) {
	slices.SortFunc(advisories, func(a, b plan.Advisory) int {
		if a.Key != b.Key {
			return strings.Compare(a.Key, b.Key)
		}
		return strings.Compare(a.Message, b.Message)
	})
}
