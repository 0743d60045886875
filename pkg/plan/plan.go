package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Plan is the ordered set of operations one target needs to converge on the
// source snapshot. Given identical input snapshots the plan is exactly
// reproducible: Sort establishes a total order independent of snapshot
// iteration order.
type Plan struct {
	Target     string
	Operations []Operation
}

// New creates an empty plan for the named target.
func New(target string) *Plan {
	return &Plan{Target: target}
}

// Add appends operations to the plan.
func (p *Plan) Add(ops ...Operation) {
	p.Operations = append(p.Operations, ops...)
}

// Len returns the number of operations in the plan.
func (p *Plan) Len() int {
	return len(p.Operations)
}

// IsEmpty returns true if the plan contains no operations.
func (p *Plan) IsEmpty() bool {
	return len(p.Operations) == 0
}

// Sort orders operations by (identity key, kind priority, role, kind). The
// resulting order satisfies the plan's ordering guarantees: CreateUser for a
// user precedes every other operation referencing the same key, and
// DisableUser precedes RemoveRoleMember for the same key.
func (p *Plan) Sort() {
	sort.SliceStable(p.Operations, func(i, j int) bool {
		a, b := p.Operations[i], p.Operations[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Kind.Priority() != b.Kind.Priority() {
			return a.Kind.Priority() < b.Kind.Priority()
		}
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		return a.Kind < b.Kind
	})
}

// Filter returns a new plan containing only operations produced by the given
// stages. An empty stage list keeps everything.
func (p *Plan) Filter(stages ...Stage) *Plan {
	if len(stages) == 0 {
		return p
	}

	enabled := make(map[Stage]bool, len(stages))
	for _, stage := range stages {
		enabled[stage] = true
	}

	filtered := New(p.Target)
	for _, op := range p.Operations {
		if enabled[op.Stage] {
			filtered.Add(op)
		}
	}
	return filtered
}

// Advisory is a ManualActionRequired notice: a needed change that cannot be
// expressed through the target's declared capabilities. Advisories are
// reported, never applied, and are not errors.
type Advisory struct {
	Key     string
	Message string
}

// String returns a human-readable description of the advisory.
func (a Advisory) String() string {
	if a.Key != "" {
		return fmt.Sprintf("manual action required for %s: %s", a.Key, a.Message)
	}
	return fmt.Sprintf("manual action required: %s", a.Message)
}

// String returns a human-readable summary of the plan.
func (p *Plan) String() string {
	if p.IsEmpty() {
		return fmt.Sprintf("plan for %s: no changes", p.Target)
	}

	counts := make(map[Kind]int)
	for _, op := range p.Operations {
		counts[op.Kind]++
	}

	kinds := []Kind{
		KindCreateUser,
		KindEnableUser,
		KindDisableUser,
		KindUpdateUserAttributes,
		KindAddRoleMember,
		KindRemoveRoleMember,
	}

	var parts []string
	for _, kind := range kinds {
		if counts[kind] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[kind], kind))
		}
	}

	return fmt.Sprintf("plan for %s: %s", p.Target, strings.Join(parts, ", "))
}
