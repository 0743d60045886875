package targets

import "slices"

// Capability declares an operation family a target supports. The reconciler
// queries capabilities before emitting operation variants and never emits a
// variant the target did not declare.
type Capability string

const (
	// CapabilityCreate allows creating accounts.
	CapabilityCreate Capability = "create"
	// CapabilityUpdate allows updating account attributes.
	CapabilityUpdate Capability = "update"
	// CapabilityDisable allows disabling and re-enabling accounts.
	CapabilityDisable Capability = "disable"
	// CapabilityRoleManagement allows managing role memberships.
	CapabilityRoleManagement Capability = "role_management"
	// CapabilityEmail indicates the target stores email addresses.
	CapabilityEmail Capability = "email"
)

// Capabilities is a declared set of capabilities.
type Capabilities map[Capability]struct{}

// NewCapabilities builds a capability set.
func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether the capability is declared.
func (c Capabilities) Has(capability Capability) bool {
	_, ok := c[capability]
	return ok
}

// List returns the declared capabilities in sorted order.
func (c Capabilities) List() []Capability {
	caps := make([]Capability, 0, len(c))
	for capability := range c {
		caps = append(caps, capability)
	}
	slices.Sort(caps)
	return caps
}
