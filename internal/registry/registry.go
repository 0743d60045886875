// Package registry maps config module names to source and target
// constructors. This package is separate from the adapters to avoid circular
// dependencies.
package registry

import (
	"strings"

	"github.com/agentstation/lifecycle/internal/config"
	ldapsource "github.com/agentstation/lifecycle/internal/sources/ldap"
	"github.com/agentstation/lifecycle/internal/sources/staticconfig"
	ldaptarget "github.com/agentstation/lifecycle/internal/targets/ldap"
	"github.com/agentstation/lifecycle/internal/targets/suitecrm"
	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/sources"
	"github.com/agentstation/lifecycle/pkg/targets"
)

// sourceRegistry maps module names to source constructors.
var sourceRegistry = map[sources.ID]func(config.Module) (sources.Source, error){
	sources.StaticConfigID: func(m config.Module) (sources.Source, error) { return staticconfig.New(m) },
	sources.LDAPID:         func(m config.Module) (sources.Source, error) { return ldapsource.New(m) },
}

// targetRegistry maps module names to target constructors.
var targetRegistry = map[targets.ID]func(config.Module) (targets.Target, error){
	targets.SuiteCRMID: func(m config.Module) (targets.Target, error) { return suitecrm.New(m) },
	targets.LDAPID:     func(m config.Module) (targets.Target, error) { return ldaptarget.New(m) },
}

// Source constructs the source adapter named by the config block. Module
// names are case-insensitive, matching the original config convention.
func Source(m config.Module) (sources.Source, error) {
	id := sources.ID(strings.ToLower(m.Module))
	construct, ok := sourceRegistry[id]
	if !ok {
		return nil, errors.NewConfigError("source", "no module found for source "+m.Module, nil)
	}
	return construct(m)
}

// Target constructs the target adapter named by the config block.
func Target(m config.Module) (targets.Target, error) {
	id := targets.ID(strings.ToLower(m.Module))
	construct, ok := targetRegistry[id]
	if !ok {
		return nil, errors.NewConfigError("targets", "no module found for target "+m.Module, nil)
	}
	return construct(m)
}

// HasSource checks whether a source module name is registered.
func HasSource(id sources.ID) bool {
	_, ok := sourceRegistry[id]
	return ok
}

// HasTarget checks whether a target module name is registered.
func HasTarget(id targets.ID) bool {
	_, ok := targetRegistry[id]
	return ok
}
