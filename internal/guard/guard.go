// Package guard implements the Interaction Guard (C4): the fixed-order
// check that a requested (resource type, version, interaction) triple is
// permitted before any storage or search work begins.
//
// Grounded on core/backend.handleResourceRoutes's sequence of guard
// clauses (unknown collection -> unknown route -> method not allowed)
// generalized to the Resource Registry's (C1) three-stage lookup.
package guard

import (
	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/resources"
)

// Guard checks a requested interaction against the Resource Registry, in
// the fixed order required by §4.1: resource type existence and enablement
// first, then version support, then interaction enablement. The order
// matters because each stage's failure carries a different outcome code.
type Guard struct {
	resources *resources.Registry
}

// New constructs a Guard over reg.
func New(reg *resources.Registry) *Guard {
	return &Guard{resources: reg}
}

// Check validates (resourceType, version, interaction) and returns the
// resource's configuration on success. On failure it returns the specific
// typed *model.Error for whichever stage failed first.
func (g *Guard) Check(resourceType string, version model.Version, interaction model.Interaction) (resources.Config, error) {
	cfg, ok := g.resources.Lookup(resourceType)
	if !ok {
		return resources.Config{}, model.ErrUnknownResourceType(resourceType)
	}
	if !cfg.IsEnabled() {
		return resources.Config{}, model.ErrUnknownResourceType(resourceType)
	}
	if !cfg.SupportsVersion(version) {
		return resources.Config{}, model.ErrUnsupportedVersion(resourceType, version)
	}
	if !cfg.HasInteraction(interaction) {
		return resources.Config{}, model.ErrDisabledInteraction(resourceType, interaction)
	}
	return cfg, nil
}
