// Package conformance implements the Conformance Generator (C11): it
// renders the server's metadata document by walking the Resource
// Registry (C1), Search Parameter Registry (C2) and Operation Dispatcher
// (C9) rather than maintaining a second, hand-written copy of what the
// server supports (§4.11).
package conformance

import (
	"sort"

	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/operations"
	"github.com/fhircore/server/internal/resources"
	"github.com/fhircore/server/internal/searchparams"
)

// Interaction is one entry of CapabilityStatement.rest.resource.interaction.
type Interaction struct {
	Code string `json:"code"`
}

// SearchParam is one entry of CapabilityStatement.rest.resource.searchParam.
type SearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// OperationRef is one entry of CapabilityStatement.rest.resource.operation.
type OperationRef struct {
	Name string `json:"name"`
}

// Resource is one CapabilityStatement.rest.resource entry.
type Resource struct {
	Type         string         `json:"type"`
	Profile      []string       `json:"profile,omitempty"`
	Interaction  []Interaction  `json:"interaction"`
	SearchParam  []SearchParam  `json:"searchParam,omitempty"`
	Operation    []OperationRef `json:"operation,omitempty"`
}

// Rest is one CapabilityStatement.rest entry (always "server" here; this
// server exposes no client-mode capability).
type Rest struct {
	Mode     string     `json:"mode"`
	Resource []Resource `json:"resource"`
}

// Statement is the CapabilityStatement document this server publishes at
// GET /{v}/metadata (§4.11).
type Statement struct {
	ResourceType string `json:"resourceType"`
	Status       string `json:"status"`
	Kind         string `json:"kind"`
	FhirVersion  string `json:"fhirVersion"`
	Rest         []Rest `json:"rest"`
}

// Generator builds Statement documents for a requested FHIR version.
type Generator struct {
	resources *resources.Registry
	params    *searchparams.Registry
	ops       *operations.Dispatcher
}

// New constructs a Generator over the given registries.
func New(resourceRegistry *resources.Registry, paramRegistry *searchparams.Registry, dispatcher *operations.Dispatcher) *Generator {
	return &Generator{resources: resourceRegistry, params: paramRegistry, ops: dispatcher}
}

// Generate renders the CapabilityStatement for version.
func (g *Generator) Generate(version model.Version) Statement {
	types := g.resources.EnabledResourceTypes()
	sort.Strings(types)

	stmt := Statement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Kind:         "instance",
		FhirVersion:  string(version),
	}

	var resourceEntries []Resource
	for _, rt := range types {
		cfg, ok := g.resources.Lookup(rt)
		if !ok || !cfg.SupportsVersion(version) {
			continue
		}
		resourceEntries = append(resourceEntries, g.resourceEntry(cfg, version))
	}
	stmt.Rest = []Rest{{Mode: "server", Resource: resourceEntries}}
	return stmt
}

func (g *Generator) resourceEntry(cfg resources.Config, version model.Version) Resource {
	entry := Resource{Type: cfg.ResourceType, Profile: cfg.RequiredProfiles(version)}

	for _, i := range model.AllInteractions {
		if cfg.HasInteraction(i) {
			entry.Interaction = append(entry.Interaction, Interaction{Code: string(i)})
		}
	}

	if cfg.HasInteraction(model.InteractionSearch) {
		for _, def := range g.params.AllowedFor(cfg.ResourceType, version) {
			entry.SearchParam = append(entry.SearchParam, SearchParam{Name: def.Code, Type: string(def.Type)})
		}
		sort.Slice(entry.SearchParam, func(i, j int) bool { return entry.SearchParam[i].Name < entry.SearchParam[j].Name })
	}

	for _, name := range typeScopedOperationCandidates {
		if g.ops.IsRegistered(name, operations.ScopeType, cfg.ResourceType, version) {
			entry.Operation = append(entry.Operation, OperationRef{Name: name})
		}
		if g.ops.IsRegistered(name, operations.ScopeInstance, cfg.ResourceType, version) {
			entry.Operation = append(entry.Operation, OperationRef{Name: name})
		}
	}
	return entry
}

// typeScopedOperationCandidates is the set of operation names this server
// knows how to define, checked against the dispatcher per resource type so
// the capability statement only lists what is actually registered rather
// than everything this codebase is capable of exposing.
var typeScopedOperationCandidates = []string{"everything", "validate", "match", "lastn"}
