// Package searchparams implements the Search Parameter Registry (C2): a
// universal base bundle plus one bundle per resource type, intersected at
// query time with the owning resource's allow-list (C1).
//
// Grounded on the same startup-load-then-immutable-map shape as
// internal/resources, mirroring how kurbisio loads its JSON schema bundle
// once via schema.NewValidator and never mutates it again.
package searchparams

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/fhircore/server/internal/resources"
)

// Type is a FHIR search parameter type (§3).
type Type string

// The closed set of search parameter types (§4.6's dispatch table).
const (
	TypeNumber    Type = "number"
	TypeDate      Type = "date"
	TypeString    Type = "string"
	TypeToken     Type = "token"
	TypeReference Type = "reference"
	TypeComposite Type = "composite"
	TypeQuantity  Type = "quantity"
	TypeURI       Type = "uri"
	TypeSpecial   Type = "special"
)

// Component describes one leg of a composite search parameter.
type Component struct {
	Code       string `json:"code"`
	Expression string `json:"expression,omitempty"`
}

// Def is one search parameter definition (§3).
type Def struct {
	Code        string      `json:"code"`
	Base        []string    `json:"base"`
	Type        Type        `json:"type"`
	Expression  string      `json:"expression,omitempty"`
	Target      []string    `json:"target,omitempty"`
	Components  []Component `json:"component,omitempty"`
	Description string      `json:"description,omitempty"`
}

// appliesTo reports whether this definition's base set includes
// resourceType.
func (d Def) appliesTo(resourceType string) bool {
	for _, b := range d.Base {
		if b == resourceType || b == "Resource" {
			return true
		}
	}
	return false
}

// Registry is the populated-once, read-only search parameter registry.
type Registry struct {
	base      []Def
	byType    map[string][]Def // per-resource bundles, keyed by resource type
	resources *resources.Registry
}

// Load parses a base bundle (applies to every resource type) and a set of
// per-resource-type bundles, keyed by resource type, and binds the result
// to the Resource Registry so that AllowedFor can intersect with each
// type's allow-list.
func Load(baseBundle []byte, perType map[string][]byte, resourceRegistry *resources.Registry) (*Registry, error) {
	var base []Def
	if err := json.Unmarshal(baseBundle, &base); err != nil {
		return nil, fmt.Errorf("searchparams: parse error in base bundle: %w", err)
	}

	r := &Registry{base: base, byType: make(map[string][]Def, len(perType)), resources: resourceRegistry}
	for resourceType, doc := range perType {
		var defs []Def
		if err := json.Unmarshal(doc, &defs); err != nil {
			return nil, fmt.Errorf("searchparams: parse error in bundle for %s: %w", resourceType, err)
		}
		r.byType[resourceType] = defs
	}
	return r, nil
}

// allDefined returns the union of the base bundle and resourceType's own
// bundle, without applying any resource-config allow-list.
func (r *Registry) allDefined(resourceType string) []Def {
	var out []Def
	for _, d := range r.base {
		if d.appliesTo(resourceType) || len(d.Base) == 0 {
			out = append(out, d)
		}
	}
	out = append(out, r.byType[resourceType]...)
	return out
}

// AllowedFor returns the search parameters usable against resourceType:
// the union of base and per-type entries, intersected with any allow-list
// configured on the resource (§4.2). A resource with no allow-list permits
// every defined code. The second (version) argument is not consulted; the
// result is the same for every FHIR version.
func (r *Registry) AllowedFor(resourceType string, _ interface{}) []Def {
	all := r.allDefined(resourceType)
	cfg, ok := r.resources.Lookup(resourceType)
	if !ok || len(cfg.SearchParameterCodes) == 0 {
		return all
	}
	allow := make(map[string]bool, len(cfg.SearchParameterCodes))
	for _, c := range cfg.SearchParameterCodes {
		allow[c] = true
	}
	var out []Def
	for _, d := range all {
		if allow[d.Code] {
			out = append(out, d)
		}
	}
	return out
}

// Definition looks up one search parameter's definition for
// (resourceType, code), respecting the resource's allow-list. An unknown
// or disabled code returns ok=false so the Search Translator (C7) can
// fail closed with *invalid search parameter* (§4.2, §4.6).
func (r *Registry) Definition(resourceType, code string) (Def, bool) {
	for _, d := range r.AllowedFor(resourceType, nil) {
		if d.Code == code {
			return d, true
		}
	}
	return Def{}, false
}

// IsAllowed reports whether code is usable against resourceType.
func (r *Registry) IsAllowed(resourceType, code string) bool {
	_, ok := r.Definition(resourceType, code)
	return ok
}
