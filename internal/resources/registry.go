// Package resources implements the Resource Registry (C1): the
// declarative, per-resource-type configuration loaded once at startup and
// consulted, lock-free, on every request thereafter.
//
// It is grounded on kurbisio's core/backend.Configuration loading (JSON
// config validated against an embedded schema, then kept as an immutable
// in-process map) and on core/backend's per-resource behaviour: a
// resource is either absent from configuration (unknown) or present with
// an enabled flag, a schema placement, and an allow-list of interactions
// and search parameters.
package resources

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/fhircore/server/internal/model"
)

// VersionSupport declares that a resource type supports one FHIR version,
// optionally as its default.
type VersionSupport struct {
	Version model.Version `json:"version"`
	Default bool          `json:"default,omitempty"`
}

// Placement is the Schema Router's (C5) routing decision for a resource
// type, carried here because it is configured per resource type.
type Placement struct {
	// Dedicated, when non-empty, names the resource type's own schema.
	// Empty means the shared schema.
	Dedicated string `json:"dedicated_schema,omitempty"`
}

// Config is one resource type's declarative configuration (§3).
type Config struct {
	ResourceType         string           `json:"resource_type"`
	Enabled              *bool            `json:"enabled,omitempty"`
	Versions             []VersionSupport `json:"versions"`
	Interactions         []model.Interaction `json:"interactions"`
	SearchParameterCodes []string         `json:"search_parameters,omitempty"` // allow-list; empty = unrestricted
	Schema               Placement        `json:"schema,omitempty"`
	Profiles             map[model.Version][]string `json:"profiles,omitempty"`

	interactionSet map[model.Interaction]bool
	versionSet     map[model.Version]bool
}

// IsEnabled resolves the "missing enabled flag defaults to enabled" rule
// of §3/§4.1.
func (c Config) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// SupportsVersion reports whether this resource type lists version among
// its supported FHIR versions.
func (c Config) SupportsVersion(v model.Version) bool {
	return c.versionSet[v]
}

// DefaultVersion returns the version marked default, or the zero value if
// none is marked (a configuration error the loader rejects).
func (c Config) DefaultVersion() (model.Version, bool) {
	for _, vs := range c.Versions {
		if vs.Default {
			return vs.Version, true
		}
	}
	return "", false
}

// HasInteraction reports whether interaction is in this resource's
// enabled set.
func (c Config) HasInteraction(i model.Interaction) bool {
	return c.interactionSet[i]
}

// SchemaName returns the dedicated schema name for this resource type,
// defaulting to sharedSchema per §4.1's "missing schema descriptor
// defaults to Shared(default_schema)".
func (c Config) SchemaName(sharedSchema string) string {
	if c.Schema.Dedicated != "" {
		return c.Schema.Dedicated
	}
	return sharedSchema
}

// IsDedicated reports whether this resource type routes to its own
// schema rather than the shared one.
func (c Config) IsDedicated() bool {
	return c.Schema.Dedicated != ""
}

// RequiredProfiles returns the profile URLs configured for (type,
// version), or nil when none are configured.
func (c Config) RequiredProfiles(v model.Version) []string {
	if c.Profiles == nil {
		return nil
	}
	return c.Profiles[v]
}

func (c *Config) index() {
	c.interactionSet = make(map[model.Interaction]bool, len(c.Interactions))
	for _, i := range c.Interactions {
		c.interactionSet[i] = true
	}
	c.versionSet = make(map[model.Version]bool, len(c.Versions))
	for _, vs := range c.Versions {
		c.versionSet[vs.Version] = true
	}
}

// Registry is the populated-once, read-only-thereafter resource registry.
// Its zero value is not usable; construct with Load.
type Registry struct {
	configs map[string]Config
	once    sync.Once
}

// Load parses doc (a JSON array of Config) and returns a populated
// Registry. Load is meant to run exactly once at process startup; the
// returned Registry then serves concurrent lookups without locking,
// per §4.1's "populated exactly once ... subsequent lookups never block".
func Load(doc []byte) (*Registry, error) {
	var configs []Config
	if err := json.Unmarshal(doc, &configs); err != nil {
		return nil, fmt.Errorf("resources: parse error in configuration: %w", err)
	}
	r := &Registry{configs: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if c.ResourceType == "" {
			return nil, fmt.Errorf("resources: configuration entry missing resource_type")
		}
		if _, dup := r.configs[c.ResourceType]; dup {
			return nil, fmt.Errorf("resources: duplicate configuration for %s", c.ResourceType)
		}
		c.index()
		if _, ok := c.DefaultVersion(); !ok {
			return nil, fmt.Errorf("resources: %s: no version marked default", c.ResourceType)
		}
		if c.Schema.Dedicated != "" && !validIdentifier(c.Schema.Dedicated) {
			return nil, fmt.Errorf("resources: %s: invalid dedicated schema name %q", c.ResourceType, c.Schema.Dedicated)
		}
		r.configs[c.ResourceType] = c
	}
	return r, nil
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && !isLetter {
			return false
		}
		if i > 0 && !isLetter && !isDigit {
			return false
		}
	}
	return true
}

// Lookup returns the configuration for resourceType, and whether it was
// found at all (as opposed to found-but-disabled; see §4.1).
func (r *Registry) Lookup(resourceType string) (Config, bool) {
	c, ok := r.configs[resourceType]
	return c, ok
}

// EnabledResourceTypes returns every resource type whose configuration
// enables it.
func (r *Registry) EnabledResourceTypes() []string {
	var out []string
	for t, c := range r.configs {
		if c.IsEnabled() {
			out = append(out, t)
		}
	}
	return out
}

// IsInteractionEnabled reports whether (type, version, interaction) is
// fully permitted: the type must exist and be enabled, support the
// version, and list the interaction.
func (r *Registry) IsInteractionEnabled(resourceType string, version model.Version, interaction model.Interaction) bool {
	c, ok := r.Lookup(resourceType)
	if !ok || !c.IsEnabled() {
		return false
	}
	if !c.SupportsVersion(version) {
		return false
	}
	return c.HasInteraction(interaction)
}
