// Package model holds the data types shared across every component of the
// FHIR core: the resource row (§3), the FHIR version and interaction
// enums, and the typed error taxonomy (§7) that the orchestrator is the
// single point of translation for.
package model

import (
	"fmt"
	"time"
)

// Version is a supported FHIR release.
type Version string

// The two FHIR releases this server speaks.
const (
	R5  Version = "R5"
	R4B Version = "R4B"
)

// ParseVersion accepts a case-insensitive version code from the URL
// surface (§6 - "{v} matches a case-insensitive version code") and
// returns the canonical Version.
func ParseVersion(code string) (Version, bool) {
	switch normalizeVersionCode(code) {
	case "r5":
		return R5, true
	case "r4b":
		return R4B, true
	default:
		return "", false
	}
}

func normalizeVersionCode(code string) string {
	b := []byte(code)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Interaction is one of the named FHIR verbs from §3/§4.1.
type Interaction string

// The closed set of interactions a resource config can enable.
const (
	InteractionRead    Interaction = "read"
	InteractionVRead   Interaction = "vread"
	InteractionCreate  Interaction = "create"
	InteractionUpdate  Interaction = "update"
	InteractionPatch   Interaction = "patch"
	InteractionDelete  Interaction = "delete"
	InteractionSearch  Interaction = "search"
	InteractionHistory Interaction = "history"
)

// AllInteractions lists every interaction the registry can gate, in the
// canonical order used by the Conformance Generator (C11).
var AllInteractions = []Interaction{
	InteractionRead, InteractionVRead, InteractionCreate, InteractionUpdate,
	InteractionPatch, InteractionDelete, InteractionSearch, InteractionHistory,
}

// Row is the central storage entity of §3: one physical row per stored
// version of a resource.
//
// Two distinct notions of "version" coexist on a Row, per §3/§4.5:
// FHIRVersion is the release (R5/R4B) the content was written against;
// VersionNumber is the resource's own sequential history counter
// (1, 2, 3, ...) and is the externally-visible version identity the ETag,
// vread interaction, and conditional-update If-Match check key off of;
// VersionID is only the table-wide bigserial insertion order, an
// internal storage detail never surfaced to a client.
type Row struct {
	TenantID     string
	ResourceType string
	ResourceID   string
	FHIRVersion  Version
	VersionNumber int64
	VersionID    int64
	IsCurrent    bool
	IsDeleted    bool
	Content      []byte // JSON document
	LastUpdated  time.Time
	CreatedAt    time.Time
	SourceURI    string
}

// ETag renders the row's weak ETag, "W/\"<version>\"" per §6. The
// externally-visible version identity is VersionNumber, the per-resource
// contiguous counter (§8 - "version_ids form a contiguous sequence
// starting at 1"), not VersionID, which is a table-wide bigserial shared
// across every resource instance.
func (r Row) ETag() string {
	return fmt.Sprintf(`W/"%d"`, r.VersionNumber)
}

// Tenant is the mapping of an external, client-facing tenant id to the
// internal id that scopes every row and cache key (§3, §5).
type Tenant struct {
	ExternalID string // UUID exposed to clients
	InternalID string // opaque id used in rows and cache keys
	Enabled    bool
}
