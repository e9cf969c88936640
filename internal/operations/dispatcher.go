// Package operations implements the Operation Dispatcher (C9): a plain
// lookup table from (name, scope, resource type, version) to a handler
// function, deliberately avoiding reflection or a class-registry pattern
// (§4.9).
//
// Grounded on core/backend.collectionFunctions's map-of-functions
// dispatch (name -> func(ctx, params, body) ([]byte, error)), extended
// here with the scope and resource-type/version axes FHIR "operation"
// invocation requires.
package operations

import (
	"context"

	"github.com/fhircore/server/internal/model"
)

// Scope is the level an operation is invoked at (§4.9).
type Scope string

// The three invocation scopes FHIR operations support.
const (
	ScopeSystem   Scope = "system"   // e.g. POST /$operation
	ScopeType     Scope = "type"     // e.g. POST /Patient/$operation
	ScopeInstance Scope = "instance" // e.g. POST /Patient/123/$operation
)

// Handler implements one operation invocation.
type Handler func(ctx context.Context, resourceID string, params map[string]string, body []byte) ([]byte, error)

// key identifies one registered (name, scope, resource type, version)
// combination. ResourceType is empty for system-scope operations.
type key struct {
	Name         string
	Scope        Scope
	ResourceType string
	Version      model.Version
}

// Dispatcher is the immutable-after-registration operation table.
type Dispatcher struct {
	handlers map[key]Handler
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[key]Handler)}
}

// Register installs handler for (name, scope, resourceType, version).
// ResourceType should be empty for ScopeSystem. Registering the same
// combination twice is a programming error and panics, matching
// core/backend's "already installed" fatal for duplicate interceptors.
func (d *Dispatcher) Register(name string, scope Scope, resourceType string, version model.Version, handler Handler) {
	k := key{Name: name, Scope: scope, ResourceType: resourceType, Version: version}
	if _, exists := d.handlers[k]; exists {
		panic("operations: handler for " + name + " already installed at this scope/type/version")
	}
	d.handlers[k] = handler
}

// Dispatch looks up and invokes the handler for (name, scope,
// resourceType, version). An unregistered combination returns
// model.ErrNotSupported rather than panicking, since this path runs on
// every request instead of at startup wiring time.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, scope Scope, resourceType string, version model.Version, resourceID string, params map[string]string, body []byte) ([]byte, error) {
	k := key{Name: name, Scope: scope, ResourceType: resourceType, Version: version}
	handler, ok := d.handlers[k]
	if !ok {
		return nil, model.ErrNotSupported("unsupported operation: " + name)
	}
	return handler(ctx, resourceID, params, body)
}

// IsRegistered reports whether (name, scope, resourceType, version) has a
// handler, used by the Conformance Generator (C11) to list supported
// operations without invoking them.
func (d *Dispatcher) IsRegistered(name string, scope Scope, resourceType string, version model.Version) bool {
	_, ok := d.handlers[key{Name: name, Scope: scope, ResourceType: resourceType, Version: version}]
	return ok
}
