// Package schemarouter implements the Schema Router (C5): given a
// resource type's configuration, decide which Postgres schema its rows
// live in, and hand back a *dbx.DB bound to that schema.
//
// Grounded on dbx.OpenWithSchema / dbx.ValidSchemaName and on kurbisio's
// one-schema-per-Backend-instance model, generalized here to multiple
// schemas opened lazily and cached for the life of the process.
package schemarouter

import (
	"fmt"
	"sync"

	"github.com/fhircore/server/internal/dbx"
	"github.com/fhircore/server/internal/resources"
)

// Opener opens a *dbx.DB for a given schema name. In production this is
// dbx.OpenWithSchema bound to a fixed data source; tests substitute a
// fake that hands back an already-open *dbx.DB.
type Opener func(schema string) (*dbx.DB, error)

// Router routes a resource type to the *dbx.DB holding its rows, opening
// and caching one connection pool per distinct schema name.
type Router struct {
	shared string
	open   Opener

	mutex sync.Mutex
	dbs   map[string]*dbx.DB
}

// New constructs a Router. sharedSchema names the schema used by every
// resource type with no dedicated placement (§4.1/§3's Shared(default)).
func New(sharedSchema string, open Opener) *Router {
	return &Router{shared: sharedSchema, open: open, dbs: make(map[string]*dbx.DB)}
}

// For returns the *dbx.DB that holds rows for cfg's resource type,
// opening and caching the connection the first time a schema is
// referenced.
func (r *Router) For(cfg resources.Config) (*dbx.DB, error) {
	schema := cfg.SchemaName(r.shared)
	if !dbx.ValidSchemaName(schema) {
		return nil, fmt.Errorf("schemarouter: refusing unsafe schema name %q for %s", schema, cfg.ResourceType)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if db, ok := r.dbs[schema]; ok {
		return db, nil
	}
	db, err := r.open(schema)
	if err != nil {
		return nil, err
	}
	r.dbs[schema] = db
	return db, nil
}

// Schemas returns every schema name currently opened, the shared schema
// first if it has been opened.
func (r *Router) Schemas() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]string, 0, len(r.dbs))
	if _, ok := r.dbs[r.shared]; ok {
		out = append(out, r.shared)
	}
	for schema := range r.dbs {
		if schema != r.shared {
			out = append(out, schema)
		}
	}
	return out
}
