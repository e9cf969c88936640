// Package kvstore provides a persistent registry of small JSON objects in a
// SQL schema. It backs process bookkeeping that must survive a restart:
// the Tenant Resolver's tenant mappings behind its in-memory cache.
package kvstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fhircore/server/internal/dbx"
)

// New creates (if necessary) the registry table in db's schema and returns
// a handle to it.
func New(db *dbx.DB) (*Registry, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS "` + db.Schema + `"."_registry_" (
key varchar NOT NULL,
value json NOT NULL,
created_at timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

// Registry is a persistent key/value store of JSON documents in a SQL schema.
type Registry struct {
	db *dbx.DB
}

// Accessor is a registry view namespaced by a key prefix.
type Accessor struct {
	prefix   string
	registry *Registry
}

// Accessor returns a registry accessor namespaced with prefix.
func (r *Registry) Accessor(prefix string) Accessor {
	return Accessor{prefix: prefix, registry: r}
}

func (a Accessor) key(key string) string {
	if a.prefix == "" {
		return key
	}
	return a.prefix + ":" + key
}

// Read reads a value from the registry, along with the time it was
// written. A missing key returns a zero time and a nil error.
func (a Accessor) Read(key string, value interface{}) (time.Time, error) {
	var (
		raw       json.RawMessage
		createdAt time.Time
	)
	err := a.registry.db.QueryRow(
		`SELECT value, created_at FROM "`+a.registry.db.Schema+`"."_registry_" WHERE key=$1;`,
		a.key(key)).Scan(&raw, &createdAt)
	if err == dbx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("kvstore: cannot read key %q: %w", key, err)
	}
	return createdAt, json.Unmarshal(raw, value)
}

// Write upserts a value into the registry under key.
func (a Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = a.registry.db.Exec(
		`INSERT INTO "`+a.registry.db.Schema+`"."_registry_"(key,value,created_at)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,created_at=$3;`,
		a.key(key), string(body), time.Now().UTC())
	return err
}

// Delete removes a key from the registry. Deleting an absent key is not an
// error.
func (a Accessor) Delete(key string) error {
	_, err := a.registry.db.Exec(
		`DELETE FROM "`+a.registry.db.Schema+`"."_registry_" WHERE key=$1;`, a.key(key))
	return err
}
