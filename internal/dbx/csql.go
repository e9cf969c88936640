// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package dbx wraps a Postgres connection with the notion of a schema.
//
// A schema is either the shared schema that holds every resource type the
// Schema Router (C5) places there, or one of the dedicated, per-resource
// schemas it creates on demand. All FHIR resource rows, regardless of
// placement, are reached through a *DB value scoped to the schema that
// holds them.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/fhircore/server/internal/logger"
)

// DB encapsulates a standard sql.DB bound to one Postgres schema.
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a row.
var ErrNoRows = sql.ErrNoRows

// validSchemaName matches the identifier grammar the Schema Router (C5)
// requires of a dedicated schema name before it is ever concatenated into
// SQL text. Anything else is a programming error, not a runtime failure.
var validSchemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchemaName reports whether name is safe to interpolate into SQL
// as a schema identifier.
func ValidSchemaName(name string) bool {
	return validSchemaName.MatchString(name)
}

// OpenWithSchema opens a Postgres database scoped to schema. The schema is
// created if it does not exist yet. The uuid-ossp extension is also
// created if missing; resource ids themselves are generated in Go by the
// Storage Engine, not by a column default.
func OpenWithSchema(dataSourceName, dataSourcePassword, schema string) (*DB, error) {
	if !ValidSchemaName(schema) {
		return nil, fmt.Errorf("dbx: refusing unsafe schema name %q", schema)
	}
	logger.Default().Infoln("connecting to postgres database:", dataSourceName)
	db, err := sql.Open("postgres", fmt.Sprintf("%s password=%s", dataSourceName, dataSourcePassword))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	logger.Default().Infoln("selected database schema:", schema)
	if _, err := db.Exec(`CREATE extension IF NOT EXISTS "uuid-ossp";`); err != nil {
		if !strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, err
		}
		logger.Default().Warnln("uuid-ossp extension already present")
	}
	if _, err := db.Exec(`CREATE schema IF NOT EXISTS "` + schema + `";`); err != nil {
		return nil, err
	}
	return &DB{DB: db, Schema: schema}, nil
}

// ClearSchema drops and recreates the database's schema. It refuses to do
// so on "public", which every dedicated-schema Backend avoids using.
func (db *DB) ClearSchema() error {
	if db.Schema == "public" {
		panic("dbx: refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA "` + db.Schema + `" CASCADE; CREATE SCHEMA IF NOT EXISTS "` + db.Schema + `";`)
	return err
}

// WithTx runs fn within a transaction on this schema, committing on a nil
// return and rolling back otherwise. Every atomic storage-engine sequence
// (demote current row, insert new current row) goes through this helper so
// that the pair is observed by other sessions as indivisible, which is
// what the current-version invariant of §3 requires.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
