// Package storage implements the Storage Engine (C6): the versioned,
// soft-delete-aware persistence of one physical row per stored version of
// a resource (§3, §4.5).
//
// Grounded on core/backend.collection.go's dynamic table/index generation
// and on dbx.WithTx for the atomic demote-then-insert sequence that keeps
// "at most one is_current row per (tenant, resource type, resource id)" an
// invariant rather than a hope. Concurrency strategy: this engine fails a
// conflicting update with ErrVersionConflict rather than retrying,
// matching §4.5/§9's note that either choice is acceptable and the
// implementer must record which one was made (see DESIGN.md).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fhircore/server/internal/dbx"
	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/search"
)

// Engine stores and retrieves versioned rows for one resource type, bound
// to the *dbx.DB the Schema Router (C5) selected for it.
type Engine struct {
	db           *dbx.DB
	table        string
	resourceType string
}

// New returns an Engine for resourceType's rows in db. The table name is
// the lower-cased resource type, matching kurbisio's collection-name
// convention.
func New(db *dbx.DB, resourceType string) *Engine {
	return &Engine{db: db, table: strings.ToLower(resourceType), resourceType: resourceType}
}

func (e *Engine) qualified() string {
	return fmt.Sprintf(`"%s"."%s"`, e.db.Schema, e.table)
}

// EnsureTable creates the resource type's table and its lookup indexes if
// they do not already exist.
func (e *Engine) EnsureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tenant_id varchar NOT NULL,
	resource_id varchar NOT NULL,
	version bigint NOT NULL,
	version_id bigserial NOT NULL,
	is_current boolean NOT NULL,
	is_deleted boolean NOT NULL DEFAULT false,
	content jsonb NOT NULL,
	source_uri varchar NOT NULL DEFAULT '',
	last_updated timestamp NOT NULL,
	created_at timestamp NOT NULL,
	PRIMARY KEY(tenant_id, resource_id, version)
);`, e.qualified())
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("storage: create table %s: %w", e.table, err)
	}
	idx := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_current_idx ON %s(tenant_id, resource_id) WHERE is_current;`,
		e.table, e.qualified())
	if _, err := e.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("storage: create current-row index on %s: %w", e.table, err)
	}
	return nil
}

// Create inserts the first version of a new resource instance. If id is
// empty, a new one is generated.
func (e *Engine) Create(ctx context.Context, tenantID, id string, version model.Version, content []byte) (model.Row, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	row := model.Row{
		TenantID: tenantID, ResourceType: e.resourceType, ResourceID: id, FHIRVersion: version,
		VersionNumber: 1, IsCurrent: true, Content: content, LastUpdated: now, CreatedAt: now,
	}
	err := e.db.QueryRowContext(ctx,
		`INSERT INTO `+e.qualified()+`(tenant_id, resource_id, version, is_current, is_deleted, content, last_updated, created_at)
		 VALUES ($1, $2, 1, true, false, $3, $4, $4) RETURNING version_id;`,
		tenantID, id, string(content), now).Scan(&row.VersionID)
	if err != nil {
		return model.Row{}, fmt.Errorf("storage: create %s/%s: %w", e.resourceType, id, err)
	}
	return row, nil
}

// Read returns the current row for (tenantID, id). A current row flagged
// deleted yields ErrGone rather than a silently-served tombstone.
func (e *Engine) Read(ctx context.Context, tenantID, id string) (model.Row, error) {
	row, err := e.scanRow(e.db.QueryRowContext(ctx,
		`SELECT tenant_id, resource_id, version, version_id, is_current, is_deleted, content, source_uri, last_updated, created_at
		 FROM `+e.qualified()+` WHERE tenant_id=$1 AND resource_id=$2 AND is_current;`,
		tenantID, id))
	if err == sql.ErrNoRows {
		return model.Row{}, model.ErrUnknownResourceID(e.resourceType, id)
	}
	if err != nil {
		return model.Row{}, fmt.Errorf("storage: read %s/%s: %w", e.resourceType, id, err)
	}
	if row.IsDeleted {
		return model.Row{}, model.ErrGone(e.resourceType, id)
	}
	return row, nil
}

// VRead returns one specific historical version, regardless of its
// current/deleted flags, since reading a known version number is always
// permitted by §4.5. version is the externally-visible, per-resource
// contiguous counter (model.Row.VersionNumber), not the table-wide
// version_id bigserial.
func (e *Engine) VRead(ctx context.Context, tenantID, id string, version int64) (model.Row, error) {
	row, err := e.scanRow(e.db.QueryRowContext(ctx,
		`SELECT tenant_id, resource_id, version, version_id, is_current, is_deleted, content, source_uri, last_updated, created_at
		 FROM `+e.qualified()+` WHERE tenant_id=$1 AND resource_id=$2 AND version=$3;`,
		tenantID, id, version))
	if err == sql.ErrNoRows {
		return model.Row{}, model.ErrUnknownResourceID(e.resourceType, id)
	}
	if err != nil {
		return model.Row{}, fmt.Errorf("storage: vread %s/%s: %w", e.resourceType, id, err)
	}
	return row, nil
}

// History returns every stored version of (tenantID, id), most recent
// first, honoring a zero-valued limit as "no limit".
func (e *Engine) History(ctx context.Context, tenantID, id string, limit int) ([]model.Row, error) {
	query := `SELECT tenant_id, resource_id, version, version_id, is_current, is_deleted, content, source_uri, last_updated, created_at
		FROM ` + e.qualified() + ` WHERE tenant_id=$1 AND resource_id=$2 ORDER BY version DESC`
	args := []interface{}{tenantID, id}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: history %s/%s: %w", e.resourceType, id, err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		row, err := e.scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, model.ErrUnknownResourceID(e.resourceType, id)
	}
	return out, rows.Err()
}

// Update performs the atomic demote-then-insert sequence of §4.5: it locks
// the current row, optionally checks it against ifMatchVersion (the
// conditional-update extension of SPEC_FULL §C, keyed on the same
// externally-visible VersionNumber the ETag and If-Match header carry),
// demotes it, and inserts the new version as current.
func (e *Engine) Update(ctx context.Context, tenantID, id string, ifMatchVersion *int64, content []byte) (model.Row, error) {
	var result model.Row
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		var current model.Row
		err := tx.QueryRowContext(ctx,
			`SELECT tenant_id, resource_id, version, version_id, is_current, is_deleted, content, source_uri, last_updated, created_at
			 FROM `+e.qualified()+` WHERE tenant_id=$1 AND resource_id=$2 AND is_current FOR UPDATE;`,
			tenantID, id).Scan(&current.TenantID, &current.ResourceID, &current.VersionNumber, &current.VersionID,
			&current.IsCurrent, &current.IsDeleted, &current.Content, &current.SourceURI, &current.LastUpdated, &current.CreatedAt)
		if err == sql.ErrNoRows {
			return model.ErrUnknownResourceID(e.resourceType, id)
		}
		if err != nil {
			return err
		}
		if ifMatchVersion != nil && *ifMatchVersion != current.VersionNumber {
			return model.ErrVersionConflict(e.resourceType, id)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE `+e.qualified()+` SET is_current=false WHERE tenant_id=$1 AND resource_id=$2 AND version=$3;`,
			tenantID, id, current.VersionNumber); err != nil {
			return err
		}

		now := time.Now().UTC()
		next := model.Row{
			TenantID: tenantID, ResourceType: e.resourceType, ResourceID: id,
			VersionNumber: current.VersionNumber + 1, IsCurrent: true, Content: content, LastUpdated: now, CreatedAt: now,
		}
		row := tx.QueryRowContext(ctx,
			`INSERT INTO `+e.qualified()+`(tenant_id, resource_id, version, is_current, is_deleted, content, last_updated, created_at)
			 VALUES ($1, $2, $3, true, false, $4, $5, $5) RETURNING version_id;`,
			tenantID, id, next.VersionNumber, string(content), now)
		if err := row.Scan(&next.VersionID); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return model.Row{}, err
	}
	return result, nil
}

// Delete performs a soft delete: it inserts a new, current version flagged
// is_deleted with an empty document, rather than removing any row. A
// repeated delete of an already-deleted resource is a no-op success, per
// the idempotent-delete convention most FHIR servers follow.
func (e *Engine) Delete(ctx context.Context, tenantID, id string) (model.Row, error) {
	var result model.Row
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		var currentVersion int64
		var isDeleted bool
		err := tx.QueryRowContext(ctx,
			`SELECT version, is_deleted FROM `+e.qualified()+` WHERE tenant_id=$1 AND resource_id=$2 AND is_current FOR UPDATE;`,
			tenantID, id).Scan(&currentVersion, &isDeleted)
		if err == sql.ErrNoRows {
			return model.ErrUnknownResourceID(e.resourceType, id)
		}
		if err != nil {
			return err
		}
		if isDeleted {
			result = model.Row{TenantID: tenantID, ResourceType: e.resourceType, ResourceID: id, VersionNumber: currentVersion, IsDeleted: true}
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE `+e.qualified()+` SET is_current=false WHERE tenant_id=$1 AND resource_id=$2 AND version=$3;`,
			tenantID, id, currentVersion); err != nil {
			return err
		}

		now := time.Now().UTC()
		next := model.Row{TenantID: tenantID, ResourceType: e.resourceType, ResourceID: id,
			VersionNumber: currentVersion + 1, IsCurrent: true, IsDeleted: true, Content: []byte("{}"), LastUpdated: now, CreatedAt: now}
		row := tx.QueryRowContext(ctx,
			`INSERT INTO `+e.qualified()+`(tenant_id, resource_id, version, is_current, is_deleted, content, last_updated, created_at)
			 VALUES ($1, $2, $3, true, true, $4, $5, $5) RETURNING version_id;`,
			tenantID, id, currentVersion+1, string(next.Content), now)
		if err := row.Scan(&next.VersionID); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return model.Row{}, err
	}
	return result, nil
}

// Search runs the Search Translator's (C7) Query against this resource
// type's current, non-deleted rows, returning the page of matches and the
// total count of matching rows regardless of pagination. The translated
// WHERE clause's placeholders occupy $1..$len(q.Args); tenant_id is bound
// last so it never collides with them.
func (e *Engine) Search(ctx context.Context, tenantID string, q search.Query) ([]model.Row, int, error) {
	tenantPlaceholder := fmt.Sprintf("$%d", len(q.Args)+1)
	where := "is_current AND NOT is_deleted AND tenant_id = " + tenantPlaceholder
	if q.Where != "" {
		where += " AND (" + q.Where + ")"
	}
	args := append(append([]interface{}{}, q.Args...), tenantID)

	var total int
	if err := e.db.QueryRowContext(ctx, `SELECT count(*) FROM `+e.qualified()+` WHERE `+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count %s: %w", e.resourceType, err)
	}

	query := `SELECT tenant_id, resource_id, version, version_id, is_current, is_deleted, content, source_uri, last_updated, created_at
		FROM ` + e.qualified() + ` WHERE ` + where + ` ORDER BY resource_id`
	pagedArgs := append([]interface{}{}, args...)
	// q.Limit is always applied, so _count=0 returns no rows while total
	// still counts every match.
	pagedArgs = append(pagedArgs, q.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(pagedArgs))
	if q.Offset > 0 {
		pagedArgs = append(pagedArgs, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(pagedArgs))
	}

	rows, err := e.db.QueryContext(ctx, query, pagedArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: search %s: %w", e.resourceType, err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		row, err := e.scanRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

func (e *Engine) scanRow(row *sql.Row) (model.Row, error) {
	var r model.Row
	err := row.Scan(&r.TenantID, &r.ResourceID, &r.VersionNumber, &r.VersionID, &r.IsCurrent, &r.IsDeleted, &r.Content, &r.SourceURI, &r.LastUpdated, &r.CreatedAt)
	r.ResourceType = e.resourceType
	return r, err
}

func (e *Engine) scanRows(rows *sql.Rows) (model.Row, error) {
	var r model.Row
	err := rows.Scan(&r.TenantID, &r.ResourceID, &r.VersionNumber, &r.VersionID, &r.IsCurrent, &r.IsDeleted, &r.Content, &r.SourceURI, &r.LastUpdated, &r.CreatedAt)
	r.ResourceType = e.resourceType
	return r, err
}
