// Package artifacts implements the Metadata Store for Conformance
// Artifacts (C12): the source StructureDefinitions, SearchParameter
// bundles and other conformance documents the Resource and Search
// Parameter Registries (C1/C2) are compiled from are archived here,
// indexed in Postgres and held cold in S3, per SPEC_FULL's domain-stack
// wiring of aws-sdk-go-v2/service/s3.
//
// Grounded on dbx for the index table (the same schema-scoped pattern
// every other store in this repository uses) and on the aws-sdk-go-v2 s3
// client the example pack's other repositories configure via
// config.LoadDefaultConfig.
package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fhircore/server/internal/dbx"
)

// objectStore is the subset of *s3.Client this package calls, narrowed to
// an interface so tests can substitute an in-memory fake instead of
// talking to S3.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Kind is the type of conformance artifact archived.
type Kind string

// The conformance artifact kinds the registries compile from.
const (
	KindStructureDefinition Kind = "StructureDefinition"
	KindSearchParameter     Kind = "SearchParameter"
	KindCapabilityStatement Kind = "CapabilityStatement"
)

// Artifact is one archived conformance document's index record.
type Artifact struct {
	ID          string
	Kind        Kind
	URL         string // canonical URL, e.g. a StructureDefinition.url
	Version     string
	Checksum    string // sha256 of the archived bytes, hex-encoded
	StorageKey  string // S3 object key
	ArchivedAt  time.Time
}

// Store archives and retrieves conformance artifacts: an index row in
// Postgres plus the document body in S3.
type Store struct {
	db     *dbx.DB
	s3     objectStore
	bucket string
}

// New constructs a Store. EnsureTable must be called once before use.
func New(db *dbx.DB, s3Client *s3.Client, bucket string) *Store {
	return &Store{db: db, s3: s3Client, bucket: bucket}
}

// EnsureTable creates the artifact index table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS "`+s.db.Schema+`"."_conformance_artifacts_" (
	id varchar NOT NULL PRIMARY KEY,
	kind varchar NOT NULL,
	url varchar NOT NULL,
	version varchar NOT NULL DEFAULT '',
	checksum varchar NOT NULL,
	storage_key varchar NOT NULL,
	archived_at timestamp NOT NULL
);`)
	return err
}

// Archive stores body in S3 under a content-addressed key and records an
// index row. Archiving under the same id again overwrites that id's index
// row but never deletes a previously uploaded S3 object, since other
// archived versions' storage keys may still reference it.
func (s *Store) Archive(ctx context.Context, id string, kind Kind, url, version string, body []byte) (Artifact, error) {
	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("conformance/%s/%s", kind, checksum)

	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("artifacts: upload %s: %w", key, err)
	}

	a := Artifact{ID: id, Kind: kind, URL: url, Version: version, Checksum: checksum, StorageKey: key, ArchivedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO "`+s.db.Schema+`"."_conformance_artifacts_"(id, kind, url, version, checksum, storage_key, archived_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET kind=$2, url=$3, version=$4, checksum=$5, storage_key=$6, archived_at=$7;`,
		a.ID, string(a.Kind), a.URL, a.Version, a.Checksum, a.StorageKey, a.ArchivedAt)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifacts: index %s: %w", id, err)
	}
	return a, nil
}

// Fetch retrieves one artifact's body by id, downloading it from S3.
func (s *Store) Fetch(ctx context.Context, id string) (Artifact, []byte, error) {
	var a Artifact
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, url, version, checksum, storage_key, archived_at
		 FROM "`+s.db.Schema+`"."_conformance_artifacts_" WHERE id=$1;`, id).
		Scan(&a.ID, &kind, &a.URL, &a.Version, &a.Checksum, &a.StorageKey, &a.ArchivedAt)
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("artifacts: lookup %s: %w", id, err)
	}
	a.Kind = Kind(kind)

	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(a.StorageKey)})
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("artifacts: download %s: %w", a.StorageKey, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("artifacts: read body %s: %w", a.StorageKey, err)
	}
	return a, body, nil
}

// ListByKind returns every archived artifact of kind, most recently
// archived first.
func (s *Store) ListByKind(ctx context.Context, kind Kind) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, url, version, checksum, storage_key, archived_at
		 FROM "`+s.db.Schema+`"."_conformance_artifacts_" WHERE kind=$1 ORDER BY archived_at DESC;`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var k string
		if err := rows.Scan(&a.ID, &k, &a.URL, &a.Version, &a.Checksum, &a.StorageKey, &a.ArchivedAt); err != nil {
			return nil, err
		}
		a.Kind = Kind(k)
		out = append(out, a)
	}
	return out, rows.Err()
}
