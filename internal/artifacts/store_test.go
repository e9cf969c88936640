package artifacts

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/dbx"

	_ "github.com/lib/pq"
)

// fakeS3 is an in-memory stand-in for the subset of *s3.Client this
// package calls.
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*params.Key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

type testConfig struct {
	Postgres         string `env:"POSTGRES,required"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional"`
}

var testDB *dbx.DB

func TestMain(m *testing.M) {
	var cfg testConfig
	if err := envdecode.Decode(&cfg); err != nil {
		os.Exit(m.Run())
	}
	db, err := dbx.OpenWithSchema(cfg.Postgres, cfg.PostgresPassword, "_artifacts_unit_test_")
	if err != nil {
		os.Exit(m.Run())
	}
	defer db.Close()
	defer db.ClearSchema()
	testDB = db
	os.Exit(m.Run())
}

func requireDB(t *testing.T) *dbx.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("set POSTGRES / POSTGRES_PASSWORD to run artifact store integration tests")
	}
	require.NoError(t, testDB.ClearSchema())
	return testDB
}

func TestArchiveThenFetchRoundTrip(t *testing.T) {
	db := requireDB(t)
	fs := newFakeS3()
	store := &Store{db: db, s3: fs, bucket: "test-bucket"}
	ctx := context.Background()
	require.NoError(t, store.EnsureTable(ctx))

	_, err := store.Archive(ctx, "sd-patient", KindStructureDefinition, "http://example.org/sd/patient", "1", []byte(`{"resourceType":"StructureDefinition"}`))
	require.NoError(t, err)

	a, body, err := store.Fetch(ctx, "sd-patient")
	require.NoError(t, err)
	require.Equal(t, KindStructureDefinition, a.Kind)
	require.JSONEq(t, `{"resourceType":"StructureDefinition"}`, string(body))
}

func TestListByKindOrdersMostRecentFirst(t *testing.T) {
	db := requireDB(t)
	fs := newFakeS3()
	store := &Store{db: db, s3: fs, bucket: "test-bucket"}
	ctx := context.Background()
	require.NoError(t, store.EnsureTable(ctx))

	_, err := store.Archive(ctx, "sp-1", KindSearchParameter, "http://example.org/sp/1", "1", []byte(`{}`))
	require.NoError(t, err)
	_, err = store.Archive(ctx, "sp-2", KindSearchParameter, "http://example.org/sp/2", "1", []byte(`{}`))
	require.NoError(t, err)

	list, err := store.ListByKind(ctx, KindSearchParameter)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "sp-2", list[0].ID)
}
