package schemarouter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/dbx"
	"github.com/fhircore/server/internal/resources"
)

func TestForRoutesSharedResourceToSharedSchema(t *testing.T) {
	opened := map[string]int{}
	router := New("public", func(schema string) (*dbx.DB, error) {
		opened[schema]++
		return &dbx.DB{Schema: schema}, nil
	})

	cfg := resources.Config{ResourceType: "Patient"}
	db, err := router.For(cfg)
	require.NoError(t, err)
	require.Equal(t, "public", db.Schema)
	require.Equal(t, 1, opened["public"])

	_, err = router.For(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, opened["public"], "second lookup must reuse the cached connection")
}

func TestForRoutesDedicatedResourceToOwnSchema(t *testing.T) {
	router := New("public", func(schema string) (*dbx.DB, error) {
		return &dbx.DB{Schema: schema}, nil
	})

	cfg := resources.Config{ResourceType: "CarePlan", Schema: resources.Placement{Dedicated: "careplan_schema"}}
	db, err := router.For(cfg)
	require.NoError(t, err)
	require.Equal(t, "careplan_schema", db.Schema)
}

func TestForRejectsUnsafeSchemaName(t *testing.T) {
	router := New("public", func(schema string) (*dbx.DB, error) {
		return &dbx.DB{Schema: schema}, nil
	})
	cfg := resources.Config{ResourceType: "Bad", Schema: resources.Placement{Dedicated: "bad; DROP TABLE x"}}
	_, err := router.For(cfg)
	require.Error(t, err)
}

func TestSchemasListsSharedFirst(t *testing.T) {
	router := New("public", func(schema string) (*dbx.DB, error) {
		return &dbx.DB{Schema: schema}, nil
	})
	_, _ = router.For(resources.Config{ResourceType: "CarePlan", Schema: resources.Placement{Dedicated: "careplan_schema"}})
	_, _ = router.For(resources.Config{ResourceType: "Patient"})

	schemas := router.Schemas()
	require.Len(t, schemas, 2)
	require.Equal(t, "public", schemas[0])
}
