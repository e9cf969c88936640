package conformance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/operations"
	"github.com/fhircore/server/internal/resources"
	"github.com/fhircore/server/internal/searchparams"
)

const conformanceResourceConfig = `[
  {
    "resource_type": "Patient",
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read", "search"],
    "profiles": {"R5": ["http://example.org/fhir/StructureDefinition/my-patient"]}
  },
  {
    "resource_type": "Disabled",
    "enabled": false,
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read"]
  }
]`

const conformanceBaseBundle = `[{"code": "_id", "base": ["Resource"], "type": "token", "expression": "Resource.id"}]`
const conformancePatientBundle = `[{"code": "name", "base": ["Patient"], "type": "string", "expression": "Patient.name"}]`

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	resReg, err := resources.Load([]byte(conformanceResourceConfig))
	require.NoError(t, err)
	spReg, err := searchparams.Load([]byte(conformanceBaseBundle), map[string][]byte{"Patient": []byte(conformancePatientBundle)}, resReg)
	require.NoError(t, err)
	ops := operations.New()
	ops.Register("everything", operations.ScopeInstance, "Patient", model.R5, func(ctx context.Context, resourceID string, params map[string]string, body []byte) ([]byte, error) {
		return nil, nil
	})
	return New(resReg, spReg, ops)
}

func TestGenerateListsEnabledResourcesOnly(t *testing.T) {
	g := newGenerator(t)
	stmt := g.Generate(model.R5)
	require.Len(t, stmt.Rest, 1)
	require.Len(t, stmt.Rest[0].Resource, 1)
	require.Equal(t, "Patient", stmt.Rest[0].Resource[0].Type)
}

func TestGenerateIncludesProfilesAndSearchParams(t *testing.T) {
	g := newGenerator(t)
	stmt := g.Generate(model.R5)
	patient := stmt.Rest[0].Resource[0]
	require.Contains(t, patient.Profile, "http://example.org/fhir/StructureDefinition/my-patient")
	require.Len(t, patient.SearchParam, 2) // _id (base) + name (per-type)
}

func TestGenerateIncludesRegisteredOperations(t *testing.T) {
	g := newGenerator(t)
	stmt := g.Generate(model.R5)
	patient := stmt.Rest[0].Resource[0]
	require.Len(t, patient.Operation, 1)
	require.Equal(t, "everything", patient.Operation[0].Name)
}

func TestGenerateOmitsUnsupportedVersion(t *testing.T) {
	g := newGenerator(t)
	stmt := g.Generate(model.R4B)
	require.Empty(t, stmt.Rest[0].Resource)
}
