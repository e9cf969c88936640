package searchparams

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/resources"
)

const baseBundle = `[
  {"code": "_id", "base": ["Resource"], "type": "token", "expression": "id"},
  {"code": "_lastUpdated", "base": ["Resource"], "type": "date", "expression": "meta.lastUpdated"}
]`

const patientBundle = `[
  {"code": "name", "base": ["Patient"], "type": "string", "expression": "Patient.name"},
  {"code": "birthdate", "base": ["Patient"], "type": "date", "expression": "Patient.birthDate"}
]`

const resourceConfigJSON = `[
  {
    "resource_type": "Patient",
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read", "search"],
    "search_parameters": ["_id", "name"]
  },
  {
    "resource_type": "CarePlan",
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read", "search"]
  }
]`

func setup(t *testing.T) *Registry {
	t.Helper()
	resReg, err := resources.Load([]byte(resourceConfigJSON))
	require.NoError(t, err)
	reg, err := Load([]byte(baseBundle), map[string][]byte{"Patient": []byte(patientBundle)}, resReg)
	require.NoError(t, err)
	return reg
}

func TestAllowListRestrictsToConfiguredCodes(t *testing.T) {
	reg := setup(t)

	require.True(t, reg.IsAllowed("Patient", "_id"))
	require.True(t, reg.IsAllowed("Patient", "name"))
	require.False(t, reg.IsAllowed("Patient", "birthdate"), "birthdate is not in Patient's allow-list")
}

func TestNoAllowListPermitsEveryDefinedCode(t *testing.T) {
	reg := setup(t)

	require.True(t, reg.IsAllowed("CarePlan", "_id"))
	require.True(t, reg.IsAllowed("CarePlan", "_lastUpdated"))
}

func TestDefinitionReturnsTypeAndExpression(t *testing.T) {
	reg := setup(t)

	def, ok := reg.Definition("Patient", "name")
	require.True(t, ok)
	require.Equal(t, TypeString, def.Type)
	require.Equal(t, "Patient.name", def.Expression)
}

func TestUnknownCodeIsNotAllowed(t *testing.T) {
	reg := setup(t)

	require.False(t, reg.IsAllowed("Patient", "nonexistent"))
	_, ok := reg.Definition("Patient", "nonexistent")
	require.False(t, ok)
}
