package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
)

const patientSchema = `{
  "$id": "patient-r5",
  "type": "object",
  "required": ["resourceType", "name"],
  "properties": {
    "resourceType": {"type": "string", "const": "Patient"},
    "name": {"type": "array", "minItems": 1}
  }
}`

func newFacade(t *testing.T) *Facade {
	t.Helper()
	f, err := New(map[string]map[model.Version][]byte{
		"Patient": {model.R5: []byte(patientSchema)},
	}, nil)
	require.NoError(t, err)
	return f
}

func TestValidatePassesConformingResource(t *testing.T) {
	f := newFacade(t)
	err := f.Validate("Patient", model.R5, []byte(`{"resourceType":"Patient","name":[{"family":"Smith"}]}`))
	require.NoError(t, err)
}

func TestValidateFailsMissingRequiredField(t *testing.T) {
	f := newFacade(t)
	err := f.Validate("Patient", model.R5, []byte(`{"resourceType":"Patient"}`))
	require.Error(t, err)
	fe, ok := err.(*model.Error)
	require.True(t, ok)
	require.Equal(t, model.IssueStructure, fe.Code)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	f := newFacade(t)
	err := f.Validate("Patient", model.R5, []byte(`{not json`))
	require.Error(t, err)
}

func TestValidateSkipsUnregisteredResourceType(t *testing.T) {
	f := newFacade(t)
	err := f.Validate("Observation", model.R5, []byte(`{"resourceType":"Observation"}`))
	require.NoError(t, err)
}

func TestValidateSkipsUnregisteredVersion(t *testing.T) {
	f := newFacade(t)
	err := f.Validate("Patient", model.R4B, []byte(`{"resourceType":"Patient"}`))
	require.NoError(t, err)
}

func TestHasSchema(t *testing.T) {
	f := newFacade(t)
	require.True(t, f.HasSchema("Patient", model.R5))
	require.False(t, f.HasSchema("Patient", model.R4B))
}
