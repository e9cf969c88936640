package resources

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
)

const testConfigJSON = `[
  {
    "resource_type": "Patient",
    "versions": [{"version": "R5", "default": true}, {"version": "R4B"}],
    "interactions": ["read", "vread", "create", "update", "delete", "search", "history"]
  },
  {
    "resource_type": "CarePlan",
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read", "create"],
    "schema": {"dedicated_schema": "careplan_schema"}
  },
  {
    "resource_type": "Disabled",
    "enabled": false,
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read"]
  }
]`

func TestLoadAndLookup(t *testing.T) {
	reg, err := Load([]byte(testConfigJSON))
	require.NoError(t, err)

	patient, ok := reg.Lookup("Patient")
	require.True(t, ok)
	require.True(t, patient.IsEnabled())
	require.True(t, patient.SupportsVersion(model.R5))
	require.True(t, patient.HasInteraction(model.InteractionCreate))
	require.False(t, patient.HasInteraction(model.InteractionPatch))
	dv, ok := patient.DefaultVersion()
	require.True(t, ok)
	require.Equal(t, model.R5, dv)

	_, ok = reg.Lookup("Unknown")
	require.False(t, ok, "unknown resource type must not be found at all")
}

func TestDisabledResourceIsFoundButDisabled(t *testing.T) {
	reg, err := Load([]byte(testConfigJSON))
	require.NoError(t, err)

	c, ok := reg.Lookup("Disabled")
	require.True(t, ok, "a configured-but-disabled type must be distinguishable from unknown")
	require.False(t, c.IsEnabled())
	require.False(t, reg.IsInteractionEnabled("Disabled", model.R5, model.InteractionRead))
}

func TestSchemaPlacementDefaultsToShared(t *testing.T) {
	reg, err := Load([]byte(testConfigJSON))
	require.NoError(t, err)

	patient, _ := reg.Lookup("Patient")
	require.False(t, patient.IsDedicated())
	require.Equal(t, "public", patient.SchemaName("public"))

	carePlan, _ := reg.Lookup("CarePlan")
	require.True(t, carePlan.IsDedicated())
	require.Equal(t, "careplan_schema", carePlan.SchemaName("public"))
}

func TestLoadRejectsInjectionProneSchemaName(t *testing.T) {
	_, err := Load([]byte(`[{"resource_type":"X","versions":[{"version":"R5","default":true}],"interactions":["read"],"schema":{"dedicated_schema":"x; DROP TABLE y"}}]`))
	require.Error(t, err)
}

func TestLoadRejectsDuplicateResourceType(t *testing.T) {
	_, err := Load([]byte(`[
		{"resource_type":"Patient","versions":[{"version":"R5","default":true}],"interactions":["read"]},
		{"resource_type":"Patient","versions":[{"version":"R5","default":true}],"interactions":["read"]}
	]`))
	require.Error(t, err)
}

func TestEnabledResourceTypesExcludesDisabled(t *testing.T) {
	reg, err := Load([]byte(testConfigJSON))
	require.NoError(t, err)

	enabled := reg.EnabledResourceTypes()
	require.Contains(t, enabled, "Patient")
	require.Contains(t, enabled, "CarePlan")
	require.NotContains(t, enabled, "Disabled")
}
