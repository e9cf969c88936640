package guard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/resources"
)

const guardTestConfig = `[
  {
    "resource_type": "Patient",
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read", "search"]
  },
  {
    "resource_type": "Disabled",
    "enabled": false,
    "versions": [{"version": "R5", "default": true}],
    "interactions": ["read"]
  }
]`

func newGuard(t *testing.T) *Guard {
	t.Helper()
	reg, err := resources.Load([]byte(guardTestConfig))
	require.NoError(t, err)
	return New(reg)
}

func TestCheckPassesForEnabledInteraction(t *testing.T) {
	g := newGuard(t)
	_, err := g.Check("Patient", model.R5, model.InteractionRead)
	require.NoError(t, err)
}

func TestCheckUnknownResourceType(t *testing.T) {
	g := newGuard(t)
	_, err := g.Check("Observation", model.R5, model.InteractionRead)
	require.Error(t, err)
	fe := err.(*model.Error)
	require.Equal(t, model.IssueNotFound, fe.Code)
}

func TestCheckDisabledResourceTypeBehavesAsUnknown(t *testing.T) {
	g := newGuard(t)
	_, err := g.Check("Disabled", model.R5, model.InteractionRead)
	require.Error(t, err)
	fe := err.(*model.Error)
	require.Equal(t, model.IssueNotFound, fe.Code)
}

func TestCheckUnsupportedVersion(t *testing.T) {
	g := newGuard(t)
	_, err := g.Check("Patient", model.R4B, model.InteractionRead)
	require.Error(t, err)
	fe := err.(*model.Error)
	require.Equal(t, model.IssueNotSupported, fe.Code)
}

func TestCheckDisabledInteraction(t *testing.T) {
	g := newGuard(t)
	_, err := g.Check("Patient", model.R5, model.InteractionDelete)
	require.Error(t, err)
	fe := err.(*model.Error)
	require.Equal(t, model.IssueNotSupported, fe.Code)
	require.Equal(t, 405, fe.Status)
}

func TestCheckReturnsConfigOnSuccess(t *testing.T) {
	g := newGuard(t)
	cfg, err := g.Check("Patient", model.R5, model.InteractionSearch)
	require.NoError(t, err)
	require.Equal(t, "Patient", cfg.ResourceType)
}
