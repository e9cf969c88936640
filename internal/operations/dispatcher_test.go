package operations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
)

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	d := New()
	d.Register("everything", ScopeInstance, "Patient", model.R5, func(ctx context.Context, resourceID string, params map[string]string, body []byte) ([]byte, error) {
		return []byte(resourceID), nil
	})

	out, err := d.Dispatch(context.Background(), "everything", ScopeInstance, "Patient", model.R5, "123", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "123", string(out))
}

func TestDispatchUnregisteredReturnsNotSupported(t *testing.T) {
	d := New()
	_, err := d.Dispatch(context.Background(), "missing", ScopeSystem, "", model.R5, "", nil, nil)
	require.Error(t, err)
	fe, ok := err.(*model.Error)
	require.True(t, ok)
	require.Equal(t, 501, fe.Status)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	d := New()
	h := func(ctx context.Context, resourceID string, params map[string]string, body []byte) ([]byte, error) { return nil, nil }
	d.Register("op", ScopeType, "Patient", model.R5, h)
	require.Panics(t, func() {
		d.Register("op", ScopeType, "Patient", model.R5, h)
	})
}

func TestIsRegisteredDistinguishesScopeAndVersion(t *testing.T) {
	d := New()
	d.Register("validate", ScopeType, "Patient", model.R5, func(ctx context.Context, resourceID string, params map[string]string, body []byte) ([]byte, error) {
		return nil, nil
	})
	require.True(t, d.IsRegistered("validate", ScopeType, "Patient", model.R5))
	require.False(t, d.IsRegistered("validate", ScopeType, "Patient", model.R4B))
	require.False(t, d.IsRegistered("validate", ScopeInstance, "Patient", model.R5))
}
