package tenant

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
)

// fakeStore is an in-memory stand-in for kvstore.Accessor.
type fakeStore struct {
	data map[string][]byte
	gets int
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string][]byte)} }

func (f *fakeStore) Read(key string, value interface{}) (time.Time, error) {
	f.gets++
	raw, ok := f.data[key]
	if !ok {
		return time.Time{}, nil
	}
	return time.Now(), json.Unmarshal(raw, value)
}

func (f *fakeStore) Write(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func TestResolveUnknownTenant(t *testing.T) {
	r := New(newFakeStore())
	_, err := r.Resolve(context.Background(), "ext-1")
	require.Error(t, err)
	fe, ok := err.(*model.Error)
	require.True(t, ok)
	require.Equal(t, model.IssueNotFound, fe.Code)
}

func TestRegisterThenResolveHitsCache(t *testing.T) {
	fs := newFakeStore()
	r := New(fs)

	err := r.Register(context.Background(), model.Tenant{ExternalID: "ext-1", InternalID: "int-1", Enabled: true})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "ext-1")
	require.NoError(t, err)
	require.Equal(t, "int-1", got.InternalID)
	require.Equal(t, 0, fs.gets, "cache must be populated by Register without a store round trip")
}

func TestResolveFallsBackToStoreOnColdCache(t *testing.T) {
	fs := newFakeStore()
	fs.data["ext-2"], _ = json.Marshal(model.Tenant{ExternalID: "ext-2", InternalID: "int-2", Enabled: true})

	r := New(fs)
	got, err := r.Resolve(context.Background(), "ext-2")
	require.NoError(t, err)
	require.Equal(t, "int-2", got.InternalID)
	require.Equal(t, 1, fs.gets)

	_, err = r.Resolve(context.Background(), "ext-2")
	require.NoError(t, err)
	require.Equal(t, 1, fs.gets, "second resolve must be served from cache")
}

func TestDisabledTenantRejected(t *testing.T) {
	fs := newFakeStore()
	r := New(fs)
	require.NoError(t, r.Register(context.Background(), model.Tenant{ExternalID: "ext-3", InternalID: "int-3", Enabled: true}))
	require.NoError(t, r.SetEnabled(context.Background(), "ext-3", false))

	_, err := r.Resolve(context.Background(), "ext-3")
	require.Error(t, err)
	fe, ok := err.(*model.Error)
	require.True(t, ok)
	require.Equal(t, model.IssueUnavailable, fe.Code)
}

func TestSetEnabledUnknownTenant(t *testing.T) {
	r := New(newFakeStore())
	err := r.SetEnabled(context.Background(), "missing", true)
	require.Error(t, err)
}
