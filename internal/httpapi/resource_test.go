package httpapi

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
)

func TestRenderResourceInjectsMetaWhenAbsent(t *testing.T) {
	lastUpdated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	row := model.Row{
		VersionNumber: 1,
		LastUpdated:   lastUpdated,
		Content:       []byte(`{"resourceType":"Patient"}`),
	}

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(renderResource(row), &doc))

	meta, ok := doc["meta"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "1", meta["versionId"])
	require.Equal(t, lastUpdated.Format(time.RFC3339), meta["lastUpdated"])
}

func TestRenderResourcePreservesExistingMetaFields(t *testing.T) {
	row := model.Row{
		VersionNumber: 3,
		LastUpdated:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Content:       []byte(`{"resourceType":"Patient","meta":{"profile":["http://example.org/p"],"versionId":"stale","lastUpdated":"2020-01-01T00:00:00Z"}}`),
	}

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(renderResource(row), &doc))

	meta, ok := doc["meta"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "3", meta["versionId"])
	require.Equal(t, "2026-01-02T03:04:05Z", meta["lastUpdated"])
	profile, ok := meta["profile"].([]interface{})
	require.True(t, ok)
	require.Equal(t, []interface{}{"http://example.org/p"}, profile)
}

func TestRenderResourceFallsBackToRawContentOnUnparseableJSON(t *testing.T) {
	row := model.Row{VersionNumber: 1, Content: []byte("not json")}
	require.Equal(t, []byte("not json"), renderResource(row))
}
