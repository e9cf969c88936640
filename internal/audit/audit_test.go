package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/pipeline"
)

func TestPluginIsWiredToAuditStageAsync(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, "fhircore-audit")
	defer p.Close()

	plugin := p.Plugin()
	require.Equal(t, pipeline.StageAudit, plugin.Stage)
	require.Equal(t, pipeline.Async, plugin.Mode)
	require.NotNil(t, plugin.Run)
}

func TestEventMarshalsExpectedFields(t *testing.T) {
	e := Event{TenantID: "tenant-a", ResourceType: "Patient", ResourceID: "123", Interaction: "read"}
	payload, err := json.Marshal(e)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &fields))
	require.Equal(t, "tenant-a", fields["tenant_id"])
	require.Equal(t, "Patient", fields["resource_type"])
	require.Equal(t, "123", fields["resource_id"])
	require.Equal(t, "read", fields["interaction"])
}
