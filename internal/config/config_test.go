package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fhircore/server/internal/model"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("POSTGRES", "host=localhost")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("FHIRCORE_SCHEMA", "")
	t.Setenv("FHIRCORE_LISTEN", "")
	t.Setenv("FHIRCORE_DEFAULT_VERSION", "")
	t.Setenv("FHIRCORE_LOG_LEVEL", "")

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "fhircore", s.Schema)
	require.Equal(t, ":3000", s.ListenAddress)
	require.Equal(t, "R5", s.DefaultVersion)
	require.Equal(t, "info", s.LogLevel)
}

func TestLoadRequiresPostgres(t *testing.T) {
	require.NoError(t, os.Unsetenv("POSTGRES"))
	_, err := Load()
	require.Error(t, err)
}

func TestDefaultFHIRVersionFallsBackToR5OnGarbage(t *testing.T) {
	s := Service{DefaultVersion: "not-a-version"}
	require.Equal(t, model.R5, s.DefaultFHIRVersion())
}

func TestKafkaBrokerListSplitsAndTrims(t *testing.T) {
	s := Service{KafkaBrokers: "broker-a:9092, broker-b:9092 ,"}
	require.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, s.KafkaBrokerList())
}

func TestKafkaBrokerListEmptyWhenUnset(t *testing.T) {
	s := Service{}
	require.Nil(t, s.KafkaBrokerList())
}
