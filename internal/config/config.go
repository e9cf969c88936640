// Package config loads this server's process configuration, grounded on
// services/basic.Service and services/fleet.Service's envdecode-tagged
// struct convention: a small struct of required/optional environment
// variables decoded once at startup, rather than a flag-parsing or
// file-based configuration layer.
package config

import (
	"strings"

	"github.com/joeshaw/envdecode"

	"github.com/fhircore/server/internal/model"
)

// Service holds every environment-sourced setting this server needs.
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Schema           string `env:"FHIRCORE_SCHEMA,optional" description:"the shared schema the Schema Router (C5) defaults undedicated resource types into"`
	ListenAddress    string `env:"FHIRCORE_LISTEN,optional" description:"address the HTTP server binds to"`
	DefaultVersion   string `env:"FHIRCORE_DEFAULT_VERSION,optional" description:"the FHIR version code used for the unversioned URL surface"`
	MultiTenant      bool   `env:"FHIRCORE_MULTI_TENANT,optional" description:"require and resolve the tenant header on every request"`
	JWTSecret        string `env:"FHIRCORE_JWT_SECRET,optional" description:"HMAC secret the Authentication plugin verifies bearer tokens against"`
	S3Bucket         string `env:"FHIRCORE_ARTIFACT_BUCKET,optional" description:"S3 bucket the Conformance Artifact Store (C12) archives into"`
	KafkaBrokers     string `env:"FHIRCORE_KAFKA_BROKERS,optional" description:"comma-separated broker list the Audit plugin publishes to"`
	LogLevel         string `env:"FHIRCORE_LOG_LEVEL,optional" description:"logrus level name"`
}

// Load decodes process environment variables into a Service, applying the
// same defaults core/backend's embedders rely on implicitly.
func Load() (Service, error) {
	var s Service
	if err := envdecode.Decode(&s); err != nil {
		return Service{}, err
	}
	if s.Schema == "" {
		s.Schema = "fhircore"
	}
	if s.ListenAddress == "" {
		s.ListenAddress = ":3000"
	}
	if s.DefaultVersion == "" {
		s.DefaultVersion = string(model.R5)
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	return s, nil
}

// DefaultFHIRVersion resolves the configured default version code,
// falling back to R5 when it does not parse.
func (s Service) DefaultFHIRVersion() model.Version {
	if v, ok := model.ParseVersion(s.DefaultVersion); ok {
		return v
	}
	return model.R5
}

// KafkaBrokerList splits the comma-separated broker string into the slice
// segmentio/kafka-go's Writer wants.
func (s Service) KafkaBrokerList() []string {
	if s.KafkaBrokers == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(s.KafkaBrokers, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
