// Package validation implements the Validation Façade (C13): structural
// validation of an inbound resource body against the JSON Schema
// compiled for its (resource type, FHIR version) pair, producing
// OperationOutcome issues rather than a bare error (§4.13).
//
// Adapted directly from core/schema.Validator: the same
// gojsonschema.NewSchemaLoader/Compile wiring, generalized from one flat
// schema-id namespace to schema ids keyed by resource type and version so
// that R5 and R4B profiles of the same resource type can coexist.
package validation

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fhircore/server/internal/model"
)

// Facade validates resource bodies against compiled JSON schemas, one per
// (resource type, version).
type Facade struct {
	schemas map[string]*gojsonschema.Schema
}

func schemaID(resourceType string, version model.Version) string {
	return string(version) + "/" + resourceType
}

// New compiles schemas (resourceType/version -> raw JSON Schema document)
// against refs (shared definitions schemas may point $ref at), mirroring
// core/schema.NewValidator's top-level/refs split.
func New(schemas map[string]map[model.Version][]byte, refs [][]byte) (*Facade, error) {
	f := &Facade{schemas: make(map[string]*gojsonschema.Schema)}

	var refStrings []string
	for _, r := range refs {
		refStrings = append(refStrings, string(r))
	}

	for resourceType, byVersion := range schemas {
		for version, doc := range byVersion {
			sl := gojsonschema.NewSchemaLoader()
			for _, ref := range refStrings {
				if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
					return nil, fmt.Errorf("validation: cannot add ref schema for %s/%s: %w", resourceType, version, err)
				}
			}
			compiled, err := sl.Compile(gojsonschema.NewStringLoader(string(doc)))
			if err != nil {
				return nil, fmt.Errorf("validation: cannot compile schema for %s/%s: %w", resourceType, version, err)
			}
			f.schemas[schemaID(resourceType, version)] = compiled
		}
	}
	return f, nil
}

// HasSchema reports whether a schema is registered for (resourceType, version).
func (f *Facade) HasSchema(resourceType string, version model.Version) bool {
	_, ok := f.schemas[schemaID(resourceType, version)]
	return ok
}

// Validate checks body's JSON structure against the compiled schema for
// (resourceType, version). When invalid it returns one *model.Error whose
// diagnostics join every validation failure, and nil on success. A
// resource type with no registered schema is treated as unvalidated
// (passes), since §4.13 only requires validation where a schema exists.
func (f *Facade) Validate(resourceType string, version model.Version, body []byte) error {
	schema, ok := f.schemas[schemaID(resourceType, version)]
	if !ok {
		return nil
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.ErrInvalidInput("malformed JSON: " + err.Error())
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return model.ErrInternal("validation: cannot validate " + resourceType + ": " + err.Error())
	}
	if result.Valid() {
		return nil
	}

	var diagnostics []string
	for _, e := range result.Errors() {
		diagnostics = append(diagnostics, e.String())
	}
	return model.ErrValidation(strings.Join(diagnostics, "; "))
}
