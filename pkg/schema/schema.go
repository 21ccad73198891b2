// Package schema validates bus messages against the embedded raw/enriched
// event JSON schemas. A schema failure is a producer contract violation:
// consumers log it and nack without requeue.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas
var schemaFS embed.FS

// Validator holds the compiled event schemas.
type Validator struct {
	raw      *jsonschema.Schema
	enriched *jsonschema.Schema
}

// NewValidator compiles the embedded schemas. Compilation failure is a
// packaging bug, not a runtime condition.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	for _, name := range []string{"raw_event.json", "enriched_event.json"} {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read embedded schema %s: %w", name, err)
		}
		if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	raw, err := c.Compile("raw_event.json")
	if err != nil {
		return nil, fmt.Errorf("compile raw_event schema: %w", err)
	}
	enriched, err := c.Compile("enriched_event.json")
	if err != nil {
		return nil, fmt.Errorf("compile enriched_event schema: %w", err)
	}
	return &Validator{raw: raw, enriched: enriched}, nil
}

// ValidateRaw checks body against the raw-event schema.
func (v *Validator) ValidateRaw(body []byte) error {
	return validateJSON(v.raw, body)
}

// ValidateEnriched checks body against the enriched-event schema.
func (v *Validator) ValidateEnriched(body []byte) error {
	return validateJSON(v.enriched, body)
}

func validateJSON(s *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
