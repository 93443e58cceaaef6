package state

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas
var schemaFS embed.FS

const (
	canonicalStateSchemaID = "https://gtmcore.internal/schemas/canonical_state.schema.json"
	agentOutputSchemaID    = "https://gtmcore.internal/schemas/agent_output.schema.json"
)

var (
	canonicalStateSchema *jsonschema.Schema
	agentOutputSchema    *jsonschema.Schema
)

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	for name, id := range map[string]string{
		"schemas/canonical_state.schema.json": canonicalStateSchemaID,
		"schemas/agent_output.schema.json":    agentOutputSchemaID,
	} {
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			panic(fmt.Errorf("state: reading embedded schema %s: %w", name, err))
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			panic(fmt.Errorf("state: unmarshal embedded schema %s: %w", name, err))
		}
		if err := c.AddResource(id, doc); err != nil {
			panic(fmt.Errorf("state: add schema resource %s: %w", name, err))
		}
	}

	var err error
	canonicalStateSchema, err = c.Compile(canonicalStateSchemaID)
	if err != nil {
		panic(fmt.Errorf("state: compile canonical_state.schema.json: %w", err))
	}
	agentOutputSchema, err = c.Compile(agentOutputSchemaID)
	if err != nil {
		panic(fmt.Errorf("state: compile agent_output.schema.json: %w", err))
	}
}

// ValidateCanonicalState validates raw JSON against canonical_state.schema.json.
// Unknown top-level keys, or keys anywhere additionalProperties:false applies,
// are rejected (§3).
func ValidateCanonicalState(raw []byte) error {
	return validateAgainst(canonicalStateSchema, raw)
}

// ValidateAgentOutput validates raw JSON against agent_output.schema.json.
func ValidateAgentOutput(raw []byte) error {
	return validateAgainst(agentOutputSchema, raw)
}

// Validate checks the state itself (after marshaling to JSON) against the
// canonical state schema. Used on every write per §3.
func (s *CanonicalState) Validate() error {
	raw, err := s.ToJSON()
	if err != nil {
		return fmt.Errorf("state: marshal for validation: %w", err)
	}
	return ValidateCanonicalState(raw)
}

func validateAgainst(schema *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("state: invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("state: schema validation failed: %w", err)
	}
	return nil
}
