package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PayloadSchema validates the envelope of a provider response before
// normalization. Schemas only pin the fields an adapter cannot do without,
// so additive vendor changes keep passing.
type PayloadSchema struct {
	name   string
	schema *jsonschema.Schema
}

// MustSchema compiles a JSON schema document and panics on error. Call it
// from package-level vars only.
func MustSchema(name, doc string) *PayloadSchema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return &PayloadSchema{name: name, schema: schema}
}

// Validate checks raw JSON against the schema.
func (s *PayloadSchema) Validate(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match %s: %w", s.name, err)
	}
	return nil
}
