package cachepolicy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// tableSchema validates policy files before they are decoded
const tableSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"ttl_hours": {
			"type": "object",
			"additionalProperties": {"type": "integer", "minimum": 0}
		},
		"deny": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"confidence": {
			"type": "object",
			"additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"default_confidence": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
	}
}`

var schema = mustSchema(tableSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("cachepolicy: invalid table schema: %v", err))
	}
	return s
}

// Parse validates and decodes a JSON policy document on top of
// DefaultTable: ttl_hours and confidence entries are merged into the
// defaults, a deny list replaces the default deny-set.
func Parse(data []byte) (Table, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Table{}, fmt.Errorf("failed to validate cache policy: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Table{}, fmt.Errorf("invalid cache policy: %s", strings.Join(msgs, "; "))
	}

	t := DefaultTable()
	if err := json.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("failed to decode cache policy: %w", err)
	}
	return t, nil
}

// LoadFile reads a policy file. An empty path yields the default policy.
func LoadFile(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache policy: %w", err)
	}

	t, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}
