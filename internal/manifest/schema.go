// Package manifest parses the path-manifest format, chooses a loading
// strategy, fans out per-leaf verification through the
// router/retriever/verifier stack, and rewrites HTML/CSS references into
// local blob handles.
package manifest

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wudi/arverify/internal/wire"
)

// schemaDoc is the JSON Schema the santhosh-tekuri validator compiles,
// enforcing the manifest shape before this package attempts to decode path
// bindings: the required "schema"/"version" discriminator fields, guarding
// against a JSON document that simply isn't a manifest.
const schemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema", "version", "paths"],
  "properties": {
    "schema": {"const": "arweave/paths"},
    "version": {"type": "string"},
    "index": {
      "type": "object",
      "required": ["path"],
      "properties": {"path": {"type": "string"}}
    },
    "paths": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["id"],
        "properties": {"id": {"type": "string"}}
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaDoc))
	if err != nil {
		panic(fmt.Sprintf("manifest: invalid embedded schema: %v", err))
	}
	if err := c.AddResource("manifest.json", doc); err != nil {
		panic(fmt.Sprintf("manifest: invalid embedded schema: %v", err))
	}
	sch, err := c.Compile("manifest.json")
	if err != nil {
		panic(fmt.Sprintf("manifest: schema compile failed: %v", err))
	}
	return sch
}

// validateSchema checks raw against the manifest schema and the set of
// schema/version values this module knows how to parse.
func validateSchema(raw any) error {
	if err := compiledSchema.Validate(raw); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("manifest root is not an object")
	}
	version, _ := obj["version"].(string)
	if !wire.SupportedVersions[version] {
		return fmt.Errorf("unsupported manifest version %q", version)
	}
	return nil
}
