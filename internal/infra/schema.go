package infra

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// schemaPrinter renders validation messages; the library localizes them.
var schemaPrinter = message.NewPrinter(language.English)

//go:embed registry.schema.json
var registrySchemaJSON []byte

// compileRegistrySchema compiles the embedded registry schema once.
func compileRegistrySchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(registrySchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal registry schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("registry.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("registry.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile registry schema: %w", err)
	}
	return schema, nil
}

// SchemaViolations is the aggregate validation failure for one save attempt.
// Each violation carries a JSON-pointer path to the offending field.
type SchemaViolations struct {
	Violations []string
}

func (e *SchemaViolations) Error() string {
	return fmt.Sprintf("registry failed schema validation (%d violations):\n  %s",
		len(e.Violations), strings.Join(e.Violations, "\n  "))
}

// flattenValidationError walks the cause tree and collects leaf violations
// as "/json/pointer: message" lines.
func flattenValidationError(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		pointer := "/" + strings.Join(err.InstanceLocation, "/")
		if len(err.InstanceLocation) == 0 {
			pointer = "/"
		}
		return []string{fmt.Sprintf("%s: %s", pointer, err.ErrorKind.LocalizedString(schemaPrinter))}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, flattenValidationError(cause)...)
	}
	return out
}
