package action

import (
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aura-automation/aura/value"
)

// validateStructured validates the rendered parameter map against schema,
// used for the structured-record parameter style spec §4.2.3a describes as
// the Go replacement for the source's Pydantic-model parameter (no runtime
// type introspection available, so validation is explicit and
// schema-driven instead).
func validateStructured(schema *jsonschema.Schema, rendered map[string]value.Value) error {
	instance := make(map[string]any, len(rendered))
	for k, v := range rendered {
		instance[k] = value.ToGo(v)
	}
	return schema.Validate(instance)
}
