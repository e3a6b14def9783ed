package toolregistry

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var validTypes = map[string]bool{
	"":        true,
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

func validateDefinition(def Definition) error {
	if def.Spec.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler cannot be nil", def.Spec.Name)
	}

	seen := make(map[string]bool, len(def.Spec.Parameters))
	for _, p := range def.Spec.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter name cannot be empty", def.Spec.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %s", def.Spec.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Schema == nil && !validTypes[p.Type] {
			return fmt.Errorf("tool %s: invalid parameter type %s for %s", def.Spec.Name, p.Type, p.Name)
		}
	}
	return nil
}

// compileSchema builds the validator used by Invoke.
func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMap := def.Spec.InputSchema()
	if !def.AllowAdditional {
		schemaMap["additionalProperties"] = false
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid schema: %w", def.Spec.Name, err)
	}
	return schema, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
