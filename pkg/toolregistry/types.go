package toolregistry

import (
	"context"
	"sort"
)

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string
	Type        string // string, number, integer, boolean, object, array; empty accepts any JSON value
	Description string
	Required    bool
	Default     interface{}
	Enum        []interface{}
	// Schema, when set, is used verbatim as the property schema. Remote
	// tools carry their upstream schema this way.
	Schema map[string]interface{}
}

// ToolSpec is the declarative description advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// InputSchema renders the spec as a JSON Schema object.
func (s ToolSpec) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.Parameters))
	required := make([]string, 0)

	for _, p := range s.Parameters {
		properties[p.Name] = p.propertySchema()
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Required returns the names of the required parameters.
func (s ToolSpec) Required() []string {
	var names []string
	for _, p := range s.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

func (p Parameter) propertySchema() map[string]interface{} {
	if p.Schema != nil {
		out := make(map[string]interface{}, len(p.Schema))
		for k, v := range p.Schema {
			out[k] = v
		}
		return out
	}

	prop := map[string]interface{}{}
	if p.Type != "" {
		prop["type"] = p.Type
	}
	if p.Description != "" {
		prop["description"] = p.Description
	}
	if p.Default != nil {
		prop["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		prop["enum"] = p.Enum
	}
	if p.Type == "array" {
		prop["items"] = map[string]interface{}{}
	}
	return prop
}

// ActionOpenURL asks the surfacing layer to open Action.URL.
const ActionOpenURL = "open_url"

// Action is a one-shot follow-up suggestion attached to a tool result.
type Action struct {
	Kind  string `json:"kind"`
	URL   string `json:"url,omitempty"`
	Label string `json:"label,omitempty"`
}

// Output is what a tool handler produces on success. All fields are optional.
type Output struct {
	Text   string
	Data   interface{}
	Action *Action
}

// Handler executes a tool. A returned error becomes an ExecutionFailure outcome.
type Handler func(ctx context.Context, args map[string]interface{}) (Output, error)

// Definition binds a spec to its handler.
type Definition struct {
	Spec    ToolSpec
	Handler Handler
	// AllowAdditional accepts argument keys the spec does not declare.
	AllowAdditional bool
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
