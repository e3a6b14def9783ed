// Package toolregistry holds the catalog of tools the model may call and
// invokes them by name.
//
// Invariants:
// - Tool names are unique; the catalog is frozen once sealed.
// - List returns tools in registration order.
// - Arguments are validated against the tool's JSON Schema before the handler runs.
// - Invoke never panics and never returns an error; every failure is an Outcome.
//
// Usage:
//
//	reg := toolregistry.New(toolregistry.Config{})
//	_ = reg.Register(toolregistry.Definition{
//		Spec: toolregistry.ToolSpec{
//			Name:        "echo",
//			Description: "Echo input",
//			Parameters:  []toolregistry.Parameter{{Name: "text", Type: "string", Required: true}},
//		},
//		Handler: func(ctx context.Context, args map[string]interface{}) (toolregistry.Output, error) {
//			return toolregistry.Output{Text: args["text"].(string)}, nil
//		},
//	})
//	reg.Seal()
//	outcome := reg.Invoke(ctx, "echo", map[string]interface{}{"text": "hi"})
package toolregistry
