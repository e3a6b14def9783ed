// Package coretools registers the built-in tools served by every mcpgate
// instance.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/harun/mcpgate/pkg/toolregistry"
)

// Options configures core tool registration.
type Options struct {
	// Now overrides the clock used by currentTime.
	Now func() time.Time
}

// RegisterCoreTools registers addTwoNumbers, openLink and currentTime.
func RegisterCoreTools(reg *toolregistry.Registry, opts Options) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tools := []toolregistry.Definition{
		addTwoNumbersTool(),
		openLinkTool(),
		currentTimeTool(opts),
	}

	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Spec.Name, err)
		}
	}
	return nil
}

func addTwoNumbersTool() toolregistry.Definition {
	return toolregistry.Definition{
		Spec: toolregistry.ToolSpec{
			Name:        "addTwoNumbers",
			Description: "Add two numbers and return their sum.",
			Parameters: []toolregistry.Parameter{
				{Name: "a", Type: "number", Description: "First number", Required: true},
				{Name: "b", Type: "number", Description: "Second number", Required: true},
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (toolregistry.Output, error) {
			a, err := number(params, "a")
			if err != nil {
				return toolregistry.Output{}, err
			}
			b, err := number(params, "b")
			if err != nil {
				return toolregistry.Output{}, err
			}
			sum := a + b
			return toolregistry.Output{
				Text: fmt.Sprintf("The sum of %s and %s is %s.", formatNumber(a), formatNumber(b), formatNumber(sum)),
				Data: map[string]interface{}{"sum": sum},
			}, nil
		},
	}
}

func openLinkTool() toolregistry.Definition {
	return toolregistry.Definition{
		Spec: toolregistry.ToolSpec{
			Name:        "openLink",
			Description: "Ask the user's client to open a web page.",
			Parameters: []toolregistry.Parameter{
				{Name: "url", Type: "string", Description: "Absolute http(s) URL to open", Required: true},
				{Name: "label", Type: "string", Description: "Short description of the page"},
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (toolregistry.Output, error) {
			raw, _ := params["url"].(string)
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return toolregistry.Output{}, fmt.Errorf("not an absolute http(s) url: %q", raw)
			}
			label, _ := params["label"].(string)
			return toolregistry.Output{
				Text:   fmt.Sprintf("Opening %s for the user.", u.String()),
				Action: &toolregistry.Action{Kind: toolregistry.ActionOpenURL, URL: u.String(), Label: label},
			}, nil
		},
	}
}

func currentTimeTool(opts Options) toolregistry.Definition {
	return toolregistry.Definition{
		Spec: toolregistry.ToolSpec{
			Name:        "currentTime",
			Description: "Return the current time, optionally in an IANA time zone.",
			Parameters: []toolregistry.Parameter{
				{Name: "timezone", Type: "string", Description: "IANA zone name such as Europe/Berlin; defaults to UTC"},
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (toolregistry.Output, error) {
			zone, _ := params["timezone"].(string)
			if zone == "" {
				zone = "UTC"
			}
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return toolregistry.Output{}, fmt.Errorf("unknown time zone %q", zone)
			}
			return toolregistry.Output{Text: opts.Now().In(loc).Format(time.RFC3339)}, nil
		},
	}
}

func number(params map[string]interface{}, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %s must be a number", key)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
