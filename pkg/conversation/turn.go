package conversation

import (
	"fmt"
	"time"

	"github.com/harun/mcpgate/pkg/toolregistry"
)

// Kind tags the shape of a Turn.
type Kind string

const (
	KindUserText    Kind = "user_text"
	KindModelText   Kind = "model_text"
	KindToolRequest Kind = "tool_request"
	KindToolResult  Kind = "tool_result"
)

// Turn is one entry of the log. Exactly the fields of its Kind are set:
// Text for user and model text, ToolName/CallID/Args for a request,
// ToolName/CallID/Outcome for a result.
type Turn struct {
	Kind      Kind
	Text      string
	ToolName  string
	CallID    string
	Args      map[string]interface{}
	Outcome   *toolregistry.Outcome
	Timestamp time.Time
}

func UserText(text string) Turn {
	return Turn{Kind: KindUserText, Text: text}
}

func ModelText(text string) Turn {
	return Turn{Kind: KindModelText, Text: text}
}

func ToolRequest(callID, name string, args map[string]interface{}) Turn {
	return Turn{Kind: KindToolRequest, CallID: callID, ToolName: name, Args: args}
}

func ToolResult(callID, name string, outcome toolregistry.Outcome) Turn {
	return Turn{Kind: KindToolResult, CallID: callID, ToolName: name, Outcome: &outcome}
}

// Validate checks that the turn has the fields its Kind requires.
func (t Turn) Validate() error {
	switch t.Kind {
	case KindUserText, KindModelText:
		if t.ToolName != "" || t.Outcome != nil || t.Args != nil {
			return fmt.Errorf("%s turn cannot carry tool fields", t.Kind)
		}
	case KindToolRequest:
		if t.ToolName == "" || t.CallID == "" {
			return fmt.Errorf("tool request needs a tool name and call id")
		}
		if t.Outcome != nil {
			return fmt.Errorf("tool request cannot carry an outcome")
		}
	case KindToolResult:
		if t.ToolName == "" || t.CallID == "" {
			return fmt.Errorf("tool result needs a tool name and call id")
		}
		if t.Outcome == nil {
			return fmt.Errorf("tool result needs an outcome")
		}
	default:
		return fmt.Errorf("unknown turn kind %q", t.Kind)
	}
	return nil
}

// clone copies the mutable parts so callers cannot reach stored state.
func (t Turn) clone() Turn {
	if t.Args != nil {
		t.Args = cloneMap(t.Args)
	}
	if t.Outcome != nil {
		o := *t.Outcome
		o.Data = cloneValue(o.Data)
		if o.Action != nil {
			a := *o.Action
			o.Action = &a
		}
		t.Outcome = &o
	}
	return t
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the containers JSON decoding produces. Other values
// are returned as is.
func cloneValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		if vv == nil {
			return vv
		}
		return cloneMap(vv)
	case []interface{}:
		if vv == nil {
			return vv
		}
		out := make([]interface{}, len(vv))
		for i, item := range vv {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]interface{}:
		if vv == nil {
			return vv
		}
		out := make([]map[string]interface{}, len(vv))
		for i, item := range vv {
			if item != nil {
				out[i] = cloneMap(item)
			}
		}
		return out
	default:
		return v
	}
}
