package toolregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrSchemaViolation = errors.New("schema violation")
	ErrToolExecution   = errors.New("tool execution failure")
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrRegistrySealed  = errors.New("tool registry is sealed")
)

// FailureKind classifies a failed invocation.
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureUnknownTool     FailureKind = "unknown_tool"
	FailureSchemaViolation FailureKind = "schema_violation"
	FailureExecution       FailureKind = "execution_failure"
)

// DefaultSuccessText is used when a tool succeeds without producing content.
const DefaultSuccessText = "Tool executed successfully."

// Outcome is the normalized result of one invocation.
type Outcome struct {
	Success   bool
	Text      string
	Data      interface{}
	Action    *Action
	Error     string
	Failure   FailureKind
	Truncated bool
	Duration  time.Duration
}

// Content is the text handed back to the model.
func (o Outcome) Content() string {
	if o.Success {
		return o.Text
	}
	return "Error: " + o.Error
}

// Err returns nil on success, otherwise an error wrapping the sentinel for
// the failure kind.
func (o Outcome) Err() error {
	switch o.Failure {
	case FailureNone:
		if o.Success {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrToolExecution, o.Error)
	case FailureUnknownTool:
		return fmt.Errorf("%w: %s", ErrUnknownTool, o.Error)
	case FailureSchemaViolation:
		return fmt.Errorf("%w: %s", ErrSchemaViolation, o.Error)
	default:
		return fmt.Errorf("%w: %s", ErrToolExecution, o.Error)
	}
}

func failure(kind FailureKind, format string, args ...interface{}) Outcome {
	return Outcome{Failure: kind, Error: fmt.Sprintf(format, args...)}
}

// succeed normalizes a handler Output. Text wins over Data; with neither the
// generic success text is used.
func succeed(out Output) Outcome {
	o := Outcome{Success: true, Data: out.Data, Action: out.Action}

	switch {
	case strings.TrimSpace(out.Text) != "":
		o.Text = out.Text
	case out.Data != nil:
		if data, err := json.Marshal(out.Data); err == nil {
			o.Text = string(data)
		} else {
			o.Text = fmt.Sprintf("%v", out.Data)
		}
	default:
		o.Text = DefaultSuccessText
	}
	return o
}
