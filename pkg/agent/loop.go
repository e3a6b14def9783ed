package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/toolregistry"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultMaxIterations = 10

// Texts appended when the loop ends without a model answer.
const (
	UnclearResponseText = "I didn't get a clear response. Can you rephrase?"
	GatewayFailureText  = "Oops! Something went wrong while processing your request. Please try again."
	MaxIterationsText   = "Maximum steps reached without a final answer. Please try rephrasing your request."
	interruptedToolText = "tool call was interrupted before it completed"
)

var ErrMaxIterations = errors.New("maximum iterations exceeded")

// Reason records why a run reached its terminal state.
type Reason string

const (
	ReasonAnswer         Reason = "answer"
	ReasonEmptyResponse  Reason = "empty_response"
	ReasonGatewayFailure Reason = "gateway_failure"
	ReasonMaxIterations  Reason = "max_iterations"
)

type state int

const (
	stateAwaitingModel state = iota
	stateExecutingTool
	stateTerminal
)

// Result is the outcome of one Run.
type Result struct {
	Text       string
	Reason     Reason
	Iterations int // model calls made
	ToolCalls  int
	// Action is the last follow-up hint produced by a tool during the run.
	Action *toolregistry.Action
	// Err is set for gateway failures and exhausted iterations.
	Err error
}

// Config configures a Loop.
type Config struct {
	Gateway       ModelGateway
	Tools         Tools
	MaxIterations int
	Logger        zerolog.Logger
}

// Loop is the bounded agent cycle. It holds no per-conversation state and may
// be shared; callers serialize runs on the same conversation.
type Loop struct {
	gateway       ModelGateway
	tools         Tools
	maxIterations int
	logger        zerolog.Logger
}

// NewLoop validates cfg and creates a Loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("model gateway is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tools are required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		gateway:       cfg.Gateway,
		tools:         cfg.Tools,
		maxIterations: cfg.MaxIterations,
		logger:        cfg.Logger.With().Str("component", "agent_loop").Logger(),
	}, nil
}

// MaxIterations returns the configured bound.
func (l *Loop) MaxIterations() int {
	return l.maxIterations
}

// Run appends userText (unless empty) and cycles until the model answers or a
// terminal condition is reached. It never fails; problems end up as turns and
// in Result.Reason.
func (l *Loop) Run(ctx context.Context, store *conversation.Store, userText string) Result {
	ctx = tracing.NewRunContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "mcpgate.agent", "agent.run",
		attribute.String("provider", l.gateway.Provider()),
		attribute.Int("max_iterations", l.maxIterations),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger)
	start := time.Now()

	run := &runState{loop: l, store: store, logger: logger}
	run.resolvePending()
	if userText != "" {
		run.append(conversation.UserText(userText))
	}

	tools := l.tools.List()
	st := stateAwaitingModel
	var request conversation.Turn

	for st != stateTerminal {
		switch st {
		case stateAwaitingModel:
			if run.result.Iterations >= l.maxIterations {
				logger.Warn().Int("iterations", run.result.Iterations).Msg("Agent loop hit iteration bound")
				run.finish(MaxIterationsText, ReasonMaxIterations, ErrMaxIterations)
				st = stateTerminal
				continue
			}

			run.resolvePending()
			run.result.Iterations++

			turn, err := l.gateway.Generate(ctx, store.Snapshot(), tools)
			switch {
			case err != nil:
				logger.Error().Err(err).Msg("Model gateway failed")
				run.finish(GatewayFailureText, ReasonGatewayFailure, err)
				st = stateTerminal
			case turn == nil || !usable(*turn):
				logger.Warn().Msg("Model returned no usable turn")
				run.finish(UnclearResponseText, ReasonEmptyResponse, nil)
				st = stateTerminal
			case turn.Kind == conversation.KindToolRequest:
				request = *turn
				if request.CallID == "" {
					request.CallID = newCallID()
				}
				if run.append(request) {
					st = stateExecutingTool
				} else {
					run.finish(GatewayFailureText, ReasonGatewayFailure, fmt.Errorf("%w: unrecordable tool request", ErrGateway))
					st = stateTerminal
				}
			default:
				run.append(conversation.ModelText(turn.Text))
				run.result.Text = turn.Text
				run.result.Reason = ReasonAnswer
				st = stateTerminal
			}

		case stateExecutingTool:
			run.result.ToolCalls++
			outcome := l.tools.Invoke(ctx, request.ToolName, request.Args)
			logger.Debug().
				Str("tool", request.ToolName).
				Bool("success", outcome.Success).
				Str("failure", string(outcome.Failure)).
				Msg("Tool call finished")

			run.append(conversation.ToolResult(request.CallID, request.ToolName, outcome))
			if outcome.Success && outcome.Action != nil {
				action := *outcome.Action
				run.result.Action = &action
			}
			st = stateAwaitingModel
		}
	}

	span.SetAttributes(
		attribute.String("reason", string(run.result.Reason)),
		attribute.Int("iterations", run.result.Iterations),
		attribute.Int("tool_calls", run.result.ToolCalls),
	)
	if run.result.Err != nil {
		tracing.FailSpan(span, run.result.Err)
	}
	observability.RecordAgentRun(l.gateway.Provider(), string(run.result.Reason), time.Since(start), run.result.Iterations)

	logger.Info().
		Str("reason", string(run.result.Reason)).
		Int("iterations", run.result.Iterations).
		Int("tool_calls", run.result.ToolCalls).
		Dur("duration", time.Since(start)).
		Msg("Agent run finished")

	return run.result
}

type runState struct {
	loop   *Loop
	store  *conversation.Store
	logger zerolog.Logger
	result Result
}

func (r *runState) append(turn conversation.Turn) bool {
	if err := r.store.Append(turn); err != nil {
		r.logger.Error().Err(err).Str("kind", string(turn.Kind)).Msg("Failed to append turn")
		return false
	}
	return true
}

func (r *runState) finish(text string, reason Reason, err error) {
	r.append(conversation.ModelText(text))
	r.result.Text = text
	r.result.Reason = reason
	r.result.Err = err
}

// resolvePending answers a dangling tool request with a failure so the model
// is never asked to continue past it.
func (r *runState) resolvePending() {
	pending, ok := r.store.Pending()
	if !ok {
		return
	}
	r.logger.Warn().Str("tool", pending.ToolName).Str("call_id", pending.CallID).Msg("Resolving dangling tool request")
	r.append(conversation.ToolResult(pending.CallID, pending.ToolName, toolregistry.Outcome{
		Failure: toolregistry.FailureExecution,
		Error:   interruptedToolText,
	}))
}

func usable(t conversation.Turn) bool {
	switch t.Kind {
	case conversation.KindToolRequest:
		return t.ToolName != ""
	case conversation.KindModelText:
		return strings.TrimSpace(t.Text) != ""
	default:
		return false
	}
}

func newCallID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("call_%d", time.Now().UnixNano())
	}
	return "call_" + id
}
