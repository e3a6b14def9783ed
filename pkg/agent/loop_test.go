package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/coretools"
	"github.com/harun/mcpgate/pkg/toolregistry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway replays canned responses and records what it saw.
type scriptedGateway struct {
	mu      sync.Mutex
	steps   []func(turns []conversation.Turn) (*conversation.Turn, error)
	calls   int
	history [][]conversation.Turn
}

func (g *scriptedGateway) Provider() string { return "scripted" }

func (g *scriptedGateway) Generate(ctx context.Context, turns []conversation.Turn, tools []toolregistry.ToolSpec) (*conversation.Turn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, turns)
	step := g.steps[len(g.steps)-1]
	if g.calls < len(g.steps) {
		step = g.steps[g.calls]
	}
	g.calls++
	return step(turns)
}

func reply(text string) func([]conversation.Turn) (*conversation.Turn, error) {
	return func([]conversation.Turn) (*conversation.Turn, error) {
		t := conversation.ModelText(text)
		return &t, nil
	}
}

func callTool(name string, args map[string]interface{}) func([]conversation.Turn) (*conversation.Turn, error) {
	return func([]conversation.Turn) (*conversation.Turn, error) {
		t := conversation.ToolRequest("", name, args)
		return &t, nil
	}
}

func newTestLoop(t *testing.T, gw ModelGateway, max int) (*Loop, *toolregistry.Registry) {
	t.Helper()
	reg := toolregistry.New(toolregistry.Config{Logger: zerolog.Nop()})
	require.NoError(t, coretools.RegisterCoreTools(reg, coretools.Options{}))
	loop, err := NewLoop(Config{Gateway: gw, Tools: reg, MaxIterations: max, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return loop, reg
}

func kinds(turns []conversation.Turn) []conversation.Kind {
	out := make([]conversation.Kind, len(turns))
	for i, t := range turns {
		out[i] = t.Kind
	}
	return out
}

func TestNewLoop(t *testing.T) {
	t.Run("should require a gateway and tools", func(t *testing.T) {
		_, err := NewLoop(Config{Tools: toolregistry.New(toolregistry.Config{})})
		assert.Error(t, err)
		_, err = NewLoop(Config{Gateway: &scriptedGateway{}})
		assert.Error(t, err)
	})

	t.Run("should default the iteration bound", func(t *testing.T) {
		loop, _ := newTestLoop(t, &scriptedGateway{}, 0)
		assert.Equal(t, DefaultMaxIterations, loop.MaxIterations())
	})
}

func TestLoopRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should answer directly", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){reply("hi")}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "hello")

		assert.Equal(t, "hi", res.Text)
		assert.Equal(t, ReasonAnswer, res.Reason)
		assert.Equal(t, 1, res.Iterations)
		assert.NoError(t, res.Err)

		turns := store.Snapshot()
		require.Len(t, turns, 3)
		assert.Equal(t, conversation.DefaultGreeting, turns[0].Text)
		assert.Equal(t, conversation.UserText("hello").Kind, turns[1].Kind)
		assert.Equal(t, "hello", turns[1].Text)
		assert.Equal(t, conversation.KindModelText, turns[2].Kind)
		assert.Equal(t, "hi", turns[2].Text)
	})

	t.Run("should call a tool and feed the result back", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){
			callTool("addTwoNumbers", map[string]interface{}{"a": 2.0, "b": 3.0}),
			reply("Sum is 5"),
		}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "add 2 and 3")

		assert.Equal(t, "Sum is 5", res.Text)
		assert.Equal(t, 2, res.Iterations)
		assert.Equal(t, 1, res.ToolCalls)

		turns := store.Snapshot()
		assert.Equal(t, []conversation.Kind{
			conversation.KindModelText,
			conversation.KindUserText,
			conversation.KindToolRequest,
			conversation.KindToolResult,
			conversation.KindModelText,
		}, kinds(turns))

		request, result := turns[2], turns[3]
		assert.Equal(t, "addTwoNumbers", request.ToolName)
		assert.NotEmpty(t, request.CallID)
		assert.Equal(t, request.CallID, result.CallID)
		require.NotNil(t, result.Outcome)
		assert.True(t, result.Outcome.Success)
		assert.Contains(t, result.Outcome.Text, "5")

		// The second model call saw the request and its result.
		require.Len(t, gw.history, 2)
		assert.Len(t, gw.history[1], 4)
		assert.Equal(t, conversation.KindToolResult, gw.history[1][3].Kind)
	})

	t.Run("should continue after an unknown tool", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){
			callTool("sendFax", map[string]interface{}{}),
			reply("I cannot send faxes."),
		}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "fax this")

		assert.Equal(t, "I cannot send faxes.", res.Text)
		result := store.Snapshot()[3]
		require.NotNil(t, result.Outcome)
		assert.Equal(t, toolregistry.FailureUnknownTool, result.Outcome.Failure)
	})

	t.Run("should hand tool failures back to the model", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){
			callTool("openLink", map[string]interface{}{"url": "not a url"}),
			func(turns []conversation.Turn) (*conversation.Turn, error) {
				last := turns[len(turns)-1]
				t := conversation.ModelText("Sorry: " + last.Outcome.Error)
				return &t, nil
			},
		}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "open it")

		assert.Equal(t, 2, gw.calls)
		assert.Contains(t, res.Text, "not an absolute http(s) url")
		assert.Equal(t, ReasonAnswer, res.Reason)
		assert.Nil(t, res.Action)
	})

	t.Run("should stop at the iteration bound", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){
			callTool("addTwoNumbers", map[string]interface{}{"a": 1.0, "b": 1.0}),
		}}
		loop, _ := newTestLoop(t, gw, 3)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "loop forever")

		assert.Equal(t, 3, gw.calls)
		assert.Equal(t, 3, res.Iterations)
		assert.Equal(t, MaxIterationsText, res.Text)
		assert.Equal(t, ReasonMaxIterations, res.Reason)
		assert.ErrorIs(t, res.Err, ErrMaxIterations)

		turns := store.Snapshot()
		last := turns[len(turns)-1]
		assert.Equal(t, conversation.KindModelText, last.Kind)
		assert.Equal(t, MaxIterationsText, last.Text)
		_, pending := store.Pending()
		assert.False(t, pending)
	})

	t.Run("should end softly on an empty response", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){
			func([]conversation.Turn) (*conversation.Turn, error) { return nil, nil },
		}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "hello")

		assert.Equal(t, UnclearResponseText, res.Text)
		assert.Equal(t, ReasonEmptyResponse, res.Reason)
		assert.Equal(t, UnclearResponseText, store.Snapshot()[2].Text)
	})

	t.Run("should treat blank text as empty", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){reply("   ")}}
		loop, _ := newTestLoop(t, gw, 10)

		res := loop.Run(ctx, conversation.NewStore(conversation.Config{}), "hello")
		assert.Equal(t, ReasonEmptyResponse, res.Reason)
	})

	t.Run("should surface gateway failures as a turn", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){
			func([]conversation.Turn) (*conversation.Turn, error) {
				return nil, errors.New("connection reset")
			},
		}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "hello")

		assert.Equal(t, GatewayFailureText, res.Text)
		assert.Equal(t, ReasonGatewayFailure, res.Reason)
		assert.Error(t, res.Err)
		assert.Equal(t, 1, gw.calls)
		assert.Equal(t, GatewayFailureText, store.Snapshot()[2].Text)
	})

	t.Run("should return the action hint", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){
			callTool("openLink", map[string]interface{}{"url": "https://example.com"}),
			reply("Opened it."),
		}}
		loop, _ := newTestLoop(t, gw, 10)

		res := loop.Run(ctx, conversation.NewStore(conversation.Config{}), "open example")

		require.NotNil(t, res.Action)
		assert.Equal(t, "https://example.com", res.Action.URL)
	})

	t.Run("should resume without new input", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){reply("continuing")}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})

		res := loop.Run(ctx, store, "")

		assert.Equal(t, "continuing", res.Text)
		assert.Equal(t, []conversation.Kind{conversation.KindModelText, conversation.KindModelText}, kinds(store.Snapshot()))
	})

	t.Run("should resolve a dangling request before calling the model", func(t *testing.T) {
		gw := &scriptedGateway{steps: []func([]conversation.Turn) (*conversation.Turn, error){reply("ok")}}
		loop, _ := newTestLoop(t, gw, 10)
		store := conversation.NewStore(conversation.Config{})
		require.NoError(t, store.Append(conversation.ToolRequest("c1", "addTwoNumbers", nil)))

		loop.Run(ctx, store, "again")

		seen := gw.history[0]
		assert.Equal(t, []conversation.Kind{
			conversation.KindModelText,
			conversation.KindToolRequest,
			conversation.KindToolResult,
			conversation.KindUserText,
		}, kinds(seen))
		assert.False(t, seen[2].Outcome.Success)
	})
}
