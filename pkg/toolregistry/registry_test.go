package toolregistry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addDefinition() Definition {
	return Definition{
		Spec: ToolSpec{
			Name:        "add",
			Description: "Add two numbers",
			Parameters: []Parameter{
				{Name: "a", Type: "number", Description: "first", Required: true},
				{Name: "b", Type: "number", Description: "second", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (Output, error) {
			return Output{Data: map[string]interface{}{"sum": args["a"].(float64) + args["b"].(float64)}}, nil
		},
	}
}

func newTestRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()
	reg := New(Config{Logger: zerolog.Nop(), Timeout: time.Second})
	for _, def := range defs {
		require.NoError(t, reg.Register(def))
	}
	return reg
}

func TestRegister(t *testing.T) {
	t.Run("should reject duplicates", func(t *testing.T) {
		reg := newTestRegistry(t, addDefinition())
		err := reg.Register(addDefinition())
		assert.ErrorIs(t, err, ErrDuplicateTool)
	})

	t.Run("should reject registration after seal", func(t *testing.T) {
		reg := newTestRegistry(t)
		reg.Seal()
		err := reg.Register(addDefinition())
		assert.ErrorIs(t, err, ErrRegistrySealed)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("should reject invalid definitions", func(t *testing.T) {
		reg := newTestRegistry(t)

		assert.Error(t, reg.Register(Definition{Spec: ToolSpec{Name: "x"}}))
		assert.Error(t, reg.Register(Definition{Handler: addDefinition().Handler}))

		bad := addDefinition()
		bad.Spec.Parameters = []Parameter{{Name: "a", Type: "decimal"}}
		assert.Error(t, reg.Register(bad))
	})
}

func TestList(t *testing.T) {
	t.Run("should keep registration order", func(t *testing.T) {
		names := []string{"zeta", "alpha", "mid"}
		reg := newTestRegistry(t)
		for _, n := range names {
			def := addDefinition()
			def.Spec.Name = n
			require.NoError(t, reg.Register(def))
		}

		specs := reg.List()
		require.Len(t, specs, 3)
		for i, n := range names {
			assert.Equal(t, n, specs[i].Name)
		}
		assert.Equal(t, specs, reg.List())
	})

	t.Run("should return a copy", func(t *testing.T) {
		reg := newTestRegistry(t, addDefinition())
		specs := reg.List()
		specs[0].Parameters[0].Name = "mutated"

		assert.Equal(t, "a", reg.List()[0].Parameters[0].Name)
	})
}

func TestInvoke(t *testing.T) {
	ctx := context.Background()

	t.Run("should run the handler and render data as json", func(t *testing.T) {
		reg := newTestRegistry(t, addDefinition())

		out := reg.Invoke(ctx, "add", map[string]interface{}{"a": 2.0, "b": 3.0})

		require.True(t, out.Success, out.Error)
		assert.Equal(t, `{"sum":5}`, out.Text)
		assert.NoError(t, out.Err())
	})

	t.Run("should report unknown tools", func(t *testing.T) {
		reg := newTestRegistry(t)

		out := reg.Invoke(ctx, "nope", nil)

		assert.False(t, out.Success)
		assert.Equal(t, FailureUnknownTool, out.Failure)
		assert.ErrorIs(t, out.Err(), ErrUnknownTool)
		assert.Contains(t, out.Content(), "nope")
	})

	t.Run("should validate before running the handler", func(t *testing.T) {
		called := false
		def := addDefinition()
		def.Handler = func(ctx context.Context, args map[string]interface{}) (Output, error) {
			called = true
			return Output{}, nil
		}
		reg := newTestRegistry(t, def)

		missing := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0})
		wrongType := reg.Invoke(ctx, "add", map[string]interface{}{"a": "1", "b": 2.0})
		extra := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0, "b": 2.0, "c": 3.0})

		for _, out := range []Outcome{missing, wrongType, extra} {
			assert.False(t, out.Success)
			assert.Equal(t, FailureSchemaViolation, out.Failure)
			assert.ErrorIs(t, out.Err(), ErrSchemaViolation)
		}
		assert.False(t, called)
	})

	t.Run("should fall back to the generic success text", func(t *testing.T) {
		def := addDefinition()
		def.Handler = func(ctx context.Context, args map[string]interface{}) (Output, error) {
			return Output{}, nil
		}
		reg := newTestRegistry(t, def)

		out := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0, "b": 2.0})

		require.True(t, out.Success)
		assert.Equal(t, DefaultSuccessText, out.Text)
	})

	t.Run("should convert handler errors", func(t *testing.T) {
		def := addDefinition()
		def.Handler = func(ctx context.Context, args map[string]interface{}) (Output, error) {
			return Output{}, errors.New("smtp unreachable")
		}
		reg := newTestRegistry(t, def)

		out := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0, "b": 2.0})

		assert.False(t, out.Success)
		assert.Equal(t, FailureExecution, out.Failure)
		assert.Equal(t, "smtp unreachable", out.Error)
		assert.ErrorIs(t, out.Err(), ErrToolExecution)
	})

	t.Run("should convert panics", func(t *testing.T) {
		def := addDefinition()
		def.Handler = func(ctx context.Context, args map[string]interface{}) (Output, error) {
			panic("boom")
		}
		reg := newTestRegistry(t, def)

		out := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0, "b": 2.0})

		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "boom")
	})

	t.Run("should time out slow handlers", func(t *testing.T) {
		def := addDefinition()
		def.Handler = func(ctx context.Context, args map[string]interface{}) (Output, error) {
			<-ctx.Done()
			return Output{}, ctx.Err()
		}
		reg := New(Config{Logger: zerolog.Nop(), Timeout: 20 * time.Millisecond})
		require.NoError(t, reg.Register(def))

		out := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0, "b": 2.0})

		assert.False(t, out.Success)
		assert.Equal(t, FailureExecution, out.Failure)
	})

	t.Run("should carry action hints", func(t *testing.T) {
		def := addDefinition()
		def.Handler = func(ctx context.Context, args map[string]interface{}) (Output, error) {
			return Output{Text: "opened", Action: &Action{Kind: ActionOpenURL, URL: "https://example.com"}}, nil
		}
		reg := newTestRegistry(t, def)

		out := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0, "b": 2.0})

		require.NotNil(t, out.Action)
		assert.Equal(t, "https://example.com", out.Action.URL)
	})

	t.Run("should truncate large output", func(t *testing.T) {
		def := addDefinition()
		def.Handler = func(ctx context.Context, args map[string]interface{}) (Output, error) {
			return Output{Text: strings.Repeat("x", 100)}, nil
		}
		reg := New(Config{Logger: zerolog.Nop(), MaxOutputBytes: 10})
		require.NoError(t, reg.Register(def))

		out := reg.Invoke(ctx, "add", map[string]interface{}{"a": 1.0, "b": 2.0})

		assert.True(t, out.Truncated)
		assert.True(t, strings.HasPrefix(out.Text, strings.Repeat("x", 10)))
	})
}

func TestInputSchema(t *testing.T) {
	spec := addDefinition().Spec
	schema := spec.InputSchema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"a", "b"}, schema["required"])
	props := schema["properties"].(map[string]interface{})
	assert.Equal(t, "number", props["a"].(map[string]interface{})["type"])
	assert.Equal(t, []string{"a", "b"}, spec.Required())
}
