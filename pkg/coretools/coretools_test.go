package coretools

import (
	"context"
	"testing"
	"time"

	"github.com/harun/mcpgate/pkg/toolregistry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	reg := toolregistry.New(toolregistry.Config{Logger: zerolog.Nop()})
	now := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, RegisterCoreTools(reg, Options{Now: now}))
	return reg
}

func TestRegisterCoreTools(t *testing.T) {
	reg := newRegistry(t)

	specs := reg.List()
	require.Len(t, specs, 3)
	assert.Equal(t, "addTwoNumbers", specs[0].Name)
	assert.Equal(t, "openLink", specs[1].Name)
	assert.Equal(t, "currentTime", specs[2].Name)

	assert.Error(t, RegisterCoreTools(nil, Options{}))
	assert.ErrorIs(t, RegisterCoreTools(reg, Options{}), toolregistry.ErrDuplicateTool)
}

func TestAddTwoNumbers(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	t.Run("should add", func(t *testing.T) {
		out := reg.Invoke(ctx, "addTwoNumbers", map[string]interface{}{"a": 2.0, "b": 3.0})
		require.True(t, out.Success, out.Error)
		assert.Equal(t, "The sum of 2 and 3 is 5.", out.Text)
	})

	t.Run("should keep fractions", func(t *testing.T) {
		out := reg.Invoke(ctx, "addTwoNumbers", map[string]interface{}{"a": 0.5, "b": 1.25})
		assert.Equal(t, "The sum of 0.5 and 1.25 is 1.75.", out.Text)
	})

	t.Run("should reject strings", func(t *testing.T) {
		out := reg.Invoke(ctx, "addTwoNumbers", map[string]interface{}{"a": "2", "b": 3.0})
		assert.Equal(t, toolregistry.FailureSchemaViolation, out.Failure)
	})
}

func TestOpenLink(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	t.Run("should attach an open_url action", func(t *testing.T) {
		out := reg.Invoke(ctx, "openLink", map[string]interface{}{"url": "https://example.com/a"})
		require.True(t, out.Success, out.Error)
		require.NotNil(t, out.Action)
		assert.Equal(t, toolregistry.ActionOpenURL, out.Action.Kind)
		assert.Equal(t, "https://example.com/a", out.Action.URL)
	})

	t.Run("should refuse non http urls", func(t *testing.T) {
		out := reg.Invoke(ctx, "openLink", map[string]interface{}{"url": "file:///etc/passwd"})
		assert.Equal(t, toolregistry.FailureExecution, out.Failure)
		assert.Nil(t, out.Action)
	})
}

func TestCurrentTime(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	out := reg.Invoke(ctx, "currentTime", map[string]interface{}{})
	assert.Equal(t, "2024-05-01T12:00:00Z", out.Text)

	out = reg.Invoke(ctx, "currentTime", map[string]interface{}{"timezone": "Nowhere/City"})
	assert.False(t, out.Success)
}
