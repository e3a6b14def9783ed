package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDs(t *testing.T) {
	t.Run("should generate distinct trace ids", func(t *testing.T) {
		assert.NotEmpty(t, NewTraceID())
		assert.NotEqual(t, NewTraceID(), NewTraceID())
	})

	t.Run("should generate distinct run ids", func(t *testing.T) {
		assert.NotEmpty(t, NewRunID())
		assert.NotEqual(t, NewRunID(), NewRunID())
	})
}

func TestContextValues(t *testing.T) {
	t.Run("should round trip every key", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceID(ctx, "trace-1")
		ctx = WithRunID(ctx, "run-1")
		ctx = WithSessionID(ctx, "sess-1")
		ctx = WithRequestID(ctx, "req-1")

		tc := FromContext(ctx)
		assert.Equal(t, "trace-1", tc.TraceID)
		assert.Equal(t, "run-1", tc.RunID)
		assert.Equal(t, "sess-1", tc.SessionID)
		assert.Equal(t, "req-1", tc.RequestID)
	})

	t.Run("should return empty strings for missing values", func(t *testing.T) {
		tc := FromContext(context.Background())
		assert.Empty(t, tc.TraceID)
		assert.Empty(t, tc.SessionID)
	})

	t.Run("should skip empty fields in NewContext", func(t *testing.T) {
		ctx := WithSessionID(context.Background(), "keep")
		ctx = NewContext(ctx, &TraceContext{TraceID: "t"})
		assert.Equal(t, "keep", GetSessionID(ctx))
		assert.Equal(t, "t", GetTraceID(ctx))
	})
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(WithTraceID(context.Background(), "trace"))
	assert.NotEmpty(t, GetRunID(ctx))
	assert.Equal(t, "trace", GetTraceID(ctx))
}
