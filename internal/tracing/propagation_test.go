package tracing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerFromContext(t *testing.T) {
	t.Run("should attach tracing fields", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		ctx := WithTraceID(context.Background(), "trace-9")
		ctx = WithSessionID(ctx, "sess-9")

		logger := LoggerFromContext(ctx, base)
		logger.Info().Msg("hello")

		out := buf.String()
		assert.Contains(t, out, `"trace_id":"trace-9"`)
		assert.Contains(t, out, `"session_id":"sess-9"`)
		assert.NotContains(t, out, "run_id")
	})
}

func TestDetach(t *testing.T) {
	t.Run("should keep values and drop cancellation", func(t *testing.T) {
		parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		parent = WithSessionID(parent, "sess")
		cancel()

		detached := Detach(parent)
		assert.NoError(t, detached.Err())
		assert.Equal(t, "sess", GetSessionID(detached))
	})
}
