package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/harun/mcpgate/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())
	defer bus.Close()

	t.Run("should drop events without a subscriber", func(t *testing.T) {
		assert.NoError(t, bus.Publish(context.Background(), "nobody", EventAgentAnswer, nil))
	})

	t.Run("should deliver events to the session in order", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		msgs, err := bus.Subscribe(ctx, "s1")
		require.NoError(t, err)

		go func() {
			_ = bus.Publish(ctx, "s1", EventToolResult, map[string]interface{}{"tool": "addTwoNumbers"})
			_ = bus.Publish(ctx, "s2", EventToolResult, nil)
			_ = bus.Publish(ctx, "s1", EventAgentAnswer, map[string]interface{}{"text": "done"})
		}()

		var got []EventMessage
		for len(got) < 2 {
			select {
			case msg := <-msgs:
				ev, err := decodeEvent(msg)
				msg.Ack()
				require.NoError(t, err)
				got = append(got, ev)
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for events")
			}
		}

		assert.Equal(t, EventToolResult, got[0].Event)
		assert.Equal(t, EventAgentAnswer, got[1].Event)
		assert.Equal(t, "s1", got[1].SessionID)
		assert.Less(t, got[0].Seq, got[1].Seq)
		assert.NotEmpty(t, got[0].ID)
	})
}

func TestRPCRouter(t *testing.T) {
	t.Run("should parse a request", func(t *testing.T) {
		req, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","id":3,"method":"ping"}`))
		require.Nil(t, rpcErr)
		assert.Equal(t, "ping", req.Method)
		assert.False(t, req.IsNotification())
	})

	t.Run("should spot notifications", func(t *testing.T) {
		req, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
		require.Nil(t, rpcErr)
		assert.True(t, req.IsNotification())
	})

	t.Run("should reject malformed requests", func(t *testing.T) {
		_, rpcErr := ParseRequest([]byte(`{`))
		require.NotNil(t, rpcErr)
		assert.Equal(t, ParseError, rpcErr.Code)

		_, rpcErr = ParseRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
		require.NotNil(t, rpcErr)
		assert.Equal(t, InvalidRequest, rpcErr.Code)

		_, rpcErr = ParseRequest([]byte(`{"jsonrpc":"2.0","id":1}`))
		require.NotNil(t, rpcErr)
		assert.Equal(t, InvalidRequest, rpcErr.Code)
	})

	t.Run("should refuse duplicate methods", func(t *testing.T) {
		noop := func(context.Context, *session.Session, json.RawMessage) (interface{}, error) { return nil, nil }
		r := NewRPCRouter()
		require.NoError(t, r.RegisterMethod("b", noop))
		require.NoError(t, r.RegisterMethod("a", noop))
		assert.Error(t, r.RegisterMethod("a", noop))
		assert.Error(t, r.RegisterMethod("c", nil))
		assert.True(t, r.HasMethod("a"))
		assert.Equal(t, []string{"a", "b"}, r.Methods())
	})
}
