package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/mcpgate/pkg/toolregistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Run("should seed with the greeting", func(t *testing.T) {
		s := NewStore(Config{})

		turns := s.Snapshot()
		require.Len(t, turns, 1)
		assert.Equal(t, KindModelText, turns[0].Kind)
		assert.Equal(t, DefaultGreeting, turns[0].Text)
		assert.False(t, turns[0].Timestamp.IsZero())
	})

	t.Run("should use a custom greeting", func(t *testing.T) {
		s := NewStore(Config{Greeting: "hey"})
		assert.Equal(t, "hey", s.Snapshot()[0].Text)
	})
}

func TestAppendAndSnapshot(t *testing.T) {
	t.Run("should keep append order", func(t *testing.T) {
		s := NewStore(Config{})
		for i := 0; i < 50; i++ {
			require.NoError(t, s.Append(UserText(fmt.Sprintf("u%d", i))))
			require.NoError(t, s.Append(ModelText(fmt.Sprintf("m%d", i))))
		}

		turns := s.Snapshot()
		require.Len(t, turns, 101)
		for i := 0; i < 50; i++ {
			assert.Equal(t, fmt.Sprintf("u%d", i), turns[1+2*i].Text)
			assert.Equal(t, fmt.Sprintf("m%d", i), turns[2+2*i].Text)
		}
	})

	t.Run("should return copies", func(t *testing.T) {
		s := NewStore(Config{})
		args := map[string]interface{}{"a": 2.0}
		require.NoError(t, s.Append(ToolRequest("c1", "add", args)))
		args["a"] = 99.0

		snap := s.Snapshot()
		snap[1].Args["a"] = 7.0
		snap[0].Text = "changed"

		again := s.Snapshot()
		assert.Equal(t, 2.0, again[1].Args["a"])
		assert.Equal(t, DefaultGreeting, again[0].Text)
	})

	t.Run("should copy nested arguments and payloads", func(t *testing.T) {
		s := NewStore(Config{})
		inner := map[string]interface{}{"k": "orig"}
		args := map[string]interface{}{
			"list":   []interface{}{inner, []interface{}{"x"}},
			"nested": map[string]interface{}{"deep": []interface{}{"y"}},
		}
		require.NoError(t, s.Append(ToolRequest("c1", "search", args)))

		inner["k"] = "mutated"
		args["list"].([]interface{})[1].([]interface{})[0] = "mutated"
		args["nested"].(map[string]interface{})["deep"].([]interface{})[0] = "mutated"

		payload := []interface{}{map[string]interface{}{"hit": "first"}}
		require.NoError(t, s.Append(ToolResult("c1", "search", toolregistry.Outcome{Success: true, Text: "1 hit", Data: payload})))
		payload[0].(map[string]interface{})["hit"] = "mutated"

		snap := s.Snapshot()
		list := snap[1].Args["list"].([]interface{})
		assert.Equal(t, "orig", list[0].(map[string]interface{})["k"])
		assert.Equal(t, "x", list[1].([]interface{})[0])
		assert.Equal(t, "y", snap[1].Args["nested"].(map[string]interface{})["deep"].([]interface{})[0])
		assert.Equal(t, "first", snap[2].Outcome.Data.([]interface{})[0].(map[string]interface{})["hit"])

		list[0].(map[string]interface{})["k"] = "changed"
		again := s.Snapshot()
		assert.Equal(t, "orig", again[1].Args["list"].([]interface{})[0].(map[string]interface{})["k"])
	})

	t.Run("should reject malformed turns", func(t *testing.T) {
		s := NewStore(Config{})

		assert.Error(t, s.Append(Turn{Kind: "bogus"}))
		assert.Error(t, s.Append(ToolRequest("", "add", nil)))
		assert.Error(t, s.Append(Turn{Kind: KindToolResult, ToolName: "add", CallID: "c"}))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("should pair results with the pending request", func(t *testing.T) {
		s := NewStore(Config{})
		require.NoError(t, s.Append(ToolRequest("c1", "add", nil)))

		pending, ok := s.Pending()
		require.True(t, ok)
		assert.Equal(t, "c1", pending.CallID)

		assert.Error(t, s.Append(ModelText("too early")))
		assert.ErrorIs(t, s.Append(ToolResult("c2", "add", toolregistry.Outcome{Success: true})), ErrUnmatchedResult)

		require.NoError(t, s.Append(ToolResult("c1", "add", toolregistry.Outcome{Success: true, Text: "5"})))
		_, ok = s.Pending()
		assert.False(t, ok)
	})

	t.Run("should refuse a result with no request", func(t *testing.T) {
		s := NewStore(Config{})
		err := s.Append(ToolResult("c1", "add", toolregistry.Outcome{Success: true}))
		assert.ErrorIs(t, err, ErrUnmatchedResult)
	})

	t.Run("should be safe for concurrent use", func(t *testing.T) {
		s := NewStore(Config{})
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Append(UserText("x"))
				_ = s.Snapshot()
			}()
		}
		wg.Wait()
		assert.Equal(t, 21, s.Len())
	})
}

func TestReset(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, n := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("should leave one seed after %d turns", n), func(t *testing.T) {
			s := NewStore(Config{Now: func() time.Time { return fixed }})
			for i := 0; i < n; i++ {
				require.NoError(t, s.Append(UserText("x")))
			}

			s.Reset()

			turns := s.Snapshot()
			require.Len(t, turns, 1)
			assert.Equal(t, KindModelText, turns[0].Kind)
			assert.Equal(t, DefaultResetGreeting, turns[0].Text)
			assert.Equal(t, fixed, turns[0].Timestamp)
		})
	}

	t.Run("should clear a pending request", func(t *testing.T) {
		s := NewStore(Config{})
		require.NoError(t, s.Append(ToolRequest("c1", "add", nil)))
		s.Reset()
		_, ok := s.Pending()
		assert.False(t, ok)
	})
}
