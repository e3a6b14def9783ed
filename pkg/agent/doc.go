// Package agent drives a model through a bounded generate / call tool cycle.
//
// Invariants:
// - A run makes at most MaxIterations model calls.
// - Every step is appended to the conversation before the next action.
// - The model never sees an unanswered tool request.
// - Tool and gateway failures become turns; Run always returns text.
//
// Usage:
//
//	gw, _ := agent.NewGateway(ctx, agent.GatewayConfig{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: key})
//	loop, _ := agent.NewLoop(agent.Config{Gateway: gw, Tools: registry})
//	result := loop.Run(ctx, store, "what is 2+3?")
//	fmt.Println(result.Text)
package agent
