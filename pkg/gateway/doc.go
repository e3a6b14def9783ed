// Package gateway serves the session endpoint of the server.
//
// A single URL carries three verbs:
//
//	POST   JSON-RPC request for a session (initialize without a session id
//	       creates one and returns its id in the Mcp-Session-Id header)
//	GET    server push stream for the session, SSE or a websocket upgrade
//	DELETE close the session
//
// Requests that name no live session are rejected before any session state
// is touched. Agent calls of one session run one at a time on the session's
// lane of the command queue; tool outcomes, action hints and answers are
// also published to the session's push stream.
package gateway
