// Package session owns the live protocol sessions of the server.
//
// Invariants:
// - Session IDs are random v4 UUIDs and are never reused within a process.
// - The ID -> Session mapping changes only through Multiplexer.Create
//   (insert-if-absent) and Multiplexer.Close (delete-if-present).
// - A closed session is gone: looking its ID up again yields ErrInvalidSession.
// - At most one push stream is bound to a session at a time.
//
// Usage:
//
//	mux := session.NewMultiplexer(session.Config{})
//	s, _ := mux.Create(ctx)
//	_, err := mux.Get(s.ID())
//	mux.Close(ctx, s.ID(), session.ReasonClient)
package session
