// Package conversation stores the ordered turn log of one conversation.
//
// Invariants:
// - Turns are only appended; committed turns are never changed or reordered.
// - Reset leaves exactly one seed model turn.
// - Snapshot returns a copy that reflects every turn appended so far.
// - Each tool request is answered by a tool result with the same call id.
//
// Usage:
//
//	store := conversation.NewStore(conversation.Config{})
//	_ = store.Append(conversation.UserText("hello"))
//	turns := store.Snapshot()
package conversation
