// Package commandqueue runs tasks in named lanes.
//
// A lane executes its tasks one at a time in arrival order, and separate
// lanes run in parallel. The gateway gives each session the lane
// SessionLane(id), which keeps two agent runs from touching the same
// conversation at once.
//
// A caller whose context ends while its task is still waiting gets ctx.Err()
// back and the task is dropped without running.
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	answer, err := queue.Enqueue(ctx, commandqueue.SessionLane(id), func(ctx context.Context) (interface{}, error) {
//		return loop.Run(ctx, sess.Conversation(), text), nil
//	})
package commandqueue
