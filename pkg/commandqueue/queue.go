package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrQueueClosed is returned for tasks rejected by Close or RemoveLane.
var ErrQueueClosed = errors.New("command queue closed")

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	// active counts running tasks, including those of removed lanes.
	active atomic.Int64
}

// Stats summarizes the queue across lanes.
type Stats struct {
	Lanes   int `json:"lanes"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// SessionLane returns the lane name serializing work for one session.
func SessionLane(sessionID string) string {
	return "session:" + sessionID
}

// LaneKind returns the prefix of a lane name; it is what metrics are labeled with.
func LaneKind(lane string) string {
	if i := strings.IndexByte(lane, ':'); i > 0 {
		return lane[:i]
	}
	return lane
}

// New creates an empty CommandQueue. Lanes are created on first use with
// concurrency 1.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds a task to the specified lane and waits for its result. If ctx
// ends while the task is queued it is withdrawn; if it is already running the
// task sees the cancellation through its own context.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "mcpgate.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrQueueClosed
	}
	ls := cq.laneLocked(lane)
	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()
	cq.mu.Unlock()

	logger.Debug().
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(LaneKind(lane), queueSize)

	go cq.processLane(lane, ls)

	var result taskResult
	select {
	case result = <-record.result:
	case <-ctx.Done():
		if cq.withdraw(ls, record) {
			logger.Debug().Str("taskId", record.id).Msg("Task withdrawn before start")
			result = taskResult{err: ctx.Err()}
		} else {
			result = <-record.result
		}
	}

	if result.err != nil {
		tracing.FailSpan(span, result.err)
	}
	return result.value, result.err
}

// laneLocked returns the lane, creating it. cq.mu must be held.
func (cq *CommandQueue) laneLocked(lane string) *laneState {
	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{concurrency: 1}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Msg("Lane initialized")
	}
	return ls
}

func (cq *CommandQueue) lane(lane string) (*laneState, bool) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls, ok := cq.lanes[lane]
	return ls, ok
}

// withdraw removes a still-queued record. It reports false when the record
// has already been started or rejected.
func (cq *CommandQueue) withdraw(ls *laneState, record *taskRecord) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			return true
		}
	}
	return false
}

// processLane starts queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(lane string, ls *laneState) {
	if cq.ctx.Err() != nil {
		rejectQueued(ls, ErrQueueClosed)
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		ls.running++
		cq.active.Add(1)
		observability.RecordQueueWait(time.Since(record.enqueuedAt))

		logger := tracing.LoggerFromContext(record.ctx, log.Logger).With().Str("lane", lane).Logger()
		logger.Debug().
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "mcpgate.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	cq.active.Add(-1)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(LaneKind(lane), duration, err == nil, queueSize)

	go cq.processLane(lane, ls)
}

func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return task(ctx)
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls, exists := cq.lane(lane)
	if !exists {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetStats returns queue totals across all lanes.
func (cq *CommandQueue) GetStats() Stats {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := Stats{Lanes: len(cq.lanes), Running: int(cq.active.Load())}
	for _, ls := range cq.lanes {
		ls.mu.Lock()
		stats.Queued += len(ls.queue)
		ls.mu.Unlock()
	}
	return stats
}

// RemoveLane rejects the lane's queued tasks with ErrQueueClosed and forgets
// the lane. A running task finishes normally.
func (cq *CommandQueue) RemoveLane(lane string) int {
	cq.mu.Lock()
	ls, exists := cq.lanes[lane]
	delete(cq.lanes, lane)
	cq.mu.Unlock()

	if !exists {
		return 0
	}
	count := rejectQueued(ls, ErrQueueClosed)
	log.Debug().Str("lane", lane).Int("rejected", count).Msg("Lane removed")
	return count
}

func rejectQueued(ls *laneState, err error) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: err}
	}
	ls.queue = nil
	return count
}

// WaitForActive polls until no task is running or ctx ends. It reports
// whether the queue drained.
func (cq *CommandQueue) WaitForActive(ctx context.Context) bool {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cq.active.Load() == 0 {
			log.Debug().Msg("All active tasks completed")
			return true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Warn().Int64("running", cq.active.Load()).Msg("Timeout waiting for active tasks")
			return false
		}
	}
}

// Close rejects queued tasks, cancels running ones and waits for them to
// return. Later enqueues fail with ErrQueueClosed.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := cq.lanes
	cq.lanes = make(map[string]*laneState)
	cq.mu.Unlock()

	for _, ls := range lanes {
		rejectQueued(ls, ErrQueueClosed)
	}
	cq.cancel()
	cq.wg.Wait()
	return nil
}
