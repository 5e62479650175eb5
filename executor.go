package batchexec

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BatchExecutor converts a list of tasks into an aligned list of results,
// isolating per-task failures and enforcing per-task and batch deadlines.
// One executor can be shared by any number of goroutines; it holds no
// per-batch state.
type BatchExecutor struct {
	pool      *WorkerPool
	grace     time.Duration
	clock     Clock
	listeners []BatchListener
}

// ExecutorOption configure a batch executor
type ExecutorOption func(*BatchExecutor)

//WithGracePeriod set the extra wait granted to the whole batch atop the per-task timeout
func WithGracePeriod(grace time.Duration) ExecutorOption {
	return func(e *BatchExecutor) {
		if grace > 0 {
			e.grace = grace
		}
	}
}

//WithClock set the clock used to stamp result times
func WithClock(clock Clock) ExecutorOption {
	return func(e *BatchExecutor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

//WithListener register a batch listener
func WithListener(listener BatchListener) ExecutorOption {
	return func(e *BatchExecutor) {
		if listener != nil {
			e.listeners = append(e.listeners, listener)
		}
	}
}

//NewBatchExecutor build an executor on top of an existing worker pool
func NewBatchExecutor(pool *WorkerPool, opts ...ExecutorOption) *BatchExecutor {
	if pool == nil {
		panic("worker pool must not be nil")
	}
	e := &BatchExecutor{
		pool:  pool,
		grace: DefaultGracePeriod,
		clock: SystemClock,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessBatch run every task on the worker pool and wait for all outcomes.
//
// Every submitted task yields exactly one Result: the processor's own outcome,
// a failed Result carrying the processor error, or a timeout Result when
// perTaskTimeout elapses first. perTaskTimeout <= 0 selects
// DefaultTaskTimeout. The whole wait is bounded by perTaskTimeout plus the
// grace period; if that batch deadline expires the resolved results are
// returned along with a BatchError coded ErrCodeBatchDeadline, so callers
// needing completeness must compare len(results) against len(tasks). Results
// come back in submission order. An empty or nil task list returns an empty
// slice and no error. After the pool shut down the call fails fast with
// ErrCodeShutdown.
func (e *BatchExecutor) ProcessBatch(ctx context.Context, tasks []*Task, perTaskTimeout time.Duration) ([]Result, error) {
	if len(tasks) == 0 {
		return []Result{}, nil
	}
	if perTaskTimeout <= 0 {
		perTaskTimeout = DefaultTaskTimeout
	}
	if !e.pool.State().Accepting() {
		return nil, ErrPoolShutdown
	}
	batchStart := e.clock.Now()
	logger.Info(ctx, "batch processing start, tasks:%v, perTaskTimeout:%v", len(tasks), perTaskTimeout)
	for _, listener := range e.listeners {
		listener.BeforeBatch(ctx, len(tasks))
	}

	batchCtx, cancelBatch := context.WithTimeout(ctx, perTaskTimeout+e.grace)
	defer cancelBatch()

	slots := make([]*Result, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		taskCtx, cancelTask := context.WithTimeout(batchCtx, perTaskTimeout)
		future, err := e.pool.Submit(taskCtx, e.execFor(task))
		if err != nil {
			// keeps the one-result-per-task invariant even when the pool
			// turns a submission down mid-batch
			now := e.clock.Now()
			slots[i] = failureResult(task.ID, errCode(err), err.Error(), now, now, "")
			cancelTask()
			continue
		}
		g.Go(func() error {
			defer cancelTask()
			slots[i] = e.awaitOne(batchCtx, taskCtx, task, future)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(tasks))
	succeeded := 0
	for _, r := range slots {
		if r == nil {
			continue
		}
		results = append(results, *r)
		if r.Succeeded {
			succeeded++
		}
	}
	summary := BatchSummary{
		Submitted: len(tasks),
		Succeeded: succeeded,
		Failed:    len(results) - succeeded,
		Elapsed:   e.clock.Now().Sub(batchStart),
		Partial:   len(results) < len(tasks),
	}
	logger.Info(ctx, "batch processing finish, submitted:%v, succeeded:%v, failed:%v, elapsed:%v",
		summary.Submitted, summary.Succeeded, summary.Failed, summary.Elapsed)
	for _, listener := range e.listeners {
		listener.AfterBatch(ctx, summary)
	}
	if summary.Partial {
		return results, NewBatchError(ErrCodeBatchDeadline,
			"batch deadline exceeded, resolved %d of %d tasks", len(results), len(tasks))
	}
	return results, nil
}

// awaitOne block until the task's future resolves or its timeout fires.
// Returns nil only when the batch deadline expired before any outcome, which
// surfaces as a missing result in a partial batch.
func (e *BatchExecutor) awaitOne(batchCtx, taskCtx context.Context, task *Task, future Future) *Result {
	res, err := future.Get(taskCtx)
	if err == nil {
		return res
	}
	// an exec finishing at the same instant the timeout fires wins the race
	if fi, ok := future.(*futureImpl); ok {
		if r, ferr, resolved := fi.tryGet(); resolved {
			res, err = r, ferr
			if err == nil {
				return res
			}
		}
	}
	if batchCtx.Err() != nil {
		return nil
	}
	now := e.clock.Now()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failureResult(task.ID, ErrCodeTimeout, "task processing timed out", now, now, "")
	}
	return failureResult(task.ID, errCode(err), err.Error(), now, now, "")
}

// execFor wrap a task into the pool's unit of work: run the processor under
// the task context, stamp times and worker identity, capture failure
func (e *BatchExecutor) execFor(task *Task) Exec {
	return func(ctx context.Context, workerID string) *Result {
		startedAt := e.clock.Now()
		logger.Debug(ctx, "task processing start, taskId:%v, workerId:%v", task.ID, workerID)
		output, err := invokeProcessor(ctx, task)
		finishedAt := e.clock.Now()
		if err != nil {
			kind := ErrCodeProcessing
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				kind = ErrCodeTimeout
			}
			logger.Debug(ctx, "task processing failed, taskId:%v, workerId:%v, err:%v", task.ID, workerID, err)
			return failureResult(task.ID, kind, err.Error(), startedAt, finishedAt, workerID)
		}
		logger.Debug(ctx, "task processing completed, taskId:%v, workerId:%v, elapsed:%v", task.ID, workerID, finishedAt.Sub(startedAt))
		return successResult(task.ID, output, startedAt, finishedAt, workerID)
	}
}

// invokeProcessor run the caller-supplied processor, converting a panic into
// an ordinary error so sibling tasks are unaffected
func invokeProcessor(ctx context.Context, task *Task) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("panic in task processor: %v", r)
		}
	}()
	if task.Process == nil {
		return nil, fmt.Errorf("task %s has no processor", task.ID)
	}
	return task.Process(ctx, task.Input)
}

//Status forward the worker pool snapshot
func (e *BatchExecutor) Status() PoolStatus {
	return e.pool.Status()
}
