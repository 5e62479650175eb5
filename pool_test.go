package batchexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/hmallsoft/batchexec/status"
	"github.com/hmallsoft/batchexec/util"
)

func okExec(output interface{}) Exec {
	return func(ctx context.Context, workerID string) *Result {
		now := time.Now()
		return successResult("t", output, now, now, workerID)
	}
}

func TestPool_SubmitAndGet(t *testing.T) {
	pool := NewWorkerPool(WithCoreSize(2), WithMaxSize(2), WithQueueCapacity(4))
	defer pool.Shutdown(time.Second)

	future, err := pool.Submit(context.Background(), okExec("ok"))
	assert.Equal(t, nil, err)
	res, err := future.Get(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, true, strings.HasPrefix(res.WorkerID, "batchexec-worker-"))
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	pool := NewWorkerPool(WithCoreSize(1), WithMaxSize(1), WithQueueCapacity(4))
	defer pool.Shutdown(time.Second)

	future, err := pool.Submit(context.Background(), func(ctx context.Context, workerID string) *Result {
		var m []string
		_ = m[0]
		return nil
	})
	assert.Equal(t, nil, err)
	res, err := future.Get(context.Background())
	assert.Equal(t, (*Result)(nil), res)
	assert.NotEqual(t, nil, err)
	assert.Equal(t, ErrCodeGeneral, errCode(err))
	fmt.Printf("panic outcome: %v\n", err)

	// the single core worker must still be alive
	future, err = pool.Submit(context.Background(), okExec("still alive"))
	assert.Equal(t, nil, err)
	res, err = future.Get(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, "still alive", res.Output)
}

// saturate builds a pool whose only worker is parked on a task and whose
// queue is full, so the next Submit hits the overflow policy.
func saturate(t *testing.T, policy OverflowPolicy) (*WorkerPool, chan struct{}) {
	t.Helper()
	pool := NewWorkerPool(WithCoreSize(1), WithMaxSize(1), WithQueueCapacity(1), WithOverflowPolicy(policy))
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	parked := func(ctx context.Context, workerID string) *Result {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		now := time.Now()
		return successResult("parked", nil, now, now, workerID)
	}
	_, err := pool.Submit(context.Background(), parked)
	assert.Equal(t, nil, err)
	<-started
	// worker is parked, this one fills the queue
	_, err = pool.Submit(context.Background(), parked)
	assert.Equal(t, nil, err)
	return pool, release
}

func TestPool_OverflowReject(t *testing.T) {
	pool, release := saturate(t, Reject)
	defer pool.Shutdown(time.Second)

	_, err := pool.Submit(context.Background(), okExec("overflow"))
	assert.Equal(t, ErrPoolSaturated, err)
	close(release)
}

func TestPool_OverflowRunInline(t *testing.T) {
	pool, release := saturate(t, RunInline)
	defer pool.Shutdown(time.Second)

	var inlineWorker string
	future, err := pool.Submit(context.Background(), func(ctx context.Context, workerID string) *Result {
		inlineWorker = workerID
		now := time.Now()
		return successResult("overflow", nil, now, now, workerID)
	})
	// the submitting goroutine ran the task itself, so it is already done
	assert.Equal(t, nil, err)
	assert.Equal(t, "batchexec-caller", inlineWorker)
	res, err := future.Get(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, "batchexec-caller", res.WorkerID)
	close(release)
}

func TestPool_OverflowBlock(t *testing.T) {
	pool, release := saturate(t, Block)
	defer pool.Shutdown(time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	var submitErr error
	var future Future
	go func() {
		defer wg.Done()
		future, submitErr = pool.Submit(context.Background(), okExec("blocked"))
	}()
	// free the worker so the blocked submission can land
	close(release)
	wg.Wait()
	assert.Equal(t, nil, submitErr)
	res, err := future.Get(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, "blocked", res.Output)
}

func TestPool_OverflowBlockAborted(t *testing.T) {
	pool, release := saturate(t, Block)
	defer pool.Shutdown(time.Second)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := pool.Submit(ctx, okExec("never lands"))
	assert.NotEqual(t, nil, err)
}

func TestPool_Status(t *testing.T) {
	pool := NewWorkerPool(WithCoreSize(2), WithMaxSize(8), WithQueueCapacity(16))
	defer pool.Shutdown(time.Second)

	st := pool.Status()
	assert.Equal(t, 2, st.CoreSize)
	assert.Equal(t, 8, st.MaxSize)
	assert.Equal(t, status.RUNNING, st.State)
	assert.Equal(t, int64(0), st.CompletedCount)

	for i := 0; i < 5; i++ {
		future, err := pool.Submit(context.Background(), okExec(i))
		assert.Equal(t, nil, err)
		_, err = future.Get(context.Background())
		assert.Equal(t, nil, err)
	}
	st = pool.Status()
	assert.Equal(t, int64(5), st.CompletedCount)
	assert.Equal(t, 0, st.QueueDepth)

	// the snapshot renders as json for monitoring
	var parsed map[string]interface{}
	assert.Equal(t, nil, util.ParseJson(st.String(), &parsed))
	assert.Equal(t, "RUNNING", parsed["state"])
}

func TestPool_ShutdownIdempotent(t *testing.T) {
	pool := NewWorkerPool(WithCoreSize(2), WithMaxSize(4), WithQueueCapacity(4))

	future, err := pool.Submit(context.Background(), okExec("before shutdown"))
	assert.Equal(t, nil, err)
	res, err := future.Get(context.Background())
	assert.Equal(t, nil, err)

	pool.Shutdown(time.Second)
	assert.Equal(t, status.STOPPED, pool.State())
	pool.Shutdown(time.Second)
	assert.Equal(t, status.STOPPED, pool.State())

	_, err = pool.Submit(context.Background(), okExec("after shutdown"))
	assert.Equal(t, ErrPoolShutdown, err)

	// prior outcomes are unaffected
	assert.Equal(t, "before shutdown", res.Output)
}

func TestPool_ShutdownDrainsQueuedWork(t *testing.T) {
	pool := NewWorkerPool(WithCoreSize(1), WithMaxSize(1), WithQueueCapacity(8))

	futures := make([]Future, 0, 6)
	for i := 0; i < 6; i++ {
		i := i
		future, err := pool.Submit(context.Background(), func(ctx context.Context, workerID string) *Result {
			time.Sleep(10 * time.Millisecond)
			now := time.Now()
			return successResult(fmt.Sprintf("t-%d", i), i, now, now, workerID)
		})
		assert.Equal(t, nil, err)
		futures = append(futures, future)
	}
	pool.Shutdown(2 * time.Second)
	for _, future := range futures {
		res, err := future.Get(context.Background())
		assert.Equal(t, nil, err)
		assert.Equal(t, true, res.Succeeded)
	}
	assert.Equal(t, int64(6), pool.Status().CompletedCount)
}

func TestPool_RateLimit(t *testing.T) {
	pool := NewWorkerPool(WithCoreSize(4), WithMaxSize(4), WithQueueCapacity(8), WithRateLimit(20, 1))
	defer pool.Shutdown(time.Second)

	start := time.Now()
	futures := make([]Future, 0, 4)
	for i := 0; i < 4; i++ {
		future, err := pool.Submit(context.Background(), okExec(i))
		assert.Equal(t, nil, err)
		futures = append(futures, future)
	}
	for _, future := range futures {
		_, err := future.Get(context.Background())
		assert.Equal(t, nil, err)
	}
	// 4 tasks at 20/s with burst 1 cannot finish faster than ~150ms
	assert.Equal(t, true, time.Since(start) >= 100*time.Millisecond)
}
