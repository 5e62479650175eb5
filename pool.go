package batchexec

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hmallsoft/batchexec/status"
	"github.com/hmallsoft/batchexec/util"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// Exec a unit of work accepted by the pool. The pool passes in the identity
// of the worker that runs it and a context that is cancelled when the pool is
// force-stopped.
type Exec func(ctx context.Context, workerID string) *Result

// OverflowPolicy behavior when both the queue and burst capacity are exhausted
type OverflowPolicy int

const (
	//RunInline the submitting caller executes the task synchronously
	RunInline OverflowPolicy = iota
	//Reject submission fails with ErrPoolSaturated
	Reject
	//Block submission waits for queue space
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case RunInline:
		return "RunInline"
	case Reject:
		return "Reject"
	case Block:
		return "Block"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

const (
	poolRunning int32 = iota
	poolDraining
	poolStopped
)

var poolStates = map[int32]status.PoolState{
	poolRunning:  status.RUNNING,
	poolDraining: status.DRAINING,
	poolStopped:  status.STOPPED,
}

// PoolStatus live snapshot of pool and queue state
type PoolStatus struct {
	CoreSize       int              `json:"coreSize"`
	MaxSize        int              `json:"maxSize"`
	ActiveCount    int              `json:"activeCount"`
	QueueDepth     int              `json:"queueDepth"`
	CompletedCount int64            `json:"completedCount"`
	State          status.PoolState `json:"state"`
}

func (s PoolStatus) String() string {
	str, err := util.JsonString(s)
	if err != nil {
		return err.Error()
	}
	return str
}

type poolConfig struct {
	name          string
	coreSize      int
	maxSize       int
	queueCapacity int
	policy        OverflowPolicy
	limiter       *rate.Limiter
}

// PoolOption configure a worker pool
type PoolOption func(*poolConfig)

//WithName set the pool name used as worker id prefix
func WithName(name string) PoolOption {
	return func(cfg *poolConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

//WithCoreSize set the number of always-available workers
func WithCoreSize(size int) PoolOption {
	return func(cfg *poolConfig) {
		if size > 0 {
			cfg.coreSize = size
		}
	}
}

//WithMaxSize set the burst ceiling including core workers
func WithMaxSize(size int) PoolOption {
	return func(cfg *poolConfig) {
		if size > 0 {
			cfg.maxSize = size
		}
	}
}

//WithQueueCapacity set the capacity of the bounded work queue
func WithQueueCapacity(capacity int) PoolOption {
	return func(cfg *poolConfig) {
		if capacity >= 0 {
			cfg.queueCapacity = capacity
		}
	}
}

//WithOverflowPolicy set the behavior on queue and burst exhaustion
func WithOverflowPolicy(policy OverflowPolicy) PoolOption {
	return func(cfg *poolConfig) {
		cfg.policy = policy
	}
}

//WithRateLimit cap task throughput at tasksPerSecond with the given burst.
//Workers wait on the limiter before starting each task.
func WithRateLimit(tasksPerSecond float64, burst int) PoolOption {
	return func(cfg *poolConfig) {
		if tasksPerSecond > 0 && burst > 0 {
			cfg.limiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

type poolTask struct {
	ctx    context.Context
	exec   Exec
	future *futureImpl
}

// WorkerPool a bounded set of concurrent executors drawing from a shared
// bounded queue. coreSize long-lived workers drain the queue; bursts beyond
// that run on an ants pool capped at maxSize-coreSize. The pool is safe for
// concurrent use and meant to be created once per process and shared.
type WorkerPool struct {
	cfg    poolConfig
	queue  chan *poolTask
	burst  *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	inflight sync.WaitGroup

	state     int32
	active    int64
	completed int64
	burstSeq  int64
}

//NewWorkerPool build and start a worker pool
func NewWorkerPool(opts ...PoolOption) *WorkerPool {
	cfg := poolConfig{
		name:          DefaultPoolName,
		coreSize:      DefaultCoreSize,
		maxSize:       DefaultMaxSize,
		queueCapacity: DefaultQueueCapacity,
		policy:        RunInline,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize < cfg.coreSize {
		cfg.maxSize = cfg.coreSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		cfg:    cfg,
		queue:  make(chan *poolTask, cfg.queueCapacity),
		ctx:    ctx,
		cancel: cancel,
		state:  poolRunning,
	}
	if burstCap := cfg.maxSize - cfg.coreSize; burstCap > 0 {
		p.burst, _ = ants.NewPool(burstCap, ants.WithNonblocking(true))
	}
	for i := 0; i < cfg.coreSize; i++ {
		p.wg.Add(1)
		go p.coreWorker(i + 1)
	}
	return p
}

// Submit hand one exec to the pool: queue first, then burst capacity, then
// the configured overflow policy. The returned Future resolves exactly once.
func (p *WorkerPool) Submit(ctx context.Context, exec Exec) (Future, error) {
	if exec == nil {
		return nil, NewBatchError(ErrCodeGeneral, "exec must not be nil")
	}
	if !p.State().Accepting() {
		return nil, ErrPoolShutdown
	}
	t := &poolTask{ctx: ctx, exec: exec, future: newFuture()}
	p.inflight.Add(1)
	select {
	case p.queue <- t:
		return t.future, nil
	default:
	}
	if p.burst != nil {
		workerID := fmt.Sprintf("%s-burst-%d", p.cfg.name, atomic.AddInt64(&p.burstSeq, 1))
		if err := p.burst.Submit(func() { p.run(t, workerID) }); err == nil {
			return t.future, nil
		}
	}
	switch p.cfg.policy {
	case RunInline:
		p.run(t, p.cfg.name+"-caller")
		return t.future, nil
	case Block:
		select {
		case p.queue <- t:
			return t.future, nil
		case <-ctx.Done():
			p.inflight.Done()
			return nil, NewBatchError(ErrCodeGeneral, "submit aborted", ctx.Err())
		case <-p.ctx.Done():
			p.inflight.Done()
			return nil, ErrPoolShutdown
		}
	default:
		p.inflight.Done()
		return nil, ErrPoolSaturated
	}
}

func (p *WorkerPool) coreWorker(seq int) {
	defer p.wg.Done()
	workerID := fmt.Sprintf("%s-worker-%d", p.cfg.name, seq)
	for {
		select {
		case t := <-p.queue:
			p.run(t, workerID)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) run(t *poolTask, workerID string) {
	atomic.AddInt64(&p.active, 1)
	defer func() {
		atomic.AddInt64(&p.active, -1)
		atomic.AddInt64(&p.completed, 1)
		p.inflight.Done()
	}()
	if p.cfg.limiter != nil {
		if err := p.cfg.limiter.Wait(t.ctx); err != nil {
			t.future.resolve(nil, NewBatchError(ErrCodeGeneral, "rate limit wait aborted", err))
			return
		}
	}
	// force-stop of the pool cancels the exec context as well
	runCtx, cancelRun := context.WithCancel(t.ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-p.ctx.Done():
			cancelRun()
		case <-stop:
		}
	}()
	res, err := p.invoke(runCtx, t, workerID)
	close(stop)
	cancelRun()
	t.future.resolve(res, err)
}

// invoke keeps a panicking exec from taking down the worker or the pool
func (p *WorkerPool) invoke(ctx context.Context, t *poolTask, workerID string) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic in pool task, workerId:%v, err:%v, stack:%v", workerID, r, string(debug.Stack()))
			res = nil
			err = NewBatchError(ErrCodeGeneral, fmt.Sprintf("panic in pool task: %v", r))
		}
	}()
	return t.exec(ctx, workerID), nil
}

//Status build a point-in-time snapshot of pool and queue state
func (p *WorkerPool) Status() PoolStatus {
	return PoolStatus{
		CoreSize:       p.cfg.coreSize,
		MaxSize:        p.cfg.maxSize,
		ActiveCount:    int(atomic.LoadInt64(&p.active)),
		QueueDepth:     len(p.queue),
		CompletedCount: atomic.LoadInt64(&p.completed),
		State:          p.State(),
	}
}

//State current lifecycle state
func (p *WorkerPool) State() status.PoolState {
	return poolStates[atomic.LoadInt32(&p.state)]
}

// Shutdown stop accepting work, wait up to drainTimeout for queued and
// in-flight work to finish, then cancel whatever remains. Safe to call more
// than once, only the first call does anything. Execs that ignore their
// context may keep occupying a worker after Shutdown returns.
func (p *WorkerPool) Shutdown(drainTimeout time.Duration) {
	if !atomic.CompareAndSwapInt32(&p.state, poolRunning, poolDraining) {
		return
	}
	ctx := context.Background()
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	logger.Info(ctx, "worker pool shutting down, name:%v, drainTimeout:%v", p.cfg.name, drainTimeout)
	if waitTimeout(&p.inflight, drainTimeout) {
		logger.Info(ctx, "worker pool drained, name:%v", p.cfg.name)
	} else {
		logger.Warn(ctx, "worker pool drain timed out, cancelling remaining work, name:%v", p.cfg.name)
	}
	p.cancel()
	if p.burst != nil {
		p.burst.Release()
	}
	waitTimeout(&p.wg, time.Second)
	p.failAbandoned()
	atomic.StoreInt32(&p.state, poolStopped)
	logger.Info(ctx, "worker pool stopped, name:%v", p.cfg.name)
}

// failAbandoned resolve futures of tasks still sitting in the queue after a
// forced stop so that no waiter blocks on them
func (p *WorkerPool) failAbandoned() {
	for {
		select {
		case t := <-p.queue:
			t.future.resolve(nil, ErrPoolShutdown)
			p.inflight.Done()
		default:
			return
		}
	}
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
