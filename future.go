package batchexec

import "context"

// Future get the outcome of an asynchronously executing task
type Future interface {
	//Get block until the outcome is available or ctx is done
	Get(ctx context.Context) (*Result, error)
}

type futureOutcome struct {
	result *Result
	err    error
}

type futureImpl struct {
	ch chan futureOutcome
}

func newFuture() *futureImpl {
	return &futureImpl{
		ch: make(chan futureOutcome, 1),
	}
}

// resolve must be called exactly once
func (f *futureImpl) resolve(result *Result, err error) {
	f.ch <- futureOutcome{result: result, err: err}
}

func (f *futureImpl) Get(ctx context.Context) (*Result, error) {
	select {
	case out := <-f.ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tryGet non-blocking probe, used to prefer a freshly resolved outcome over
// a timeout substitution when both raced to readiness
func (f *futureImpl) tryGet() (*Result, error, bool) {
	select {
	case out := <-f.ch:
		return out.result, out.err, true
	default:
		return nil, nil, false
	}
}
