package batchexec

import (
	"fmt"

	"github.com/pkg/errors"
)

// BatchError error interface used across the executor
type BatchError interface {
	Code() string
	Message() string
	Error() string
	StackTrace() errors.StackTrace
}

type batchErr struct {
	code string
	err  error
}

func (err *batchErr) Code() string {
	return err.code
}

func (err *batchErr) Message() string {
	return err.err.Error()
}

func (err *batchErr) Error() string {
	return fmt.Sprintf("batch err, code:%v, message:%v", err.code, err.err.Error())
}

func (err *batchErr) StackTrace() errors.StackTrace {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	var st stackTracer
	if errors.As(err.err, &st) {
		return st.StackTrace()
	}
	return nil
}

func (err *batchErr) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "batch err, code:%v, message:%+v", err.code, err.err)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, err.Error())
	}
}

func (err *batchErr) Unwrap() error {
	return err.err
}

// NewBatchError build a BatchError with a message and an optional cause.
// If the last argument is an error it is kept as the cause, otherwise all
// arguments are treated as format arguments for msg.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var err error
	if len(args) > 0 {
		if e, ok := args[len(args)-1].(error); ok {
			err = errors.Wrapf(e, msg, args[0:len(args)-1]...)
		}
	}
	if err == nil {
		err = errors.Errorf(msg, args...)
	}
	return &batchErr{code: code, err: err}
}

// error codes carried by failed Results and call-level errors
const (
	//ErrCodeProcessing the task processor returned an error or panicked
	ErrCodeProcessing = "processing_error"
	//ErrCodeTimeout the per-task timeout elapsed before the processor finished
	ErrCodeTimeout = "timeout"
	//ErrCodeBatchDeadline the overall batch wait exceeded its grace-bounded ceiling
	ErrCodeBatchDeadline = "batch_deadline"
	//ErrCodeSaturated queue and burst capacity exhausted under the Reject policy
	ErrCodeSaturated = "pool_saturated"
	//ErrCodeShutdown the pool no longer accepts work
	ErrCodeShutdown = "shutdown"
	//ErrCodeGeneral unclassified failure
	ErrCodeGeneral = "general"
)

var (
	//ErrPoolShutdown returned when work is submitted to a pool that left RUNNING state
	ErrPoolShutdown BatchError = NewBatchError(ErrCodeShutdown, "worker pool is shut down")
	//ErrPoolSaturated returned under the Reject overflow policy when no capacity is left
	ErrPoolSaturated BatchError = NewBatchError(ErrCodeSaturated, "worker pool is saturated")
)

// errCode extract the code of an error, ErrCodeGeneral if it carries none
func errCode(err error) string {
	var be BatchError
	if errors.As(err, &be) {
		return be.Code()
	}
	return ErrCodeGeneral
}
