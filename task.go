package batchexec

import (
	"context"

	"github.com/google/uuid"
)

// Processor executes the business logic for one task input.
//
// A Processor must be safe to invoke concurrently from multiple workers and
// must not rely on shared mutable state beyond what the caller synchronizes
// itself. It must report failure through the returned error, never by
// panicking or by ambient state. Cancellation is cooperative: the processor
// is expected to watch ctx and return promptly once it is done, otherwise a
// timed-out task keeps occupying its worker until the processor returns on
// its own.
type Processor func(ctx context.Context, input interface{}) (interface{}, error)

// Task one immutable unit of work: an input value plus the processor to apply
type Task struct {
	ID      string
	Input   interface{}
	Process Processor
}

//NewTask build a task with a generated id
func NewTask(input interface{}, process Processor) *Task {
	return NewTaskWithID(uuid.NewString(), input, process)
}

//NewTaskWithID build a task with a caller-chosen id
func NewTaskWithID(id string, input interface{}, process Processor) *Task {
	return &Task{
		ID:      id,
		Input:   input,
		Process: process,
	}
}
