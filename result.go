package batchexec

import (
	"time"

	"github.com/hmallsoft/batchexec/util"
)

// Result the recorded outcome for one task. Write-once: built by the
// executor when the task resolves, never mutated afterwards.
type Result struct {
	TaskID       string      `json:"taskId"`
	Succeeded    bool        `json:"succeeded"`
	Output       interface{} `json:"output,omitempty"`
	ErrorKind    string      `json:"errorKind,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	StartedAt    time.Time   `json:"startedAt"`
	FinishedAt   time.Time   `json:"finishedAt"`
	DurationMs   int64       `json:"durationMs"`
	WorkerID     string      `json:"workerId"`
}

func successResult(taskID string, output interface{}, startedAt, finishedAt time.Time, workerID string) *Result {
	return &Result{
		TaskID:     taskID,
		Succeeded:  true,
		Output:     output,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DurationMs: durationMillis(startedAt, finishedAt),
		WorkerID:   workerID,
	}
}

func failureResult(taskID string, errorKind string, errorMessage string, startedAt, finishedAt time.Time, workerID string) *Result {
	return &Result{
		TaskID:       taskID,
		Succeeded:    false,
		ErrorKind:    errorKind,
		ErrorMessage: errorMessage,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		DurationMs:   durationMillis(startedAt, finishedAt),
		WorkerID:     workerID,
	}
}

func durationMillis(startedAt, finishedAt time.Time) int64 {
	return util.MaxInt64(0, finishedAt.Sub(startedAt).Milliseconds())
}

func (r *Result) String() string {
	s, err := util.JsonString(r)
	if err != nil {
		return err.Error()
	}
	return s
}
