package batchexec

import "time"

// Clock wall-clock source used to stamp Result times, injectable for tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

//SystemClock the default Clock backed by time.Now
var SystemClock Clock = systemClock{}
