package batchexec

import (
	"context"
	"time"
)

// BatchSummary aggregate outcome of one ProcessBatch call
type BatchSummary struct {
	Submitted int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	//Partial true when the batch deadline expired before every task resolved
	Partial bool
}

//BatchListener batch listener
type BatchListener interface {
	//BeforeBatch execute before the batch is submitted to the pool
	BeforeBatch(ctx context.Context, taskCount int)
	//AfterBatch execute after the batch finished either completely or partially
	AfterBatch(ctx context.Context, summary BatchSummary)
}
