package batchexec

import (
	"os"
	"time"

	"github.com/hmallsoft/batchexec/internal/logs"
)

//log
var logger logs.Logger = logs.NewLogger(os.Stdout, logs.Info)

//SetLogger set a logger instance for the executor
func SetLogger(l logs.Logger) {
	logger = l
}

//pool sizing, taken over from the service this executor was carved out of
const (
	//DefaultPoolName default pool name and worker id prefix
	DefaultPoolName = "batchexec"
	//DefaultCoreSize default number of always-available workers
	DefaultCoreSize = 5
	//DefaultMaxSize default burst ceiling including core workers
	DefaultMaxSize = 20
	//DefaultQueueCapacity default capacity of the bounded work queue
	DefaultQueueCapacity = 100
)

const (
	//DefaultTaskTimeout per-task timeout applied when the caller passes none
	DefaultTaskTimeout = 30 * time.Second
	//DefaultGracePeriod extra wait granted to the whole batch atop the per-task timeout
	DefaultGracePeriod = 5 * time.Second
	//DefaultDrainTimeout how long Shutdown waits for in-flight work by default
	DefaultDrainTimeout = 10 * time.Second
)
