package schedule

import (
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	globalKernel *Kernel
	mu           sync.Mutex
)

// SetGlobalKernel sets the global kernel instance
func SetGlobalKernel(k *Kernel) {
	mu.Lock()
	defer mu.Unlock()
	globalKernel = k
}

// GetGlobalKernel returns the global kernel, creating one without a lock provider if needed
func GetGlobalKernel() *Kernel {
	mu.Lock()
	defer mu.Unlock()
	if globalKernel == nil {
		globalKernel = NewKernel(nil, log.Logger)
	}
	return globalKernel
}

// Register adds a task to the global scheduler
func Register(schedule string, task Task, opts ...JobOption) error {
	return GetGlobalKernel().Register(schedule, task, opts...)
}

// Dispatch schedules a queue job on the global scheduler
func Dispatch(schedule string, dispatcher Dispatcher, queueName, jobName string, args map[string]interface{}, opts ...JobOption) error {
	return GetGlobalKernel().Dispatch(schedule, dispatcher, queueName, jobName, args, opts...)
}
