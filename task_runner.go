package swupdate

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner runs tasks on goroutines bounded by a limiter channel. The first
// task error cancels the shared context; Wait surfaces it.
type TaskRunner struct {
	maxThreadCount int
	eg             *errgroup.Group
	limiterChan    chan bool
	context        context.Context
}

// NewTaskRunner creates a task runner allowing up to maxThreadCount tasks in flight.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		maxThreadCount: maxThreadCount,
		limiterChan:    make(chan bool, maxThreadCount),
		eg:             eg,
		context:        ctx2,
	}
}

// GetContext returns the runner's context. It is canceled when a task errors
// out, letting not-yet-scheduled work detect the failure and stand down.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

// Go spins up a new goroutine to run a task function, blocking first until a
// thread slot frees up.
func (tr *TaskRunner) Go(task func() error) {
	t := func() error {
		err := task()
		// Free up this thread slot.
		<-tr.limiterChan
		return err
	}
	// Occupy a thread slot.
	tr.limiterChan <- true
	tr.eg.Go(t)
}

// Wait blocks until all tasks complete and returns the first error, if any.
func (tr *TaskRunner) Wait() error {
	defer close(tr.limiterChan)
	return tr.eg.Wait()
}
