package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs a fixed set of background loops against a shared
// context and joins them on Stop. The pipeline's workers are all known at
// construction time, so there is no way to add more later.
type StoppableWorkers struct {
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewStoppableWorkers starts one goroutine per function. Each function
// must return once its context is canceled.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &StoppableWorkers{cancel: cancel}
	sw.workers.Add(len(funcs))
	for _, f := range funcs {
		f := f
		goutils.PanicCapturingGo(func() {
			defer sw.workers.Done()
			f(ctx)
		})
	}
	return sw
}

// Stop cancels the shared context and blocks until every worker has
// returned. Safe to call more than once.
func (sw *StoppableWorkers) Stop() {
	sw.cancel()
	sw.workers.Wait()
}
