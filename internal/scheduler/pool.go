package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/csfx-py/vaccine-tracker/internal/metrics"
)

// Pool runs fire-and-forget tasks with bounded concurrency.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log *zap.Logger
}

// NewPool returns a pool running at most size tasks at once.
func NewPool(size int, log *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), log: log}
}

// Go runs fn in the background. It blocks while all workers are busy and
// returns false if ctx ends first.
func (p *Pool) Go(ctx context.Context, name string, fn func(context.Context)) bool {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	p.wg.Add(1)
	metrics.PendingTasks.Inc()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("task panicked", zap.String("task", name), zap.String("panic", fmt.Sprint(r)))
			}
			metrics.PendingTasks.Dec()
			p.sem.Release(1)
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return true
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
