package worker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs CPU-bound jobs on at most size goroutines at a time. Callers
// block until their job has finished or their context is done.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

func (p *Pool) Size() int { return int(p.size) }

// Do waits for a free slot, runs job on a pool goroutine and returns its
// error. If ctx ends first, Do returns ctx.Err(); a job that already
// started keeps its slot until it finishes.
func (p *Pool) Do(ctx context.Context, job func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		done <- job(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for running ones.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
