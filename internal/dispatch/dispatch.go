// Package dispatch fans independent work items out over a bounded pool of
// goroutines and collects one Outcome per item.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/samber/lo"

	"tradelab/internal/domain"
)

// Outcome pairs a work item with its result or error. Result is the zero
// value whenever Err is set.
type Outcome[I, R any] struct {
	Item   I
	Result R
	Err    error
}

// OK reports whether the item succeeded.
func (o Outcome[I, R]) OK() bool { return o.Err == nil }

// WorkerError is a panic recovered inside a worker.
type WorkerError struct {
	Item  any
	Panic any
	Stack []byte
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker for %v panicked: %v", e.Item, e.Panic)
}

func (e *WorkerError) Unwrap() error {
	return domain.ErrWorker
}

// Workers returns the pool size for n items: maxWorkers bounded by the CPU
// count and n. A non-positive maxWorkers means one worker per CPU.
func Workers(maxWorkers, n int) int {
	cpus := runtime.NumCPU()
	if maxWorkers <= 0 || maxWorkers > cpus {
		maxWorkers = cpus
	}
	return max(1, min(maxWorkers, n))
}

// RunMany calls fn once per item on up to maxWorkers goroutines and returns
// the outcomes in input order. A failing or panicking item never stops its
// siblings. Items not yet started when ctx is cancelled get ctx.Err().
func RunMany[I, R any](ctx context.Context, items []I, maxWorkers int, fn func(context.Context, I) (R, error)) []Outcome[I, R] {
	out := make([]Outcome[I, R], len(items))
	if len(items) == 0 {
		return out
	}

	idxCh := make(chan int, len(items))
	for i := range items {
		idxCh <- i
	}
	close(idxCh)

	var wg sync.WaitGroup
	workers := Workers(maxWorkers, len(items))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				out[i].Item = items[i]
				if err := ctx.Err(); err != nil {
					out[i].Err = err
					continue
				}
				out[i].Result, out[i].Err = call(ctx, items[i], fn)
			}
		}()
	}
	wg.Wait()
	return out
}

// call runs fn, converting a panic into a WorkerError.
func call[I, R any](ctx context.Context, item I, fn func(context.Context, I) (R, error)) (res R, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero R
			res, err = zero, &WorkerError{Item: item, Panic: p, Stack: debug.Stack()}
		}
	}()
	res, err = fn(ctx, item)
	if err != nil {
		var zero R
		return zero, err
	}
	return res, nil
}

// Split partitions outcomes into successes and failures, keeping order.
func Split[I, R any](outcomes []Outcome[I, R]) (ok, failed []Outcome[I, R]) {
	ok = lo.Filter(outcomes, func(o Outcome[I, R], _ int) bool { return o.OK() })
	failed = lo.Filter(outcomes, func(o Outcome[I, R], _ int) bool { return !o.OK() })
	return ok, failed
}
