package dispatch

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
)

func TestRunManyKeepsInputOrder(t *testing.T) {
	items := []int{5, 3, 8, 1, 9, 2, 7}
	out := RunMany(context.Background(), items, 4, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * n, nil
	})

	require.Len(t, out, len(items))
	for i, o := range out {
		assert.Equal(t, items[i], o.Item)
		assert.Equal(t, items[i]*items[i], o.Result)
		assert.True(t, o.OK())
	}
}

func TestRunManyIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	items := []string{"AAPL", "FAIL", "PANIC", "MSFT"}

	out := RunMany(context.Background(), items, 2, func(_ context.Context, s string) (int, error) {
		switch s {
		case "FAIL":
			return 99, boom
		case "PANIC":
			panic("index out of range")
		}
		return len(s), nil
	})

	ok, failed := Split(out)
	assert.Len(t, ok, 2)
	require.Len(t, failed, 2)

	assert.Equal(t, "FAIL", failed[0].Item)
	assert.ErrorIs(t, failed[0].Err, boom)
	assert.Zero(t, failed[0].Result, "a failed item reports a zero result")

	assert.Equal(t, "PANIC", failed[1].Item)
	assert.ErrorIs(t, failed[1].Err, domain.ErrWorker)
	var we *WorkerError
	require.ErrorAs(t, failed[1].Err, &we)
	assert.Equal(t, "index out of range", we.Panic)
	assert.NotEmpty(t, we.Stack)

	assert.Equal(t, 4, out[3].Result)
}

func TestRunManyBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]int, 20)

	RunMany(context.Background(), items, 3, func(context.Context, int) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, int(peak.Load()), min(3, runtime.NumCPU()))
}

func TestRunManyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	out := RunMany(ctx, []int{1, 2, 3}, 2, func(context.Context, int) (int, error) {
		calls.Add(1)
		return 1, nil
	})

	assert.Zero(t, calls.Load())
	for _, o := range out {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 1, Workers(8, 1))
	assert.Equal(t, 1, Workers(1, 100))
	assert.Equal(t, min(runtime.NumCPU(), 50), Workers(0, 50))
	assert.Equal(t, 1, Workers(4, 0))
}

func TestRunManyEmpty(t *testing.T) {
	out := RunMany(context.Background(), nil, 4, func(context.Context, int) (int, error) { return 0, nil })
	assert.Empty(t, out)
}
