package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DispatchBeforeStartFails(t *testing.T) {
	p := NewPool(1)
	err := p.Dispatch(context.Background(), Task{JobID: "job-1"})
	assert.ErrorIs(t, err, ErrPoolNotStarted)
}

func TestPool_RunsTasks(t *testing.T) {
	for _, workers := range []int{0, 2} {
		p := NewPool(workers)
		var mu sync.Mutex
		seen := map[string]bool{}
		p.Start(func(_ context.Context, task Task) {
			mu.Lock()
			seen[task.JobID] = true
			mu.Unlock()
		})

		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, p.Dispatch(context.Background(), Task{JobID: id}))
		}

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 3
		}, time.Second, 10*time.Millisecond, "workers=%d", workers)

		require.NoError(t, p.Stop(context.Background()))
	}
}

func TestPool_DispatchDoesNotWaitForTask(t *testing.T) {
	p := NewPool(0)
	release := make(chan struct{})
	var done atomic.Bool
	p.Start(func(_ context.Context, _ Task) {
		<-release
		done.Store(true)
	})

	require.NoError(t, p.Dispatch(context.Background(), Task{JobID: "slow"}))
	assert.False(t, done.Load())

	close(release)
	require.NoError(t, p.Stop(context.Background()))
	assert.True(t, done.Load())
}

func TestPool_StopRejectsNewTasks(t *testing.T) {
	p := NewPool(1)
	p.Start(func(context.Context, Task) {})
	require.NoError(t, p.Stop(context.Background()))

	err := p.Dispatch(context.Background(), Task{JobID: "late"})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_StopHonorsDeadline(t *testing.T) {
	p := NewPool(0)
	release := make(chan struct{})
	defer close(release)
	p.Start(func(context.Context, Task) { <-release })
	require.NoError(t, p.Dispatch(context.Background(), Task{JobID: "stuck"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1)
	var ran atomic.Int32
	p.Start(func(_ context.Context, task Task) {
		ran.Add(1)
		if task.JobID == "bad" {
			panic("boom")
		}
	})

	require.NoError(t, p.Dispatch(context.Background(), Task{JobID: "bad"}))
	require.NoError(t, p.Dispatch(context.Background(), Task{JobID: "good"}))

	require.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
}
