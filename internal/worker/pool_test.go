package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whatif-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_ProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	pool := NewPool(Config{Workers: 3, QueueSize: 10}, JobHandlerFunc(func(ctx context.Context, job models.GenerationJob) {
		mu.Lock()
		seen[job.RunID] = true
		mu.Unlock()
	}), zap.NewNop())
	pool.Start()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, pool.Dispatch(context.Background(), models.GenerationJob{RunID: id}))
	}
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Len(t, seen, 4)
}

func TestPool_DispatchDoesNotBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(Config{Workers: 1, QueueSize: 1}, JobHandlerFunc(func(ctx context.Context, job models.GenerationJob) {
		<-release
	}), zap.NewNop())
	pool.Start()

	require.NoError(t, pool.Dispatch(context.Background(), models.GenerationJob{RunID: "busy"}))
	// Ждем, пока воркер заберет первую задачу из очереди
	require.Eventually(t, func() bool { return len(pool.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Dispatch(context.Background(), models.GenerationJob{RunID: "queued"}))

	start := time.Now()
	err := pool.Dispatch(context.Background(), models.GenerationJob{RunID: "overflow"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_RecoversFromPanic(t *testing.T) {
	var processed atomic.Int32
	pool := NewPool(Config{Workers: 1, QueueSize: 4}, JobHandlerFunc(func(ctx context.Context, job models.GenerationJob) {
		if job.RunID == "boom" {
			panic("generation exploded")
		}
		processed.Add(1)
	}), zap.NewNop())
	pool.Start()

	require.NoError(t, pool.Dispatch(context.Background(), models.GenerationJob{RunID: "boom"}))
	require.NoError(t, pool.Dispatch(context.Background(), models.GenerationJob{RunID: "ok"}))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, int32(1), processed.Load())
}

func TestPool_DispatchAfterShutdown(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 1}, JobHandlerFunc(func(context.Context, models.GenerationJob) {}), zap.NewNop())
	pool.Start()
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.ErrorIs(t, pool.Dispatch(context.Background(), models.GenerationJob{}), ErrPoolClosed)
}

func TestPool_ShutdownDeadlineCancelsJobs(t *testing.T) {
	canceled := make(chan struct{})
	pool := NewPool(Config{Workers: 1, QueueSize: 1}, JobHandlerFunc(func(ctx context.Context, job models.GenerationJob) {
		<-ctx.Done()
		close(canceled)
	}), zap.NewNop())
	pool.Start()
	require.NoError(t, pool.Dispatch(context.Background(), models.GenerationJob{RunID: "slow"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("running job was not canceled")
	}
}
