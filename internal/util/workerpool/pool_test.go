package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolExecutesTasks(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 4, QueueSize: 100, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	var executed int64
	for i := 0; i < 50; i++ {
		err := pool.Submit(Task{
			ID: "task",
			Fn: func(ctx context.Context) error {
				atomic.AddInt64(&executed, 1)
				return nil
			},
		})
		require.NoError(t, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&executed) < 50 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.EqualValues(t, 50, atomic.LoadInt64(&executed))
	assert.EqualValues(t, 50, pool.Stats().CompletedTasks)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 10, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	require.NoError(t, pool.Submit(Task{
		ID: "panics",
		Fn: func(ctx context.Context) error { panic("boom") },
	}))

	var ok int64
	require.NoError(t, pool.Submit(Task{
		ID: "survives",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&ok, 1)
			return nil
		},
	}))

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&ok) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&ok))
	assert.EqualValues(t, 1, pool.Stats().FailedTasks)
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the single queue slot.
	require.NoError(t, pool.Submit(Task{ID: "blocker", Fn: func(ctx context.Context) error {
		<-block
		return nil
	}}))

	var rejected bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(Task{ID: "filler", Fn: func(ctx context.Context) error { return nil }}); err != nil {
			rejected = true
			break
		}
	}
	assert.True(t, rejected)
	assert.NotZero(t, pool.Stats().RejectedTasks)
}

func TestPoolRefusesAfterStop(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 10, Logger: zap.NewNop()})
	require.NoError(t, pool.Stop(time.Second))

	err := pool.Submit(Task{ID: "late", Fn: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestSubmitWithContextCancellation(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	block := make(chan struct{})
	started := make(chan struct{})
	defer close(block)
	require.NoError(t, pool.Submit(Task{ID: "blocker", Fn: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	// Fill the queue slot once the worker is occupied.
	<-started
	require.NoError(t, pool.Submit(Task{ID: "filler", Fn: func(ctx context.Context) error { return nil }}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.SubmitWithContext(ctx, Task{ID: "waiter", Fn: func(c context.Context) error { return nil }})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
