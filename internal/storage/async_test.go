package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notekit/nbstore/internal/logging"
)

func TestTaskQueueRunsTasksInOrder(t *testing.T) {
	q := newTaskQueue(logging.NewNopLogger(), 16)
	defer q.Close()

	var seen []int
	for i := 1; i <= 3; i++ {
		ok := q.Enqueue("t", time.Second, func(context.Context) error {
			seen = append(seen, i)
			return nil
		})
		require.True(t, ok)
	}
	q.Flush()

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Zero(t, q.Failures())
}

func TestTaskQueueCountsFailures(t *testing.T) {
	q := newTaskQueue(logging.NewNopLogger(), 16)
	defer q.Close()

	q.Enqueue("boom", time.Second, func(context.Context) error {
		return errors.New("boom")
	})
	q.Enqueue("fine", time.Second, func(context.Context) error { return nil })
	q.Flush()

	assert.Equal(t, uint64(1), q.Failures())
}

func TestTaskQueueDropsWhenFull(t *testing.T) {
	q := newTaskQueue(logging.NewNopLogger(), 1)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, q.Enqueue("block", time.Minute, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	// Worker is busy; one task fits in the buffer, the next is dropped
	require.True(t, q.Enqueue("buffered", time.Second, func(context.Context) error { return nil }))
	assert.False(t, q.Enqueue("dropped", time.Second, func(context.Context) error { return nil }))

	close(release)
	q.Flush()
}

func TestTaskQueueRejectsAfterClose(t *testing.T) {
	q := newTaskQueue(logging.NewNopLogger(), 4)

	var ran atomic.Bool
	q.Enqueue("t", time.Second, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	q.Close()

	// Close drains what was queued and refuses new work
	assert.True(t, ran.Load())
	assert.False(t, q.Enqueue("late", time.Second, func(context.Context) error { return nil }))

	// Closing again and flushing a closed queue are no-ops
	q.Close()
	q.Flush()
}

func TestTaskQueueCloseRacesWithEnqueue(t *testing.T) {
	q := newTaskQueue(logging.NewNopLogger(), 16)

	// Hammer the queue from several goroutines while Close runs; a send must
	// never land on the closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				q.Enqueue("bump", time.Second, func(context.Context) error { return nil })
			}
		}()
	}
	q.Close()
	wg.Wait()

	assert.False(t, q.Enqueue("late", time.Second, func(context.Context) error { return nil }))
}
