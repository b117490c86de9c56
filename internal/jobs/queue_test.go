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

func seedJob(t *testing.T, store *memoryStore, id string, status Status) {
	t.Helper()
	store.put(&Job{ID: id, SourceURL: "https://example.com/" + id, Status: status, Stage: Stage(status)})
}

func TestQueue_RunsSubmittedJob(t *testing.T) {
	store := newMemoryStore()
	seedJob(t, store, "j1", StatusQueued)
	q := NewQueue(2, store)

	var ran atomic.Int32
	q.Start(func(ctx context.Context, job *Job) error {
		ran.Add(1)
		assert.Equal(t, Attempt{Number: 1, Max: 4}, AttemptFrom(ctx))
		return store.MarkDone(ctx, job.ID, DoneUpdate{})
	})
	defer q.Stop()

	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), "j1")
		return err == nil && job.Status == StatusDone
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), ran.Load())
}

func TestQueue_RetriesUntilSuccess(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store, WithRetries(3, 0))

	var mu sync.Mutex
	var seen []Attempt
	q.Start(func(ctx context.Context, job *Job) error {
		a := AttemptFrom(ctx)
		mu.Lock()
		seen = append(seen, a)
		mu.Unlock()
		if a.Number < 3 {
			return assert.AnError
		}
		return store.MarkDone(ctx, job.ID, DoneUpdate{})
	})
	defer q.Stop()

	seedJob(t, store, "j1", StatusQueued)
	require.NoError(t, q.Submit("j1"))

	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), "j1")
		return err == nil && job.Status == StatusDone
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Attempt{{1, 4}, {2, 4}, {3, 4}}, seen)
}

func TestQueue_StopsAfterFinalAttempt(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store, WithRetries(1, 0))

	var calls atomic.Int32
	q.Start(func(ctx context.Context, job *Job) error {
		calls.Add(1)
		if AttemptFrom(ctx).Final() {
			_ = store.MarkFailed(ctx, job.ID, "still broken")
		}
		return assert.AnError
	})
	defer q.Stop()

	seedJob(t, store, "j1", StatusQueued)
	require.NoError(t, q.Submit("j1"))

	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), "j1")
		return err == nil && job.Status == StatusFailed
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_DoesNotRetryTerminalJob(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store, WithRetries(3, 0))

	var calls atomic.Int32
	q.Start(func(ctx context.Context, job *Job) error {
		calls.Add(1)
		_ = store.MarkFailed(ctx, job.ID, "tools missing")
		return assert.AnError
	})
	defer q.Stop()

	seedJob(t, store, "j1", StatusQueued)
	require.NoError(t, q.Submit("j1"))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_RecoversActiveJobsOnStart(t *testing.T) {
	store := newMemoryStore()
	seedJob(t, store, "queued", StatusQueued)
	seedJob(t, store, "interrupted", StatusProcessing)
	seedJob(t, store, "finished", StatusDone)
	seedJob(t, store, "broken", StatusFailed)

	var mu sync.Mutex
	ran := map[string]bool{}
	q := NewQueue(2, store)
	q.Start(func(ctx context.Context, job *Job) error {
		mu.Lock()
		ran[job.ID] = true
		mu.Unlock()
		return store.MarkDone(ctx, job.ID, DoneUpdate{})
	})
	defer q.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran["queued"] && ran["interrupted"]
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran["finished"])
	assert.False(t, ran["broken"])
}

func TestQueue_SkipsMissingAndTerminalRows(t *testing.T) {
	store := newMemoryStore()
	seedJob(t, store, "done", StatusDone)
	q := NewQueue(1, store)

	var calls atomic.Int32
	q.Start(func(context.Context, *Job) error {
		calls.Add(1)
		return nil
	})
	defer q.Stop()

	require.NoError(t, q.Submit("missing"))
	require.NoError(t, q.Submit("done"))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestQueue_SubmitAfterStop(t *testing.T) {
	q := NewQueue(1, newMemoryStore())
	q.Start(func(context.Context, *Job) error { return nil })
	q.Stop()

	assert.ErrorIs(t, q.Submit("j1"), ErrQueueStopped)
}

func TestAttemptFrom_DefaultsToSingleFinalAttempt(t *testing.T) {
	a := AttemptFrom(context.Background())
	assert.Equal(t, Attempt{Number: 1, Max: 1}, a)
	assert.True(t, a.Final())
	assert.False(t, Attempt{Number: 1, Max: 4}.Final())
}

func TestQueue_NewIDIsUnique(t *testing.T) {
	q := NewQueue(1, nil)
	assert.NotEqual(t, q.NewID(), q.NewID())
}

func TestQueue_StopCancelsRunningAttempt(t *testing.T) {
	store := newMemoryStore()
	seedJob(t, store, "j1", StatusProcessing)
	q := NewQueue(1, store)

	started := make(chan struct{})
	q.Start(func(ctx context.Context, job *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running attempt")
	}

	job, err := store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status, "interrupted job stays active for recovery")
}
