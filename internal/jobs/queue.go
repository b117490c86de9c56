package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MimeLyc/storyclip/pkg/log"
	"github.com/google/uuid"
)

var ErrQueueStopped = errors.New("queue is stopped")

// Attempt tells the executor which run of a job it is executing.
type Attempt struct {
	Number int
	Max    int
}

// Final reports whether no further retry will follow a failure.
func (a Attempt) Final() bool {
	return a.Number >= a.Max
}

type attemptKey struct{}

func WithAttempt(ctx context.Context, a Attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

// AttemptFrom returns the attempt stored in ctx, or a single final attempt.
func AttemptFrom(ctx context.Context) Attempt {
	if a, ok := ctx.Value(attemptKey{}).(Attempt); ok && a.Number > 0 {
		return a
	}
	return Attempt{Number: 1, Max: 1}
}

// Queue is the in-process runtime jobs execute inside: a fixed pool of
// workers, at-least-once delivery and a fixed number of whole-job retries.
// One job occupies one worker for its entire lifetime.
type Queue struct {
	workerCount int
	maxRetries  int
	retryDelay  time.Duration
	store       Store

	mu         sync.Mutex
	attempts   map[string]int
	started    bool
	stopped    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	// runCtx is cancelled by Stop so running attempts return promptly.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

type QueueOption func(*Queue)

func WithRetries(maxRetries int, delay time.Duration) QueueOption {
	return func(q *Queue) {
		if maxRetries >= 0 {
			q.maxRetries = maxRetries
		}
		if delay >= 0 {
			q.retryDelay = delay
		}
	}
}

func NewQueue(workerCount int, store Store, opts ...QueueOption) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	q := &Queue{
		runCtx:      runCtx,
		cancelRun:   cancelRun,
		workerCount: workerCount,
		maxRetries:  3,
		retryDelay:  5 * time.Second,
		store:       store,
		attempts:    make(map[string]int),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewID issues the opaque token used as the job identity.
func (q *Queue) NewID() string {
	return uuid.NewString()
}

func (q *Queue) Submit(jobID string) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return ErrQueueStopped
	}
	q.enqueuePendingID(jobID)
	return nil
}

// Start recovers queued and interrupted jobs from the store and launches the
// workers. Interrupted jobs restart from scratch.
func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.recoverFromStore(context.Background())

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.stopCh)
		q.cancelRun()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			q.run(exec, id)
		}
	}
}

func (q *Queue) run(exec Executor, id string) {
	ctx := q.runCtx
	job, err := q.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error("Failed to load job %s: %v", id, err)
		}
		q.forget(id)
		return
	}
	if job.Status.Terminal() {
		q.forget(id)
		return
	}

	q.mu.Lock()
	q.attempts[id]++
	attempt := Attempt{Number: q.attempts[id], Max: q.maxRetries + 1}
	q.mu.Unlock()

	runErr := exec(WithAttempt(ctx, attempt), job)
	if runErr == nil {
		q.forget(id)
		return
	}
	log.Error("Job %s attempt %d/%d failed: %v", id, attempt.Number, attempt.Max, runErr)

	if attempt.Final() {
		q.forget(id)
		return
	}
	// the executor marks the row failed when the error is not worth a retry
	current, err := q.store.Get(ctx, id)
	if err != nil || current.Status.Terminal() {
		q.forget(id)
		return
	}
	q.scheduleRetry(id)
}

func (q *Queue) scheduleRetry(id string) {
	if q.retryDelay <= 0 {
		q.enqueuePendingID(id)
		return
	}
	go func() {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.stopCh:
		case <-timer.C:
			q.enqueuePendingID(id)
		}
	}()
}

func (q *Queue) forget(id string) {
	q.mu.Lock()
	delete(q.attempts, id)
	q.mu.Unlock()
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

func (q *Queue) recoverFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	active, err := q.store.ListActive(ctx)
	if err != nil {
		log.Error("Failed to load active jobs from store: %v", err)
		return
	}
	for _, job := range active {
		if job == nil || job.ID == "" {
			continue
		}
		log.Info("Recovering job %s (%s)", job.ID, job.Status)
		q.enqueuePendingID(job.ID)
	}
}
