package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore is an in-memory Store with the same guard semantics as the
// SQLite store: terminal and missing rows ignore writes.
type memoryStore struct {
	mu   sync.Mutex
	rows map[string]*Job
	seq  int
	now  func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]*Job), now: time.Now}
}

func (s *memoryStore) put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	tmp := cloneJob(job)
	if tmp.CreatedAt.IsZero() {
		tmp.CreatedAt = s.now().Add(time.Duration(s.seq))
	}
	s.rows[job.ID] = tmp
}

func (s *memoryStore) Create(_ context.Context, job *Job) (bool, error) {
	s.mu.Lock()
	_, exists := s.rows[job.ID]
	s.mu.Unlock()
	if exists {
		return false, nil
	}
	s.put(job)
	return true, nil
}

func (s *memoryStore) ResolveOrCreate(ctx context.Context, job *Job) (*Job, bool, error) {
	s.mu.Lock()
	existing := s.findReusableLocked(job.Owner, job.SourceURL)
	s.mu.Unlock()
	if existing != nil {
		return existing, false, nil
	}
	created, err := s.Create(ctx, job)
	return nil, created, err
}

func (s *memoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *memoryStore) FindReusable(_ context.Context, owner *string, sourceURL string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findReusableLocked(owner, sourceURL), nil
}

func (s *memoryStore) findReusableLocked(owner *string, sourceURL string) *Job {
	var best *Job
	for _, job := range s.rows {
		if job.SourceURL != sourceURL || !sameOwner(job.Owner, owner) || !job.Status.Reusable() {
			continue
		}
		if best == nil || job.CreatedAt.After(best.CreatedAt) {
			best = job
		}
	}
	return cloneJob(best)
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *memoryStore) ListActive(_ context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.rows {
		if !job.Status.Terminal() {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) active(id string) *Job {
	job, ok := s.rows[id]
	if !ok || job.Status.Terminal() {
		return nil
	}
	return job
}

func (s *memoryStore) UpdateProgress(_ context.Context, id string, percent int, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.active(id)
	if job == nil {
		return nil
	}
	job.Status = StatusProcessing
	job.Stage = stage
	if percent > job.ProgressPercent {
		job.ProgressPercent = min(percent, 99)
	}
	if job.StartedAt == nil {
		now := s.now()
		job.StartedAt = &now
	}
	return nil
}

func (s *memoryStore) UpdateSegments(_ context.Context, id string, parts []Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job := s.active(id); job != nil {
		job.Metadata.Parts = CloneSegments(parts)
	}
	return nil
}

func (s *memoryStore) MarkDone(_ context.Context, id string, update DoneUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.active(id)
	if job == nil {
		return nil
	}
	job.Status = StatusDone
	job.Stage = StageDone
	job.ProgressPercent = 100
	if update.Output != "" {
		job.Metadata.Output = update.Output
	}
	if update.Parts != nil {
		job.Metadata.Parts = CloneSegments(update.Parts)
	}
	now := s.now()
	job.FinishedAt = &now
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.active(id)
	if job == nil {
		return nil
	}
	job.Status = StatusFailed
	job.Stage = StageFailed
	job.ErrorMessage = message
	now := s.now()
	job.FinishedAt = &now
	return nil
}

func (s *memoryStore) DeleteByOwner(_ context.Context, owner string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for id, job := range s.rows {
		if job.Owner != nil && *job.Owner == owner {
			out = append(out, cloneJob(job))
			delete(s.rows, id)
		}
	}
	return out, nil
}
