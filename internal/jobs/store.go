package jobs

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the job row does not exist.
var ErrNotFound = errors.New("job not found")

// Store is the persistence boundary for job state. The executor is the only
// writer of an active job; any number of readers may poll concurrently.
//
// Writes against a missing row or a row that is already terminal are no-ops,
// so a job deleted by an administrative reset never crashes its executor.
type Store interface {
	Create(ctx context.Context, job *Job) (bool, error)
	ResolveOrCreate(ctx context.Context, job *Job) (*Job, bool, error)
	Get(ctx context.Context, jobID string) (*Job, error)
	FindReusable(ctx context.Context, owner *string, sourceURL string) (*Job, error)
	ListActive(ctx context.Context) ([]*Job, error)

	UpdateProgress(ctx context.Context, jobID string, percent int, stage Stage) error
	UpdateSegments(ctx context.Context, jobID string, parts []Segment) error
	MarkDone(ctx context.Context, jobID string, update DoneUpdate) error
	MarkFailed(ctx context.Context, jobID string, message string) error

	DeleteByOwner(ctx context.Context, owner string) ([]*Job, error)
}
