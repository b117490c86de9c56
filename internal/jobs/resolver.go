package jobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/storyclip/pkg/log"
)

// Submitter hands a freshly created job to the queue runtime.
type Submitter interface {
	NewID() string
	Submit(jobID string) error
}

// ValidationError marks a request the caller must fix before retrying.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Resolver returns an existing reusable job for (owner, source) or creates
// and enqueues a new one.
type Resolver struct {
	store Store
	queue Submitter
	now   func() time.Time
}

func NewResolver(store Store, queue Submitter) *Resolver {
	return &Resolver{
		store: store,
		queue: queue,
		now:   time.Now,
	}
}

func (r *Resolver) Resolve(ctx context.Context, req EnqueueRequest) (Resolution, error) {
	source, err := ValidateSourceURL(req.SourceURL)
	if err != nil {
		return Resolution{}, err
	}
	owner := normalizeOwner(req.RequesterID)
	if req.Profile != nil {
		if err := DefaultProfile().Merge(req.Profile).Validate(); err != nil {
			return Resolution{}, err
		}
	}

	now := r.now().UTC()
	candidate := &Job{
		ID:        r.queue.NewID(),
		Owner:     owner,
		SourceURL: source,
		Status:    StatusQueued,
		Stage:     StageQueued,
		Metadata:  Metadata{Profile: req.Profile},
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, created, err := r.store.ResolveOrCreate(ctx, candidate)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve job: %w", err)
	}
	if !created && existing != nil {
		progress := Project(existing).Progress
		log.Info("Reusing job %s for %s", existing.ID, source)
		return Resolution{
			JobID:    existing.ID,
			Status:   existing.Status,
			Reused:   true,
			Progress: &progress,
			Stage:    existing.Stage,
		}, nil
	}

	if err := r.queue.Submit(candidate.ID); err != nil {
		if markErr := r.store.MarkFailed(ctx, candidate.ID, "enqueue failed: "+err.Error()); markErr != nil {
			log.Error("Failed to mark unsubmitted job %s failed: %v", candidate.ID, markErr)
		}
		return Resolution{}, fmt.Errorf("submit job: %w", err)
	}
	log.Info("Enqueued job %s for %s", candidate.ID, source)
	return Resolution{
		JobID:  candidate.ID,
		Status: StatusQueued,
		Reused: false,
	}, nil
}

// ValidateSourceURL accepts only absolute http(s) URLs with a host.
func ValidateSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "source_url", Message: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "source_url", Message: "is not a valid url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "source_url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "source_url", Message: "host is required"}
	}
	return raw, nil
}

func normalizeOwner(owner *string) *string {
	if owner == nil {
		return nil
	}
	v := strings.TrimSpace(*owner)
	if v == "" {
		return nil
	}
	return &v
}
