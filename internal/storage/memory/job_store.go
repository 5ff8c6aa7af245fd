package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// ErrJobExists is returned when a job ID is reused.
var ErrJobExists = errors.New("job already exists")

type jobRecord struct {
	job  pricing.Job
	done chan struct{}
}

// JobStore provides an in-memory job store. Terminal jobs close a per-job done channel
// so waiters wake without polling.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*jobRecord
	clock func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]*jobRecord),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job. A job created in a terminal state is immediately done.
func (s *JobStore) CreateJob(_ context.Context, job pricing.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	rec := &jobRecord{job: job, done: make(chan struct{})}
	if job.Status.Terminal() {
		close(rec.done)
	}
	s.jobs[job.ID] = rec
	return nil
}

// MarkRunning moves a pending job to running.
func (s *JobStore) MarkRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", pricing.ErrJobNotFound, jobID)
	}
	if !rec.job.Status.CanTransition(pricing.JobStatusRunning) {
		return fmt.Errorf("job %s: cannot move from %s to running", jobID, rec.job.Status)
	}
	rec.job.Status = pricing.JobStatusRunning
	rec.job.StartedAt = pointerTime(s.clock())
	return nil
}

// FinishJob records the terminal state of a running job and wakes waiters.
func (s *JobStore) FinishJob(
	_ context.Context,
	jobID string,
	status pricing.JobStatus,
	result *pricing.MatchResult,
	diags []pricing.SourceDiagnostic,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", pricing.ErrJobNotFound, jobID)
	}
	if !rec.job.Status.CanTransition(status) {
		return fmt.Errorf("job %s: cannot move from %s to %s", jobID, rec.job.Status, status)
	}
	rec.job.Status = status
	rec.job.Result = result
	rec.job.Diagnostics = slices.Clone(diags)
	rec.job.Error = errText
	rec.job.FinishedAt = pointerTime(s.clock())
	close(rec.done)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pricing.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return pricing.Job{}, fmt.Errorf("%w: %s", pricing.ErrJobNotFound, jobID)
	}
	return rec.job, nil
}

// Wait blocks until the job is terminal or ctx ends, then returns its latest state.
func (s *JobStore) Wait(ctx context.Context, jobID string) (pricing.Job, error) {
	s.mu.RLock()
	rec, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return pricing.Job{}, fmt.Errorf("%w: %s", pricing.ErrJobNotFound, jobID)
	}
	select {
	case <-rec.done:
	case <-ctx.Done():
		job, _ := s.GetJob(context.Background(), jobID)
		return job, fmt.Errorf("wait for job %s: %w", jobID, ctx.Err())
	}
	return s.GetJob(ctx, jobID)
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
