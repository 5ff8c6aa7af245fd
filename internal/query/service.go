// Package query is the service boundary for submitting match requests and reading results.
package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// ErrBusy is returned when a job cannot be accepted right now.
var ErrBusy = errors.New("match queue is full")

// Enqueuer hands a pending job to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item pricing.QueueItem) error
}

// Outcome is what a caller sees for a job. Running jobs report pending.
type Outcome struct {
	JobID       string                     `json:"job_id"`
	ProductID   string                     `json:"product_id"`
	Status      pricing.JobStatus          `json:"status"`
	Result      *pricing.MatchResult       `json:"result,omitempty"`
	Diagnostics []pricing.SourceDiagnostic `json:"diagnostics,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Cached      bool                       `json:"cached"`
}

// Service accepts match requests and answers result queries.
type Service struct {
	jobs   pricing.JobStore
	cache  pricing.ResultCache
	queue  Enqueuer
	ids    pricing.IDGenerator
	clock  pricing.Clock
	logger *zap.Logger
}

// NewService wires the query service. cache may be nil.
func NewService(
	jobs pricing.JobStore,
	cache pricing.ResultCache,
	queue Enqueuer,
	ids pricing.IDGenerator,
	clock pricing.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{jobs: jobs, cache: cache, queue: queue, ids: ids, clock: clock, logger: logger}
}

// SubmitMatch validates product and returns a job ID. A live cached result yields a job
// that is already completed; otherwise the job is queued.
func (s *Service) SubmitMatch(ctx context.Context, product pricing.ReferenceProduct) (string, error) {
	if err := product.Validate(); err != nil {
		return "", err
	}
	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := pricing.Job{ID: jobID, Product: product, Status: pricing.JobStatusPending, SubmittedAt: now}

	if s.cache != nil {
		if result, ok := s.cache.Get(ctx, product.ID); ok {
			job.Status = pricing.JobStatusCompleted
			job.Cached = true
			job.Result = &result
			job.FinishedAt = &now
			if err := s.jobs.CreateJob(ctx, job); err != nil {
				return "", fmt.Errorf("create cached job: %w", err)
			}
			s.logger.Debug("served match from cache",
				zap.String("job_id", jobID),
				zap.String("product_id", product.ID),
				zap.String("source_job_id", result.JobID),
			)
			return jobID, nil
		}
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	item := pricing.QueueItem{JobID: jobID, Product: product, Submitted: now}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		s.abandon(ctx, jobID, err)
		return "", fmt.Errorf("%w: %v", ErrBusy, err)
	}
	s.logger.Info("match job queued", zap.String("job_id", jobID), zap.String("product_id", product.ID))
	return jobID, nil
}

// GetResult reports the current outcome of a job.
func (s *Service) GetResult(ctx context.Context, jobID string) (Outcome, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get job: %w", err)
	}
	return outcomeOf(job), nil
}

// Await blocks until the job is terminal or ctx ends. On ctx expiry it returns the
// latest outcome together with the context error.
func (s *Service) Await(ctx context.Context, jobID string) (Outcome, error) {
	job, err := s.jobs.Wait(ctx, jobID)
	if err != nil {
		if errors.Is(err, pricing.ErrJobNotFound) {
			return Outcome{}, fmt.Errorf("await job: %w", err)
		}
		return outcomeOf(job), fmt.Errorf("await job: %w", err)
	}
	return outcomeOf(job), nil
}

// abandon marks a job that never reached the queue as failed so waiters do not hang.
func (s *Service) abandon(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.jobs.MarkRunning(ctx, jobID); err != nil {
		s.logger.Warn("abandon job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := s.jobs.FinishJob(ctx, jobID, pricing.JobStatusFailed, nil, nil, cause.Error()); err != nil {
		s.logger.Warn("abandon job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func outcomeOf(job pricing.Job) Outcome {
	status := job.Status
	if status == pricing.JobStatusRunning {
		status = pricing.JobStatusPending
	}
	return Outcome{
		JobID:       job.ID,
		ProductID:   job.Product.ID,
		Status:      status,
		Result:      job.Result,
		Diagnostics: job.Diagnostics,
		Error:       job.Error,
		Cached:      job.Cached,
	}
}
