// Package worker runs queued match jobs and records their outcome.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/metrics"
	"github.com/JakeFAU/realtime-price-matcher/internal/orchestrator"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives a match event for every terminal job. Empty disables publishing.
	Topic    string
	CacheTTL time.Duration
}

// Runner executes one job across the configured sources.
type Runner interface {
	Run(ctx context.Context, jobID string, product pricing.ReferenceProduct,
		adapters []pricing.SourceAdapter) orchestrator.Outcome
}

// Event is the payload published when a job reaches a terminal state.
type Event struct {
	JobID       string                     `json:"job_id"`
	ProductID   string                     `json:"product_id"`
	Status      pricing.JobStatus          `json:"status"`
	PriceMinor  *int64                     `json:"price_minor,omitempty"`
	Currency    string                     `json:"currency"`
	ListingURL  string                     `json:"listing_url,omitempty"`
	Sources     []string                   `json:"sources,omitempty"`
	Diagnostics []pricing.SourceDiagnostic `json:"diagnostics,omitempty"`
	Error       string                     `json:"error,omitempty"`
	FinishedAt  time.Time                  `json:"finished_at"`
}

// Worker consumes queue items and runs the match pipeline.
type Worker struct {
	queue     pricing.Queue
	jobStore  pricing.JobStore
	cache     pricing.ResultCache
	publisher pricing.Publisher
	runner    Runner
	adapters  []pricing.SourceAdapter
	clock     pricing.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. cache and publisher may be nil.
func New(
	queue pricing.Queue,
	jobStore pricing.JobStore,
	cache pricing.ResultCache,
	publisher pricing.Publisher,
	runner Runner,
	adapters []pricing.SourceAdapter,
	clock pricing.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		cache:     cache,
		publisher: publisher,
		runner:    runner,
		adapters:  adapters,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item pricing.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("product_id", item.Product.ID))
	if err := w.jobStore.MarkRunning(ctx, item.JobID); err != nil {
		logger.Error("mark job running failed", zap.Error(err))
		return
	}

	out := w.runner.Run(ctx, item.JobID, item.Product, w.adapters)

	// Terminal state is recorded even when shutdown cancels ctx.
	recordCtx := context.WithoutCancel(ctx)
	if out.Status == pricing.JobStatusCompleted && out.Result != nil && w.cache != nil {
		if !w.cache.Put(recordCtx, item.Product.ID, *out.Result, w.cfg.CacheTTL) {
			logger.Debug("cache kept a newer result")
		}
	}

	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	if err := w.jobStore.FinishJob(recordCtx, item.JobID, out.Status, out.Result, out.Diagnostics, errText); err != nil {
		logger.Error("finish job failed", zap.Error(err))
		return
	}
	w.publish(recordCtx, item, out, errText)
}

func (w *Worker) publish(ctx context.Context, item pricing.QueueItem, out orchestrator.Outcome, errText string) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := Event{
		JobID:       item.JobID,
		ProductID:   item.Product.ID,
		Status:      out.Status,
		Currency:    item.Product.Currency,
		Diagnostics: out.Diagnostics,
		Error:       errText,
		FinishedAt:  w.clock.Now(),
	}
	if out.Result != nil {
		event.Sources = out.Result.Sources
		if winner := out.Result.Winner; winner != nil {
			price := winner.Listing.PriceMinor
			event.PriceMinor = &price
			event.ListingURL = winner.Listing.URL
		}
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Warn("publish match event failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("published match event", zap.String("job_id", item.JobID), zap.String("message_id", msgID))
}
