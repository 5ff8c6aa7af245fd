// Package orchestrator fans a match job out to every source adapter and joins the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/realtime-price-matcher/internal/matcher"
	"github.com/JakeFAU/realtime-price-matcher/internal/metrics"
	"github.com/JakeFAU/realtime-price-matcher/internal/normalize"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
	"github.com/JakeFAU/realtime-price-matcher/internal/telemetry"
)

// Config bounds one orchestrator.
type Config struct {
	MaxConcurrency int
	AdapterTimeout time.Duration
	JobDeadline    time.Duration
	RetryLimit     int
	RetryBackoff   time.Duration
	BlockedBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 10 * time.Second
	}
	if c.JobDeadline <= 0 {
		c.JobDeadline = 30 * time.Second
	}
	return c
}

// Limiter spaces requests to the same source.
type Limiter interface {
	Wait(ctx context.Context, source string) error
}

// Outcome is the terminal state of one job run.
type Outcome struct {
	Status      pricing.JobStatus
	Result      *pricing.MatchResult
	Diagnostics []pricing.SourceDiagnostic
	Err         error
}

// Orchestrator runs match jobs against a shared, bounded adapter pool.
type Orchestrator struct {
	cfg     Config
	pool    *semaphore.Weighted
	limiter Limiter
	retry   *RetryPolicy
	matcher *matcher.Matcher
	clock   pricing.Clock
	logger  *zap.Logger
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLimiter installs a per-source rate limiter.
func WithLimiter(l Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRetryPolicy overrides the policy derived from Config.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.retry = p
		}
	}
}

// New wires an orchestrator. The matcher and clock are required.
func New(cfg Config, m *matcher.Matcher, clk pricing.Clock, opts ...Option) (*Orchestrator, error) {
	if m == nil {
		return nil, errors.New("orchestrator: matcher is required")
	}
	if clk == nil {
		return nil, errors.New("orchestrator: clock is required")
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:     cfg,
		pool:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		retry:   NewRetryPolicy(cfg.RetryLimit, cfg.RetryBackoff, cfg.BlockedBackoff),
		matcher: m,
		clock:   clk,
		logger:  zap.NewNop(),
		tracer:  telemetry.Tracer(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type sourceOutcome struct {
	index    int
	listings []pricing.RawListing
	attempts int
	err      error
}

// Run executes one job. It returns when every adapter has reported or the job deadline passes,
// whichever comes first; late results are discarded.
func (o *Orchestrator) Run(ctx context.Context, jobID string, product pricing.ReferenceProduct,
	adapters []pricing.SourceAdapter,
) Outcome {
	start := o.clock.Now()
	ctx, span := o.tracer.Start(ctx, "match.job", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("product.id", product.ID),
		attribute.Int("sources", len(adapters)),
	))
	defer span.End()
	logger := o.logger.With(zap.String("job_id", jobID), zap.String("product_id", product.ID))

	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobDeadline)
	defer cancel()

	query := product.SearchQuery()
	results := make(chan sourceOutcome, len(adapters))
	for i, adapter := range adapters {
		go func() {
			results <- o.fetchSource(jobCtx, i, adapter, query)
		}()
	}

	reported, timedOut := collect(jobCtx, results, len(adapters))
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		timedOut = true
	}
	cancel()

	var (
		diags     []pricing.SourceDiagnostic
		listings  []pricing.NormalizedListing
		succeeded int
	)
	for i, adapter := range adapters {
		settings := adapter.Settings()
		r := reported[i]
		if r == nil {
			diags = append(diags, pricing.SourceDiagnostic{
				Source: settings.Name,
				Status: pricing.SourceAbsent,
				Reason: pricing.ReasonCanceled,
			})
			continue
		}
		if r.err != nil {
			diags = append(diags, pricing.SourceDiagnostic{
				Source:   settings.Name,
				Status:   pricing.SourceAbsent,
				Reason:   failureReason(r.err),
				Attempts: r.attempts,
			})
			continue
		}
		succeeded++
		normalized, dropped := normalize.Batch(r.listings, settings)
		metrics.ObserveListings(settings.Name, len(normalized), dropped)
		listings = append(listings, normalized...)
		diags = append(diags, pricing.SourceDiagnostic{
			Source:   settings.Name,
			Status:   pricing.SourceOK,
			Attempts: r.attempts,
			Listings: len(normalized),
			Dropped:  dropped,
		})
	}

	status := pricing.JobStatusCompleted
	switch {
	case ctx.Err() != nil:
		status = pricing.JobStatusFailed
	case timedOut:
		status = pricing.JobStatusTimedOut
	case succeeded == 0:
		status = pricing.JobStatusFailed
	}
	span.SetAttributes(attribute.String("job.status", string(status)), attribute.Int("sources.ok", succeeded))

	if status == pricing.JobStatusFailed {
		err := pricing.ErrAllSourcesFailed
		if ctx.Err() != nil {
			err = fmt.Errorf("job canceled: %w", ctx.Err())
		}
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("match job failed", zap.Error(err), zap.Int("sources", len(adapters)))
		metrics.ObserveJob(string(status), o.clock.Now().Sub(start))
		return Outcome{Status: status, Diagnostics: diags, Err: err}
	}

	eval := o.matcher.Match(product, listings)
	result := &pricing.MatchResult{
		JobID:       jobID,
		ProductID:   product.ID,
		Winner:      eval.Winner,
		Candidates:  eval.Candidates,
		Offers:      eval.Offers,
		Sources:     contributors(eval.Candidates),
		CompletedAt: o.clock.Now(),
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("sources_ok", succeeded),
		zap.Int("candidates", len(eval.Candidates)),
	}
	if eval.Winner != nil {
		fields = append(fields, zap.String("winner", eval.Winner.Listing.ID),
			zap.Int64("price_minor", eval.Winner.Listing.PriceMinor))
	}
	logger.Info("match job finished", fields...)
	metrics.ObserveJob(string(status), result.CompletedAt.Sub(start))

	return Outcome{Status: status, Result: result, Diagnostics: diags}
}

// collect gathers up to n outcomes until jobCtx ends. Outcomes already buffered when the
// deadline fires are kept; anything later is left unreported.
func collect(jobCtx context.Context, results <-chan sourceOutcome, n int) ([]*sourceOutcome, bool) {
	reported := make([]*sourceOutcome, n)
	for received := 0; received < n; received++ {
		select {
		case r := <-results:
			reported[r.index] = &r
		case <-jobCtx.Done():
			for {
				select {
				case r := <-results:
					reported[r.index] = &r
				default:
					return reported, true
				}
			}
		}
	}
	return reported, false
}

// fetchSource runs one adapter with retries. It never outlives jobCtx by more than one attempt.
func (o *Orchestrator) fetchSource(jobCtx context.Context, index int, adapter pricing.SourceAdapter,
	query string,
) sourceOutcome {
	name := adapter.Settings().Name
	ctx, span := o.tracer.Start(jobCtx, "match.source", trace.WithAttributes(attribute.String("source", name)))
	defer span.End()

	out := sourceOutcome{index: index}
	blockedRetries := 0
	for attempt := 1; ; attempt++ {
		out.attempts = attempt
		listings, err := o.attempt(ctx, adapter, query)
		if err == nil {
			out.listings = listings
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Int("listings", len(listings)))
			return out
		}
		out.err = err
		if ctx.Err() != nil {
			break
		}
		kind := pricing.KindOf(err)
		delay, retry := o.retry.Next(kind, attempt, blockedRetries)
		o.logger.Debug("source attempt failed",
			zap.String("source", name),
			zap.Int("attempt", attempt),
			zap.Stringer("kind", kind),
			zap.Bool("retry", retry),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if !retry {
			break
		}
		if kind == pricing.KindBlocked {
			blockedRetries++
		}
		if err := o.sleep(ctx, delay); err != nil {
			break
		}
	}
	span.SetAttributes(attribute.Int("attempts", out.attempts))
	span.SetStatus(codes.Error, out.err.Error())
	return out
}

type fetchResult struct {
	listings []pricing.RawListing
	err      error
}

// attempt runs one adapter call inside a pool slot under the per-call timeout.
// The slot is held until the adapter returns, even when the timeout fires first.
func (o *Orchestrator) attempt(ctx context.Context, adapter pricing.SourceAdapter,
	query string,
) ([]pricing.RawListing, error) {
	name := adapter.Settings().Name
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, name); err != nil {
			return nil, pricing.NewSourceError(name, pricing.KindTimeout, err)
		}
	}
	if err := o.pool.Acquire(ctx, 1); err != nil {
		return nil, pricing.NewSourceError(name, pricing.KindTimeout, fmt.Errorf("acquire slot: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	start := o.clock.Now()
	done := make(chan fetchResult, 1)
	go func() {
		defer o.pool.Release(1)
		listings, err := adapter.Fetch(callCtx, query)
		done <- fetchResult{listings: listings, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = fetchResult{err: callCtx.Err()}
	}
	if res.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res.err = pricing.NewSourceError(name, pricing.KindTimeout, res.err)
	}

	outcome := pricing.SourceOK
	if res.err != nil {
		outcome = pricing.KindOf(res.err).String()
	}
	metrics.ObserveSourceFetch(name, outcome, o.clock.Now().Sub(start))
	return res.listings, res.err
}

func failureReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return pricing.ReasonCanceled
	}
	return pricing.KindOf(err).String()
}

func contributors(candidates []pricing.MatchCandidate) []string {
	sources := make([]string, 0, len(candidates))
	for _, c := range candidates {
		sources = append(sources, c.Listing.Source)
	}
	slices.Sort(sources)
	return slices.Compact(sources)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
