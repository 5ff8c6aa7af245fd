// Package pricing defines the core types shared across the matcher subsystems.
package pricing

import "time"

// JobStatus represents the lifecycle state of a match job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// PriceBand is the expected price range of a reference product in minor units.
type PriceBand struct {
	MinMinor int64 `json:"min_minor" validate:"gte=0"`
	MaxMinor int64 `json:"max_minor" validate:"gte=0"`
}

// Expected returns the band midpoint, or zero when no band is set.
func (b PriceBand) Expected() int64 {
	if b.MinMinor <= 0 && b.MaxMinor <= 0 {
		return 0
	}
	if b.MaxMinor <= 0 {
		return b.MinMinor
	}
	return (b.MinMinor + b.MaxMinor) / 2
}

// ReferenceProduct is the item whose lowest price is being sought.
type ReferenceProduct struct {
	ID        string    `json:"id" validate:"required,max=128"`
	Title     string    `json:"title" validate:"required,max=512"`
	Currency  string    `json:"currency" validate:"required,iso4217"`
	Brand     string    `json:"brand,omitempty" validate:"max=128"`
	Model     string    `json:"model,omitempty" validate:"max=128"`
	Query     string    `json:"query,omitempty" validate:"max=512"`
	PriceBand PriceBand `json:"price_band"`
}

// SearchQuery returns the query string sent to source adapters.
func (p ReferenceProduct) SearchQuery() string {
	if p.Query != "" {
		return p.Query
	}
	if p.Brand != "" {
		return p.Brand + " " + p.Title
	}
	return p.Title
}

// RawListing is one offer exactly as a source returned it.
type RawListing struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Title        string    `json:"title"`
	Price        string    `json:"price"`
	URL          string    `json:"url,omitempty"`
	Seller       string    `json:"seller,omitempty"`
	ImageHash    string    `json:"image_hash,omitempty"`
	Availability string    `json:"availability,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	// Seq is the extraction order within one source response.
	Seq int `json:"seq"`
}

// NormalizedListing is the canonical form of a RawListing used for matching.
type NormalizedListing struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Tokens     []string  `json:"-"`
	PriceMinor int64     `json:"price_minor"`
	Currency   string    `json:"currency"`
	Seller     string    `json:"seller,omitempty"`
	URL        string    `json:"url,omitempty"`
	Available  bool      `json:"available"`
	FetchedAt  time.Time `json:"fetched_at"`
	Seq        int       `json:"seq"`
}

// MatchCandidate pairs a listing with its similarity against a reference product.
type MatchCandidate struct {
	Listing    NormalizedListing `json:"listing"`
	TitleScore float64           `json:"title_score"`
	Score      float64           `json:"score"`
	Plausible  bool              `json:"plausible"`
	Verified   bool              `json:"verified"`
}

// RankedOffer is a verified seller offer ordered by price.
type RankedOffer struct {
	Rank       int    `json:"rank"`
	Seller     string `json:"seller"`
	Source     string `json:"source"`
	PriceMinor int64  `json:"price_minor"`
	URL        string `json:"url,omitempty"`
}

// MatchResult is the immutable outcome of one match job.
type MatchResult struct {
	JobID       string           `json:"job_id"`
	ProductID   string           `json:"product_id"`
	Winner      *MatchCandidate  `json:"winner,omitempty"`
	Candidates  []MatchCandidate `json:"candidates,omitempty"`
	Offers      []RankedOffer    `json:"offers,omitempty"`
	Sources     []string         `json:"sources"`
	CompletedAt time.Time        `json:"completed_at"`
}

// CacheEntry holds the cached result for one product.
type CacheEntry struct {
	ProductID string      `json:"product_id"`
	Result    MatchResult `json:"result"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Live reports whether the entry is still fresh at now.
func (e CacheEntry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Supersedes reports whether e should replace other under last-writer-wins.
func (e CacheEntry) Supersedes(other CacheEntry) bool {
	a, b := e.Result.CompletedAt, other.Result.CompletedAt
	if !a.Equal(b) {
		return a.After(b)
	}
	return e.Result.JobID >= other.Result.JobID
}

// Source diagnostic states and reasons reported at the service boundary.
const (
	SourceOK     = "ok"
	SourceAbsent = "absent"

	ReasonTimeout  = "timeout"
	ReasonBlocked  = "blocked"
	ReasonNetwork  = "network"
	ReasonParse    = "parse"
	ReasonCanceled = "canceled"
)

// SourceDiagnostic summarizes how one source contributed to a job.
type SourceDiagnostic struct {
	Source   string `json:"source"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
	Listings int    `json:"listings"`
	Dropped  int    `json:"dropped,omitempty"`
}

// Job represents the metadata stored for each submitted match request.
type Job struct {
	ID          string             `json:"id"`
	Product     ReferenceProduct   `json:"product"`
	Status      JobStatus          `json:"status"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Result      *MatchResult       `json:"result,omitempty"`
	Diagnostics []SourceDiagnostic `json:"diagnostics,omitempty"`
	Cached      bool               `json:"cached"`
	Error       string             `json:"error,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Product   ReferenceProduct
	Submitted time.Time
}
