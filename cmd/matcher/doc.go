// Package main hosts the price matcher entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /v1/matches, GET /v1/matches/{job_id} and its /wait
//     variant, plus health and metrics endpoints. Requests go through internal/query.Service, which
//     answers from the result cache when a fresh result exists and otherwise queues a job.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by matcher.queue_depth to
//     matcher.job_workers workers. A full queue is reported to callers as 503.
//   - Scrape pipeline: each worker hands the job to internal/orchestrator, which fans out to every
//     configured source under a global pool of matcher.max_concurrency slots, a per-call timeout, a
//     per-source rate limit and a job deadline. Listings are normalized and scored by internal/matcher,
//     and the cheapest verified offer wins.
//   - Persistence & fanout: completed results go to the result cache (optionally backed by Postgres or
//     Redis). Browser sources can write debug snapshots to the configured BlobStore (memory/local/GCS).
//     A compact Pub/Sub event is published for every finished job when pubsub is enabled.
//
// Quick checklist:
//   - Configure sources under `sources:` in the config file; env overrides use the MATCHER_ prefix,
//     e.g. MATCHER_SERVER_PORT or MATCHER_MATCHER_JOB_DEADLINE_MS.
//   - Run the service: go run ./cmd/matcher -config config.yaml
//   - Match a single product: go run ./cmd/matcher -config config.yaml -product product.json
package main
