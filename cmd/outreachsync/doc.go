// Package main hosts the outreachsync entrypoint.
//
// Architecture overview:
//   - Selector: internal/selector lists creators joined with their outreach rows and keeps those that are new,
//     unchecked, whose primary website changed, or whose last check is stale. Blocked domains and creators that
//     already have both an email and a contact form are skipped.
//   - Dispatcher: internal/dispatcher fans candidates out to a bounded errgroup in fixed batches. Each batch is
//     merged before the next starts, so a crash loses at most one batch of work.
//   - Extraction: internal/extractor maps a site for contact-like pages through the configured
//     outreach.ExtractionClient (Firecrawl, or the credential-free colly backend) and scrapes them with goquery.
//     Firecrawl calls hold a lease from internal/credentials; quota errors rotate to the next credential.
//   - Merge: internal/merger applies field policies inside a per-creator row lock so manual outreach state is never
//     overwritten. internal/state advances the watermark once a run finishes untruncated.
//   - Reporting: every run summary is archived to the blob store (memory/local/GCS) and published to Pub/Sub when a
//     topic is configured. internal/api serves health, metrics and the last run summary when --serve is set.
//
// Quick checklist:
//   - Configure env vars: OUTREACH_DB_DSN, OUTREACH_EXTRACTOR_BACKEND, OUTREACH_FIRECRAWL_BASE_URL, storage
//     (OUTREACH_STORAGE_*), pubsub (OUTREACH_PUBSUB_*). Without a DSN the in-memory store is used.
//   - Apply the schema: go run ./cmd/outreachsync migrate
//   - Load upstream data: go run ./cmd/outreachsync sync --source gs://bucket/snapshots/latest.json
//   - Run a pass: go run ./cmd/outreachsync contacts --concurrency 20 --limit 500 --dry-run
package main
