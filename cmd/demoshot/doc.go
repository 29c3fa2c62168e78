// Package main hosts the demoshot entrypoint.
//
// Architecture overview:
//   - Catalog: targets (slug, URL, known-problematic flag) come from a YAML file, Postgres or memory
//     (config catalog.driver). Capture results are written back as public URLs or failure reasons.
//   - Capture: internal/capture.Orchestrator runs one browser attempt per target with the primary strategy and,
//     on a structured failure, exactly one fallback attempt that blocks tracker domains and waits for DOM ready.
//     Known-problematic targets start with the problematic strategy. A process-wide gate bounds live browsers and a
//     per-slug lock keeps one writer per master file.
//   - Browser: internal/browser drives Chrome through chromedp with a fresh profile per attempt, injects the
//     consent-suppression payload before any page script and tears down the whole process group afterwards.
//   - Post-processing: variants (480/768/1024 wide, WEBP when cwebp or ImageMagick is present, else PNG), ownership
//     and mode normalization, then optional hooks that mirror artifacts to GCS and publish a Pub/Sub event. None of
//     these can fail a capture whose master was written.
//   - Surfaces: `capture`, `regenerate`, `batch` and `capabilities` commands, plus `serve` for the chi HTTP API with
//     Prometheus metrics and health probes.
//
// Quick checklist:
//   - Configure via a YAML file passed with --config and DEMOSHOT_* env overrides (DEMOSHOT_CAPTURE_SCREENSHOTS_DIR,
//     DEMOSHOT_CATALOG_DRIVER, DEMOSHOT_STORAGE_GCS_BUCKET, DEMOSHOT_PUBSUB_TOPIC_NAME, ...).
//   - Run locally: go run ./cmd/demoshot capture acme --config demoshot.yaml
//   - Serve: go run ./cmd/demoshot serve; the process drains background batches on SIGTERM.
package main
