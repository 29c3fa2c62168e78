// Package capture implements the screenshot capture orchestration: consent
// suppression payloads, capture strategies, the admission gate and the
// primary-then-fallback state machine that turns a catalog target into a
// published master image.
package capture
