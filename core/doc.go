// Package core defines the shared contracts of the webhook ingestion
// pipeline: notification and event types, outcome classification, the
// idempotency ledger and audit log interfaces, error envelopes, and the
// service configuration surface.
//
// Reservation follows a three-state lifecycle: pending -> succeeded|failed.
// Pending reservations may be released after a retryable handler failure so
// a later redelivery can re-enter the pipeline.
package core
