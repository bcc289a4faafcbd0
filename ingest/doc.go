// Package ingest contains the webhook dispatch pipeline: the static handler
// registry, the dispatcher that drives the idempotency ledger, and the
// request pipeline tying verification, parsing, dispatch, and audit together.
//
// Reservation happens before the handler runs. A retryable handler failure
// releases the reservation so the sender's redelivery re-enters the pipeline;
// a terminal failure finalizes it so redeliveries dedupe. When the ledger is
// unreachable the pipeline fails closed and answers with a retryable status.
package ingest
