package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Notification is a raw inbound delivery exactly as received: provider tag,
// transport headers, and the unmodified body bytes. Signature verification
// operates on Body as-is; re-serialized forms are never trusted.
type Notification struct {
	ProviderID string
	Headers    map[string]string
	Body       []byte
}

// VerifiedEvent is a normalized notification that passed signature
// verification and structural parsing. It is immutable once produced.
type VerifiedEvent struct {
	ProviderID string
	EventID    string
	EventType  string
	Payload    map[string]any
	OccurredAt time.Time
}

type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeFailedRetryable Outcome = "failed_retryable"
	OutcomeFailedTerminal  Outcome = "failed_terminal"
	OutcomeRejected        Outcome = "rejected"
)

// Terminal reports whether the outcome ends processing for the event id.
// A retryable failure is not terminal: the reservation has been released and
// a future delivery may re-enter the pipeline.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeApplied, OutcomeIgnored, OutcomeFailedTerminal:
		return true
	default:
		return false
	}
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationSucceeded ReservationStatus = "succeeded"
	ReservationFailed    ReservationStatus = "failed"
)

// IdempotencyRecord is the ledger row for one (provider, event id) pair.
type IdempotencyRecord struct {
	ProviderID string
	EventID    string
	Status     ReservationStatus
	ReservedAt time.Time
	ExpiresAt  time.Time
}

// Reservation is the result of an atomic reserve attempt. When Reserved is
// false, Status carries the state of the record that blocked it.
type Reservation struct {
	Reserved   bool
	Status     ReservationStatus
	ReservedAt time.Time
}

// IdempotencyStore is the shared, externally consistent ledger answering
// "have we already committed to processing this event id?".
//
// Reserve must be a single atomic compare-and-set against the backing store;
// a separate check-then-set sequence reopens the concurrent-delivery race.
// Any store error means the caller must fail closed and let the sender
// redeliver.
type IdempotencyStore interface {
	Reserve(ctx context.Context, providerID, eventID string, ttl time.Duration) (Reservation, error)
	Finalize(ctx context.Context, providerID, eventID string, status ReservationStatus) error
	Release(ctx context.Context, providerID, eventID string) error
	PurgeExpired(ctx context.Context) (int, error)
}

// AuditEntry records one delivery attempt and its terminal outcome.
// Duplicates and rejected deliveries get their own entries.
type AuditEntry struct {
	EventID    string
	ProviderID string
	EventType  string
	Outcome    Outcome
	Error      string
	CreatedAt  time.Time
}

// AuditLog is append-only observability. A write failure never alters an
// idempotency decision or a response.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Handler applies the business effect of one verified event. A nil return
// means applied; errors must be classified retryable or terminal via the
// constructors in this package. Unclassified errors are treated as retryable.
type Handler interface {
	Handle(ctx context.Context, event VerifiedEvent) error
}

type HandlerFunc func(ctx context.Context, event VerifiedEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event VerifiedEvent) error {
	return f(ctx, event)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
