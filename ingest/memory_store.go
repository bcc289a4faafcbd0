package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

// InMemoryIdempotencyStore is a process-local ledger for tests and embedded
// wiring. Production deployments share a SQL or Redis ledger across
// replicas; per-process memory cannot close the concurrent-delivery race
// between instances.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]core.IdempotencyRecord
	Now     func() time.Time
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		records: map[string]core.IdempotencyRecord{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryIdempotencyStore) Reserve(
	_ context.Context,
	providerID, eventID string,
	ttl time.Duration,
) (core.Reservation, error) {
	if s == nil {
		return core.Reservation{}, core.InternalError("ingest: idempotency store is nil", nil)
	}
	key, err := recordKey(providerID, eventID)
	if err != nil {
		return core.Reservation{}, err
	}
	if ttl <= 0 {
		ttl = core.DefaultLedgerTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.records[key]
	if exists && now.Before(existing.ExpiresAt) {
		return core.Reservation{
			Reserved:   false,
			Status:     existing.Status,
			ReservedAt: existing.ReservedAt,
		}, nil
	}

	record := core.IdempotencyRecord{
		ProviderID: strings.TrimSpace(providerID),
		EventID:    strings.TrimSpace(eventID),
		Status:     core.ReservationPending,
		ReservedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.records[key] = record
	return core.Reservation{Reserved: true, Status: core.ReservationPending, ReservedAt: now}, nil
}

func (s *InMemoryIdempotencyStore) Finalize(
	_ context.Context,
	providerID, eventID string,
	status core.ReservationStatus,
) error {
	if s == nil {
		return core.InternalError("ingest: idempotency store is nil", nil)
	}
	if status != core.ReservationSucceeded && status != core.ReservationFailed {
		return core.InternalError(
			"ingest: finalize requires a terminal status",
			map[string]any{"status": string(status)},
		)
	}
	key, err := recordKey(providerID, eventID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, exists := s.records[key]
	if !exists || record.Status != core.ReservationPending {
		return nil
	}
	record.Status = status
	s.records[key] = record
	return nil
}

func (s *InMemoryIdempotencyStore) Release(_ context.Context, providerID, eventID string) error {
	if s == nil {
		return core.InternalError("ingest: idempotency store is nil", nil)
	}
	key, err := recordKey(providerID, eventID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, exists := s.records[key]
	if !exists || record.Status != core.ReservationPending {
		// Releasing a terminal record would reopen the at-most-once window.
		return nil
	}
	delete(s.records, key)
	return nil
}

func (s *InMemoryIdempotencyStore) PurgeExpired(_ context.Context) (int, error) {
	if s == nil {
		return 0, core.InternalError("ingest: idempotency store is nil", nil)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key, record := range s.records {
		if !now.Before(record.ExpiresAt) {
			delete(s.records, key)
			purged++
		}
	}
	return purged, nil
}

// Get exposes record state for tests.
func (s *InMemoryIdempotencyStore) Get(providerID, eventID string) (core.IdempotencyRecord, bool) {
	key, err := recordKey(providerID, eventID)
	if err != nil {
		return core.IdempotencyRecord{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	return record, ok
}

func (s *InMemoryIdempotencyStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func recordKey(providerID, eventID string) (string, error) {
	providerID = strings.TrimSpace(providerID)
	eventID = strings.TrimSpace(eventID)
	if providerID == "" || eventID == "" {
		return "", core.InternalError(
			"ingest: provider id and event id are required",
			map[string]any{"provider_id": providerID, "event_id": eventID},
		)
	}
	return providerID + ":" + eventID, nil
}

var _ core.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
