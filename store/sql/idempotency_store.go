package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing-webhooks/core"
)

// EventClaimStore is the shared idempotency ledger. Atomicity of Reserve
// rests on the unique (provider_id, event_id) index: the INSERT either wins
// the claim or collides, and a collision on an expired claim is taken over
// with a guarded UPDATE.
type EventClaimStore struct {
	db   *bun.DB
	repo repository.Repository[*eventClaimRecord]
	now  func() time.Time
}

func NewEventClaimStore(db *bun.DB) (*EventClaimStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventClaimRecord](db, eventClaimHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event claim repository wiring: %w", err)
		}
	}
	return &EventClaimStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *EventClaimStore) Reserve(
	ctx context.Context,
	providerID, eventID string,
	ttl time.Duration,
) (core.Reservation, error) {
	if s == nil || s.db == nil {
		return core.Reservation{}, fmt.Errorf("sqlstore: event claim store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	eventID = strings.TrimSpace(eventID)
	if providerID == "" || eventID == "" {
		return core.Reservation{}, fmt.Errorf("sqlstore: provider id and event id are required")
	}
	if ttl <= 0 {
		ttl = core.DefaultLedgerTTL
	}
	now := s.now()

	record := &eventClaimRecord{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		EventID:    eventID,
		Status:     string(core.ReservationPending),
		ReservedAt: now,
		ExpiresAt:  now.Add(ttl),
		UpdatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueViolation(err) {
			return core.Reservation{}, err
		}
		return s.handleCollision(ctx, providerID, eventID, ttl, now)
	}
	return core.Reservation{Reserved: true, Status: core.ReservationPending, ReservedAt: now}, nil
}

// handleCollision resolves an insert that lost the unique-index race. A live
// claim blocks; an expired claim is taken over, guarded by expires_at so two
// racing takeovers cannot both win.
func (s *EventClaimStore) handleCollision(
	ctx context.Context,
	providerID, eventID string,
	ttl time.Duration,
	now time.Time,
) (core.Reservation, error) {
	existing, err := s.get(ctx, providerID, eventID)
	if err != nil {
		return core.Reservation{}, err
	}
	if now.Before(existing.ExpiresAt) {
		return core.Reservation{
			Reserved:   false,
			Status:     core.ReservationStatus(existing.Status),
			ReservedAt: existing.ReservedAt,
		}, nil
	}

	result, err := s.db.NewUpdate().
		Model((*eventClaimRecord)(nil)).
		Set("status = ?", string(core.ReservationPending)).
		Set("reserved_at = ?", now).
		Set("expires_at = ?", now.Add(ttl)).
		Set("updated_at = ?", now).
		Where("provider_id = ?", providerID).
		Where("event_id = ?", eventID).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return core.Reservation{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Reservation{}, err
	}
	if affected == 0 {
		// Another replica took the claim over first.
		current, err := s.get(ctx, providerID, eventID)
		if err != nil {
			return core.Reservation{}, err
		}
		return core.Reservation{
			Reserved:   false,
			Status:     core.ReservationStatus(current.Status),
			ReservedAt: current.ReservedAt,
		}, nil
	}
	return core.Reservation{Reserved: true, Status: core.ReservationPending, ReservedAt: now}, nil
}

func (s *EventClaimStore) Finalize(
	ctx context.Context,
	providerID, eventID string,
	status core.ReservationStatus,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event claim store is not configured")
	}
	if status != core.ReservationSucceeded && status != core.ReservationFailed {
		return fmt.Errorf("sqlstore: finalize requires a terminal status, got %q", status)
	}
	// Guarded by the pending status so terminal states are sticky.
	_, err := s.db.NewUpdate().
		Model((*eventClaimRecord)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", s.now()).
		Where("provider_id = ?", strings.TrimSpace(providerID)).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("status = ?", string(core.ReservationPending)).
		Exec(ctx)
	return err
}

func (s *EventClaimStore) Release(ctx context.Context, providerID, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event claim store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*eventClaimRecord)(nil)).
		Where("provider_id = ?", strings.TrimSpace(providerID)).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("status = ?", string(core.ReservationPending)).
		Exec(ctx)
	return err
}

func (s *EventClaimStore) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event claim store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*eventClaimRecord)(nil)).
		Where("expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *EventClaimStore) get(ctx context.Context, providerID, eventID string) (*eventClaimRecord, error) {
	record := &eventClaimRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf(
				"sqlstore: event claim not found for provider %q event %q",
				providerID,
				eventID,
			)
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.IdempotencyStore = (*EventClaimStore)(nil)
